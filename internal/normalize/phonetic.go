package normalize

import "strings"

// Phonetic encodes a single uppercase token into a Spanish-aware
// soundex-like code: first letter preserved, consonants reduced to
// sound classes that merge common misspellings (B/V, C/S/Z before
// soft vowels, G/J, LL/Y, QU/K/hard C), vowels and H dropped after
// the first position, runs collapsed. Input must already be
// diacritic-stripped and uppercased.
func Phonetic(token string) string {
	if token == "" {
		return ""
	}

	rs := []rune(token)
	var b strings.Builder
	b.WriteRune(rs[0])

	prev := rune(0)
	for i := 1; i < len(rs); i++ {
		c := rs[i]
		var code rune

		switch c {
		case 'B', 'V':
			code = 'B'
		case 'C':
			// Soft C before E/I sounds like S; hard C like K.
			if i+1 < len(rs) && (rs[i+1] == 'E' || rs[i+1] == 'I') {
				code = 'S'
			} else {
				code = 'K'
			}
		case 'S', 'Z', 'X':
			code = 'S'
		case 'K', 'Q':
			code = 'K'
		case 'G':
			// Soft G before E/I sounds like J.
			if i+1 < len(rs) && (rs[i+1] == 'E' || rs[i+1] == 'I') {
				code = 'J'
			} else {
				code = 'G'
			}
		case 'J':
			code = 'J'
		case 'L':
			// LL sounds like Y; consume the second L.
			if i+1 < len(rs) && rs[i+1] == 'L' {
				code = 'Y'
				i++
			} else {
				code = 'L'
			}
		case 'Y':
			code = 'Y'
		case 'R':
			// RR collapses via the run check below.
			code = 'R'
		case 'D', 'F', 'M', 'N', 'P', 'T', 'W':
			code = c
		case 'H', 'U', 'A', 'E', 'I', 'O':
			// H is silent; vowels are dropped after the first letter.
			// U is also dropped inside QU/GU digraphs, which the Q/G
			// branches leave in place.
			prev = 0
			continue
		default:
			continue
		}

		if code == prev {
			continue
		}
		b.WriteRune(code)
		prev = code
	}

	return b.String()
}
