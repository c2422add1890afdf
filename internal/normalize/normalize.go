// Package normalize canonicalizes raw vendor name strings for
// matching: case and accent folding, legal-suffix stripping, stopword
// filtering, and Spanish-aware phonetic encoding. All functions are
// pure and deterministic.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/transparencia-lab/contratos-cli/internal/model"
)

// legalSuffixPatterns strip common Mexican legal-entity suffixes.
// Ordered longest-match-first so "S.A.B. DE C.V." is not partially
// stripped by the plain "S.A." rule.
var legalSuffixPatterns = []*regexp.Regexp{
	regexp.MustCompile(`[\s,]+S\.?\s?A\.?\s?B\.?\s+DE\s+C\.?\s?V\.?\s*$`),
	regexp.MustCompile(`[\s,]+S\.?\s?A\.?\s?P\.?\s?I\.?\s+DE\s+C\.?\s?V\.?\s*$`),
	regexp.MustCompile(`[\s,]+S\.?\s+DE\s+R\.?\s?L\.?\s+DE\s+C\.?\s?V\.?\s*$`),
	regexp.MustCompile(`[\s,]+S\.?\s?A\.?\s+DE\s+C\.?\s?V\.?\s*$`),
	regexp.MustCompile(`[\s,]+S\.?\s+DE\s+R\.?\s?L\.?\s*$`),
	regexp.MustCompile(`[\s,]+S\.?\s?C\.?\s?L\.?\s*$`),
	regexp.MustCompile(`[\s,]+S\.?\s?N\.?\s?C\.?\s*$`),
	regexp.MustCompile(`[\s,]+S\.?\s?C\.?\s*$`),
	regexp.MustCompile(`[\s,]+S\.?\s?A\.?\s*$`),
	regexp.MustCompile(`[\s,]+A\.?\s?C\.?\s*$`),
	regexp.MustCompile(`[\s,]+I\.?\s?A\.?\s?P\.?\s*$`),
	regexp.MustCompile(`\s+(Y|E|DEL|DE)\s*$`),
}

var (
	multiSpaceRe  = regexp.MustCompile(`\s{2,}`)
	punctRe       = regexp.MustCompile(`[^\p{L}\p{N} ]+`)
	numericOnlyRe = regexp.MustCompile(`^[\d\s.,\-/]+$`)
)

// diacriticStripper removes combining marks after NFD decomposition.
// Ñ is folded to N like every other accented letter; the phonetic
// encoder treats both identically.
var diacriticStripper = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// MaxPhoneticCodes caps the number of phonetic codes per name.
const MaxPhoneticCodes = 5

// minPhoneticTokenLen is the minimum token length for phonetic
// encoding; shorter tokens carry too little signal.
const minPhoneticTokenLen = 4

// Normalize converts a raw vendor name into its matching form.
// Empty or whitespace-only input yields an empty NormalizedVendor,
// flagged and routed to the unmatched bucket by the caller.
func Normalize(vendorID int64, rawName string) model.NormalizedVendor {
	nv := model.NormalizedVendor{VendorID: vendorID}

	name := strings.TrimSpace(rawName)
	if name == "" {
		nv.Flags = append(nv.Flags, model.FlagEmptyName)
		return nv
	}

	if numericOnlyRe.MatchString(name) {
		// Numeric artifacts from malformed source files: keep them as
		// distinct unmatched records, never merge, never drop.
		nv.Flags = append(nv.Flags, model.FlagNumericName)
	}

	name = strings.ToUpper(name)
	name = stripDiacritics(name)

	hadSuffix := false
	for _, re := range legalSuffixPatterns {
		if re.MatchString(name) {
			name = re.ReplaceAllString(name, "")
			hadSuffix = true
			break
		}
	}

	name = punctRe.ReplaceAllString(name, " ")
	name = multiSpaceRe.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)

	nv.BaseName = name

	allTokens := strings.Fields(name)
	for _, tok := range allTokens {
		if IsStopword(tok) {
			continue
		}
		nv.Tokens = append(nv.Tokens, tok)
	}

	for _, tok := range nv.Tokens {
		if len(nv.PhoneticCodes) >= MaxPhoneticCodes {
			break
		}
		if len(tok) < minPhoneticTokenLen {
			continue
		}
		if code := Phonetic(tok); code != "" {
			nv.PhoneticCodes = append(nv.PhoneticCodes, code)
		}
	}

	nv.IsIndividual, nv.IndividualConfidence = classifyIndividual(allTokens, hadSuffix)
	for _, f := range nv.Flags {
		if f == model.FlagNumericName {
			nv.IsIndividual = false
			nv.IndividualConfidence = 0
		}
	}

	return nv
}

// stripDiacritics folds accented characters to their base form.
func stripDiacritics(s string) string {
	out, _, err := transform.String(diacriticStripper, s)
	if err != nil {
		return s
	}
	return out
}

// classifyIndividual applies the personal-name-shape heuristic: no
// legal suffix, 2-4 tokens, none of them a corporate keyword. The
// confidence qualifies the answer; it is never an absolute fact.
func classifyIndividual(tokens []string, hadSuffix bool) (bool, float64) {
	if hadSuffix {
		return false, 0.95
	}
	n := len(tokens)
	if n < 2 || n > 4 {
		return false, 0.7
	}
	for _, tok := range tokens {
		if IsCorporateKeyword(tok) {
			return false, 0.9
		}
	}
	// Plausible personal-name shape. Three tokens (given name plus two
	// surnames) is the strongest signal in this corpus.
	if n == 3 {
		return true, 0.8
	}
	return true, 0.6
}

// Jaccard computes token-set similarity between two normalized
// vendors: |A∩B| / |A∪B|. Returns 0 when either set is empty.
func Jaccard(a, b model.NormalizedVendor) float64 {
	if len(a.Tokens) == 0 || len(b.Tokens) == 0 {
		return 0
	}
	setA := a.TokenSet()
	setB := b.TokenSet()
	inter := 0
	for t := range setB {
		if _, ok := setA[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// NormalizeTaxID uppercases a raw tax id and strips every character
// outside [A-Z0-9]. The result is empty when nothing survives.
func NormalizeTaxID(raw string) string {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	var b strings.Builder
	for _, r := range raw {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
