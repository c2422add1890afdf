package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/transparencia-lab/contratos-cli/internal/model"
)

func TestNormalize_Empty(t *testing.T) {
	nv := Normalize(1, "")
	assert.True(t, nv.Empty())
	assert.Contains(t, nv.Flags, model.FlagEmptyName)

	nv = Normalize(2, "   ")
	assert.True(t, nv.Empty())
}

func TestNormalize_StripSADeCV(t *testing.T) {
	assert.Equal(t, "PEMEX", Normalize(1, "PEMEX, S.A. DE C.V.").BaseName)
	assert.Equal(t, "PEMEX", Normalize(1, "PEMEX SA DE CV").BaseName)
	assert.Equal(t, "PEMEX", Normalize(1, "Pemex S.A. de C.V.").BaseName)
}

func TestNormalize_StripLongestSuffixFirst(t *testing.T) {
	// S.A.B. DE C.V. must not be partially stripped by the S.A. rule.
	assert.Equal(t, "AMERICA MOVIL", Normalize(1, "AMERICA MOVIL, S.A.B. DE C.V.").BaseName)
	assert.Equal(t, "CEMEX", Normalize(1, "CEMEX, S.A.B. DE C.V.").BaseName)
}

func TestNormalize_StripSDeRL(t *testing.T) {
	assert.Equal(t, "AGROINSUMOS DEL BAJIO", Normalize(1, "Agroinsumos del Bajío, S. de R.L. de C.V.").BaseName)
	assert.Equal(t, "TALLERES UNIDOS", Normalize(1, "Talleres Unidos S. de R.L.").BaseName)
}

func TestNormalize_StripAC(t *testing.T) {
	assert.Equal(t, "CRUZ ROJA MEXICANA", Normalize(1, "Cruz Roja Mexicana, A.C.").BaseName)
}

func TestNormalize_Diacritics(t *testing.T) {
	nv := Normalize(1, "Construcción y Diseño José Núñez")
	assert.Equal(t, "CONSTRUCCION Y DISENO JOSE NUNEZ", nv.BaseName)
}

func TestNormalize_StopwordsRemovedFromTokensOnly(t *testing.T) {
	nv := Normalize(1, "Grupo Constructor de la Laguna, S.A. de C.V.")
	// Display name keeps every word.
	assert.Equal(t, "GRUPO CONSTRUCTOR DE LA LAGUNA", nv.BaseName)
	// Token set drops stopwords and generic business words.
	assert.NotContains(t, nv.Tokens, "GRUPO")
	assert.NotContains(t, nv.Tokens, "DE")
	assert.NotContains(t, nv.Tokens, "LA")
	assert.Contains(t, nv.Tokens, "CONSTRUCTOR")
	assert.Contains(t, nv.Tokens, "LAGUNA")
}

func TestNormalize_SameBaseNameOverlappingTokens(t *testing.T) {
	a := Normalize(1, "PEMEX, S.A. DE C.V.")
	b := Normalize(2, "PEMEX SA DE CV")
	assert.Equal(t, a.BaseName, b.BaseName)
	assert.Equal(t, a.Tokens, b.Tokens)
	assert.Equal(t, 1.0, Jaccard(a, b))
}

func TestNormalize_NumericNameFlagged(t *testing.T) {
	nv := Normalize(1, "12345-678")
	assert.Contains(t, nv.Flags, model.FlagNumericName)
	// Flagged but not discarded.
	assert.NotEmpty(t, nv.BaseName)
}

func TestNormalize_Individual(t *testing.T) {
	nv := Normalize(1, "Juan Pérez López")
	assert.True(t, nv.IsIndividual)
	assert.InDelta(t, 0.8, nv.IndividualConfidence, 1e-9)
}

func TestNormalize_CompanySuffixNotIndividual(t *testing.T) {
	nv := Normalize(1, "Pérez y Asociados, S.C.")
	assert.False(t, nv.IsIndividual)
}

func TestNormalize_CorporateKeywordNotIndividual(t *testing.T) {
	nv := Normalize(1, "Comercializadora López")
	assert.False(t, nv.IsIndividual)
}

func TestNormalize_SingleTokenNotIndividual(t *testing.T) {
	nv := Normalize(1, "PEMEX")
	assert.False(t, nv.IsIndividual)
}

func TestNormalize_PhoneticCodesCapped(t *testing.T) {
	nv := Normalize(1, "Alfa Beta Gamma Delta Epsilon Zeta Theta Kappa Omega Construcciones")
	assert.LessOrEqual(t, len(nv.PhoneticCodes), MaxPhoneticCodes)
}

func TestJaccard_EmptySide(t *testing.T) {
	a := Normalize(1, "PEMEX REFINACION")
	b := Normalize(2, "")
	assert.Equal(t, 0.0, Jaccard(a, b))
}

func TestJaccard_Partial(t *testing.T) {
	a := Normalize(1, "Constructora del Norte Materiales")
	b := Normalize(2, "Constructora del Norte Asfaltos")
	// {CONSTRUCTORA, NORTE, MATERIALES} vs {CONSTRUCTORA, NORTE, ASFALTOS}
	assert.InDelta(t, 0.5, Jaccard(a, b), 1e-9)
}

func TestJaccard_RepeatedTokens(t *testing.T) {
	// Duplicate tokens count once on both sides of the ratio.
	a := Normalize(1, "Transportes Durango")
	b := Normalize(2, "Transportes Durango Durango")
	assert.InDelta(t, 1.0, Jaccard(a, b), 1e-9)

	c := Normalize(3, "Aceros Durango")
	d := Normalize(4, "Aceros Aceros Transportes")
	// {ACEROS, DURANGO} vs {ACEROS, TRANSPORTES}
	sim := Jaccard(c, d)
	assert.InDelta(t, 1.0/3.0, sim, 1e-9)
	assert.LessOrEqual(t, sim, 1.0)
}

func TestNormalizeTaxID(t *testing.T) {
	assert.Equal(t, "PEM850101ABC", NormalizeTaxID(" pem-850101 abc "))
	assert.Equal(t, "", NormalizeTaxID("---"))
}

func TestPhonetic_MergesCommonMisspellings(t *testing.T) {
	assert.Equal(t, Phonetic("GONZALEZ"), Phonetic("GONSALES"))
	assert.Equal(t, Phonetic("JIMENEZ"), Phonetic("JIMENES"))
	// First letter is preserved verbatim, so compare skeletons only.
	assert.Equal(t, Phonetic("CASTILLO")[1:], Phonetic("KASTIYO")[1:])
}

func TestPhonetic_FirstLetterPreserved(t *testing.T) {
	assert.Equal(t, byte('P'), Phonetic("PEMEX")[0])
	assert.Equal(t, byte('C'), Phonetic("CEMEX")[0])
}

func TestPhonetic_Empty(t *testing.T) {
	assert.Equal(t, "", Phonetic(""))
}
