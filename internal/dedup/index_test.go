package dedup

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transparencia-lab/contratos-cli/internal/model"
	"github.com/transparencia-lab/contratos-cli/internal/normalize"
)

func norms(names ...string) []model.NormalizedVendor {
	out := make([]model.NormalizedVendor, len(names))
	for i, n := range names {
		out[i] = normalize.Normalize(int64(i+1), n)
	}
	return out
}

func TestBuildIndex_SkipsBelowTokenBar(t *testing.T) {
	vs := norms("PEMEX", "CONSTRUCTORA NORTE MATERIALES")
	idx := BuildIndex(vs, 2, 0)

	assert.Equal(t, 1, idx.IndexedCount())
	assert.Equal(t, 1, idx.SkippedCount())
}

func TestCandidates_ExcludesSelf(t *testing.T) {
	vs := norms(
		"CONSTRUCTORA NORTE MATERIALES",
		"CONSTRUCTORA NORTE ASFALTOS",
	)
	idx := BuildIndex(vs, 2, 0)

	cands := idx.Candidates(vs[0])
	require.Len(t, cands, 1)
	assert.Equal(t, int64(2), cands[0])
}

func TestCandidates_SharedPhoneticCode(t *testing.T) {
	// Misspelled token pairs through the phonetic posting lists even
	// when the literal tokens differ.
	vs := norms(
		"GONZALEZ REFACCIONES AUTOMOTRICES",
		"GONSALES REFAXIONES AUTOMOTRISES",
	)
	idx := BuildIndex(vs, 2, 0)

	cands := idx.Candidates(vs[0])
	assert.Contains(t, cands, int64(2))
}

func TestCandidates_OversizedBucketSkipped(t *testing.T) {
	var vs []model.NormalizedVendor
	for i := 0; i < 10; i++ {
		vs = append(vs, normalize.Normalize(int64(i+1), fmt.Sprintf("ACARREOS ZONA %c", 'A'+i)))
	}
	idx := BuildIndex(vs, 2, 5)

	// Every vendor shares ACARREOS and ZONA; both buckets exceed the
	// cap so no candidates survive.
	assert.Empty(t, idx.Candidates(vs[0]))
}

// TestBlockingCompleteness verifies the reachability property: any
// synthetic pair with token Jaccard >= 0.80 shares at least one token
// and is therefore reachable through the index.
func TestBlockingCompleteness(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	words := []string{
		"TALLER", "MATERIALES", "ELECTRICOS", "NORTE", "ASFALTOS",
		"PAPELERIA", "EQUIPOS", "MEDICOS", "LIMPIEZA", "URBANA",
		"FERRETERA", "CENTRO", "IMPRESOS", "DIGITALES", "MAQUINARIA",
	}

	for trial := 0; trial < 200; trial++ {
		n := 3 + rng.Intn(3)
		perm := rng.Perm(len(words))
		base := make([]string, n)
		for i := 0; i < n; i++ {
			base[i] = words[perm[i]]
		}

		// Mutate at most one token so similarity stays high.
		variant := append([]string(nil), base...)
		if rng.Intn(2) == 0 {
			variant[rng.Intn(n)] = words[perm[n]]
		}

		a := model.NormalizedVendor{VendorID: 1, Tokens: base, BaseName: "A"}
		b := model.NormalizedVendor{VendorID: 2, Tokens: variant, BaseName: "B"}

		if normalize.Jaccard(a, b) < 0.80 {
			continue
		}

		idx := BuildIndex([]model.NormalizedVendor{a, b}, 2, 0)
		assert.Contains(t, idx.Candidates(a), int64(2),
			"pair with jaccard >= 0.80 must share a block key: %v vs %v", base, variant)
	}
}
