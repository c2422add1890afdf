package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transparencia-lab/contratos-cli/internal/model"
)

func vendor(id int64, name string, contracts int) model.VendorRecord {
	return model.VendorRecord{ID: id, RawName: name, ContractCount: contracts}
}

func TestBuildClusters_Singletons(t *testing.T) {
	vendors := []model.VendorRecord{vendor(1, "A", 1), vendor(2, "B", 2)}
	clusters := BuildClusters(vendors, nil)

	require.Len(t, clusters, 2)
	for _, c := range clusters {
		assert.Len(t, c.MemberIDs, 1)
		assert.Equal(t, c.MemberIDs[0], c.CanonicalVendorID)
		assert.Equal(t, model.MethodSelf, c.Method)
		assert.Equal(t, 1.0, c.Confidence)
	}
}

func TestBuildClusters_PartitionInvariant(t *testing.T) {
	vendors := []model.VendorRecord{
		vendor(1, "A", 5), vendor(2, "B", 3), vendor(3, "C", 1),
		vendor(4, "D", 2), vendor(5, "E", 9),
	}
	pairs := []model.MatchScore{
		{VendorA: 1, VendorB: 2, Probability: 1.0, Method: model.MethodTaxIDExact},
		{VendorA: 2, VendorB: 3, Probability: 0.85, Method: model.MethodTokenJaccard},
	}
	clusters := BuildClusters(vendors, pairs)

	seen := make(map[int64]int)
	total := 0
	for _, c := range clusters {
		require.NotEmpty(t, c.MemberIDs)
		for _, id := range c.MemberIDs {
			seen[id]++
			total++
		}
	}
	assert.Equal(t, len(vendors), total)
	for id, n := range seen {
		assert.Equalf(t, 1, n, "vendor %d in %d clusters", id, n)
	}
}

func TestBuildClusters_CanonicalDeterminism(t *testing.T) {
	// {v1: 5, v2: 5, v3: 1} => canonical is min(v1, v2).
	vendors := []model.VendorRecord{
		vendor(10, "A", 5), vendor(20, "B", 5), vendor(30, "C", 1),
	}
	pairs := []model.MatchScore{
		{VendorA: 10, VendorB: 20, Probability: 0.99, Method: model.MethodNormalizedName},
		{VendorA: 20, VendorB: 30, Probability: 0.99, Method: model.MethodNormalizedName},
	}
	clusters := BuildClusters(vendors, pairs)

	require.Len(t, clusters, 1)
	assert.Equal(t, int64(10), clusters[0].CanonicalVendorID)
}

func TestBuildClusters_CanonicalByContractCount(t *testing.T) {
	vendors := []model.VendorRecord{
		vendor(1, "A", 1), vendor(2, "B", 50),
	}
	pairs := []model.MatchScore{
		{VendorA: 1, VendorB: 2, Probability: 1.0, Method: model.MethodTaxIDExact},
	}
	clusters := BuildClusters(vendors, pairs)

	require.Len(t, clusters, 1)
	assert.Equal(t, int64(2), clusters[0].CanonicalVendorID)
	assert.Equal(t, model.MethodTaxIDExact, clusters[0].Method)
	assert.Equal(t, 1.0, clusters[0].Confidence)
}

func TestBuildClusters_Idempotent(t *testing.T) {
	vendors := []model.VendorRecord{
		vendor(1, "A", 5), vendor(2, "B", 3), vendor(3, "C", 1),
		vendor(4, "D", 7), vendor(5, "E", 7),
	}
	pairs := []model.MatchScore{
		{VendorA: 1, VendorB: 3, Probability: 0.9, Method: model.MethodTokenJaccard},
		{VendorA: 4, VendorB: 5, Probability: 0.98, Method: model.MethodLinkage},
	}

	first := BuildClusters(vendors, pairs)
	second := BuildClusters(vendors, pairs)
	assert.Equal(t, first, second)
}

func TestBuildClusters_MajorityMethod(t *testing.T) {
	vendors := []model.VendorRecord{
		vendor(1, "A", 1), vendor(2, "B", 1), vendor(3, "C", 1), vendor(4, "D", 1),
	}
	pairs := []model.MatchScore{
		{VendorA: 1, VendorB: 2, Probability: 0.85, Method: model.MethodTokenJaccard},
		{VendorA: 2, VendorB: 3, Probability: 0.88, Method: model.MethodTokenJaccard},
		{VendorA: 3, VendorB: 4, Probability: 0.98, Method: model.MethodLinkage},
	}
	clusters := BuildClusters(vendors, pairs)

	require.Len(t, clusters, 1)
	assert.Equal(t, model.MethodTokenJaccard, clusters[0].Method)
	assert.Equal(t, 0.88, clusters[0].Confidence)
}

func TestMappings_OnePerVendor(t *testing.T) {
	vendors := []model.VendorRecord{
		vendor(1, "A", 5), vendor(2, "B", 1), vendor(3, "C", 1),
	}
	pairs := []model.MatchScore{
		{VendorA: 1, VendorB: 2, Probability: 1.0, Method: model.MethodTaxIDExact},
	}
	mappings := Mappings(BuildClusters(vendors, pairs))

	require.Len(t, mappings, 3)
	assert.Equal(t, int64(1), mappings[0].VendorID)
	assert.Equal(t, int64(1), mappings[0].CanonicalID)
	assert.Equal(t, int64(1), mappings[1].CanonicalID)
	assert.Equal(t, int64(3), mappings[2].CanonicalID)
	assert.Equal(t, model.MethodSelf, mappings[2].Method)
}
