package vectorindex

import (
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomVectors(n, dim int, seed uint64) [][]float32 {
	r := rand.New(rand.NewPCG(seed, seed+1))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = r.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

func bruteForce(vectors [][]float32, query []float32, k int) []uint32 {
	ids := make([]uint32, len(vectors))
	for i := range ids {
		ids[i] = uint32(i)
	}
	sort.Slice(ids, func(a, b int) bool {
		return squaredL2(query, vectors[ids[a]]) < squaredL2(query, vectors[ids[b]])
	})
	return ids[:k]
}

func TestHNSW_RecallAgainstBruteForce(t *testing.T) {
	const n, dim, k = 400, 16, 10
	vectors := randomVectors(n, dim, 7)

	h, err := NewHNSW(dim, HNSWConfig{Seed: 1})
	require.NoError(t, err)
	for i, v := range vectors {
		require.NoError(t, h.Add(uint32(i), v))
	}
	assert.Equal(t, n, h.Len())

	queries := randomVectors(20, dim, 99)
	hits, total := 0, 0
	for _, q := range queries {
		want := map[uint32]bool{}
		for _, id := range bruteForce(vectors, q, k) {
			want[id] = true
		}
		got, err := h.Search(q, k)
		require.NoError(t, err)
		require.Len(t, got, k)
		for i, nb := range got {
			if want[nb.ID] {
				hits++
			}
			if i > 0 {
				assert.LessOrEqual(t, got[i-1].Distance, nb.Distance)
			}
		}
		total += k
	}
	assert.GreaterOrEqual(t, float64(hits)/float64(total), 0.9)
}

func TestHNSW_ExactMatchFirst(t *testing.T) {
	vectors := randomVectors(50, 8, 3)
	h, err := NewHNSW(8, HNSWConfig{})
	require.NoError(t, err)
	for i, v := range vectors {
		require.NoError(t, h.Add(uint32(i), v))
	}

	got, err := h.Search(vectors[17], 3)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, uint32(17), got[0].ID)
	assert.Zero(t, got[0].Distance)
}

func TestHNSW_RemoveAndCompact(t *testing.T) {
	vectors := randomVectors(30, 4, 11)
	h, err := NewHNSW(4, HNSWConfig{})
	require.NoError(t, err)
	for i, v := range vectors {
		require.NoError(t, h.Add(uint32(i), v))
	}

	require.NoError(t, h.Remove(5))
	assert.Error(t, h.Remove(5))
	assert.Error(t, h.Remove(1000))
	assert.Equal(t, 29, h.Len())
	assert.Equal(t, 1, h.Tombstones())

	got, err := h.Search(vectors[5], 30)
	require.NoError(t, err)
	assert.Len(t, got, 29)
	for _, nb := range got {
		assert.NotEqual(t, uint32(5), nb.ID)
	}

	h.Compact()
	assert.Zero(t, h.Tombstones())
	assert.Equal(t, 29, h.Len())

	got, err = h.Search(vectors[6], 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint32(6), got[0].ID)
}

func TestHNSW_Errors(t *testing.T) {
	_, err := NewHNSW(0, HNSWConfig{})
	assert.Error(t, err)

	h, err := NewHNSW(3, HNSWConfig{})
	require.NoError(t, err)
	assert.Error(t, h.Add(1, []float32{1, 2}))
	require.NoError(t, h.Add(1, []float32{1, 2, 3}))
	assert.Error(t, h.Add(1, []float32{1, 2, 3}))

	_, err = h.Search([]float32{1}, 1)
	assert.Error(t, err)

	got, err := h.Search([]float32{1, 2, 3}, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHNSW_EmptySearch(t *testing.T) {
	h, err := NewHNSW(2, HNSWConfig{})
	require.NoError(t, err)
	got, err := h.Search([]float32{0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}
