// Package vectorindex keeps note embeddings in an approximate nearest
// neighbour graph and answers k-NN queries over squared L2 distance.
package vectorindex

// Neighbor is one search hit from an ANN backend.
type Neighbor struct {
	ID       uint32
	Distance float32
}

// ANN is a nearest-neighbour backend keyed by dense internal ids.
type ANN interface {
	Add(id uint32, vector []float32) error
	Remove(id uint32) error
	Search(query []float32, k int) ([]Neighbor, error)
	Len() int
	Dimensions() int
}

// compacter is implemented by backends that can reclaim removed nodes.
type compacter interface {
	Tombstones() int
	Compact()
}
