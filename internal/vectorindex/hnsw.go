package vectorindex

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/RoaringBitmap/roaring"
)

var _ ANN = (*HNSW)(nil)

// HNSW defaults.
const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 64
	maxLevelCap           = 16
)

// HNSWConfig holds graph parameters. Zero values select defaults.
type HNSWConfig struct {
	M              int
	EfConstruction int
	EfSearch       int
	Seed           uint64
}

type hnswNode struct {
	id     uint32
	vector []float32
	level  int
	// edges[l] holds neighbour ids at layer l; layer 0 allows 2*M.
	edges [][]uint32
}

// HNSW is a hierarchical navigable small world graph over squared L2
// distance. Removal is a soft delete tracked in a roaring bitmap: removed
// nodes still route traversal but are never returned. Compact rebuilds the
// graph from live nodes.
type HNSW struct {
	mu sync.RWMutex

	dim            int
	m              int
	efConstruction int
	efSearch       int
	levelMult      float64
	rng            *rand.Rand

	nodes      map[uint32]*hnswNode
	order      []uint32
	deleted    *roaring.Bitmap
	entryPoint uint32
	maxLevel   int
}

// NewHNSW creates an empty graph for vectors of width dim.
func NewHNSW(dim int, cfg HNSWConfig) (*HNSW, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vectorindex: dimension must be positive, got %d", dim)
	}
	if cfg.M <= 1 {
		cfg.M = DefaultM
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = DefaultEfConstruction
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = DefaultEfSearch
	}
	return &HNSW{
		dim:            dim,
		m:              cfg.M,
		efConstruction: cfg.EfConstruction,
		efSearch:       cfg.EfSearch,
		levelMult:      1.0 / math.Log(float64(cfg.M)),
		rng:            rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		nodes:          make(map[uint32]*hnswNode),
		deleted:        roaring.New(),
		maxLevel:       -1,
	}, nil
}

// Dimensions returns the vector width.
func (h *HNSW) Dimensions() int {
	return h.dim
}

// Len returns the number of live nodes.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes) - int(h.deleted.GetCardinality())
}

// Tombstones returns the number of soft-deleted nodes.
func (h *HNSW) Tombstones() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return int(h.deleted.GetCardinality())
}

// Add inserts vector under id. Ids may not be reused, even after Remove.
func (h *HNSW) Add(id uint32, vector []float32) error {
	if len(vector) != h.dim {
		return fmt.Errorf("vectorindex: dimension mismatch: expected %d, got %d", h.dim, len(vector))
	}
	vec := append([]float32(nil), vector...)

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.nodes[id]; exists {
		return fmt.Errorf("vectorindex: node %d already exists", id)
	}
	h.insert(id, vec)
	return nil
}

// Remove soft-deletes id.
func (h *HNSW) Remove(id uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.nodes[id]; !exists {
		return fmt.Errorf("vectorindex: node %d not found", id)
	}
	if !h.deleted.CheckedAdd(id) {
		return fmt.Errorf("vectorindex: node %d already removed", id)
	}
	return nil
}

// Compact drops soft-deleted nodes by re-inserting the live ones in their
// original order.
func (h *HNSW) Compact() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.deleted.IsEmpty() {
		return
	}
	old, order := h.nodes, h.order
	h.nodes = make(map[uint32]*hnswNode, len(old))
	h.order = nil
	h.entryPoint = 0
	h.maxLevel = -1
	for _, id := range order {
		if h.deleted.Contains(id) {
			continue
		}
		h.insert(id, old[id].vector)
	}
	h.deleted.Clear()
}

// Search returns up to k live nodes nearest to query, ascending by distance.
func (h *HNSW) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != h.dim {
		return nil, fmt.Errorf("vectorindex: query dimension mismatch: expected %d, got %d", h.dim, len(query))
	}
	if k <= 0 {
		return nil, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.maxLevel < 0 {
		return nil, nil
	}

	curr := h.greedyDescend(query, 0)
	ef := max(h.efSearch, k+int(h.deleted.GetCardinality()))
	found := h.searchLayer(query, curr, ef, 0)

	out := make([]Neighbor, 0, min(k, len(found)))
	for _, c := range found {
		if h.deleted.Contains(c.id) {
			continue
		}
		out = append(out, Neighbor{ID: c.id, Distance: c.distance})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// insert links a new node into the graph. Caller holds the write lock.
func (h *HNSW) insert(id uint32, vec []float32) {
	level := h.randomLevel()
	node := &hnswNode{id: id, vector: vec, level: level, edges: make([][]uint32, level+1)}
	h.nodes[id] = node
	h.order = append(h.order, id)

	if h.maxLevel < 0 {
		h.entryPoint = id
		h.maxLevel = level
		return
	}

	curr := h.greedyDescend(vec, level)
	for lc := min(level, h.maxLevel); lc >= 0; lc-- {
		candidates := h.searchLayer(vec, curr, h.efConstruction, lc)
		limit := h.maxEdges(lc)

		for _, nb := range h.selectNeighbors(candidates, id, limit) {
			node.edges[lc] = append(node.edges[lc], nb)
			other := h.nodes[nb]
			other.edges[lc] = append(other.edges[lc], id)
			if len(other.edges[lc]) > limit {
				h.prune(other, lc, limit)
			}
		}
		if len(candidates) > 0 {
			curr = candidates[0].id
		}
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entryPoint = id
	}
}

// greedyDescend walks from the entry point down to (but not including)
// stopLevel, moving to the closest neighbour at each layer.
func (h *HNSW) greedyDescend(query []float32, stopLevel int) uint32 {
	curr := h.entryPoint
	currDist := squaredL2(query, h.nodes[curr].vector)
	for lc := h.maxLevel; lc > stopLevel; lc-- {
		for changed := true; changed; {
			changed = false
			node := h.nodes[curr]
			if lc >= len(node.edges) {
				break
			}
			for _, nb := range node.edges[lc] {
				if d := squaredL2(query, h.nodes[nb].vector); d < currDist {
					curr, currDist = nb, d
					changed = true
				}
			}
		}
	}
	return curr
}

// searchLayer is the best-first beam search at one layer. It returns up to
// ef candidates ascending by distance, soft-deleted nodes included.
func (h *HNSW) searchLayer(query []float32, entry uint32, ef, level int) []candidate {
	visited := map[uint32]struct{}{entry: {}}
	d := squaredL2(query, h.nodes[entry].vector)

	frontier := &minHeap{{id: entry, distance: d}}
	results := &maxHeap{{id: entry, distance: d}}

	for frontier.Len() > 0 {
		c := heap.Pop(frontier).(candidate)
		if results.Len() >= ef && c.distance > (*results)[0].distance {
			break
		}
		node := h.nodes[c.id]
		if level >= len(node.edges) {
			continue
		}
		for _, nb := range node.edges[level] {
			if _, ok := visited[nb]; ok {
				continue
			}
			visited[nb] = struct{}{}

			nd := squaredL2(query, h.nodes[nb].vector)
			if results.Len() < ef || nd < (*results)[0].distance {
				heap.Push(frontier, candidate{id: nb, distance: nd})
				heap.Push(results, candidate{id: nb, distance: nd})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(candidate)
	}
	return out
}

// selectNeighbors keeps the closest live candidates, excluding self.
func (h *HNSW) selectNeighbors(candidates []candidate, self uint32, limit int) []uint32 {
	out := make([]uint32, 0, limit)
	for _, c := range candidates {
		if c.id == self || h.deleted.Contains(c.id) {
			continue
		}
		out = append(out, c.id)
		if len(out) == limit {
			break
		}
	}
	return out
}

// prune trims node's edges at layer lc to the limit closest neighbours.
func (h *HNSW) prune(node *hnswNode, lc, limit int) {
	cands := make([]candidate, len(node.edges[lc]))
	for i, nb := range node.edges[lc] {
		cands[i] = candidate{id: nb, distance: squaredL2(node.vector, h.nodes[nb].vector)}
	}
	mh := minHeap(cands)
	heap.Init(&mh)
	kept := make([]uint32, 0, limit)
	for mh.Len() > 0 && len(kept) < limit {
		kept = append(kept, heap.Pop(&mh).(candidate).id)
	}
	node.edges[lc] = kept
}

func (h *HNSW) maxEdges(level int) int {
	if level == 0 {
		return 2 * h.m
	}
	return h.m
}

// randomLevel draws from the geometric distribution with mL = 1/ln(M).
func (h *HNSW) randomLevel() int {
	r := h.rng.Float64()
	if r == 0 {
		r = math.SmallestNonzeroFloat64
	}
	return min(int(-math.Log(r)*h.levelMult), maxLevelCap)
}

func squaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

type candidate struct {
	id       uint32
	distance float32
}

type minHeap []candidate

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return h[i].distance < h[j].distance }
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type maxHeap []candidate

func (h maxHeap) Len() int           { return len(h) }
func (h maxHeap) Less(i, j int) bool { return h[i].distance > h[j].distance }
func (h maxHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
