package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/noterank/internal/apperr"
	"github.com/starford/noterank/internal/embedding"
	"github.com/starford/noterank/internal/models"
	"github.com/starford/noterank/internal/normalize"
)

// State is the lifecycle state of an Index.
type State string

const (
	StateEmpty State = "empty"
	StateReady State = "ready"
)

// Status is a point-in-time view of an Index.
type Status struct {
	State      State     `json:"state"`
	Generation uint64    `json:"generation"`
	Documents  int       `json:"documents"`
	Dimensions int       `json:"dimensions"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

// Candidate is a search hit resolved to its document.
type Candidate struct {
	ID       string
	Distance float64
	Metadata models.Metadata
}

// Option configures an Index.
type Option func(*Index)

// WithHNSW sets graph parameters for every generation.
func WithHNSW(cfg HNSWConfig) Option {
	return func(ix *Index) {
		ix.newANN = func(dim int) (ANN, error) { return NewHNSW(dim, cfg) }
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) {
		ix.logger = l
	}
}

type document struct {
	id       string
	text     string
	metadata models.Metadata
}

type entry struct {
	node     uint32
	text     string
	metadata models.Metadata
}

// generation is one built graph plus its documents. Searches take the read
// lock; upserts take the write lock.
type generation struct {
	number uint64

	mu        sync.RWMutex
	ann       ANN
	entries   map[string]*entry
	byNode    map[uint32]string
	nextNode  uint32
	updatedAt time.Time
}

// Index is the note vector index. It starts Empty; Build swaps in a Ready
// generation atomically, so readers never see a half-built graph. Writers
// (Build and Upsert) are serialized.
type Index struct {
	embedder embedding.Provider
	newANN   func(dim int) (ANN, error)
	logger   *slog.Logger

	writeMu sync.Mutex
	current atomic.Pointer[generation]
	counter atomic.Uint64
}

// New creates an empty index that embeds documents with embedder.
func New(embedder embedding.Provider, opts ...Option) *Index {
	ix := &Index{
		embedder: embedder,
		newANN:   func(dim int) (ANN, error) { return NewHNSW(dim, HNSWConfig{}) },
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Ready reports whether a generation has been built.
func (ix *Index) Ready() bool {
	return ix.current.Load() != nil
}

// Status returns the current state.
func (ix *Index) Status() Status {
	gen := ix.current.Load()
	if gen == nil {
		return Status{State: StateEmpty}
	}
	gen.mu.RLock()
	defer gen.mu.RUnlock()

	st := Status{
		State:      StateReady,
		Generation: gen.number,
		Documents:  len(gen.entries),
		UpdatedAt:  gen.updatedAt,
	}
	if gen.ann != nil {
		st.Dimensions = gen.ann.Dimensions()
	}
	return st
}

// Build replaces the whole index with notes. On failure the previous
// generation (or Empty) stays in place.
func (ix *Index) Build(ctx context.Context, notes []models.Note) error {
	docs, err := prepare(notes)
	if err != nil {
		return err
	}

	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	return ix.build(ctx, docs)
}

// Rebuild loads notes with load while holding the writer lock and builds a
// new generation from them, so no upsert can land between the read and the
// swap. It returns the number of notes loaded; an empty load leaves the
// index untouched.
func (ix *Index) Rebuild(ctx context.Context, load func(context.Context) ([]models.Note, error)) (int, error) {
	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	notes, err := load(ctx)
	if err != nil {
		return 0, err
	}
	if len(notes) == 0 {
		return 0, nil
	}
	docs, err := prepare(notes)
	if err != nil {
		return 0, err
	}
	if err := ix.build(ctx, docs); err != nil {
		return 0, err
	}
	return len(notes), nil
}

func (ix *Index) build(ctx context.Context, docs []document) error {
	vectors, err := ix.embed(ctx, docs)
	if err != nil {
		return err
	}

	gen := &generation{
		entries: make(map[string]*entry, len(docs)),
		byNode:  make(map[uint32]string, len(docs)),
	}
	if err := ix.apply(gen, docs, vectors); err != nil {
		return err
	}
	gen.number = ix.counter.Add(1)
	gen.updatedAt = time.Now().UTC()
	ix.current.Store(gen)

	ix.logger.Info("vector index built",
		slog.Uint64("generation", gen.number),
		slog.Int("documents", len(gen.entries)),
	)
	return nil
}

// Upsert inserts or replaces notes by id. On an Empty index it behaves as
// Build. Documents whose text and metadata are unchanged are skipped. If any
// embedding fails, nothing is applied.
func (ix *Index) Upsert(ctx context.Context, notes []models.Note) error {
	docs, err := prepare(notes)
	if err != nil {
		return err
	}

	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	gen := ix.current.Load()
	if gen == nil {
		return ix.build(ctx, docs)
	}

	gen.mu.RLock()
	changed := docs[:0:0]
	for _, d := range docs {
		if e, ok := gen.entries[d.id]; ok && e.text == d.text && reflect.DeepEqual(e.metadata, d.metadata) {
			continue
		}
		changed = append(changed, d)
	}
	gen.mu.RUnlock()

	if len(changed) == 0 {
		return nil
	}

	vectors, err := ix.embed(ctx, changed)
	if err != nil {
		return err
	}

	gen.mu.Lock()
	err = ix.apply(gen, changed, vectors)
	if err == nil {
		gen.updatedAt = time.Now().UTC()
	}
	gen.mu.Unlock()
	if err != nil {
		return err
	}

	if c, ok := gen.ann.(compacter); ok && c.Tombstones() > gen.ann.Len() {
		c.Compact()
	}

	ix.logger.Info("vector index upserted",
		slog.Uint64("generation", gen.number),
		slog.Int("changed", len(changed)),
	)
	return nil
}

// SearchByText embeds text and returns up to k nearest documents.
func (ix *Index) SearchByText(ctx context.Context, text string, k int) ([]Candidate, error) {
	gen := ix.current.Load()
	if gen == nil {
		return nil, apperr.ErrIndexNotReady
	}
	if k <= 0 {
		return []Candidate{}, nil
	}

	query, err := ix.embedder.EmbedOne(ctx, text)
	if err != nil {
		return nil, wrapEmbedding(err)
	}

	gen.mu.RLock()
	defer gen.mu.RUnlock()

	if gen.ann == nil {
		return []Candidate{}, nil
	}
	hits, err := gen.ann.Search(query, k)
	if err != nil {
		return nil, err
	}

	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		id, ok := gen.byNode[h.ID]
		if !ok {
			continue
		}
		out = append(out, Candidate{
			ID:       id,
			Distance: float64(h.Distance),
			Metadata: gen.entries[id].metadata.Clone(),
		})
	}
	return out, nil
}

// SearchByRecord searches with the canonical text of note.
func (ix *Index) SearchByRecord(ctx context.Context, note models.Note, k int) ([]Candidate, error) {
	return ix.SearchByText(ctx, normalize.NoteText(note), k)
}

func (ix *Index) embed(ctx context.Context, docs []document) ([][]float32, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.text
	}
	vectors, err := ix.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, wrapEmbedding(err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", apperr.ErrEmbedding, len(docs), len(vectors))
	}
	return vectors, nil
}

// apply writes docs into gen. Dimensions are checked before any mutation.
// Caller holds gen's write lock, or owns gen exclusively.
func (ix *Index) apply(gen *generation, docs []document, vectors [][]float32) error {
	if len(docs) == 0 {
		return nil
	}

	dim := len(vectors[0])
	if gen.ann != nil {
		dim = gen.ann.Dimensions()
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector for %q has %d dimensions, index has %d", apperr.ErrEmbedding, docs[i].id, len(v), dim)
		}
	}

	if gen.ann == nil {
		ann, err := ix.newANN(dim)
		if err != nil {
			return err
		}
		gen.ann = ann
	}

	for i, d := range docs {
		if old, ok := gen.entries[d.id]; ok {
			if err := gen.ann.Remove(old.node); err != nil {
				return err
			}
			delete(gen.byNode, old.node)
		}
		node := gen.nextNode
		gen.nextNode++
		if err := gen.ann.Add(node, vectors[i]); err != nil {
			return err
		}
		gen.entries[d.id] = &entry{node: node, text: d.text, metadata: d.metadata}
		gen.byNode[node] = d.id
	}
	return nil
}

// prepare normalizes notes into documents. A repeated id keeps its first
// position and its last content.
func prepare(notes []models.Note) ([]document, error) {
	docs := make([]document, 0, len(notes))
	pos := make(map[string]int, len(notes))
	for _, n := range notes {
		if n.ID == "" {
			return nil, fmt.Errorf("%w: note id is required", apperr.ErrInvalidArgument)
		}
		d := document{id: n.ID, text: normalize.NoteText(n), metadata: normalize.NoteMetadata(n)}
		if i, ok := pos[n.ID]; ok {
			docs[i] = d
			continue
		}
		pos[n.ID] = len(docs)
		docs = append(docs, d)
	}
	return docs, nil
}

func wrapEmbedding(err error) error {
	if errors.Is(err, apperr.ErrEmbedding) {
		return err
	}
	return fmt.Errorf("%w: %w", apperr.ErrEmbedding, err)
}
