package embedding

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/starford/noterank/internal/apperr"
	"github.com/starford/noterank/internal/checksum"
)

const (
	defaultBatchSize   = 256
	defaultConcurrency = 4
)

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithBatchSize sets the maximum number of texts per provider call.
func WithBatchSize(n int) BatcherOption {
	return func(b *Batcher) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithConcurrency bounds the number of in-flight provider calls.
func WithConcurrency(n int) BatcherOption {
	return func(b *Batcher) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithRateLimit throttles provider calls to rps requests per second.
// rps <= 0 disables throttling.
func WithRateLimit(rps float64) BatcherOption {
	return func(b *Batcher) {
		if rps > 0 {
			b.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithCache enables vector caching under the given namespace (usually the
// model name, so switching models invalidates entries).
func WithCache(c Cache, namespace string) BatcherOption {
	return func(b *Batcher) {
		b.cache = c
		b.namespace = namespace
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) BatcherOption {
	return func(b *Batcher) {
		b.logger = l
	}
}

// Batcher wraps a Provider with chunking, bounded fan-out, throttling and an
// optional cache. It is itself a Provider. Every failure it returns wraps
// apperr.ErrEmbedding.
type Batcher struct {
	provider    Provider
	batchSize   int
	concurrency int
	limiter     *rate.Limiter
	cache       Cache
	namespace   string
	logger      *slog.Logger
}

// NewBatcher wraps provider.
func NewBatcher(provider Provider, opts ...BatcherOption) *Batcher {
	b := &Batcher{
		provider:    provider,
		batchSize:   defaultBatchSize,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// EmbedOne implements Provider.
func (b *Batcher) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if err := b.wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrEmbedding, err)
	}
	vec, err := b.provider.EmbedOne(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrEmbedding, err)
	}
	return vec, nil
}

// EmbedBatch implements Provider. Either every text gets a vector or an
// error is returned.
func (b *Batcher) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = checksum.Key(b.namespace, t)
	}
	cached := b.lookup(ctx, keys)

	// Identical texts are embedded once.
	var pending []string
	positions := make(map[string][]int)
	for i, k := range keys {
		if vec, ok := cached[k]; ok {
			out[i] = vec
			continue
		}
		if _, seen := positions[k]; !seen {
			pending = append(pending, texts[i])
		}
		positions[k] = append(positions[k], i)
	}
	if len(pending) == 0 {
		return out, nil
	}

	fresh := make([][]float32, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for start := 0; start < len(pending); start += b.batchSize {
		end := min(start+b.batchSize, len(pending))
		g.Go(func() error {
			if err := b.wait(gctx); err != nil {
				return err
			}
			vectors, err := b.provider.EmbedBatch(gctx, pending[start:end])
			if err != nil {
				return fmt.Errorf("batch %d-%d: %w", start, end, err)
			}
			if len(vectors) != end-start {
				return fmt.Errorf("batch %d-%d: expected %d vectors, got %d", start, end, end-start, len(vectors))
			}
			copy(fresh[start:end], vectors)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrEmbedding, err)
	}

	toStore := make(map[string][]float32, len(pending))
	filled := make(map[string][]int, len(pending))
	seen := 0
	for _, k := range keys {
		idxs, ok := positions[k]
		if !ok {
			continue
		}
		vec := fresh[seen]
		seen++
		for _, i := range idxs {
			out[i] = vec
		}
		toStore[k] = vec
		filled[k] = idxs
		delete(positions, k)
	}

	// Hand out vectors as the cache holds them so a later cached build
	// yields the same distances.
	for k, vec := range b.store(ctx, toStore) {
		for _, i := range filled[k] {
			out[i] = vec
		}
	}
	return out, nil
}

func (b *Batcher) wait(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func (b *Batcher) lookup(ctx context.Context, keys []string) map[string][]float32 {
	if b.cache == nil {
		return nil
	}
	hits, err := b.cache.LookupVectors(ctx, keys)
	if err != nil {
		b.logger.Warn("embedding cache lookup failed", slog.String("error", err.Error()))
		return nil
	}
	return hits
}

// store writes vectors to the cache and returns them as read back from it.
func (b *Batcher) store(ctx context.Context, vectors map[string][]float32) map[string][]float32 {
	if b.cache == nil || len(vectors) == 0 {
		return nil
	}
	if err := b.cache.StoreVectors(ctx, vectors); err != nil {
		b.logger.Warn("embedding cache store failed", slog.String("error", err.Error()))
		return nil
	}
	keys := make([]string, 0, len(vectors))
	for k := range vectors {
		keys = append(keys, k)
	}
	return b.lookup(ctx, keys)
}
