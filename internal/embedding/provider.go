// Package embedding turns canonical text into dense vectors.
package embedding

import "context"

// Provider is the embedding collaborator consumed by the vector index.
// Failures are hard errors; retries are left to callers.
type Provider interface {
	// EmbedBatch returns one vector per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedOne embeds a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Cache stores vectors by content key so unchanged texts are not re-embedded.
type Cache interface {
	LookupVectors(ctx context.Context, keys []string) (map[string][]float32, error)
	StoreVectors(ctx context.Context, vectors map[string][]float32) error
}
