package embeddings

import "time"

// Config controls the embedding client.
type Config struct {
	// BaseURL points to the model service providing /embeddings.
	BaseURL string
	// Model is the embedding model identifier.
	Model string
	// Timeout for outbound HTTP calls.
	Timeout time.Duration
	// CacheTTL sets the TTL for Redis cache entries.
	CacheTTL time.Duration
	// MaxLRU controls the in-process LRU size.
	MaxLRU int
	// FallbackDimensions sizes the local hashed vectors used when no
	// BaseURL is configured.
	FallbackDimensions int
}
