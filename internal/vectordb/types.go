package vectordb

import "time"

// Config controls the Qdrant knowledge index client.
type Config struct {
	Enabled    bool
	Host       string
	Port       int
	Collection string
	TopK       int
	Threshold  float64
	Timeout    time.Duration
	// Expected vector size of the collection, checked at startup when > 0.
	ExpectedDim int
	// MMR (diversity) re-ranking of search results.
	MMREnabled bool
	MMRLambda  float64
}

// Passage is one knowledge passage returned by a search.
type Passage struct {
	ID       string
	SourceID string
	Text     string
	Score    float64
	// Vector is populated only when MMR re-ranking is on.
	Vector []float32
}

// UpsertItem is a single point to insert into the knowledge collection.
type UpsertItem struct {
	ID      string         `json:"id,omitempty"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// CollectionInfo holds basic information about a Qdrant collection.
type CollectionInfo struct {
	Name        string
	VectorSize  int
	PointsCount int64
}
