package domain

import "time"

// EmbeddingRecord is a content-addressed vector. Records are unique per
// (ContentHash, ModelID, Namespace): re-embedding identical content under
// the same model and namespace updates the record in place.
type EmbeddingRecord struct {
	ID             string            `json:"id"`
	ContentHash    string            `json:"content_hash"`
	ModelID        string            `json:"model_id"`
	Namespace      string            `json:"namespace"`
	Vector         []float32         `json:"vector"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	LastAccessedAt time.Time         `json:"last_accessed_at"`
}

// EmbeddingHit pairs a stored record with its cosine similarity to a query
// vector.
type EmbeddingHit struct {
	Record     EmbeddingRecord
	Similarity float64
}
