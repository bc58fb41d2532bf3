package domain

// ContentChunk is a retrievable unit of text. Chunks are produced and owned
// by the external ingestion pipeline; the search paths only read them.
type ContentChunk struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Namespace string            `json:"namespace"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// SearchFilter narrows a search to a namespace and/or metadata values.
// Empty fields do not filter.
type SearchFilter struct {
	Namespace string
	Metadata  map[string]string
}

// SearchResult is constructed per query and never persisted. Per-method
// scores are nil when the method did not return the chunk.
type SearchResult struct {
	ChunkID     string            `json:"chunk_id"`
	Content     string            `json:"content"`
	DenseScore  *float64          `json:"dense_score,omitempty"`
	SparseScore *float64          `json:"sparse_score,omitempty"`
	FuzzyScore  *float64          `json:"fuzzy_score,omitempty"`
	ExactMatch  bool              `json:"exact_match"`
	FusedScore  float64           `json:"fused_score"`
	MethodCount int               `json:"method_count"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SourceRef   string            `json:"source_ref,omitempty"`
}
