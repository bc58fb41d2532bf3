package domain

import "time"

const DefaultRoutingTTL = 7 * 24 * time.Hour

// RoutingAlternative is a candidate decision that was considered but not
// chosen by the classifier.
type RoutingAlternative struct {
	Candidate  string  `json:"candidate"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

// RoutingCacheEntry memoizes a routing/classification decision. Visibility
// is gated by two independent fields: IsActive (explicit supersede or
// demotion) and ExpiresAt (natural TTL, checked lazily at lookup time).
type RoutingCacheEntry struct {
	ID             string               `json:"id"`
	QueryHash      string               `json:"query_hash"`
	QueryText      string               `json:"query_text"`
	QueryEmbedding []float32            `json:"query_embedding,omitempty"`
	Decision       string               `json:"decision"`
	Confidence     float64              `json:"confidence_score"`
	LatencyMS      int64                `json:"decision_latency_ms"`
	Complexity     string               `json:"complexity_class,omitempty"`
	Alternatives   []RoutingAlternative `json:"alternatives_considered,omitempty"`
	Reasoning      string               `json:"reasoning,omitempty"`

	HitCount             int64     `json:"hit_count"`
	LastUsedAt           time.Time `json:"last_used_at"`
	SuccessfulExecutions int64     `json:"successful_executions"`
	FailedExecutions     int64     `json:"failed_executions"`
	AverageRating        float64   `json:"average_rating"`
	// RatingCount keeps the rolling mean exact across restarts. Not part of
	// the public entry shape but persisted alongside it.
	RatingCount int64 `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IsActive  bool      `json:"is_active"`
}

// Expired reports natural TTL expiry at the given instant.
func (e RoutingCacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// Visible reports whether the entry may be returned by lookup.
func (e RoutingCacheEntry) Visible(now time.Time) bool {
	return e.IsActive && !e.Expired(now)
}

// RoutingLookupResult is the outcome of a cache lookup that found a match.
type RoutingLookupResult struct {
	Entry        RoutingCacheEntry `json:"entry"`
	IsExactMatch bool              `json:"is_exact_match"`
	Similarity   float64           `json:"similarity,omitempty"`
}

// FeedbackRecord is an immutable outcome signal. RoutingCacheID is a weak
// reference: feedback may exist without a linked cache entry, and its only
// effect is a one-time counter update on the referenced entry.
type FeedbackRecord struct {
	ID                   string    `json:"id"`
	RoutingCacheID       string    `json:"routing_cache_id,omitempty"`
	QueryText            string    `json:"query_text,omitempty"`
	SelectedDecision     string    `json:"selected_decision"`
	Rating               int       `json:"rating"`
	WasCorrect           *bool     `json:"was_correct,omitempty"`
	PreferredAlternative string    `json:"preferred_alternative,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}

// Successful applies the implicit-positive rule: an explicit WasCorrect wins,
// otherwise a rating of 4 or 5 counts as success.
func (f FeedbackRecord) Successful() bool {
	if f.WasCorrect != nil {
		return *f.WasCorrect
	}
	return f.Rating >= 4
}
