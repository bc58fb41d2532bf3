package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/retrieval-core/internal/core/domain"
)

// RoutingRepository is durable write-through persistence behind the
// in-memory routing cache. It is never on the lookup path.
type RoutingRepository struct {
	db *sql.DB
}

func NewRoutingRepository(db *sql.DB) *RoutingRepository {
	return &RoutingRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *RoutingRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083001)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS routing_cache (
	id TEXT PRIMARY KEY,
	query_hash TEXT NOT NULL,
	query_text TEXT NOT NULL,
	query_embedding JSONB,
	decision TEXT NOT NULL,
	confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	decision_latency_ms BIGINT NOT NULL DEFAULT 0,
	complexity_class TEXT,
	alternatives JSONB NOT NULL DEFAULT '[]'::jsonb,
	reasoning TEXT,
	hit_count BIGINT NOT NULL DEFAULT 0,
	last_used_at TIMESTAMPTZ NOT NULL,
	successful_executions BIGINT NOT NULL DEFAULT 0,
	failed_executions BIGINT NOT NULL DEFAULT 0,
	average_rating DOUBLE PRECISION NOT NULL DEFAULT 0,
	rating_count BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_routing_cache_active_hash
	ON routing_cache(query_hash) WHERE is_active;
CREATE INDEX IF NOT EXISTS idx_routing_cache_expires_at ON routing_cache(expires_at);

CREATE TABLE IF NOT EXISTS routing_feedback (
	id TEXT PRIMARY KEY,
	routing_cache_id TEXT,
	query_text TEXT,
	selected_decision TEXT NOT NULL,
	rating INT NOT NULL,
	was_correct BOOLEAN,
	preferred_alternative TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_routing_feedback_cache_id ON routing_feedback(routing_cache_id);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *RoutingRepository) SaveEntry(ctx context.Context, entry domain.RoutingCacheEntry) error {
	embeddingJSON, err := json.Marshal(entry.QueryEmbedding)
	if err != nil {
		return fmt.Errorf("marshal embedding: %w", err)
	}
	alternativesJSON, err := json.Marshal(entry.Alternatives)
	if err != nil {
		return fmt.Errorf("marshal alternatives: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO routing_cache (
	id, query_hash, query_text, query_embedding, decision, confidence_score, decision_latency_ms,
	complexity_class, alternatives, reasoning, hit_count, last_used_at,
	successful_executions, failed_executions, average_rating, rating_count,
	created_at, expires_at, is_active
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
ON CONFLICT (id) DO UPDATE SET
	query_embedding = EXCLUDED.query_embedding,
	decision = EXCLUDED.decision,
	confidence_score = EXCLUDED.confidence_score,
	alternatives = EXCLUDED.alternatives,
	reasoning = EXCLUDED.reasoning,
	expires_at = EXCLUDED.expires_at,
	is_active = EXCLUDED.is_active
`,
		entry.ID, entry.QueryHash, entry.QueryText, embeddingJSON, entry.Decision, entry.Confidence,
		entry.LatencyMS, entry.Complexity, alternativesJSON, entry.Reasoning, entry.HitCount,
		entry.LastUsedAt, entry.SuccessfulExecutions, entry.FailedExecutions, entry.AverageRating,
		entry.RatingCount, entry.CreatedAt, entry.ExpiresAt, entry.IsActive,
	)
	if err != nil {
		return fmt.Errorf("insert routing entry: %w", err)
	}
	return nil
}

// RecordHit is a relative increment: the api and worker processes update
// the same row concurrently and must never overwrite each other's counts.
func (r *RoutingRepository) RecordHit(ctx context.Context, id string, usedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE routing_cache
SET hit_count = hit_count + 1, last_used_at = GREATEST(last_used_at, $2)
WHERE id = $1
`, id, usedAt)
	if err != nil {
		return fmt.Errorf("record routing hit: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.WrapError(domain.ErrNotFound, "record routing hit", fmt.Errorf("entry %s", id))
	}
	return nil
}

// ApplyFeedback updates the quality counters in a single atomic statement
// and returns the merged row, so a process whose in-memory store does not
// hold the entry can still apply feedback and evaluate demotion.
func (r *RoutingRepository) ApplyFeedback(ctx context.Context, id string, successful bool, rating int) (domain.RoutingCacheEntry, error) {
	row := r.db.QueryRowContext(ctx, `
UPDATE routing_cache
SET successful_executions = successful_executions + CASE WHEN $2 THEN 1 ELSE 0 END,
	failed_executions = failed_executions + CASE WHEN $2 THEN 0 ELSE 1 END,
	average_rating = CASE WHEN $2
		THEN (average_rating * rating_count + $3) / (rating_count + 1)
		ELSE average_rating END,
	rating_count = rating_count + CASE WHEN $2 THEN 1 ELSE 0 END
WHERE id = $1
RETURNING id, query_hash, successful_executions, failed_executions, average_rating, rating_count, is_active
`, id, successful, rating)

	var entry domain.RoutingCacheEntry
	err := row.Scan(&entry.ID, &entry.QueryHash, &entry.SuccessfulExecutions, &entry.FailedExecutions,
		&entry.AverageRating, &entry.RatingCount, &entry.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RoutingCacheEntry{}, domain.WrapError(domain.ErrNotFound, "apply routing feedback", fmt.Errorf("entry %s", id))
	}
	if err != nil {
		return domain.RoutingCacheEntry{}, fmt.Errorf("apply routing feedback: %w", err)
	}
	return entry, nil
}

func (r *RoutingRepository) SetActive(ctx context.Context, id string, active bool) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE routing_cache SET is_active = $2 WHERE id = $1
`, id, active)
	if err != nil {
		return fmt.Errorf("set routing active: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return domain.WrapError(domain.ErrNotFound, "set routing active", fmt.Errorf("entry %s", id))
	}
	return nil
}

func (r *RoutingRepository) DeleteExpired(ctx context.Context, now, inactiveCutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
DELETE FROM routing_cache
WHERE expires_at < $1 OR (NOT is_active AND last_used_at < $2)
`, now, inactiveCutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired routing entries: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired rows affected: %w", err)
	}
	return affected, nil
}

func (r *RoutingRepository) LoadActive(ctx context.Context) ([]domain.RoutingCacheEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, query_hash, query_text, query_embedding, decision, confidence_score, decision_latency_ms,
	complexity_class, alternatives, reasoning, hit_count, last_used_at,
	successful_executions, failed_executions, average_rating, rating_count,
	created_at, expires_at, is_active
FROM routing_cache
WHERE is_active AND expires_at > $1
`, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("query active routing entries: %w", err)
	}
	defer rows.Close()

	var out []domain.RoutingCacheEntry
	for rows.Next() {
		var entry domain.RoutingCacheEntry
		var embeddingRaw, alternativesRaw []byte
		var complexity, reasoning sql.NullString

		err := rows.Scan(
			&entry.ID, &entry.QueryHash, &entry.QueryText, &embeddingRaw, &entry.Decision,
			&entry.Confidence, &entry.LatencyMS, &complexity, &alternativesRaw, &reasoning,
			&entry.HitCount, &entry.LastUsedAt, &entry.SuccessfulExecutions, &entry.FailedExecutions,
			&entry.AverageRating, &entry.RatingCount, &entry.CreatedAt, &entry.ExpiresAt, &entry.IsActive,
		)
		if err != nil {
			return nil, fmt.Errorf("scan routing entry: %w", err)
		}
		if len(embeddingRaw) > 0 {
			if err := json.Unmarshal(embeddingRaw, &entry.QueryEmbedding); err != nil {
				return nil, fmt.Errorf("unmarshal embedding: %w", err)
			}
		}
		if len(alternativesRaw) > 0 {
			if err := json.Unmarshal(alternativesRaw, &entry.Alternatives); err != nil {
				return nil, fmt.Errorf("unmarshal alternatives: %w", err)
			}
		}
		entry.Complexity = complexity.String
		entry.Reasoning = reasoning.String
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate routing entries: %w", err)
	}
	return out, nil
}
