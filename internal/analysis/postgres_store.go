package analysis

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mbd888/fraudswarm/internal/pagination"
)

// PostgresStore persists analysis records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed analysis audit store.
// The analysis_records table is created by the goose migrations.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, rec *Record) error {
	scoresJSON, err := json.Marshal(rec.AgentScores)
	if err != nil {
		return fmt.Errorf("failed to marshal agent scores: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analysis_records (
			id, transaction_id, user_id, merchant, amount, decision,
			confidence, risk_score, fraud_ring_detected, agent_scores,
			reasoning, analyzed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		rec.ID,
		rec.TransactionID,
		rec.UserID,
		rec.Merchant,
		rec.Amount,
		string(rec.Decision),
		rec.Confidence,
		rec.RiskScore,
		rec.FraudRingDetected,
		scoresJSON,
		rec.Reasoning,
		rec.AnalyzedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record analysis: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string, limit int, before *pagination.Cursor) ([]*Record, error) {
	query := `
		SELECT id, transaction_id, user_id, merchant, amount::float8, decision,
		       confidence::float8, risk_score::float8, fraud_ring_detected,
		       agent_scores, reasoning, analyzed_at
		FROM analysis_records
		WHERE user_id = $1`
	args := []any{userID}
	if before != nil {
		query += ` AND (analyzed_at, id) < ($2, $3)`
		args = append(args, before.At, before.ID)
	}
	query += fmt.Sprintf(` ORDER BY analyzed_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Record
	for rows.Next() {
		var (
			r          Record
			scoresJSON []byte
		)
		if err := rows.Scan(
			&r.ID, &r.TransactionID, &r.UserID, &r.Merchant, &r.Amount, &r.Decision,
			&r.Confidence, &r.RiskScore, &r.FraudRingDetected,
			&scoresJSON, &r.Reasoning, &r.AnalyzedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		if err := json.Unmarshal(scoresJSON, &r.AgentScores); err != nil {
			return nil, fmt.Errorf("failed to decode agent scores: %w", err)
		}
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	return result, nil
}
