package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore reads history from PostgreSQL with the pgvector extension
// and a tsvector column over transaction descriptions.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a PostgreSQL-backed history store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func queryErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrQuery, op, err)
}

func (s *PostgresStore) RecentTransactions(ctx context.Context, userID string, asOf time.Time, window time.Duration, limit int) ([]RecentTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, amount::float8, timestamp
		FROM transactions
		WHERE user_id = $1 AND timestamp > $2 AND timestamp <= $3
		ORDER BY timestamp DESC
		LIMIT $4
	`, userID, asOf.Add(-window), asOf, limit)
	if err != nil {
		return nil, queryErr("recent transactions", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RecentTransaction
	for rows.Next() {
		var r RecentTransaction
		if err := rows.Scan(&r.TransactionID, &r.Amount, &r.Timestamp); err != nil {
			return nil, queryErr("scan recent transaction", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr("recent transactions", err)
	}
	return out, nil
}

func (s *PostgresStore) RecentLocations(ctx context.Context, userID string, asOf time.Time, window time.Duration, limit int) ([]RecentLocation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			COALESCE(location->>'city', 'Unknown'),
			COALESCE(location->>'country', 'XX'),
			COALESCE((location->>'lat')::float8, 0),
			COALESCE((location->>'lon')::float8, 0),
			timestamp
		FROM transactions
		WHERE user_id = $1 AND timestamp > $2 AND timestamp <= $3
		ORDER BY timestamp DESC
		LIMIT $4
	`, userID, asOf.Add(-window), asOf, limit)
	if err != nil {
		return nil, queryErr("recent locations", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RecentLocation
	for rows.Next() {
		var r RecentLocation
		if err := rows.Scan(&r.Location.City, &r.Location.Country, &r.Location.Lat, &r.Location.Lon, &r.Timestamp); err != nil {
			return nil, queryErr("scan recent location", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr("recent locations", err)
	}
	return out, nil
}

func (s *PostgresStore) Merchant(ctx context.Context, name string) (*Merchant, error) {
	var m Merchant
	err := s.db.QueryRowContext(ctx, `
		SELECT merchant_name, COALESCE(category, ''), fraud_rate::float8, total_transactions,
		       merchant_embedding IS NOT NULL
		FROM merchants
		WHERE merchant_name = $1
	`, name).Scan(&m.Name, &m.Category, &m.FraudRate, &m.TotalTransactions, &m.HasEmbedding)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, queryErr("merchant lookup", err)
	}
	return &m, nil
}

func (s *PostgresStore) CountFraudNarratives(ctx context.Context, query string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM transactions
		WHERE description_tsv @@ plainto_tsquery('english', $1)
		  AND fraud_label = true
	`, query).Scan(&n)
	if err != nil {
		return 0, queryErr("fraud narrative search", err)
	}
	return n, nil
}

func (s *PostgresStore) CountSimilarRiskyMerchants(ctx context.Context, name string, minFraudRate, minSimilarity float64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		WITH current_merchant AS (
			SELECT merchant_embedding
			FROM merchants
			WHERE merchant_name = $1 AND merchant_embedding IS NOT NULL
		)
		SELECT COUNT(*)
		FROM merchants m, current_merchant cm
		WHERE m.merchant_name <> $1
		  AND m.fraud_rate > $2
		  AND m.merchant_embedding IS NOT NULL
		  AND 1 - (m.merchant_embedding <=> cm.merchant_embedding) > $3
	`, name, minFraudRate, minSimilarity).Scan(&n)
	if err != nil {
		return 0, queryErr("similar merchant search", err)
	}
	return n, nil
}

func (s *PostgresStore) Baseline(ctx context.Context, userID string, asOf time.Time, window time.Duration, includeFraud bool) (*Baseline, error) {
	var b Baseline
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(AVG(amount), 0)::float8,
			COALESCE(
				ARRAY_AGG(DISTINCT merchant_category ORDER BY merchant_category)
					FILTER (WHERE merchant_category IS NOT NULL AND merchant_category <> ''),
				ARRAY[]::TEXT[]
			)
		FROM transactions
		WHERE user_id = $1 AND timestamp > $2 AND timestamp <= $3 AND ($4 OR fraud_label = false)
	`, userID, asOf.Add(-window), asOf, includeFraud).Scan(&b.SampleSize, &b.AvgAmount, pq.Array(&b.Categories))
	if err != nil {
		return nil, queryErr("spending baseline", err)
	}
	return &b, nil
}

func (s *PostgresStore) NearestTransactions(ctx context.Context, userID string, vec []float32, limit int) ([]SimilarTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, fraud_label, 1 - (transaction_embedding <=> $1::vector) AS similarity
		FROM transactions
		WHERE user_id = $2 AND transaction_embedding IS NOT NULL
		ORDER BY transaction_embedding <=> $1::vector
		LIMIT $3
	`, pgvector.NewVector(vec), userID, limit)
	if err != nil {
		return nil, queryErr("vector search", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SimilarTransaction
	for rows.Next() {
		var r SimilarTransaction
		if err := rows.Scan(&r.TransactionID, &r.FraudLabel, &r.Similarity); err != nil {
			return nil, queryErr("scan vector hit", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, queryErr("vector search", err)
	}
	return out, nil
}

func (s *PostgresStore) CountDeviceUsers(ctx context.Context, device, excludeUser string, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT user_id)
		FROM transactions
		WHERE device_fingerprint = $1 AND user_id <> $2 AND timestamp > $3
	`, device, excludeUser, since).Scan(&n)
	if err != nil {
		return 0, queryErr("device sharing", err)
	}
	return n, nil
}

func (s *PostgresStore) CountMerchantUsers(ctx context.Context, merchant string, from, to time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT user_id)
		FROM transactions
		WHERE merchant = $1 AND timestamp > $2 AND timestamp < $3
	`, merchant, from, to).Scan(&n)
	if err != nil {
		return 0, queryErr("coordinated merchant activity", err)
	}
	return n, nil
}

func (s *PostgresStore) CountDeviceTransactions(ctx context.Context, device string, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM transactions
		WHERE device_fingerprint = $1 AND timestamp > $2
	`, device, since).Scan(&n)
	if err != nil {
		return 0, queryErr("device velocity", err)
	}
	return n, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return queryErr("ping", err)
	}
	return nil
}
