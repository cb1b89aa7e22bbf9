// Package history provides read-only access to past transactions and
// merchant reputation for the scoring agents.
//
// Every time-windowed query is anchored at an explicit asOf instant (the
// timestamp of the transaction being scored) rather than the database
// clock, so replaying a transaction against the same snapshot gives the
// same answer.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/fraudswarm/internal/fraud"
)

var (
	// ErrNotFound is returned when a looked-up record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrQuery tags every failure talking to the backing store.
	ErrQuery = errors.New("history query failed")
)

// RecentTransaction is an amount/time pair from a user's history.
type RecentTransaction struct {
	TransactionID string
	Amount        float64
	Timestamp     time.Time
}

// RecentLocation is where and when a user last transacted.
type RecentLocation struct {
	Location  fraud.Location
	Timestamp time.Time
}

// Merchant is a merchant's reputation record.
type Merchant struct {
	Name              string  `json:"name"`
	Category          string  `json:"category"`
	FraudRate         float64 `json:"fraud_rate"`
	TotalTransactions int64   `json:"total_transactions"`
	HasEmbedding      bool    `json:"has_embedding"`
}

// Baseline summarises a user's spending over a window.
type Baseline struct {
	SampleSize int64
	AvgAmount  float64
	Categories []string
}

// SimilarTransaction is a nearest-neighbour hit from vector search.
type SimilarTransaction struct {
	TransactionID string
	FraudLabel    bool
	Similarity    float64
}

// Store is the full read surface the agents draw on.
type Store interface {
	// RecentTransactions returns up to limit of the user's transactions
	// after asOf-window, newest first.
	RecentTransactions(ctx context.Context, userID string, asOf time.Time, window time.Duration, limit int) ([]RecentTransaction, error)
	// RecentLocations returns up to limit of the user's locations in the window, newest first.
	RecentLocations(ctx context.Context, userID string, asOf time.Time, window time.Duration, limit int) ([]RecentLocation, error)
	// Merchant looks up a merchant by exact name, or returns ErrNotFound.
	Merchant(ctx context.Context, name string) (*Merchant, error)
	// CountFraudNarratives counts fraud-labelled transactions whose
	// description matches every term of query.
	CountFraudNarratives(ctx context.Context, query string) (int64, error)
	// CountSimilarRiskyMerchants counts other merchants with fraud rate
	// above minFraudRate whose reputation embedding has cosine similarity
	// above minSimilarity to the named merchant's.
	CountSimilarRiskyMerchants(ctx context.Context, name string, minFraudRate, minSimilarity float64) (int64, error)
	// Baseline summarises the user's transactions in the window, optionally
	// including fraud-labelled ones.
	Baseline(ctx context.Context, userID string, asOf time.Time, window time.Duration, includeFraud bool) (*Baseline, error)
	// NearestTransactions ranks the user's past transactions by cosine
	// distance to embedding.
	NearestTransactions(ctx context.Context, userID string, embedding []float32, limit int) ([]SimilarTransaction, error)
	// CountDeviceUsers counts distinct users other than excludeUser seen on device since the given instant.
	CountDeviceUsers(ctx context.Context, device, excludeUser string, since time.Time) (int64, error)
	// CountMerchantUsers counts distinct users transacting at merchant strictly inside (from, to).
	CountMerchantUsers(ctx context.Context, merchant string, from, to time.Time) (int64, error)
	// CountDeviceTransactions counts transactions on device since the given instant.
	CountDeviceTransactions(ctx context.Context, device string, since time.Time) (int64, error)
	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}
