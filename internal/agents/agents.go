// Package agents implements the five independent fraud signal agents.
//
// Each agent reads only the slice of history it needs through a narrow
// interface, adds a fixed weight per triggered factor, and clamps the sum
// to [0, 1]. Agents share no state and never see each other's output.
package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/fraudswarm/internal/fraud"
	"github.com/mbd888/fraudswarm/internal/history"
)

// RingMarker prefixes the network agent's reason when it detects a ring.
const RingMarker = "FRAUD RING DETECTED"

// TransactionHistory serves the anomaly agent.
type TransactionHistory interface {
	RecentTransactions(ctx context.Context, userID string, asOf time.Time, window time.Duration, limit int) ([]history.RecentTransaction, error)
}

// LocationHistory serves the geographic agent.
type LocationHistory interface {
	RecentLocations(ctx context.Context, userID string, asOf time.Time, window time.Duration, limit int) ([]history.RecentLocation, error)
}

// MerchantDirectory serves the merchant agent.
type MerchantDirectory interface {
	Merchant(ctx context.Context, name string) (*history.Merchant, error)
	CountFraudNarratives(ctx context.Context, query string) (int64, error)
	CountSimilarRiskyMerchants(ctx context.Context, name string, minFraudRate, minSimilarity float64) (int64, error)
}

// DeviceGraph serves the network agent.
type DeviceGraph interface {
	CountDeviceUsers(ctx context.Context, device, excludeUser string, since time.Time) (int64, error)
	CountMerchantUsers(ctx context.Context, merchant string, from, to time.Time) (int64, error)
	CountDeviceTransactions(ctx context.Context, device string, since time.Time) (int64, error)
}

// SpendingHistory serves the pattern agent.
type SpendingHistory interface {
	Baseline(ctx context.Context, userID string, asOf time.Time, window time.Duration, includeFraud bool) (*history.Baseline, error)
	NearestTransactions(ctx context.Context, userID string, embedding []float32, limit int) ([]history.SimilarTransaction, error)
}

// tally accumulates weighted risk factors and their explanations.
type tally struct {
	score   float64
	reasons []string
}

func (t *tally) add(weight float64, format string, args ...any) {
	t.score += weight
	t.reasons = append(t.reasons, fmt.Sprintf(format, args...))
}

// bump adds weight without an explanation.
func (t *tally) bump(weight float64) {
	t.score += weight
}

func (t *tally) reason(normal string) string {
	if len(t.reasons) == 0 {
		return normal
	}
	return strings.Join(t.reasons, "; ")
}

func (t *tally) result(agent, normal string, details map[string]any) *fraud.AgentScore {
	return &fraud.AgentScore{
		Agent:     agent,
		RiskScore: fraud.Clamp(t.score),
		Reason:    t.reason(normal),
		Details:   details,
	}
}
