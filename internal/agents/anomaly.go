package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/mbd888/fraudswarm/internal/fraud"
)

const (
	anomalyWindow = 24 * time.Hour
	anomalyLimit  = 20

	weightHighVelocity     = 0.30
	weightElevatedVelocity = 0.15
	weightOddHour          = 0.20
	weightRapidSuccession  = 0.25
	weightAmountSpike      = 0.25
)

// AnomalyAgent flags unusual frequency and timing: bursts of activity,
// transactions in the small hours, back-to-back purchases and spikes
// against the user's recent amounts.
type AnomalyAgent struct {
	history TransactionHistory
}

var _ fraud.Scorer = (*AnomalyAgent)(nil)

// NewAnomalyAgent creates an anomaly agent.
func NewAnomalyAgent(h TransactionHistory) *AnomalyAgent {
	return &AnomalyAgent{history: h}
}

// Name implements fraud.Scorer.
func (a *AnomalyAgent) Name() string { return fraud.AgentAnomaly }

// Score implements fraud.Scorer.
func (a *AnomalyAgent) Score(ctx context.Context, tx *fraud.Transaction) (*fraud.AgentScore, error) {
	recent, err := a.history.RecentTransactions(ctx, tx.UserID, tx.Timestamp, anomalyWindow, anomalyLimit)
	if err != nil {
		return nil, fmt.Errorf("anomaly agent: %w", err)
	}

	var (
		t        tally
		lastHour int
		total    float64
	)
	for _, r := range recent {
		if tx.Timestamp.Sub(r.Timestamp) <= time.Hour {
			lastHour++
		}
		total += r.Amount
	}

	switch {
	case lastHour >= 5:
		t.add(weightHighVelocity, "High velocity: %d transactions in last hour", lastHour)
	case lastHour >= 3:
		t.add(weightElevatedVelocity, "Elevated velocity: %d transactions in last hour", lastHour)
	}

	hour := tx.Timestamp.UTC().Hour()
	if hour >= 2 && hour <= 5 {
		t.add(weightOddHour, "Unusual hour: %02d:00 UTC", hour)
	}

	details := map[string]any{
		"transactions_last_hour":   lastHour,
		"hour_of_day":              hour,
		"recent_transaction_count": len(recent),
	}

	if len(recent) > 0 {
		minutes := tx.Timestamp.Sub(recent[0].Timestamp).Minutes()
		details["minutes_since_last"] = minutes
		if minutes < 5 {
			t.add(weightRapidSuccession, "Rapid succession: %.1f minutes since previous transaction", minutes)
		}

		avg := total / float64(len(recent))
		details["recent_average"] = avg
		if tx.Amount > 3*avg {
			t.add(weightAmountSpike, "Amount spike: $%.2f vs recent average $%.2f", tx.Amount, avg)
		}
	}

	return t.result(fraud.AgentAnomaly, "Normal transaction timing and frequency", details), nil
}
