package agents

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"

	"github.com/mbd888/fraudswarm/internal/embedding"
	"github.com/mbd888/fraudswarm/internal/fraud"
	"github.com/mbd888/fraudswarm/internal/history"
)

const (
	baselineWindow   = 90 * 24 * time.Hour
	similarLimit     = 10
	fraudNoteAbove   = 0.30
	largeDeviation   = 3.0
	partialDeviation = 1.5

	weightLargeDeviation   = 0.30
	weightPartialDeviation = 0.15
	weightNewCategory      = 0.20
	weightSimilarFraud     = 0.50 // scaled by the fraud fraction of neighbours
)

// BaselineSource records which history a spending baseline came from.
type BaselineSource string

const (
	// BaselineClean is built from non-fraud transactions only.
	BaselineClean BaselineSource = "clean"
	// BaselineAll includes fraud-labelled transactions because there were no others.
	BaselineAll BaselineSource = "all"
	// BaselineNoHistory means the user has no transactions in the window.
	BaselineNoHistory BaselineSource = "no_history"
)

// PatternAgent compares the transaction against the user's own spending:
// amount relative to their average, whether the category is familiar,
// and how many of their most similar past transactions were fraud.
type PatternAgent struct {
	history  SpendingHistory
	embedder embedding.Embedder
}

var _ fraud.Scorer = (*PatternAgent)(nil)

// NewPatternAgent creates a pattern agent.
func NewPatternAgent(h SpendingHistory, e embedding.Embedder) *PatternAgent {
	return &PatternAgent{history: h, embedder: e}
}

// Name implements fraud.Scorer.
func (p *PatternAgent) Name() string { return fraud.AgentPattern }

// Score implements fraud.Scorer.
func (p *PatternAgent) Score(ctx context.Context, tx *fraud.Transaction) (*fraud.AgentScore, error) {
	baseline, source, err := p.baseline(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("pattern agent: %w", err)
	}

	var t tally

	var deviation float64
	if baseline.AvgAmount > 0 {
		deviation = math.Abs(tx.Amount-baseline.AvgAmount) / baseline.AvgAmount
	}
	switch {
	case deviation > largeDeviation:
		t.add(weightLargeDeviation, "Amount $%.2f is %.1fx user's average $%.2f",
			tx.Amount, tx.Amount/baseline.AvgAmount, baseline.AvgAmount)
	case deviation > partialDeviation:
		t.add(weightPartialDeviation, "Amount $%.2f deviates %.0f%% from user's average $%.2f",
			tx.Amount, deviation*100, baseline.AvgAmount)
	}

	familiar := slices.Contains(baseline.Categories, tx.MerchantCategory)
	if !familiar {
		t.add(weightNewCategory, "New category '%s'", tx.MerchantCategory)
	}

	vec, err := p.embedder.Embed(ctx, Description(tx))
	if err != nil {
		return nil, fmt.Errorf("pattern agent: %w", err)
	}
	similar, err := p.history.NearestTransactions(ctx, tx.UserID, vec, similarLimit)
	if err != nil {
		return nil, fmt.Errorf("pattern agent: %w", err)
	}

	var frauds int
	for _, s := range similar {
		if s.FraudLabel {
			frauds++
		}
	}
	var fraction float64
	if len(similar) > 0 {
		fraction = float64(frauds) / float64(len(similar))
		t.bump(weightSimilarFraud * fraction)
		if fraction > fraudNoteAbove {
			t.reasons = append(t.reasons, fmt.Sprintf("%.0f%% of similar transactions were fraud", fraction*100))
		}
	}

	details := map[string]any{
		"baseline":          string(source),
		"baseline_average":  baseline.AvgAmount,
		"amount_deviation":  deviation,
		"category_familiar": familiar,
		"fraud_in_similar":  frauds,
		"similar_count":     len(similar),
	}
	return t.result(fraud.AgentPattern, "Normal spending pattern", details), nil
}

// baseline prefers non-fraud history, falls back to all history, and
// finally to an empty baseline when the user has none.
func (p *PatternAgent) baseline(ctx context.Context, tx *fraud.Transaction) (*history.Baseline, BaselineSource, error) {
	clean, err := p.history.Baseline(ctx, tx.UserID, tx.Timestamp, baselineWindow, false)
	if err != nil {
		return nil, "", err
	}
	if clean.SampleSize > 0 {
		return clean, BaselineClean, nil
	}

	all, err := p.history.Baseline(ctx, tx.UserID, tx.Timestamp, baselineWindow, true)
	if err != nil {
		return nil, "", err
	}
	if all.SampleSize > 0 {
		return all, BaselineAll, nil
	}
	return &history.Baseline{}, BaselineNoHistory, nil
}

// Description is the text embedded for similarity search.
func Description(tx *fraud.Transaction) string {
	return fmt.Sprintf("User %s spending $%s at %s in category %s",
		tx.UserID, strconv.FormatFloat(tx.Amount, 'f', -1, 64), tx.Merchant, tx.MerchantCategory)
}
