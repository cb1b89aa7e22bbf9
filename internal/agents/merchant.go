package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbd888/fraudswarm/internal/fraud"
	"github.com/mbd888/fraudswarm/internal/history"
)

const (
	highRiskFraudRate     = 0.30
	elevatedRiskFraudRate = 0.10
	minEstablishedVolume  = 10
	minMerchantSimilarity = 0.70

	weightHighRiskMerchant     = 0.50
	weightElevatedRiskMerchant = 0.25
	weightNewMerchant          = 0.20
	weightUnrecognizedMerchant = 0.30
	weightFraudNarratives      = 0.25
	weightSimilarRiskyMerchant = 0.20
)

// MerchantAgent scores the merchant's reputation: its recorded fraud
// rate, how established it is, fraud reports that mention it, and how
// closely it resembles known high-risk merchants.
type MerchantAgent struct {
	directory MerchantDirectory
}

var _ fraud.Scorer = (*MerchantAgent)(nil)

// NewMerchantAgent creates a merchant agent.
func NewMerchantAgent(d MerchantDirectory) *MerchantAgent {
	return &MerchantAgent{directory: d}
}

// Name implements fraud.Scorer.
func (m *MerchantAgent) Name() string { return fraud.AgentMerchant }

// Score implements fraud.Scorer.
func (m *MerchantAgent) Score(ctx context.Context, tx *fraud.Transaction) (*fraud.AgentScore, error) {
	var t tally
	details := map[string]any{"known": false}

	merchant, err := m.directory.Merchant(ctx, tx.Merchant)
	switch {
	case errors.Is(err, history.ErrNotFound):
		merchant = nil
		t.add(weightUnrecognizedMerchant, "Unrecognized merchant")
	case err != nil:
		return nil, fmt.Errorf("merchant agent: %w", err)
	default:
		details["known"] = true
		details["fraud_rate"] = merchant.FraudRate
		details["total_transactions"] = merchant.TotalTransactions

		switch {
		case merchant.FraudRate > highRiskFraudRate:
			t.add(weightHighRiskMerchant, "High-risk merchant: %.0f%% fraud rate", merchant.FraudRate*100)
		case merchant.FraudRate > elevatedRiskFraudRate:
			t.add(weightElevatedRiskMerchant, "Elevated risk merchant: %.0f%% fraud rate", merchant.FraudRate*100)
		}
		if merchant.TotalTransactions < minEstablishedVolume {
			t.add(weightNewMerchant, "New/unknown merchant: only %d transactions", merchant.TotalTransactions)
		}
	}

	query := fmt.Sprintf("%s %s fraud scam suspicious", tx.Merchant, tx.MerchantCategory)
	hits, err := m.directory.CountFraudNarratives(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("merchant agent: %w", err)
	}
	details["text_search_hits"] = hits
	if hits > 0 {
		t.add(weightFraudNarratives, "Found %d similar fraud cases via text search", hits)
	}

	if merchant != nil && merchant.HasEmbedding {
		similar, err := m.directory.CountSimilarRiskyMerchants(ctx, tx.Merchant, highRiskFraudRate, minMerchantSimilarity)
		if err != nil {
			return nil, fmt.Errorf("merchant agent: %w", err)
		}
		details["similar_risky_merchants"] = similar
		if similar > 0 {
			t.add(weightSimilarRiskyMerchant, "%d similar high-risk merchants found", similar)
		}
	}

	return t.result(fraud.AgentMerchant, fmt.Sprintf("Trusted merchant: %s", tx.Merchant), details), nil
}
