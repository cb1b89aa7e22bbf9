package analysis

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mbd888/fraudswarm/internal/fraud"
)

func TestWeightsSumToOne(t *testing.T) {
	var sum float64
	for _, w := range Weights {
		sum += w.Weight
	}
	assert.InDelta(t, 1.0, sum, 1e-12)
	assert.Len(t, Weights, 5)
}

func TestWeightedScore(t *testing.T) {
	tests := []struct {
		name   string
		scores map[string]float64
		want   float64
	}{
		{"all zero", map[string]float64{}, 0},
		{"all one", map[string]float64{
			fraud.AgentPattern: 1, fraud.AgentAnomaly: 1, fraud.AgentGeographic: 1,
			fraud.AgentMerchant: 1, fraud.AgentNetwork: 1,
		}, 1},
		{"pattern only", map[string]float64{fraud.AgentPattern: 1}, 0.25},
		{"network only", map[string]float64{fraud.AgentNetwork: 1}, 0.15},
		{"mixed", map[string]float64{
			fraud.AgentPattern: 0.2, fraud.AgentAnomaly: 0.5, fraud.AgentGeographic: 0.7,
			fraud.AgentMerchant: 0.0, fraud.AgentNetwork: 0.4,
		}, 0.25*0.2 + 0.20*0.5 + 0.15*0.7 + 0.15*0.4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, WeightedScore(tt.scores), 1e-9)
		})
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		score      float64
		ring       bool
		decision   fraud.Decision
		confidence float64
	}{
		{0.0, false, fraud.DecisionApprove, 0.85},
		{0.40, false, fraud.DecisionApprove, 0.85},
		{0.400001, false, fraud.DecisionChallenge, 0.75},
		{0.70, false, fraud.DecisionChallenge, 0.75},
		{0.4000000005, false, fraud.DecisionChallenge, 0.75},
		{0.7000000005, false, fraud.DecisionBlock, 0.90},
		{0.700001, false, fraud.DecisionBlock, 0.90},
		{1.0, false, fraud.DecisionBlock, 0.90},
		{0.0, true, fraud.DecisionBlock, 0.95},
		{0.99, true, fraud.DecisionBlock, 0.95},
	}
	for _, tt := range tests {
		d, c := Decide(tt.score, tt.ring)
		assert.Equal(t, tt.decision, d, "score %v ring %v", tt.score, tt.ring)
		assert.Equal(t, tt.confidence, c, "score %v ring %v", tt.score, tt.ring)
	}
}

func TestDecide_StrictOnSummedScore(t *testing.T) {
	score := WeightedScore(map[string]float64{
		fraud.AgentPattern: 0, fraud.AgentAnomaly: 0.4, fraud.AgentGeographic: 0.55,
		fraud.AgentMerchant: 0.65, fraud.AgentNetwork: 0.5,
	})
	// The sum lands a hair above 0.40 in float64 and must escalate.
	assert.Greater(t, score, 0.40)
	d, c := Decide(score, false)
	assert.Equal(t, fraud.DecisionChallenge, d)
	assert.Equal(t, 0.75, c)
}

func TestDecide_NaNApproves(t *testing.T) {
	d, _ := Decide(math.NaN(), false)
	assert.Equal(t, fraud.DecisionApprove, d)
}

func TestReasoning(t *testing.T) {
	scores := map[string]*fraud.AgentScore{
		fraud.AgentPattern:    {Reason: "Normal spending pattern"},
		fraud.AgentAnomaly:    {Reason: "Unusual hour: 03:00 UTC"},
		fraud.AgentGeographic: {Reason: "Normal location: New York, US"},
		fraud.AgentMerchant:   {Reason: "Trusted merchant: Amazon"},
		fraud.AgentNetwork:    {Reason: "No fraud ring indicators"},
	}
	assert.Equal(t,
		"Pattern: Normal spending pattern | Anomaly: Unusual hour: 03:00 UTC | "+
			"Geographic: Normal location: New York, US | Merchant: Trusted merchant: Amazon | "+
			"Network: No fraud ring indicators",
		Reasoning(scores))
}

func TestReasoning_MissingAgent(t *testing.T) {
	out := Reasoning(map[string]*fraud.AgentScore{})
	assert.Equal(t, 5, len(strings.Split(out, " | ")))
	assert.True(t, strings.HasPrefix(out, "Pattern: "))
}
