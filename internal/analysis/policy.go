package analysis

import (
	"fmt"

	"github.com/mbd888/fraudswarm/internal/fraud"
)

// Weight is one agent's share of the combined risk score.
type Weight struct {
	Agent  string  `json:"agent"`
	Weight float64 `json:"weight"`
}

// Weights lists every agent in reasoning order with its fixed weight.
// The weights sum to 1.
var Weights = []Weight{
	{fraud.AgentPattern, 0.25},
	{fraud.AgentAnomaly, 0.20},
	{fraud.AgentGeographic, 0.15},
	{fraud.AgentMerchant, 0.25},
	{fraud.AgentNetwork, 0.15},
}

const (
	blockThreshold     = 0.70
	challengeThreshold = 0.40

	confidenceRing      = 0.95
	confidenceBlock     = 0.90
	confidenceChallenge = 0.75
	confidenceApprove   = 0.85
)

// WeightedScore combines per-agent risk scores. A missing agent counts as 0.
func WeightedScore(scores map[string]float64) float64 {
	var total float64
	for _, w := range Weights {
		total += w.Weight * scores[w.Agent]
	}
	return total
}

// Decide applies the decision policy. A detected fraud ring blocks
// regardless of score; otherwise the score is compared against strict
// thresholds.
func Decide(score float64, ringDetected bool) (fraud.Decision, float64) {
	switch {
	case ringDetected:
		return fraud.DecisionBlock, confidenceRing
	case score > blockThreshold:
		return fraud.DecisionBlock, confidenceBlock
	case score > challengeThreshold:
		return fraud.DecisionChallenge, confidenceChallenge
	default:
		return fraud.DecisionApprove, confidenceApprove
	}
}

var reasoningLabels = map[string]string{
	fraud.AgentPattern:    "Pattern",
	fraud.AgentAnomaly:    "Anomaly",
	fraud.AgentGeographic: "Geographic",
	fraud.AgentMerchant:   "Merchant",
	fraud.AgentNetwork:    "Network",
}

// Reasoning joins each agent's reason in a fixed order.
func Reasoning(scores map[string]*fraud.AgentScore) string {
	var out string
	for i, w := range Weights {
		if i > 0 {
			out += " | "
		}
		var reason string
		if s := scores[w.Agent]; s != nil {
			reason = s.Reason
		}
		out += fmt.Sprintf("%s: %s", reasoningLabels[w.Agent], reason)
	}
	return out
}
