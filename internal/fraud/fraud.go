// Package fraud defines the transaction model shared by the scoring agents
// and the analyzer that combines them.
//
// A TransactionRequest arrives from a caller, is stamped with an ID and the
// request time to become an immutable Transaction, and is then scored by a
// set of Scorers. Each Scorer returns an AgentScore in [0, 1].
package fraud

import (
	"context"
	"math"
	"time"
)

// Decision is the final verdict on a transaction.
type Decision string

const (
	DecisionApprove   Decision = "APPROVE"
	DecisionChallenge Decision = "CHALLENGE"
	DecisionBlock     Decision = "BLOCK"
)

// Agent names. Each Scorer reports one of these from Name().
const (
	AgentPattern    = "pattern"
	AgentAnomaly    = "anomaly"
	AgentGeographic = "geographic"
	AgentMerchant   = "merchant"
	AgentNetwork    = "network"
)

// Sentinel values for a location the caller could not resolve.
const (
	UnknownCountry = "XX"
	UnknownCity    = "Unknown"
)

// Location is where a transaction originated.
type Location struct {
	City    string  `json:"city"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// IsUnknown reports whether l carries any of the unknown-location sentinels.
func (l Location) IsUnknown() bool {
	return l.Country == UnknownCountry || l.City == UnknownCity || (l.Lat == 0 && l.Lon == 0)
}

// TransactionRequest is the caller-supplied part of a transaction.
type TransactionRequest struct {
	UserID            string   `json:"user_id"`
	Amount            float64  `json:"amount"`
	Merchant          string   `json:"merchant"`
	MerchantCategory  string   `json:"merchant_category"`
	Location          Location `json:"location"`
	PaymentMethod     string   `json:"payment_method"`
	DeviceFingerprint string   `json:"device_fingerprint"`
}

// Transaction is a request stamped with an ID and the time it was received.
// Agents only read it.
type Transaction struct {
	TransactionID     string    `json:"transaction_id"`
	UserID            string    `json:"user_id"`
	Amount            float64   `json:"amount"`
	Merchant          string    `json:"merchant"`
	MerchantCategory  string    `json:"merchant_category"`
	Location          Location  `json:"location"`
	Timestamp         time.Time `json:"timestamp"`
	PaymentMethod     string    `json:"payment_method"`
	DeviceFingerprint string    `json:"device_fingerprint"`
}

// NewTransaction derives a Transaction from req.
func NewTransaction(req *TransactionRequest, id string, now time.Time) *Transaction {
	return &Transaction{
		TransactionID:     id,
		UserID:            req.UserID,
		Amount:            req.Amount,
		Merchant:          req.Merchant,
		MerchantCategory:  req.MerchantCategory,
		Location:          req.Location,
		Timestamp:         now.UTC(),
		PaymentMethod:     req.PaymentMethod,
		DeviceFingerprint: req.DeviceFingerprint,
	}
}

// AgentScore is one agent's verdict on a transaction.
type AgentScore struct {
	Agent        string         `json:"agent"`
	RiskScore    float64        `json:"risk_score"`
	Reason       string         `json:"reason"`
	RingDetected bool           `json:"ring_detected"`
	Details      map[string]any `json:"details"`
}

// Scorer evaluates a transaction against historical context it was
// constructed with. Implementations must be safe for concurrent use and
// must not mutate tx.
type Scorer interface {
	Name() string
	Score(ctx context.Context, tx *Transaction) (*AgentScore, error)
}

// AgentScores is the per-agent breakdown returned to callers. The network
// agent feeds the weighted score and ring flag but is not listed here.
type AgentScores struct {
	Pattern    float64 `json:"pattern"`
	Anomaly    float64 `json:"anomaly"`
	Geographic float64 `json:"geographic"`
	Merchant   float64 `json:"merchant"`
}

// AnalysisResult is the outcome of a full multi-agent analysis.
type AnalysisResult struct {
	TransactionID     string      `json:"transaction_id"`
	Decision          Decision    `json:"decision"`
	Confidence        float64     `json:"confidence"`
	RiskScore         float64     `json:"risk_score"`
	LatencyMs         int64       `json:"latency_ms"`
	AgentScores       AgentScores `json:"agent_scores"`
	FraudRingDetected bool        `json:"fraud_ring_detected"`
	Reasoning         string      `json:"reasoning"`
}

// Clamp bounds v to [0, 1]. NaN maps to 0.
func Clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
