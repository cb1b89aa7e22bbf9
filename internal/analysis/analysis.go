// Package analysis runs the scoring agents against one transaction,
// combines their scores and decides whether to approve, challenge or block.
//
// Finished analyses are handed to Sinks after the caller has its answer.
// The audit trail, the live WebSocket feed and the Kafka decision stream are
// all sinks; none of them can fail or slow down an analysis.
package analysis

import (
	"context"
	"errors"
	"time"

	"github.com/mbd888/fraudswarm/internal/fraud"
	"github.com/mbd888/fraudswarm/internal/pagination"
)

// ErrNoAgent is returned by ScorePattern when the analyzer has no pattern agent.
var ErrNoAgent = errors.New("agent not configured")

// Record is the audit-trail entry for one analysis. Unlike AnalysisResult
// it keeps every agent's full score, network included.
type Record struct {
	ID                string                       `json:"id"`
	TransactionID     string                       `json:"transaction_id"`
	UserID            string                       `json:"user_id"`
	Merchant          string                       `json:"merchant"`
	Amount            float64                      `json:"amount"`
	Decision          fraud.Decision               `json:"decision"`
	Confidence        float64                      `json:"confidence"`
	RiskScore         float64                      `json:"risk_score"`
	FraudRingDetected bool                         `json:"fraud_ring_detected"`
	AgentScores       map[string]*fraud.AgentScore `json:"agent_scores"`
	Reasoning         string                       `json:"reasoning"`
	AnalyzedAt        time.Time                    `json:"analyzed_at"`
}

// Store persists analysis records for the audit trail. Listings are newest
// first, ordered by (AnalyzedAt, ID) descending; a non-nil cursor restricts
// them to records strictly older than it.
type Store interface {
	Record(ctx context.Context, rec *Record) error
	ListByUser(ctx context.Context, userID string, limit int, before *pagination.Cursor) ([]*Record, error)
}

// Sink receives every finished analysis. Deliveries happen off the request
// path; an error is logged and counted, never returned to the caller.
type Sink interface {
	Name() string
	Publish(ctx context.Context, rec *Record) error
}

// storeSink adapts a Store to a Sink.
type storeSink struct {
	store Store
}

// AuditSink writes each analysis to store.
func AuditSink(store Store) Sink {
	return storeSink{store: store}
}

func (s storeSink) Name() string { return "audit" }

func (s storeSink) Publish(ctx context.Context, rec *Record) error {
	return s.store.Record(ctx, rec)
}

// cloneRecord copies rec deeply enough that the copy's score map and
// scores can be handed out without sharing mutable state.
func cloneRecord(rec *Record) *Record {
	r := *rec
	r.AgentScores = make(map[string]*fraud.AgentScore, len(rec.AgentScores))
	for k, v := range rec.AgentScores {
		if v == nil {
			continue
		}
		s := *v
		if v.Details != nil {
			s.Details = make(map[string]any, len(v.Details))
			for dk, dv := range v.Details {
				s.Details[dk] = dv
			}
		}
		r.AgentScores[k] = &s
	}
	return &r
}
