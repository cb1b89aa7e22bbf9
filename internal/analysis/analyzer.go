package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/fraudswarm/internal/agents"
	"github.com/mbd888/fraudswarm/internal/embedding"
	"github.com/mbd888/fraudswarm/internal/fanout"
	"github.com/mbd888/fraudswarm/internal/fraud"
	"github.com/mbd888/fraudswarm/internal/history"
	"github.com/mbd888/fraudswarm/internal/idgen"
	"github.com/mbd888/fraudswarm/internal/logging"
	"github.com/mbd888/fraudswarm/internal/metrics"
	"github.com/mbd888/fraudswarm/internal/traces"
)

const (
	DefaultAgentTimeout    = 2 * time.Second
	DefaultAnalysisTimeout = 5 * time.Second

	sinkTimeout = 5 * time.Second
)

// Agents is the set of scorers an Analyzer runs. All five are required.
type Agents struct {
	Pattern    fraud.Scorer
	Anomaly    fraud.Scorer
	Geographic fraud.Scorer
	Merchant   fraud.Scorer
	Network    fraud.Scorer
}

// DefaultAgents builds the standard agents over one history store and embedder.
func DefaultAgents(store history.Store, embedder embedding.Embedder) Agents {
	return Agents{
		Pattern:    agents.NewPatternAgent(store, embedder),
		Anomaly:    agents.NewAnomalyAgent(store),
		Geographic: agents.NewGeographicAgent(store),
		Merchant:   agents.NewMerchantAgent(store),
		Network:    agents.NewNetworkAgent(store),
	}
}

func (a Agents) list() []fraud.Scorer {
	return []fraud.Scorer{a.Pattern, a.Anomaly, a.Geographic, a.Merchant, a.Network}
}

// Analyzer fans a transaction out to every agent and combines the results.
// It is safe for concurrent use.
type Analyzer struct {
	scorers      []fraud.Scorer
	pattern      fraud.Scorer
	sinks        []Sink
	logger       *slog.Logger
	agentTimeout time.Duration
	callTimeout  time.Duration
	now          func() time.Time
	newID        func() string

	pending sync.WaitGroup
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger used for analysis and sink logs.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// WithTimeouts bounds each agent and each whole analysis. Zero keeps the default.
func WithTimeouts(agent, call time.Duration) Option {
	return func(a *Analyzer) {
		if agent > 0 {
			a.agentTimeout = agent
		}
		if call > 0 {
			a.callTimeout = call
		}
	}
}

// WithSink registers a sink for finished analyses.
func WithSink(s Sink) Option {
	return func(a *Analyzer) { a.sinks = append(a.sinks, s) }
}

// WithClock overrides the source of transaction timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// WithIDGenerator overrides transaction ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(a *Analyzer) { a.newID = fn }
}

// New creates an analyzer over the given agents.
func New(set Agents, opts ...Option) *Analyzer {
	a := &Analyzer{
		scorers:      set.list(),
		pattern:      set.Pattern,
		logger:       slog.Default(),
		agentTimeout: DefaultAgentTimeout,
		callTimeout:  DefaultAnalysisTimeout,
		now:          time.Now,
		newID:        idgen.New,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze scores req with every agent and decides on it. Any agent failure
// fails the whole analysis and no partial result is returned.
func (a *Analyzer) Analyze(ctx context.Context, req *fraud.TransactionRequest) (*fraud.AnalysisResult, error) {
	start := time.Now()
	tx := fraud.NewTransaction(req, a.newID(), a.now())

	ctx = logging.WithTransactionID(ctx, tx.TransactionID)
	ctx, span := traces.StartSpan(ctx, "analysis.analyze",
		traces.TransactionID(tx.TransactionID),
		traces.UserID(tx.UserID),
		traces.Merchant(tx.Merchant),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.callTimeout)
	defer cancel()

	tasks := make([]fanout.Task[*fraud.AgentScore], len(a.scorers))
	for i, s := range a.scorers {
		tasks[i] = a.task(s, tx)
	}
	results, err := fanout.Run(ctx, 0, tasks...)
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues("error").Inc()
		traces.RecordError(span, err)
		a.log(ctx).Error("analysis failed", "user_id", tx.UserID, "error", err)
		return nil, fmt.Errorf("analysis failed: %w", err)
	}

	scores := make(map[string]*fraud.AgentScore, len(results))
	values := make(map[string]float64, len(results))
	var ring bool
	for _, r := range results {
		scores[r.Agent] = r
		values[r.Agent] = r.RiskScore
		ring = ring || r.RingDetected
	}

	risk := WeightedScore(values)
	decision, confidence := Decide(risk, ring)
	elapsed := time.Since(start)

	result := &fraud.AnalysisResult{
		TransactionID: tx.TransactionID,
		Decision:      decision,
		Confidence:    confidence,
		RiskScore:     risk,
		LatencyMs:     elapsed.Milliseconds(),
		AgentScores: fraud.AgentScores{
			Pattern:    values[fraud.AgentPattern],
			Anomaly:    values[fraud.AgentAnomaly],
			Geographic: values[fraud.AgentGeographic],
			Merchant:   values[fraud.AgentMerchant],
		},
		FraudRingDetected: ring,
		Reasoning:         Reasoning(scores),
	}

	metrics.AnalysesTotal.WithLabelValues(string(decision)).Inc()
	metrics.AnalysisDuration.Observe(elapsed.Seconds())
	if ring {
		metrics.FraudRingsTotal.Inc()
	}
	span.SetAttributes(traces.RiskScore(risk), traces.Decision(string(decision)))
	a.log(ctx).Info("transaction analyzed",
		"user_id", tx.UserID,
		"merchant", tx.Merchant,
		"decision", decision,
		"risk_score", risk,
		"fraud_ring", ring,
		"latency_ms", result.LatencyMs,
	)

	a.publish(ctx, tx, result, scores)
	return result, nil
}

// ScorePattern runs only the pattern agent against req.
func (a *Analyzer) ScorePattern(ctx context.Context, req *fraud.TransactionRequest) (*fraud.AgentScore, error) {
	if a.pattern == nil {
		return nil, ErrNoAgent
	}
	tx := fraud.NewTransaction(req, a.newID(), a.now())
	ctx = logging.WithTransactionID(ctx, tx.TransactionID)
	return a.task(a.pattern, tx)(ctx)
}

// Wait blocks until every in-flight sink delivery has finished.
func (a *Analyzer) Wait() {
	a.pending.Wait()
}

// task wraps one scorer with its timeout, span and metrics.
func (a *Analyzer) task(s fraud.Scorer, tx *fraud.Transaction) fanout.Task[*fraud.AgentScore] {
	return func(ctx context.Context) (*fraud.AgentScore, error) {
		name := s.Name()
		ctx, span := traces.StartSpan(ctx, "agent."+name,
			traces.Agent(name),
			traces.TransactionID(tx.TransactionID),
		)
		defer span.End()

		ctx, cancel := context.WithTimeout(ctx, a.agentTimeout)
		defer cancel()

		start := time.Now()
		score, err := s.Score(ctx, tx)
		metrics.AgentDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.AgentFailuresTotal.WithLabelValues(name).Inc()
			traces.RecordError(span, err)
			return nil, err
		}
		metrics.AgentRiskScore.WithLabelValues(name).Observe(score.RiskScore)
		span.SetAttributes(traces.RiskScore(score.RiskScore))
		return score, nil
	}
}

// publish hands the analysis to every sink in the background.
func (a *Analyzer) publish(ctx context.Context, tx *fraud.Transaction, result *fraud.AnalysisResult, scores map[string]*fraud.AgentScore) {
	if len(a.sinks) == 0 {
		return
	}
	rec := &Record{
		ID:                idgen.WithPrefix("an_"),
		TransactionID:     tx.TransactionID,
		UserID:            tx.UserID,
		Merchant:          tx.Merchant,
		Amount:            tx.Amount,
		Decision:          result.Decision,
		Confidence:        result.Confidence,
		RiskScore:         result.RiskScore,
		FraudRingDetected: result.FraudRingDetected,
		AgentScores:       scores,
		Reasoning:         result.Reasoning,
		AnalyzedAt:        tx.Timestamp,
	}
	ctx = context.WithoutCancel(ctx)
	logger := a.log(ctx)

	for _, sink := range a.sinks {
		a.pending.Add(1)
		go func() {
			defer a.pending.Done()
			sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
			defer cancel()

			if err := sink.Publish(sctx, rec); err != nil {
				metrics.SinkDeliveriesTotal.WithLabelValues(sink.Name(), "error").Inc()
				logger.Warn("sink delivery failed", "sink", sink.Name(), "error", err)
				return
			}
			metrics.SinkDeliveriesTotal.WithLabelValues(sink.Name(), "ok").Inc()
		}()
	}
}

func (a *Analyzer) log(ctx context.Context) *slog.Logger {
	return logging.L(logging.WithLogger(ctx, a.logger))
}
