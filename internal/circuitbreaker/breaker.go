// Package circuitbreaker guards one downstream dependency. A run of
// consecutive failures opens the circuit and calls fail fast until the
// cooldown passes; a single probe call then decides whether it closes.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Do when the circuit rejects the call.
var ErrOpen = errors.New("circuitbreaker: circuit open")

// State is the circuit state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var (
	stateGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "fraudswarm",
		Subsystem: "circuitbreaker",
		Name:      "state",
		Help:      "Circuit state per dependency (0 closed, 1 open, 2 half-open).",
	}, []string{"name"})

	transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fraudswarm",
		Subsystem: "circuitbreaker",
		Name:      "state_transitions_total",
		Help:      "Circuit state transitions by dependency.",
	}, []string{"name", "from_state", "to_state"})
)

func init() {
	prometheus.MustRegister(stateGauge, transitionsTotal)
}

// Config tunes a Breaker. Zero values take the defaults.
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the circuit. Default 5.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a probe. Default 30s.
	Cooldown time.Duration
	// IsFailure decides which errors count against the circuit. Errors it
	// rejects are treated as successes. Nil counts every error.
	IsFailure func(error) bool
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitzero"`
}

// Breaker is a circuit breaker for a single named dependency.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// New creates a closed breaker. name labels its metrics.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	stateGauge.WithLabelValues(name).Set(float64(StateClosed))
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Name returns the dependency name.
func (b *Breaker) Name() string { return b.name }

// Do runs fn unless the circuit is open and records its outcome.
func (b *Breaker) Do(fn func() error) error {
	if !b.acquire() {
		return ErrOpen
	}
	err := fn()
	b.record(err)
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns the breaker's current state and failure run.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := Snapshot{
		Name:                b.name,
		State:               b.state.String(),
		ConsecutiveFailures: b.failures,
	}
	if b.state != StateClosed {
		snap.OpenedAt = b.openedAt
	}
	return snap
}

func (b *Breaker) acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.setState(StateHalfOpen)
		b.probing = true
		return true
	case StateHalfOpen:
		// One probe at a time.
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	failed := err != nil && (b.cfg.IsFailure == nil || b.cfg.IsFailure(err))
	if !failed {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.setState(StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
		b.setState(StateOpen)
	}
}

// Caller must hold b.mu.
func (b *Breaker) setState(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	stateGauge.WithLabelValues(b.name).Set(float64(to))
	transitionsTotal.WithLabelValues(b.name, from.String(), to.String()).Inc()
}
