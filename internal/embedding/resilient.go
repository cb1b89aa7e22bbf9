package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/mbd888/fraudswarm/internal/circuitbreaker"
	"github.com/mbd888/fraudswarm/internal/health"
	"github.com/mbd888/fraudswarm/internal/metrics"
	"github.com/mbd888/fraudswarm/internal/retry"
)

// Resilient wraps an Embedder with retries on transient failures and a
// circuit breaker that fails fast while the backend is down.
type Resilient struct {
	next      Embedder
	name      string
	breaker   *circuitbreaker.Breaker
	policy    retry.Policy
	transient func(error) bool
}

// ResilientOption configures a Resilient embedder.
type ResilientOption func(*Resilient)

// WithBreaker replaces the default breaker (5 transient failures, 30s cooldown).
func WithBreaker(b *circuitbreaker.Breaker) ResilientOption {
	return func(r *Resilient) { r.breaker = b }
}

// WithRetryPolicy replaces retry.DefaultPolicy.
func WithRetryPolicy(p retry.Policy) ResilientOption {
	return func(r *Resilient) { r.policy = p }
}

// WithTransient replaces the Transient classifier.
func WithTransient(fn func(error) bool) ResilientOption {
	return func(r *Resilient) { r.transient = fn }
}

// NewResilient wraps next. name labels the backend's breaker metrics.
func NewResilient(next Embedder, name string, opts ...ResilientOption) *Resilient {
	r := &Resilient{
		next:      next,
		name:      name,
		policy:    retry.DefaultPolicy,
		transient: Transient,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = circuitbreaker.New(name, circuitbreaker.Config{IsFailure: r.transient})
	}
	return r
}

// Embed implements Embedder.
func (r *Resilient) Embed(ctx context.Context, text string) ([]float32, error) {
	var vec []float32
	err := r.breaker.Do(func() error {
		return retry.Do(ctx, r.policy, func(ctx context.Context) error {
			v, err := r.next.Embed(ctx, text)
			if err != nil {
				if !r.transient(err) {
					return retry.Permanent(err)
				}
				return err
			}
			vec = v
			return nil
		})
	})

	switch {
	case err == nil:
		metrics.EmbeddingRequestsTotal.WithLabelValues("ok").Inc()
		return vec, nil
	case errors.Is(err, circuitbreaker.ErrOpen):
		metrics.EmbeddingRequestsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %s circuit open", ErrUnavailable, r.name)
	default:
		metrics.EmbeddingRequestsTotal.WithLabelValues("error").Inc()
		if !errors.Is(err, ErrEmbedding) {
			err = fmt.Errorf("%w: %w", ErrEmbedding, err)
		}
		return nil, err
	}
}

// State reports the breaker state.
func (r *Resilient) State() circuitbreaker.State {
	return r.breaker.State()
}

// Check reports the backend unhealthy while its circuit is open.
func (r *Resilient) Check(context.Context) health.Status {
	snap := r.breaker.Snapshot()
	return health.Status{
		Name:    "embedding",
		Healthy: snap.State != circuitbreaker.StateOpen.String(),
		Detail:  r.name + " circuit " + snap.State,
	}
}
