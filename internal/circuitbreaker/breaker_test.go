package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("backend down")

type manualClock struct{ t time.Time }

func (c *manualClock) now() time.Time          { return c.t }
func (c *manualClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(t *testing.T, cfg Config) (*Breaker, *manualClock) {
	clock := &manualClock{t: time.Date(2026, 4, 10, 14, 0, 0, 0, time.UTC)}
	b := New(t.Name(), cfg)
	b.now = clock.now
	return b, clock
}

func readValue(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	if out.Gauge != nil {
		return out.Gauge.GetValue()
	}
	return out.Counter.GetValue()
}

func fail() error    { return errDown }
func succeed() error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 3, Cooldown: time.Minute})

	for range 2 {
		assert.ErrorIs(t, b.Do(fail), errDown)
	}
	assert.Equal(t, StateClosed, b.State())

	assert.ErrorIs(t, b.Do(fail), errDown)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Do(func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called, "fn must not run while open")
}

func TestBreaker_SuccessResetsFailureRun(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 2})

	_ = b.Do(fail)
	require.NoError(t, b.Do(succeed))
	_ = b.Do(fail)

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 1, b.Snapshot().ConsecutiveFailures)
}

func TestBreaker_ProbeAfterCooldown(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 1, Cooldown: time.Minute})
	_ = b.Do(fail)

	clock.advance(30 * time.Second)
	assert.ErrorIs(t, b.Do(succeed), ErrOpen)

	clock.advance(30 * time.Second)
	require.NoError(t, b.Do(succeed))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 1, Cooldown: time.Minute})
	_ = b.Do(fail)
	clock.advance(time.Minute)

	assert.ErrorIs(t, b.Do(fail), errDown)
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, clock.t, b.Snapshot().OpenedAt)

	assert.ErrorIs(t, b.Do(succeed), ErrOpen)
}

func TestBreaker_SingleProbeInHalfOpen(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 1, Cooldown: time.Minute})
	_ = b.Do(fail)
	clock.advance(time.Minute)

	var inner error
	err := b.Do(func() error {
		assert.Equal(t, StateHalfOpen, b.State())
		inner = b.Do(succeed)
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, inner, ErrOpen)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_IgnoresErrorsThatAreNotFailures(t *testing.T) {
	badInput := errors.New("bad input")
	b, _ := newTestBreaker(t, Config{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, badInput) },
	})

	for range 3 {
		assert.ErrorIs(t, b.Do(func() error { return badInput }), badInput)
	}
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_Defaults(t *testing.T) {
	b := New("defaults", Config{})
	assert.Equal(t, 5, b.cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, b.cfg.Cooldown)
	assert.Equal(t, "defaults", b.Name())
}

func TestBreaker_Snapshot(t *testing.T) {
	b, _ := newTestBreaker(t, Config{FailureThreshold: 2})

	snap := b.Snapshot()
	assert.Equal(t, t.Name(), snap.Name)
	assert.Equal(t, "closed", snap.State)
	assert.True(t, snap.OpenedAt.IsZero())

	_ = b.Do(fail)
	_ = b.Do(fail)
	snap = b.Snapshot()
	assert.Equal(t, "open", snap.State)
	assert.Equal(t, 2, snap.ConsecutiveFailures)
	assert.False(t, snap.OpenedAt.IsZero())
}

func TestBreaker_Metrics(t *testing.T) {
	b, clock := newTestBreaker(t, Config{FailureThreshold: 1, Cooldown: time.Minute})

	_ = b.Do(fail)
	assert.Equal(t, float64(StateOpen), readValue(t, stateGauge.WithLabelValues(t.Name())))

	clock.advance(time.Minute)
	require.NoError(t, b.Do(succeed))
	assert.Equal(t, float64(StateClosed), readValue(t, stateGauge.WithLabelValues(t.Name())))
	assert.Equal(t, 1.0, readValue(t, transitionsTotal.WithLabelValues(t.Name(), "half_open", "closed")))
}

func TestState_String(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.s.String())
	}
}
