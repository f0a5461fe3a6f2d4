// Package resilience guards outbound calls to payment gateways.
package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the breaker refuses a call.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State is the breaker state.
type State int

const (
	// Closed accepts calls and counts failures.
	Closed State = iota
	// Open rejects calls until the cool-off expires.
	Open
	// HalfOpen lets a single probe through.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Options configure a Breaker.
type Options struct {
	// MinRequests observed before the failure ratio is evaluated.
	MinRequests int
	// FailureRatio at or above which the breaker opens.
	FailureRatio float64
	// OpenFor is the cool-off before a probe is allowed.
	OpenFor time.Duration
	// Target labels metrics and logs, e.g. "stripe".
	Target string
	Logger zerolog.Logger
}

// Breaker is a failure-ratio circuit breaker.
type Breaker struct {
	mu       sync.Mutex
	opts     Options
	state    State
	ok       int
	failed   int
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// NewBreaker applies defaults to opts and returns a closed breaker.
func NewBreaker(opts Options) *Breaker {
	if opts.MinRequests <= 0 {
		opts.MinRequests = 1
	}
	if opts.FailureRatio <= 0 {
		opts.FailureRatio = 0.5
	}
	if opts.FailureRatio > 1 {
		opts.FailureRatio = 1
	}
	if opts.OpenFor <= 0 {
		opts.OpenFor = 30 * time.Second
	}
	opts.Target = strings.TrimSpace(opts.Target)
	if opts.Target == "" {
		opts.Target = "default"
	}
	b := &Breaker{opts: opts, state: Closed, now: time.Now}
	b.publishState()
	return b
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Allow reports whether a call may proceed. After the cool-off one probe is
// admitted in half-open; further calls are refused until it reports.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.opts.OpenFor {
			return false
		}
		b.transition(ctx, HalfOpen)
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// Report records the outcome of an admitted call.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		b.probing = false
		if success {
			b.transition(ctx, Closed)
		} else {
			b.transition(ctx, Open)
		}
		return
	}

	if success {
		b.ok++
	} else {
		b.failed++
	}
	total := b.ok + b.failed
	if total < b.opts.MinRequests {
		return
	}
	if float64(b.failed)/float64(total) >= b.opts.FailureRatio {
		b.transition(ctx, Open)
		return
	}
	if total > b.opts.MinRequests*2 {
		// decay so old successes do not mask a fresh outage
		b.ok = (b.ok + 1) / 2
		b.failed = (b.failed + 1) / 2
	}
}

func (b *Breaker) transition(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	b.ok, b.failed = 0, 0
	switch next {
	case Open:
		b.openedAt = b.now()
	case Closed:
		b.openedAt = time.Time{}
	}
	b.publishState()
	if BreakerTransitions != nil {
		BreakerTransitions.WithLabelValues(b.opts.Target, prev.String(), next.String()).Inc()
	}
	if next == Open && BreakerOpenedTotal != nil {
		BreakerOpenedTotal.WithLabelValues(b.opts.Target).Inc()
	}
	evt := b.opts.Logger.Warn().Str("target", b.opts.Target).Str("from_state", prev.String()).Str("to_state", next.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) publishState() {
	if BreakerState == nil {
		return
	}
	var v float64
	switch b.state {
	case Open:
		v = 1
	case HalfOpen:
		v = 2
	}
	BreakerState.WithLabelValues(b.opts.Target).Set(v)
}
