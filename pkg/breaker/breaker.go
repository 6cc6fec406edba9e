// Package breaker implements a rolling-window circuit breaker and a
// process-wide registry with one breaker per downstream service.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrOpen is returned without calling the downstream while the circuit is open.
	ErrOpen = errors.New("breaker: circuit is open")
	// ErrTimeout is returned when a call outlives the breaker timeout.
	ErrTimeout = errors.New("breaker: call timed out")
)

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// Stats is the administrative view of one breaker.
type Stats struct {
	State           string  `json:"state"`
	ErrorPercentage float64 `json:"errorPercentage"`
	Counts
}

type Breaker struct {
	name string
	opts Options

	mu         sync.Mutex
	state      State
	generation uint64
	openedAt   time.Time
	createdAt  time.Time
	probing    bool
	window     *window
}

func New(name string, opts ...Option) *Breaker {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return newWithOptions(name, o)
}

func newWithOptions(name string, o Options) *Breaker {
	o.normalize()
	return &Breaker{
		name:      name,
		opts:      o,
		createdAt: o.Clock(),
		window:    newWindow(o.RollingCountTimeout, o.RollingCountBuckets),
	}
}

func (b *Breaker) Name() string { return b.name }

// Options returns the effective settings.
func (b *Breaker) Options() Options { return b.opts }

func (b *Breaker) State() State {
	b.mu.Lock()
	from := b.state
	s := b.currentState(b.opts.Clock())
	b.mu.Unlock()
	b.notify(from, s)
	return s
}

// Execute runs fn under the breaker with the default timeout.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	return b.ExecuteTimeout(ctx, b.opts.Timeout, fn)
}

// ExecuteTimeout runs fn with a per-call timeout. On timeout fn's context is
// cancelled and its result is discarded; the goroutine is not waited for.
func (b *Breaker) ExecuteTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		timeout = b.opts.Timeout
	}
	gen, err := b.before()
	if err != nil {
		return err
	}
	err = call(ctx, timeout, fn)
	b.after(gen, err)
	return err
}

func call(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(callCtx) }()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}

// RecordFallback counts a fallback served instead of a downstream result.
func (b *Breaker) RecordFallback() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window.current(b.opts.Clock()).Fallbacks++
}

func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.opts.Clock()
	c := b.window.sum(now)
	return Stats{
		State:           b.currentState(now).String(),
		ErrorPercentage: c.ErrorPercentage(),
		Counts:          c,
	}
}

// Reset forces the breaker closed and clears the window.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.window.reset()
	b.probing = false
	b.toState(StateClosed, b.opts.Clock())
	b.mu.Unlock()
	b.notify(from, StateClosed)
}

// Trip forces the breaker open. It half-opens again after ResetTimeout.
func (b *Breaker) Trip() {
	b.mu.Lock()
	from := b.state
	b.probing = false
	b.toState(StateOpen, b.opts.Clock())
	b.mu.Unlock()
	b.notify(from, StateOpen)
}

func (b *Breaker) before() (uint64, error) {
	b.mu.Lock()
	now := b.opts.Clock()
	from := b.state
	state := b.currentState(now)

	var err error
	switch {
	case state == StateOpen:
		err = ErrOpen
	case state == StateHalfOpen && b.probing:
		err = ErrOpen
	case state == StateHalfOpen:
		b.probing = true
	}
	if err != nil {
		b.window.current(now).Rejects++
	}
	gen := b.generation
	b.mu.Unlock()

	if from != state {
		b.notify(from, state)
	}
	return gen, err
}

func (b *Breaker) after(gen uint64, err error) {
	b.mu.Lock()
	now := b.opts.Clock()
	from := b.state
	if gen != b.generation {
		// Started before a state change; the result says nothing about the new state.
		b.mu.Unlock()
		return
	}

	c := b.window.current(now)
	counted := false
	if err == nil {
		c.Successes++
	} else {
		c.Failures++
		if b.opts.ErrorFilter(err) {
			c.CountedFailures++
			counted = true
		}
		if errors.Is(err, ErrTimeout) {
			c.Timeouts++
		}
	}

	switch b.state {
	case StateHalfOpen:
		b.probing = false
		if err != nil {
			b.toState(StateOpen, now)
		} else {
			b.window.reset()
			b.toState(StateClosed, now)
		}
	case StateClosed:
		if counted && b.shouldTrip(now) {
			b.toState(StateOpen, now)
		}
	}
	to := b.state
	b.mu.Unlock()

	if from != to {
		b.notify(from, to)
	}
}

func (b *Breaker) shouldTrip(now time.Time) bool {
	if b.opts.AllowWarmUp && now.Sub(b.createdAt) < b.opts.RollingCountTimeout {
		return false
	}
	c := b.window.sum(now)
	if c.Requests() < int64(b.opts.VolumeThreshold) {
		return false
	}
	return c.ErrorPercentage() >= b.opts.ErrorThresholdPercentage
}

// currentState moves OPEN to HALF_OPEN once ResetTimeout has elapsed. Caller holds mu.
func (b *Breaker) currentState(now time.Time) State {
	if b.state == StateOpen && !now.Before(b.openedAt.Add(b.opts.ResetTimeout)) {
		b.toState(StateHalfOpen, now)
	}
	return b.state
}

func (b *Breaker) toState(s State, now time.Time) {
	if s == StateOpen {
		b.openedAt = now
	}
	if b.state != s {
		b.generation++
	}
	b.state = s
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.opts.OnStateChange != nil {
		b.opts.OnStateChange(b.name, from, to)
	}
}
