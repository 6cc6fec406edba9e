package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrUnknownBreaker is returned by admin operations for ids never used.
var ErrUnknownBreaker = errors.New("breaker: unknown service id")

// Registry owns one Breaker per downstream service id for the life of the
// process. It is also a prometheus.Collector.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	defaults []Option
	log      *slog.Logger

	stateDesc  *prometheus.Desc
	windowDesc *prometheus.Desc
}

func NewRegistry(log *slog.Logger, defaults ...Option) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		breakers: make(map[string]*Breaker),
		defaults: defaults,
		log:      log.With(slog.String("component", "breaker")),
		stateDesc: prometheus.NewDesc(
			"rpc_breaker_state",
			"Circuit state per downstream service (0 closed, 1 open, 2 half-open).",
			[]string{"service_id"}, nil,
		),
		windowDesc: prometheus.NewDesc(
			"rpc_breaker_window_calls",
			"Calls in the current rolling window by outcome.",
			[]string{"service_id", "outcome"}, nil,
		),
	}
}

// Get returns the breaker for id, creating it with the registry defaults
// merged with opts on first use. Later opts for an existing id are ignored.
func (r *Registry) Get(id string, opts ...Option) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[id]; ok {
		return b
	}

	o := DefaultOptions()
	o.OnStateChange = r.logStateChange
	for _, opt := range r.defaults {
		opt(&o)
	}
	for _, opt := range opts {
		opt(&o)
	}
	b := newWithOptions(id, o)
	r.breakers[id] = b
	r.log.Info("breaker_created",
		slog.String("service_id", id),
		slog.Duration("timeout", b.opts.Timeout),
		slog.Int("volume_threshold", b.opts.VolumeThreshold),
	)
	return b
}

func (r *Registry) lookup(id string) (*Breaker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[id]
	if !ok {
		return nil, ErrUnknownBreaker
	}
	return b, nil
}

// Status returns stats keyed by service id.
func (r *Registry) Status() map[string]Stats {
	out := make(map[string]Stats)
	for _, b := range r.all() {
		out[b.name] = b.Stats()
	}
	return out
}

// Reset forces the breaker for id closed.
func (r *Registry) Reset(id string) error {
	b, err := r.lookup(id)
	if err != nil {
		return err
	}
	b.Reset()
	return nil
}

// Open forces the breaker for id open.
func (r *Registry) Open(id string) error {
	b, err := r.lookup(id)
	if err != nil {
		return err
	}
	b.Trip()
	return nil
}

func (r *Registry) all() []*Breaker {
	r.mu.Lock()
	out := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (r *Registry) logStateChange(id string, from, to State) {
	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	r.log.Log(context.Background(), level, "breaker_state_change",
		slog.String("service_id", id),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
}

func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	ch <- r.stateDesc
	ch <- r.windowDesc
}

func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	for _, b := range r.all() {
		b.mu.Lock()
		now := b.opts.Clock()
		state := b.currentState(now)
		c := b.window.sum(now)
		b.mu.Unlock()

		ch <- prometheus.MustNewConstMetric(r.stateDesc, prometheus.GaugeValue, float64(state), b.name)
		for outcome, v := range map[string]int64{
			"success":         c.Successes,
			"failure":         c.Failures,
			"timeout":         c.Timeouts,
			"reject":          c.Rejects,
			"fallback":        c.Fallbacks,
			"counted_failure": c.CountedFailures,
		} {
			ch <- prometheus.MustNewConstMetric(r.windowDesc, prometheus.GaugeValue, float64(v), b.name, outcome)
		}
	}
}
