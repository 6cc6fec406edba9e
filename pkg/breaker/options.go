package breaker

import (
	"errors"
	"time"
)

// StatusCoder is implemented by errors that carry an HTTP-like status code.
type StatusCoder interface {
	StatusCode() int
}

// CountClientErrors is the default error filter: only errors whose status is
// in [400,500) count towards the trip percentage. Timeouts, transport errors
// and 5xx are still recorded as failures.
func CountClientErrors(err error) bool {
	var sc StatusCoder
	if !errors.As(err, &sc) {
		return false
	}
	code := sc.StatusCode()
	return code >= 400 && code < 500
}

// CountAll treats every error as a failure.
func CountAll(error) bool { return true }

type Options struct {
	Timeout                  time.Duration
	ResetTimeout             time.Duration
	ErrorThresholdPercentage float64
	RollingCountTimeout      time.Duration
	RollingCountBuckets      int
	VolumeThreshold          int
	AllowWarmUp              bool

	// ErrorFilter reports whether a failed call counts towards the trip
	// percentage. It does not affect the half-open trial: any error reopens.
	ErrorFilter func(error) bool
	// OnStateChange is called outside the breaker lock.
	OnStateChange func(name string, from, to State)
	Clock         func() time.Time
}

func DefaultOptions() Options {
	return Options{
		Timeout:                  5 * time.Second,
		ResetTimeout:             10 * time.Second,
		ErrorThresholdPercentage: 70,
		RollingCountTimeout:      10 * time.Second,
		RollingCountBuckets:      10,
		VolumeThreshold:          20,
		AllowWarmUp:              true,
		ErrorFilter:              CountClientErrors,
		Clock:                    time.Now,
	}
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

func WithResetTimeout(d time.Duration) Option {
	return func(o *Options) { o.ResetTimeout = d }
}

func WithErrorThresholdPercentage(p float64) Option {
	return func(o *Options) { o.ErrorThresholdPercentage = p }
}

// WithRollingWindow sets the window length and how many buckets it is split into.
func WithRollingWindow(d time.Duration, buckets int) Option {
	return func(o *Options) {
		o.RollingCountTimeout = d
		o.RollingCountBuckets = buckets
	}
}

func WithVolumeThreshold(n int) Option {
	return func(o *Options) { o.VolumeThreshold = n }
}

func WithAllowWarmUp(v bool) Option {
	return func(o *Options) { o.AllowWarmUp = v }
}

func WithErrorFilter(fn func(error) bool) Option {
	return func(o *Options) { o.ErrorFilter = fn }
}

func WithClock(fn func() time.Time) Option {
	return func(o *Options) { o.Clock = fn }
}

func WithStateChangeHook(fn func(name string, from, to State)) Option {
	return func(o *Options) { o.OnStateChange = fn }
}

func (o *Options) normalize() {
	def := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.ResetTimeout <= 0 {
		o.ResetTimeout = def.ResetTimeout
	}
	if o.ErrorThresholdPercentage <= 0 {
		o.ErrorThresholdPercentage = def.ErrorThresholdPercentage
	}
	if o.RollingCountTimeout <= 0 {
		o.RollingCountTimeout = def.RollingCountTimeout
	}
	if o.RollingCountBuckets <= 0 {
		o.RollingCountBuckets = def.RollingCountBuckets
	}
	if o.VolumeThreshold < 0 {
		o.VolumeThreshold = 0
	}
	if o.ErrorFilter == nil {
		o.ErrorFilter = def.ErrorFilter
	}
	if o.Clock == nil {
		o.Clock = def.Clock
	}
}
