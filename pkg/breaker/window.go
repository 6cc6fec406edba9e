package breaker

import "time"

// Counts is a snapshot of the rolling window. Failures holds every failed
// call; CountedFailures is the subset the error filter lets drive tripping.
type Counts struct {
	Successes       int64 `json:"successes"`
	Failures        int64 `json:"failures"`
	CountedFailures int64 `json:"countedFailures"`
	Timeouts        int64 `json:"timeouts"`
	Rejects         int64 `json:"rejects"`
	Fallbacks       int64 `json:"fallbacks"`
}

// Requests is the number of calls that reached the downstream.
func (c Counts) Requests() int64 {
	return c.Successes + c.Failures
}

// ErrorPercentage is counted failures over requests, 0 when idle.
func (c Counts) ErrorPercentage() float64 {
	total := c.Requests()
	if total == 0 {
		return 0
	}
	return float64(c.CountedFailures) * 100 / float64(total)
}

func (c *Counts) add(o Counts) {
	c.Successes += o.Successes
	c.Failures += o.Failures
	c.CountedFailures += o.CountedFailures
	c.Timeouts += o.Timeouts
	c.Rejects += o.Rejects
	c.Fallbacks += o.Fallbacks
}

type bucket struct {
	epoch int64
	Counts
}

// window is a ring of fixed-width buckets; a bucket is reused once its epoch
// falls out of range. Not safe for concurrent use; Breaker holds the lock.
type window struct {
	width   time.Duration
	buckets []bucket
}

func newWindow(length time.Duration, n int) *window {
	width := length / time.Duration(n)
	if width <= 0 {
		width = time.Millisecond
	}
	return &window{width: width, buckets: make([]bucket, n)}
}

func (w *window) current(now time.Time) *Counts {
	epoch := now.UnixNano() / int64(w.width)
	b := &w.buckets[int(epoch%int64(len(w.buckets)))]
	if b.epoch != epoch {
		*b = bucket{epoch: epoch}
	}
	return &b.Counts
}

func (w *window) sum(now time.Time) Counts {
	epoch := now.UnixNano() / int64(w.width)
	oldest := epoch - int64(len(w.buckets)) + 1
	var total Counts
	for i := range w.buckets {
		b := &w.buckets[i]
		if b.epoch >= oldest && b.epoch <= epoch {
			total.add(b.Counts)
		}
	}
	return total
}

func (w *window) reset() {
	for i := range w.buckets {
		w.buckets[i] = bucket{}
	}
}
