package catalog

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// progressRetention bounds how long the steps of a failed delivery are kept.
// It only has to outlive the in-process retries of one delivery.
const progressRetention = 10 * time.Minute

// itemStep is what has already happened for one order line.
type itemStep struct {
	applied bool
	missing bool
	stock   int
	lowSent bool
}

type delivery struct {
	steps   map[int]*itemStep
	touched time.Time
}

// progress remembers per envelope which order lines were applied, so a
// handler re-run after a partial failure only repeats the failed steps.
type progress struct {
	mu         sync.Mutex
	now        func() time.Time
	deliveries map[uuid.UUID]*delivery
}

func newProgress() *progress {
	return &progress{now: time.Now, deliveries: make(map[uuid.UUID]*delivery)}
}

// step returns the record for line i of envelope id. The caller owns the
// returned step until done or the next step call for the same envelope;
// handlers for one envelope never run concurrently.
func (p *progress) step(id uuid.UUID, i int) *itemStep {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for k, d := range p.deliveries {
		if now.Sub(d.touched) > progressRetention {
			delete(p.deliveries, k)
		}
	}
	d, ok := p.deliveries[id]
	if !ok {
		d = &delivery{steps: make(map[int]*itemStep)}
		p.deliveries[id] = d
	}
	d.touched = now
	st, ok := d.steps[i]
	if !ok {
		st = &itemStep{}
		d.steps[i] = st
	}
	return st
}

func (p *progress) done(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.deliveries, id)
}

func (p *progress) pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.deliveries)
}
