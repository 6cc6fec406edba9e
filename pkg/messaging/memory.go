package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/telemetry"
)

// DeadLetter is a message a MemoryBroker queue gave up on.
type DeadLetter struct {
	Queue string
	Body  []byte
}

// MemoryBroker is an in-process stand-in for the topic exchange. It keeps the
// same queue topology as RabbitMQ (one queue per service and topic, competing
// consumers within a queue) but delivers synchronously inside Publish.
type MemoryBroker struct {
	mu       sync.Mutex
	queues   map[string]*memoryQueue
	bindings map[string][]*memoryQueue
	dead     []DeadLetter
	requeued []DeadLetter

	retry RetryPolicy
	log   *slog.Logger
}

type memoryQueue struct {
	name      string
	topic     string
	consumers []*consumer
	next      int
}

func NewMemoryBroker(log *slog.Logger, retry RetryPolicy) *MemoryBroker {
	if log == nil {
		log = slog.Default()
	}
	return &MemoryBroker{
		queues:   make(map[string]*memoryQueue),
		bindings: make(map[string][]*memoryQueue),
		retry:    retry,
		log:      log,
	}
}

// Bus returns the view of the broker used by one service.
func (br *MemoryBroker) Bus(service string, metrics *telemetry.ServiceMetrics, mws ...Middleware) *MemoryBus {
	if metrics == nil {
		metrics = telemetry.NewNopMetrics(service)
	}
	return &MemoryBus{broker: br, service: service, metrics: metrics, middlewares: mws}
}

// DeadLetters returns a copy of every dead-lettered message.
func (br *MemoryBroker) DeadLetters() []DeadLetter {
	br.mu.Lock()
	defer br.mu.Unlock()
	return append([]DeadLetter(nil), br.dead...)
}

// Requeued returns messages handed back because their handler was interrupted.
func (br *MemoryBroker) Requeued() []DeadLetter {
	br.mu.Lock()
	defer br.mu.Unlock()
	return append([]DeadLetter(nil), br.requeued...)
}

func (br *MemoryBroker) bind(queue, topic string, c *consumer) {
	br.mu.Lock()
	defer br.mu.Unlock()
	q, ok := br.queues[queue]
	if !ok {
		q = &memoryQueue{name: queue, topic: topic}
		br.queues[queue] = q
		br.bindings[topic] = append(br.bindings[topic], q)
	}
	q.consumers = append(q.consumers, c)
}

// route picks one consumer per bound queue, round-robin within a queue.
func (br *MemoryBroker) route(topic string) []*consumer {
	br.mu.Lock()
	defer br.mu.Unlock()
	var out []*consumer
	for _, q := range br.bindings[topic] {
		if len(q.consumers) == 0 {
			continue
		}
		out = append(out, q.consumers[q.next%len(q.consumers)])
		q.next++
	}
	return out
}

func (br *MemoryBroker) settle(queue string, body []byte, out outcome) {
	if out == outcomeAck {
		return
	}
	br.mu.Lock()
	defer br.mu.Unlock()
	msg := DeadLetter{Queue: queue, Body: append([]byte(nil), body...)}
	if out == outcomeRequeue {
		br.requeued = append(br.requeued, msg)
		return
	}
	br.dead = append(br.dead, msg)
}

// MemoryBus implements EventBus on top of a MemoryBroker.
type MemoryBus struct {
	broker      *MemoryBroker
	service     string
	metrics     *telemetry.ServiceMetrics
	middlewares []Middleware
}

func (b *MemoryBus) Publish(ctx context.Context, env Envelope) error {
	body, err := Encode(env)
	if err != nil {
		b.metrics.PublishFailed.WithLabelValues(env.EventName).Inc()
		return err
	}
	b.metrics.Published.WithLabelValues(env.EventName).Inc()
	return b.broker.PublishRaw(ctx, env.EventName, body)
}

// PublishRaw delivers an already encoded body, which lets tests inject malformed messages.
func (br *MemoryBroker) PublishRaw(ctx context.Context, topic string, body []byte) error {
	for _, c := range br.route(topic) {
		br.settle(c.queue, body, c.process(ctx, body))
	}
	return nil
}

func (b *MemoryBus) Subscribe(_ context.Context, topic string, h Handler) error {
	queue := QueueName(b.service, topic)
	b.broker.bind(queue, topic, &consumer{
		queue:   queue,
		topic:   topic,
		handler: Chain(h, b.middlewares...),
		retry:   b.broker.retry,
		log:     b.broker.log,
		metrics: b.metrics,
	})
	return nil
}
