package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"github.com/quynguyen1908/MobileShop-Backend-sub000/pkg/telemetry"
)

const (
	DefaultExchange      = "events"
	DefaultPrefetchCount = 10

	headerCorrelationID = "x-correlation-id"
	headerVersion       = "x-version"
	headerSenderID      = "x-sender-id"
)

// ErrNotConnected is returned when no broker channel is available.
var ErrNotConnected = errors.New("rabbitmq: not connected")

// State is the broker connectivity as seen by this process.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

type Config struct {
	URL           string
	Exchange      string
	ServiceName   string
	PrefetchCount int

	ReconnectInitialInterval time.Duration
	ReconnectMaxInterval     time.Duration

	Retry       RetryPolicy
	Middlewares []Middleware
	Logger      *slog.Logger
	Metrics     *telemetry.ServiceMetrics
}

func (c *Config) setDefaults() {
	if c.Exchange == "" {
		c.Exchange = DefaultExchange
	}
	if c.PrefetchCount <= 0 {
		c.PrefetchCount = DefaultPrefetchCount
	}
	if c.ReconnectInitialInterval <= 0 {
		c.ReconnectInitialInterval = 500 * time.Millisecond
	}
	if c.ReconnectMaxInterval <= 0 {
		c.ReconnectMaxInterval = 30 * time.Second
	}
	if c.Retry == (RetryPolicy{}) {
		c.Retry = DefaultRetryPolicy
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = telemetry.NewNopMetrics(c.ServiceName)
	}
}

func (c Config) deadLetterExchange() string { return c.Exchange + ".dlx" }

// Bus is a RabbitMQ-backed EventBus. One Bus is shared by the whole process;
// every subscription runs on its own channel and survives reconnects.
type Bus struct {
	cfg   Config
	log   *slog.Logger
	state atomic.Int32

	dialMu sync.Mutex // serialises dial attempts
	dial   func(url string) (*amqp.Connection, error)

	mu     sync.Mutex
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	ready  chan struct{} // closed while connected
	closed bool

	reconnecting atomic.Bool
	done         chan struct{}
	wg           sync.WaitGroup
}

// Connect dials the broker, retrying with backoff until it succeeds or ctx ends.
func Connect(ctx context.Context, cfg Config) (*Bus, error) {
	cfg.setDefaults()
	b := &Bus{
		cfg:   cfg,
		log:   cfg.Logger.With(slog.String("component", "rabbitmq")),
		dial:  amqp.Dial,
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}

	bo := b.reconnectBackoff()
	for {
		err := b.ensureConnected(ctx)
		if err == nil {
			return b, nil
		}
		wait := bo.NextBackOff()
		b.log.Warn("rabbitmq_waiting", slog.String("err", err.Error()), slog.Duration("retry_in", wait))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect rabbitmq: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
}

func (b *Bus) reconnectBackoff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = b.cfg.ReconnectInitialInterval
	eb.MaxInterval = b.cfg.ReconnectMaxInterval
	eb.RandomizationFactor = 0.5
	eb.MaxElapsedTime = 0
	return eb
}

// State reports current connectivity.
func (b *Bus) State() State { return State(b.state.Load()) }

func (b *Bus) setState(s State) {
	b.state.Store(int32(s))
	b.cfg.Metrics.Connection.Set(float64(s))
}

// WaitConnected blocks until the bus is connected or ctx ends.
func (b *Bus) WaitConnected(ctx context.Context) error {
	for {
		b.mu.Lock()
		ready, closed := b.ready, b.closed
		b.mu.Unlock()
		if closed {
			return ErrNotConnected
		}
		select {
		case <-ready:
			if b.State() == StateConnected {
				return nil
			}
		case <-b.done:
			return ErrNotConnected
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// ensureConnected makes sure a live connection and publish channel exist.
// Concurrent callers queue on dialMu and return once one of them succeeds.
func (b *Bus) ensureConnected(ctx context.Context) error {
	b.dialMu.Lock()
	defer b.dialMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrNotConnected
	}
	conn, ch := b.conn, b.pubCh
	b.mu.Unlock()

	if conn != nil && !conn.IsClosed() {
		if ch != nil && !ch.IsClosed() {
			return nil
		}
		newCh, err := b.openPublishChannel(conn)
		if err == nil {
			b.mu.Lock()
			b.pubCh = newCh
			b.mu.Unlock()
			return nil
		}
		b.log.Warn("rabbitmq_channel_reopen_failed", slog.String("err", err.Error()))
		_ = conn.Close()
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	b.setState(StateConnecting)
	conn, err := b.dial(b.cfg.URL)
	if err != nil {
		b.setState(StateDisconnected)
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err = b.openPublishChannel(conn)
	if err != nil {
		_ = conn.Close()
		b.setState(StateDisconnected)
		return err
	}

	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))

	b.mu.Lock()
	b.conn, b.pubCh = conn, ch
	b.setState(StateConnected)
	select {
	case <-b.ready:
	default:
		close(b.ready)
	}
	b.mu.Unlock()

	go b.watch(conn, closeCh)
	b.log.Info("rabbitmq_connected", slog.String("exchange", b.cfg.Exchange))
	return nil
}

func (b *Bus) openPublishChannel(conn *amqp.Connection) (*amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(b.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(b.cfg.deadLetterExchange(), "direct", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("declare dead-letter exchange: %w", err)
	}
	return ch, nil
}

// watch waits for the connection to drop and hands over to the reconnect loop.
func (b *Bus) watch(conn *amqp.Connection, closeCh <-chan *amqp.Error) {
	amqpErr := <-closeCh
	if b.isClosed() {
		return
	}

	b.mu.Lock()
	current := b.conn == conn
	if current {
		b.conn, b.pubCh = nil, nil
		b.ready = make(chan struct{})
		b.setState(StateDisconnected)
	}
	b.mu.Unlock()
	if !current {
		return
	}

	reason := "closed"
	if amqpErr != nil {
		reason = amqpErr.Error()
	}
	b.log.Error("rabbitmq_connection_lost", slog.String("reason", reason))
	go b.reconnectLoop()
}

func (b *Bus) reconnectLoop() {
	if !b.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer b.reconnecting.Store(false)

	bo := b.reconnectBackoff()
	for attempt := 1; ; attempt++ {
		wait := bo.NextBackOff()
		b.log.Info("rabbitmq_reconnect_scheduled", slog.Int("attempt", attempt), slog.Duration("in", wait))
		select {
		case <-b.done:
			return
		case <-time.After(wait):
		}
		err := b.ensureConnected(context.Background())
		if err == nil {
			return
		}
		if errors.Is(err, ErrNotConnected) {
			return
		}
		b.log.Warn("rabbitmq_reconnect_failed", slog.Int("attempt", attempt), slog.String("err", err.Error()))
	}
}

func (b *Bus) publishChannel() *amqp.Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pubCh == nil || b.pubCh.IsClosed() {
		return nil
	}
	return b.pubCh
}

// publishing is the AMQP message for an encoded envelope.
func publishing(env Envelope, body []byte, appID string) amqp.Publishing {
	return amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     env.ID.String(),
		CorrelationId: env.CorrelationID,
		Timestamp:     env.OccurredAt,
		AppId:         appID,
		Headers: amqp.Table{
			headerCorrelationID: env.CorrelationID,
			headerVersion:       env.Version,
			headerSenderID:      env.SenderID,
		},
		Body: body,
	}
}

// queueSpec is one durable queue and its binding.
type queueSpec struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Args       amqp.Table
	Exchange   string
	RoutingKey string
}

// topology returns the work queue for topic and its dead-letter queue.
func (c Config) topology(topic string) (work, dead queueSpec) {
	queue := QueueName(c.ServiceName, topic)
	dlx := c.deadLetterExchange()
	work = queueSpec{
		Name:    queue,
		Durable: true,
		Args: amqp.Table{
			"x-dead-letter-exchange":    dlx,
			"x-dead-letter-routing-key": queue,
		},
		Exchange:   c.Exchange,
		RoutingKey: topic,
	}
	dead = queueSpec{
		Name:       DeadLetterQueueName(queue),
		Durable:    true,
		Exchange:   dlx,
		RoutingKey: queue,
	}
	return work, dead
}

func declare(ch *amqp.Channel, q queueSpec) error {
	if _, err := ch.QueueDeclare(q.Name, q.Durable, q.AutoDelete, false, false, q.Args); err != nil {
		return fmt.Errorf("declare queue %s: %w", q.Name, err)
	}
	if err := ch.QueueBind(q.Name, q.RoutingKey, q.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	return nil
}

// Publish sends env to the events exchange with the event name as routing key.
// When no channel is available it reconnects once and retries once; after
// that the error is returned and the event is not published.
func (b *Bus) Publish(ctx context.Context, env Envelope) error {
	body, err := Encode(env)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := publishing(env, body, b.cfg.ServiceName)

	send := func() error {
		ch := b.publishChannel()
		if ch == nil {
			return ErrNotConnected
		}
		return ch.PublishWithContext(ctx, b.cfg.Exchange, env.EventName, false, false, msg)
	}

	err = send()
	if err != nil && (errors.Is(err, ErrNotConnected) || errors.Is(err, amqp.ErrClosed)) {
		b.log.Warn("publish_reconnect", slog.String("event_name", env.EventName), slog.String("err", err.Error()))
		if rerr := b.ensureConnected(ctx); rerr != nil {
			err = fmt.Errorf("%w (reconnect: %v)", err, rerr)
		} else {
			err = send()
		}
	}
	if err != nil {
		b.cfg.Metrics.PublishFailed.WithLabelValues(env.EventName).Inc()
		return fmt.Errorf("publish %s: %w", env.EventName, err)
	}
	b.cfg.Metrics.Published.WithLabelValues(env.EventName).Inc()
	return nil
}

type subscription struct {
	topic    string
	queue    string
	consumer *consumer
}

// Subscribe declares "<service>.<topic>", binds it to the topic and starts
// consuming. The subscription is re-established after every reconnect and
// lives until ctx ends or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, topic string, h Handler) error {
	queue := QueueName(b.cfg.ServiceName, topic)
	s := &subscription{
		topic: topic,
		queue: queue,
		consumer: &consumer{
			queue:   queue,
			topic:   topic,
			handler: Chain(h, b.cfg.Middlewares...),
			retry:   b.cfg.Retry,
			log:     b.log,
			metrics: b.cfg.Metrics,
		},
	}

	ch, deliveries, err := b.openConsumer(s)
	if err != nil {
		return err
	}

	b.wg.Add(1)
	go b.runSubscription(ctx, s, ch, deliveries)
	b.log.Info("subscribed", slog.String("queue", queue), slog.String("topic", topic), slog.Int("prefetch", b.cfg.PrefetchCount))
	return nil
}

func (b *Bus) openConsumer(s *subscription) (*amqp.Channel, <-chan amqp.Delivery, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil || conn.IsClosed() {
		return nil, nil, ErrNotConnected
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	fail := func(step string, err error) (*amqp.Channel, <-chan amqp.Delivery, error) {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("%s %s: %w", step, s.queue, err)
	}

	if err := ch.Qos(b.cfg.PrefetchCount, 0, false); err != nil {
		return fail("set prefetch", err)
	}
	work, dead := b.cfg.topology(s.topic)
	if err := declare(ch, dead); err != nil {
		return fail("topology", err)
	}
	if err := declare(ch, work); err != nil {
		return fail("topology", err)
	}
	deliveries, err := ch.Consume(s.queue, "", false, false, false, false, nil)
	if err != nil {
		return fail("consume", err)
	}
	return ch, deliveries, nil
}

func (b *Bus) runSubscription(ctx context.Context, s *subscription, ch *amqp.Channel, deliveries <-chan amqp.Delivery) {
	defer b.wg.Done()
	for {
		b.consume(ctx, s, deliveries)
		_ = ch.Close()
		if ctx.Err() != nil || b.isClosed() {
			return
		}

		b.log.Warn("consumer_stopped", slog.String("queue", s.queue))
		for {
			if err := b.WaitConnected(ctx); err != nil {
				return
			}
			var err error
			ch, deliveries, err = b.openConsumer(s)
			if err == nil {
				b.log.Info("resubscribed", slog.String("queue", s.queue))
				break
			}
			b.log.Warn("resubscribe_failed", slog.String("queue", s.queue), slog.String("err", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case <-time.After(b.cfg.ReconnectInitialInterval):
			}
		}
	}
}

// consume handles up to PrefetchCount deliveries concurrently until the
// delivery channel closes or ctx ends.
func (b *Bus) consume(ctx context.Context, s *subscription, deliveries <-chan amqp.Delivery) {
	var g errgroup.Group
	g.SetLimit(b.cfg.PrefetchCount)
	defer func() { _ = g.Wait() }()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			g.Go(func() error {
				b.settle(s, d, s.consumer.process(ctx, d.Body))
				return nil
			})
		}
	}
}

func (b *Bus) settle(s *subscription, d amqp.Delivery, out outcome) {
	var err error
	switch out {
	case outcomeAck:
		err = d.Ack(false)
	case outcomeRequeue:
		err = d.Nack(false, true)
	case outcomeDeadLetter:
		err = d.Nack(false, false)
	}
	if err != nil {
		b.log.Error("settle_failed",
			slog.String("queue", s.queue),
			slog.String("outcome", out.String()),
			slog.String("message_id", d.MessageId),
			slog.String("err", err.Error()),
		)
	}
}

// Close stops reconnecting and closes the connection; running consumers drain and exit.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	conn := b.conn
	b.conn, b.pubCh = nil, nil
	b.mu.Unlock()

	b.setState(StateDisconnected)
	var err error
	if conn != nil {
		err = conn.Close()
	}
	b.wg.Wait()
	return err
}
