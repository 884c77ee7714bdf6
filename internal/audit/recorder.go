package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/hackgods/clinica/internal/clock"
	"github.com/hackgods/clinica/internal/observability/metrics"
)

// Store persists audit events.
type Store interface {
	Insert(ctx context.Context, ev Event) error
}

// Publisher fans events out to other consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

const (
	writeTimeout  = 2 * time.Second
	defaultBuffer = 256
)

// StoreRecorder queues events and writes them to a Store from a single
// background goroutine, behind a circuit breaker. Record never waits on the
// store: when the queue is full the event is dropped and counted.
type StoreRecorder struct {
	store     Store
	publisher Publisher
	breaker   *gobreaker.CircuitBreaker
	clock     clock.Clock
	logger    *zap.Logger
	metrics   *metrics.Metrics

	buffer int
	queue  chan Event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

type Option func(*StoreRecorder)

func WithPublisher(p Publisher) Option {
	return func(r *StoreRecorder) { r.publisher = p }
}

func WithClock(c clock.Clock) Option {
	return func(r *StoreRecorder) { r.clock = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *StoreRecorder) { r.metrics = m }
}

// WithBuffer sets how many events may wait for the store.
func WithBuffer(n int) Option {
	return func(r *StoreRecorder) { r.buffer = n }
}

// NewStoreRecorder starts the writer goroutine. Call Close to flush it.
func NewStoreRecorder(store Store, logger *zap.Logger, opts ...Option) *StoreRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &StoreRecorder{
		store:  store,
		clock:  clock.Real(),
		logger: logger,
		buffer: defaultBuffer,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.buffer < 1 {
		r.buffer = 1
	}
	r.queue = make(chan Event, r.buffer)

	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "audit-store",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	go r.run()
	return r
}

func (r *StoreRecorder) Record(ctx context.Context, ev Event) {
	fillRequestInfo(ctx, &ev)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.clock.Now()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(ev, errRecorderClosed)
		return
	}
	select {
	case r.queue <- ev:
	default:
		r.drop(ev, errQueueFull)
	}
}

var (
	errQueueFull      = errors.New("audit queue full")
	errRecorderClosed = errors.New("audit recorder closed")
)

func (r *StoreRecorder) drop(ev Event, err error) {
	r.metrics.AuditEventDropped()
	r.logger.Warn("failed to store audit event",
		zap.String("action", ev.Action),
		zap.String("module", ev.Module),
		zap.String("entity_id", ev.EntityID),
		zap.Error(err))
}

func (r *StoreRecorder) run() {
	defer close(r.done)
	for ev := range r.queue {
		r.write(ev)
	}
}

func (r *StoreRecorder) write(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.store.Insert(ctx, ev)
	})
	if err != nil {
		r.drop(ev, err)
	}

	if r.publisher != nil {
		r.publisher.Publish(ctx, ev)
	}
}

// Close stops accepting events and waits until the queued ones are written
// or ctx ends.
func (r *StoreRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("flush audit queue: %w", ctx.Err())
	}
}

// State reports the breaker state for health output.
func (r *StoreRecorder) State() string {
	return r.breaker.State().String()
}
