package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"batchbridge/pkg/backoff"
	"batchbridge/pkg/circuitbreaker"
	"batchbridge/pkg/cloudevent"
)

// MemoryDispatcher pushes job status events to callback URLs from a
// bounded in-memory queue. The backend enqueues one event per status
// transition; a worker pool delivers them with retry and per-callback-host
// circuit breaking. Job state never waits on a callback: when the queue is
// full the transition still happens and the event is dropped with a metric.
type MemoryDispatcher struct {
	pending  chan *Event
	sender   *cloudevent.Sender
	breakers *circuitbreaker.Registry
	config   MemoryConfig
	logger   *slog.Logger
	metrics  MetricsRecorder

	queued       atomic.Int64
	delivered    atomic.Int64
	failed       atomic.Int64
	dropped      atomic.Int64
	requeued     atomic.Int64
	retriesTotal atomic.Int64

	wg      sync.WaitGroup
	closing chan struct{}
	closed  atomic.Bool
}

// MetricsRecorder is the slice of the metrics surface the dispatcher
// records against. Nil disables recording.
type MetricsRecorder interface {
	RecordDispatcherDelivered(ctx context.Context, durationSeconds float64)
	RecordDispatcherFailed(ctx context.Context)
	RecordDispatcherDropped(ctx context.Context)
	RecordDispatcherRequeued(ctx context.Context)
	RecordDispatcherQueueSize(ctx context.Context, size int64)
}

// NewMemory starts the worker pool and returns a ready dispatcher.
func NewMemory(cfg MemoryConfig, metrics MetricsRecorder) *MemoryDispatcher {
	cfg = cfg.withDefaults()

	d := &MemoryDispatcher{
		pending: make(chan *Event, cfg.BufferSize),
		sender:  cloudevent.NewSender(cfg.HTTPTimeout),
		breakers: circuitbreaker.NewRegistry(circuitbreaker.Config{
			Threshold: defaultBreakerThreshold,
			Cooldown:  defaultBreakerCooldown,
		}),
		config:  cfg,
		logger:  slog.With("component", "dispatcher"),
		metrics: metrics,
		closing: make(chan struct{}),
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.deliveryLoop()
	}

	if metrics != nil {
		go d.reportQueueDepth()
	}

	d.logger.Info("Status-event dispatcher started", "workers", cfg.Workers, "buffer", cfg.BufferSize)
	return d
}

func (d *MemoryDispatcher) reportQueueDepth() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.closing:
			return
		case <-ticker.C:
			d.metrics.RecordDispatcherQueueSize(context.Background(), int64(len(d.pending)))
		}
	}
}

// Dispatch queues a status event for async delivery. Non-blocking: a full
// queue drops the event and returns ErrBufferFull.
func (d *MemoryDispatcher) Dispatch(event *Event) error {
	if d.closed.Load() {
		return fmt.Errorf("dispatcher is closed")
	}

	select {
	case d.pending <- event:
		d.queued.Add(1)
		return nil
	default:
		d.dropped.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDispatcherDropped(context.Background())
		}
		d.logger.Warn("Status event dropped, queue full",
			"jobId", event.Payload.Subject,
			"type", event.Payload.Type,
			"callbackHost", callbackHost(event.Destination),
		)
		return ErrBufferFull
	}
}

// Stats returns a snapshot of the delivery counters.
func (d *MemoryDispatcher) Stats() Stats {
	breakerStats := d.breakers.Stats()
	return Stats{
		QueueDepth:    len(d.pending),
		Queued:        d.queued.Load(),
		Delivered:     d.delivered.Load(),
		Failed:        d.failed.Load(),
		Dropped:       d.dropped.Load(),
		Requeued:      d.requeued.Load(),
		RetriesTotal:  d.retriesTotal.Load(),
		BreakersTotal: breakerStats.Total,
		BreakersOpen:  breakerStats.Open,
	}
}

// Close stops accepting events and lets the workers drain what is already
// queued, bounded by the context deadline.
func (d *MemoryDispatcher) Close(ctx context.Context) error {
	if d.closed.Swap(true) {
		return nil
	}

	d.logger.Info("Status-event dispatcher shutting down", "pending", len(d.pending))
	close(d.closing)

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("Status-event dispatcher drained",
			"delivered", d.delivered.Load(),
			"failed", d.failed.Load(),
			"dropped", d.dropped.Load(),
		)
		return nil
	case <-ctx.Done():
		d.logger.Warn("Status-event dispatcher drain timed out", "remaining", len(d.pending))
		return ctx.Err()
	}
}

func (d *MemoryDispatcher) deliveryLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.closing:
			// Drain whatever the backend queued before shutdown.
			for {
				select {
				case event := <-d.pending:
					d.deliver(event)
				default:
					return
				}
			}
		case event := <-d.pending:
			d.deliver(event)
		}
	}
}

// deliver pushes one status event to its callback. An open breaker defers
// the event instead of burning retries against a dead host.
func (d *MemoryDispatcher) deliver(event *Event) {
	host := callbackHost(event.Destination)
	breaker := d.breakers.Get(host)

	if !breaker.Allow() {
		d.deferForCooldown(event, host)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := d.pushWithRetry(ctx, event); err != nil {
		breaker.RecordFailure()
		d.failed.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDispatcherFailed(ctx)
		}
		d.logger.Warn("Status event delivery failed",
			"jobId", event.Payload.Subject,
			"type", event.Payload.Type,
			"callbackHost", host,
			"error", err,
		)
		return
	}

	breaker.RecordSuccess()
	d.delivered.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherDelivered(ctx, time.Since(start).Seconds())
	}
}

// deferForCooldown re-enqueues an event after the breaker cooldown, up to
// a requeue cap.
func (d *MemoryDispatcher) deferForCooldown(event *Event, host string) {
	if event.Requeues >= defaultMaxRequeues {
		d.dropped.Add(1)
		if d.metrics != nil {
			d.metrics.RecordDispatcherDropped(context.Background())
		}
		d.logger.Warn("Status event dropped, callback host still failing",
			"jobId", event.Payload.Subject,
			"callbackHost", host,
			"requeues", event.Requeues,
		)
		return
	}

	event.Requeues++
	d.requeued.Add(1)
	if d.metrics != nil {
		d.metrics.RecordDispatcherRequeued(context.Background())
	}

	go func() {
		select {
		case <-d.closing:
			return
		case <-time.After(defaultBreakerCooldown):
		}

		select {
		case d.pending <- event:
		case <-d.closing:
		default:
			d.dropped.Add(1)
			if d.metrics != nil {
				d.metrics.RecordDispatcherDropped(context.Background())
			}
			d.logger.Warn("Status event dropped on requeue, queue full",
				"jobId", event.Payload.Subject,
				"callbackHost", host,
			)
		}
	}()
}

func (d *MemoryDispatcher) pushWithRetry(ctx context.Context, event *Event) error {
	var lastErr error
	for attempt := range defaultMaxRetries + 1 {
		if attempt > 0 {
			d.retriesTotal.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff.Exponential(attempt, nil)):
			}
		}

		lastErr = d.sender.Send(ctx, event.Destination, event.Payload, event.SigningKey)
		if lastErr == nil {
			return nil
		}
		// 4xx means the callback rejected the event; retrying cannot help.
		if cloudevent.IsClientError(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

// callbackHost keys circuit breakers by the callback URL's host, so one
// dead workflow engine does not block deliveries to others.
func callbackHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}

var _ Dispatcher = (*MemoryDispatcher)(nil)
