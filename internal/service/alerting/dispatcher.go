package alerting

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sentinelops/ueba-backend/internal/infrastructure/config"
	"github.com/sentinelops/ueba-backend/internal/metrics"
	"github.com/sentinelops/ueba-backend/internal/service/alerting/notify"
)

// Dispatcher delivers notification payloads asynchronously. Producers
// enqueue without blocking; a single consumer goroutine fans each payload
// out to every channel under a global rate limit. Delivery failures are
// logged per channel and never surface to the producer.
type Dispatcher struct {
	queue    chan notify.Payload
	channels []notify.Channel
	limiter  *rate.Limiter
	logger   *zap.Logger
	registry *metrics.Registry

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher with a bounded queue. The registry is
// optional; a nil registry disables dispatch metrics.
func NewDispatcher(cfg config.AlertingConfig, channels []notify.Channel, logger *zap.Logger, registry *metrics.Registry) *Dispatcher {
	ratePerSec := cfg.DispatchRatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 1
	}
	burst := int(ratePerSec)
	if burst < 1 {
		burst = 1
	}

	return &Dispatcher{
		queue:    make(chan notify.Payload, cfg.DispatchQueueSize),
		channels: channels,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), burst),
		logger:   logger,
		registry: registry,
	}
}

// Start launches the consumer goroutine. It returns immediately; delivery
// stops when ctx is cancelled or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(ctx)
	}()
}

// Stop closes the queue and waits for in-flight deliveries to drain.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

// Enqueue hands a payload to the dispatcher without blocking. A full or
// stopped queue drops the payload; the caller is never stalled by slow
// notification channels.
func (d *Dispatcher) Enqueue(payload notify.Payload) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return false
	}

	select {
	case d.queue <- payload:
		if d.registry != nil {
			d.registry.SetDispatchQueueDepth(int64(len(d.queue)))
		}
		return true
	default:
		d.logger.Warn("dispatch queue full, dropping notification",
			zap.String("kind", string(payload.Kind)),
			zap.String("alert_id", payload.Notice.AlertID.String()))
		return false
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-d.queue:
			if !ok {
				return
			}
			if err := d.limiter.Wait(ctx); err != nil {
				return
			}
			d.deliver(ctx, payload)
			if d.registry != nil {
				d.registry.SetDispatchQueueDepth(int64(len(d.queue)))
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, payload notify.Payload) {
	for _, ch := range d.channels {
		start := time.Now()
		err := ch.Send(ctx, payload)
		latencyMS := float64(time.Since(start).Milliseconds())

		if d.registry != nil {
			d.registry.RecordDispatch(ctx, latencyMS, ch.Name(), err == nil)
		}

		if err != nil {
			d.logger.Error("notification delivery failed",
				zap.String("channel", ch.Name()),
				zap.String("kind", string(payload.Kind)),
				zap.String("alert_id", payload.Notice.AlertID.String()),
				zap.Error(err))
		}
	}
}
