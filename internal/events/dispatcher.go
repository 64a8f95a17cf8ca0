package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sandeepkv93/token-lifecycle-gateway/internal/observability"
)

// Dispatcher publishes events in the background. Callers never see publish
// latency or failure; both end up in logs and metrics.
type Dispatcher struct {
	publisher Publisher
	timeout   time.Duration
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewDispatcher(publisher Publisher, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{publisher: publisher, timeout: timeout, logger: logger}
}

// Dispatch returns immediately. The publish outlives ctx cancellation but keeps
// its values for tracing and logging.
func (d *Dispatcher) Dispatch(ctx context.Context, event RevocationEvent) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.publish(pubCtx, event); err != nil {
			observability.RecordRevocationEvent(pubCtx, event.EventType, "error")
			d.logger.WarnContext(pubCtx, "revocation event publish failed",
				"event_type", event.EventType,
				"token_uid", event.ResourceUID,
				"error", err.Error(),
			)
			return
		}
		observability.RecordRevocationEvent(pubCtx, event.EventType, "success")
	}()
}

func (d *Dispatcher) publish(ctx context.Context, event RevocationEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publisher panic: %v", r)
		}
	}()
	if d.publisher == nil {
		return ErrPublisherNotConfigured
	}
	return d.publisher.Publish(ctx, event)
}

// Wait blocks until in-flight publishes finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
