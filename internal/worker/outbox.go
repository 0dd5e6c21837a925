package worker

import (
	"context"
	"log/slog"
	"time"

	"PaymentReconciler/internal/ledger"
)

// Publisher delivers an event to the broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// OutboxDispatcher publishes committed reconciliation events.
type OutboxDispatcher struct {
	Outbox     ledger.Outbox
	Publisher  Publisher
	BatchSize  int
	Lease      time.Duration
	PublishTTL time.Duration
	Log        *slog.Logger
}

// DispatchOnce publishes one batch and returns how many events were sent.
// Failed events are rescheduled with backoff.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) (int, error) {
	lease := d.Lease
	if lease <= 0 {
		lease = 30 * time.Second
	}
	events, err := d.Outbox.ClaimOutbox(ctx, d.BatchSize, lease)
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, ev := range events {
		if err := d.publishOne(ctx, ev); err != nil {
			d.Log.Warn("publish event failed", "event_id", ev.EventID, "attempts", ev.Attempts, "err", err)
			if merr := d.Outbox.MarkOutboxRetry(ctx, ev.ID, retryDelay(ev.Attempts), err.Error()); merr != nil {
				d.Log.Error("reschedule event failed", "event_id", ev.EventID, "err", merr)
			}
			continue
		}
		if err := d.Outbox.MarkOutboxSent(ctx, ev.ID); err != nil {
			// The lease expires and the event is published again.
			d.Log.Error("mark event sent failed", "event_id", ev.EventID, "err", err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (d *OutboxDispatcher) publishOne(ctx context.Context, ev ledger.OutboxEvent) error {
	ttl := d.PublishTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	pubCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()
	return d.Publisher.Publish(pubCtx, ev.EventType, ev.Payload)
}

func retryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 5 {
		attempts = 5
	}
	return time.Duration(1<<attempts) * time.Second
}

// LogPublisher stands in for the broker when none is configured.
type LogPublisher struct {
	Log *slog.Logger
}

func (p LogPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.Log.Info("event", "routing_key", routingKey, "payload", string(payload))
	return nil
}

func (p LogPublisher) Close() error { return nil }
