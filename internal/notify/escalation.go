package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jaidee-care/jaidee-core/internal/shared"
)

// Escalator delivers an emergency alert to the escalation channel.
type Escalator interface {
	SendEscalation(ctx context.Context, esc Escalation) error
}

const (
	escalationAttempts  = 3
	escalationBaseDelay = 500 * time.Millisecond
	escalationTimeout   = 15 * time.Second
)

// EscalationQueue decouples escalation delivery from the request lifecycle:
// an alert triggered by a request is still attempted after that request's
// connection closes. Enqueue never blocks.
type EscalationQueue struct {
	escalator Escalator
	queue     chan Escalation
	done      chan struct{}
	wg        sync.WaitGroup

	dropped   atomic.Int64
	failed    atomic.Int64
	delivered atomic.Int64
}

// NewEscalationQueue creates the queue and starts its delivery worker.
func NewEscalationQueue(escalator Escalator, size int) *EscalationQueue {
	q := &EscalationQueue{
		escalator: escalator,
		queue:     make(chan Escalation, size),
		done:      make(chan struct{}),
	}
	q.wg.Add(1)
	go q.worker()
	return q
}

// Enqueue queues an escalation for asynchronous delivery. A full queue drops
// the alert and pages: a missed Critical notification is the highest-severity
// failure in the system, so it must never pass silently.
func (q *EscalationQueue) Enqueue(esc Escalation) {
	select {
	case q.queue <- esc:
	default:
		q.dropped.Add(1)
		slog.Error("escalation queue full, alert dropped",
			"severity", "page",
			"user_id", esc.UserID,
			"tier", esc.Tier.String())
	}
}

func (q *EscalationQueue) worker() {
	defer q.wg.Done()
	for {
		select {
		case esc := <-q.queue:
			q.deliver(esc)
		case <-q.done:
			// Drain what is already queued before stopping.
			for {
				select {
				case esc := <-q.queue:
					q.deliver(esc)
				default:
					return
				}
			}
		}
	}
}

func (q *EscalationQueue) deliver(esc Escalation) {
	ctx, cancel := context.WithTimeout(context.Background(), escalationTimeout)
	defer cancel()

	err := shared.Retry(ctx, escalationAttempts, escalationBaseDelay, func() error {
		return q.escalator.SendEscalation(ctx, esc)
	})
	if err != nil {
		q.failed.Add(1)
		slog.Error("escalation delivery failed after retries",
			"severity", "page",
			"user_id", esc.UserID,
			"tier", esc.Tier.String(),
			"error", err)
		return
	}
	q.delivered.Add(1)
	slog.Info("escalation delivered", "user_id", esc.UserID, "tier", esc.Tier.String())
}

// Stats reports delivery counters.
func (q *EscalationQueue) Stats() (delivered, failed, dropped int64) {
	return q.delivered.Load(), q.failed.Load(), q.dropped.Load()
}

// Close stops the worker after draining queued alerts.
func (q *EscalationQueue) Close() {
	close(q.done)
	q.wg.Wait()
}
