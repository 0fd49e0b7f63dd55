package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aitimetable/accounts/internal/models"
	pkglogger "github.com/aitimetable/accounts/pkg/logger"
)

// Sender delivers one email
type Sender interface {
	Notify(ctx context.Context, address string, template models.NotificationTemplate, data map[string]string) error
}

// NotificationDispatcher delivers best-effort emails off the request path.
// Enqueue never blocks; when the queue is full the notification is dropped.
type NotificationDispatcher struct {
	sender      Sender
	queue       chan models.Notification
	workers     int
	sendTimeout time.Duration
	logger      *slog.Logger

	// mu orders Enqueue against shutdown: once stopped is set no send can
	// land in the queue after the final drain.
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  chan struct{}
}

// NewNotificationDispatcher creates a dispatcher with a bounded queue
func NewNotificationDispatcher(sender Sender, queueSize, workers int, sendTimeout time.Duration, logger *slog.Logger) *NotificationDispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}

	return &NotificationDispatcher{
		sender:      sender,
		queue:       make(chan models.Notification, queueSize),
		workers:     workers,
		sendTimeout: sendTimeout,
		logger:      logger,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		started:     make(chan struct{}),
	}
}

// Enqueue reports whether n was accepted
func (d *NotificationDispatcher) Enqueue(n models.Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return false
	}

	select {
	case d.queue <- n:
		return true
	default:
		d.logger.Warn("notification queue full, dropping",
			slog.String("template", string(n.Template)),
			slog.String("email", pkglogger.SanitizedEmail(n.Address)))
		return false
	}
}

// Start runs the workers and blocks until Stop is called or ctx is done.
// Queued notifications are drained on Stop.
func (d *NotificationDispatcher) Start(ctx context.Context) {
	close(d.started)
	d.logger.Info("notification dispatcher started", slog.Int("workers", d.workers))

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.work(ctx)
		}()
	}
	wg.Wait()

	// Workers also exit on ctx cancellation; refuse new work and flush what was accepted
	d.markStopped()
	d.drain(ctx)

	d.logger.Info("notification dispatcher stopped")
	close(d.doneCh)
}

func (d *NotificationDispatcher) work(ctx context.Context) {
	for {
		select {
		case n := <-d.queue:
			d.deliver(ctx, n)
		case <-d.stopCh:
			d.drain(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (d *NotificationDispatcher) drain(ctx context.Context) {
	for {
		select {
		case n := <-d.queue:
			d.deliver(ctx, n)
		default:
			return
		}
	}
}

// deliver never returns an error; failures only cost the email
func (d *NotificationDispatcher) deliver(ctx context.Context, n models.Notification) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.sendTimeout)
	defer cancel()

	if err := d.sender.Notify(sendCtx, n.Address, n.Template, n.Data); err != nil {
		d.logger.Warn("notification delivery failed",
			slog.String("template", string(n.Template)),
			slog.String("email", pkglogger.SanitizedEmail(n.Address)),
			slog.Any("error", err))
	}
}

// Stop stops accepting notifications and waits for queued ones to be delivered
func (d *NotificationDispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.markStopped()
		close(d.stopCh)
	})

	select {
	case <-d.started:
		<-d.doneCh
	default:
	}
}

func (d *NotificationDispatcher) markStopped() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}
