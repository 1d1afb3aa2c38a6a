package auth

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// DeliveryMode selects how passcodes are handed to the notifier
type DeliveryMode string

const (
	// DeliveryModeAsync queues the passcode for a background worker
	DeliveryModeAsync DeliveryMode = "async"
	// DeliveryModeInline delivers before the signup call returns
	DeliveryModeInline DeliveryMode = "inline"
)

// PasscodeDispatcher hands passcode notifications to a notifier
type PasscodeDispatcher interface {
	Dispatch(ctx context.Context, notification PasscodeNotification) error
}

// DispatcherOption configures a DeliveryDispatcher
type DispatcherOption func(*DeliveryDispatcher)

func WithDispatcherWorkers(n int) DispatcherOption {
	return func(d *DeliveryDispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithDispatcherQueueSize(n int) DispatcherOption {
	return func(d *DeliveryDispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

func WithDispatcherTimeout(timeout time.Duration) DispatcherOption {
	return func(d *DeliveryDispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

func WithDispatcherMode(mode DeliveryMode) DispatcherOption {
	return func(d *DeliveryDispatcher) {
		if mode != "" {
			d.mode = mode
		}
	}
}

func WithDispatcherLogger(logger Logger) DispatcherOption {
	return func(d *DeliveryDispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithDispatcherActivitySink(sink ActivitySink) DispatcherOption {
	return func(d *DeliveryDispatcher) {
		d.activitySink = sink
	}
}

// DeliveryDispatcher decouples passcode delivery from the request path.
// In async mode notifications travel over a buffered channel to a pool
// of workers; a failed delivery is logged and recorded as activity.
type DeliveryDispatcher struct {
	notifier     PasscodeNotifier
	mode         DeliveryMode
	workers      int
	queueSize    int
	timeout      time.Duration
	logger       Logger
	activitySink ActivitySink
	now          Clock

	mu      sync.RWMutex
	queue   chan PasscodeNotification
	started bool
	closed  bool
	wg      sync.WaitGroup
}

func NewDeliveryDispatcher(notifier PasscodeNotifier, opts ...DispatcherOption) *DeliveryDispatcher {
	d := &DeliveryDispatcher{
		notifier:  notifier,
		mode:      DeliveryModeAsync,
		workers:   2,
		queueSize: 128,
		timeout:   15 * time.Second,
		logger:    defLogger{},
		now:       defaultClock,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	if d.notifier == nil {
		d.notifier = LogNotifier{Logger: d.logger}
	}

	return d
}

// Mode returns the configured delivery mode
func (d *DeliveryDispatcher) Mode() DeliveryMode {
	return d.mode
}

// Start launches the workers. Workers exit once Stop drains the queue.
func (d *DeliveryDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started || d.mode == DeliveryModeInline {
		return
	}

	d.queue = make(chan PasscodeNotification, d.queueSize)
	d.started = true

	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(context.WithoutCancel(ctx))
	}
}

// Stop closes the queue and waits for pending deliveries, or for ctx.
func (d *DeliveryDispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.started || d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "passcode dispatcher did not drain in time")
	}
}

// Dispatch hands the notification off. It never blocks in async mode:
// a full or closed queue returns ErrDeliveryFailed right away.
func (d *DeliveryDispatcher) Dispatch(ctx context.Context, notification PasscodeNotification) error {
	if d.mode == DeliveryModeInline {
		return d.deliver(ctx, notification)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.started || d.closed {
		return ErrDeliveryFailed.Clone().WithMetadata(map[string]any{
			"reason": "dispatcher not running",
		})
	}

	select {
	case d.queue <- notification:
		return nil
	default:
		return ErrDeliveryFailed.Clone().WithMetadata(map[string]any{
			"reason": "delivery queue full",
		})
	}
}

func (d *DeliveryDispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for notification := range d.queue {
		_ = d.deliver(ctx, notification)
	}
}

func (d *DeliveryDispatcher) deliver(ctx context.Context, notification PasscodeNotification) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.notifier.Deliver(ctx, notification)
	if err != nil {
		d.logger.Error("passcode delivery failed", "email", notification.Email, "error", err)
		recordActivity(ctx, d.activitySink, d.logger, d.now, ActivityEvent{
			EventType: ActivityEventPasscodeDeliveryFail,
			Email:     notification.Email,
			Metadata:  map[string]any{"error": err.Error()},
		})
		if HasTextCode(err, TextCodeDeliveryFailed) {
			return err
		}
		return goerrors.Wrap(err, ErrDeliveryFailed.Category, ErrDeliveryFailed.Message).
			WithTextCode(TextCodeDeliveryFailed).
			WithCode(goerrors.CodeInternal)
	}

	d.logger.Debug("passcode delivered", "email", notification.Email)
	recordActivity(ctx, d.activitySink, d.logger, d.now, ActivityEvent{
		EventType: ActivityEventPasscodeDelivered,
		Email:     notification.Email,
	})
	return nil
}
