package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/upb/coach-accounts/models"
	"go.uber.org/zap"
)

// ErrQueueFull is returned when the dispatcher cannot accept more work
var ErrQueueFull = errors.New("notification queue full")

// ErrDispatcherStopped is returned after Stop has been called
var ErrDispatcherStopped = errors.New("notification dispatcher stopped")

type job struct {
	kind      EventType
	accountID int64
	send      func(ctx context.Context) error
}

// Dispatcher runs sends on a bounded worker pool so callers never wait on
// delivery. Failures are logged and dropped.
type Dispatcher struct {
	next    Notifier
	logger  *zap.Logger
	jobs    chan job
	timeout time.Duration
	workers int
	wg      sync.WaitGroup
	mu      sync.RWMutex
	started bool
	stopped bool
}

// DispatcherConfig sizes the worker pool
type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
}

// NewDispatcher wraps next with an asynchronous worker pool
func NewDispatcher(next Notifier, logger *zap.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		next:    next,
		logger:  logger,
		jobs:    make(chan job, cfg.QueueSize),
		timeout: cfg.SendTimeout,
		workers: cfg.Workers,
	}
}

// Start launches the workers
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("notification dispatcher already started")
	}
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.started = true
	d.logger.Info("started notification dispatcher", zap.Int("workers", d.workers))
	return nil
}

// Stop rejects new work and waits for queued sends to finish
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if !d.started || d.stopped {
		d.mu.Unlock()
		return fmt.Errorf("notification dispatcher not running")
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("notification dispatcher stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("notification dispatcher stop timeout after %v", timeout)
	}
}

// SendVerification queues a verification email. The account is copied at
// enqueue time, so callers may keep mutating theirs.
func (d *Dispatcher) SendVerification(_ context.Context, account *models.Account, token string) error {
	a := *account
	return d.enqueue(EventVerification, a.ID, func(ctx context.Context) error {
		return d.next.SendVerification(ctx, &a, token)
	})
}

// SendPasswordReset queues a password reset email carrying token and its expiry
func (d *Dispatcher) SendPasswordReset(_ context.Context, account *models.Account, token string, expiresAt time.Time) error {
	a := *account
	return d.enqueue(EventPasswordReset, a.ID, func(ctx context.Context) error {
		return d.next.SendPasswordReset(ctx, &a, token, expiresAt)
	})
}

// SendPasswordChanged queues a password changed notice
func (d *Dispatcher) SendPasswordChanged(_ context.Context, account *models.Account) error {
	a := *account
	return d.enqueue(EventPasswordChanged, a.ID, func(ctx context.Context) error {
		return d.next.SendPasswordChanged(ctx, &a)
	})
}

// SendWelcome queues a welcome email
func (d *Dispatcher) SendWelcome(_ context.Context, account *models.Account) error {
	a := *account
	return d.enqueue(EventWelcome, a.ID, func(ctx context.Context) error {
		return d.next.SendWelcome(ctx, &a)
	})
}

func (d *Dispatcher) enqueue(kind EventType, accountID int64, send func(ctx context.Context) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if !d.started || d.stopped {
		return ErrDispatcherStopped
	}

	select {
	case d.jobs <- job{kind: kind, accountID: accountID, send: send}:
		return nil
	default:
		d.logger.Warn("notification queue full, dropping email",
			zap.String("type", string(kind)),
			zap.Int64("account_id", accountID))
		return ErrQueueFull
	}
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for j := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := j.send(ctx); err != nil {
			d.logger.Error("failed to send email",
				zap.Int("worker_id", id),
				zap.String("type", string(j.kind)),
				zap.Int64("account_id", j.accountID),
				zap.Error(err))
		}
		cancel()
	}
}
