package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/R3E-Network/signflow/internal/app/domain/notification"
	mailer "github.com/R3E-Network/signflow/internal/app/mail"
	"github.com/R3E-Network/signflow/internal/app/metrics"
	"github.com/R3E-Network/signflow/internal/app/storage"
	"github.com/R3E-Network/signflow/internal/app/system"
	"github.com/R3E-Network/signflow/pkg/logger"
)

const (
	// MaxAttempts is how many sends are tried before a message is failed.
	MaxAttempts = 8
	backoffBase = 30 * time.Second
	backoffCap  = time.Hour
	batchSize   = 50
)

var _ system.Service = (*Dispatcher)(nil)

// Dispatcher drains the outbox through a mail.Sender.
type Dispatcher struct {
	store    storage.NotificationStore
	sender   mailer.Sender
	clock    clock.Clock
	log      *logger.Logger
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewDispatcher creates a lifecycle-managed outbox dispatcher.
func NewDispatcher(store storage.NotificationStore, sender mailer.Sender, clk clock.Clock, interval time.Duration, log *logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.NewDefault("mail-dispatcher")
	}
	if clk == nil {
		clk = clock.WallClock
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Dispatcher{store: store, sender: sender, clock: clk, log: log, interval: interval}
}

// Backoff returns the wait before the next attempt once attempts sends have
// failed: 30s doubled per attempt, capped at one hour.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := backoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}

func (d *Dispatcher) Name() string { return "mail-dispatcher" }

func (d *Dispatcher) Describe() system.Descriptor {
	return system.Descriptor{
		Module:   "notifications",
		Schedule: "@every " + d.interval.String(),
		Tasks:    []string{"deliver-outbox"},
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-d.clock.After(d.interval):
				if _, err := d.DispatchDue(runCtx); err != nil && runCtx.Err() == nil {
					d.log.WithError(err).Warn("outbox dispatch failed")
				}
			}
		}
	}()

	d.log.Info("mail dispatcher started")
	return nil
}

func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	d.running = false
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	d.log.Info("mail dispatcher stopped")
	return nil
}

// DispatchDue sends every message that is due now and returns how many were
// sent successfully.
func (d *Dispatcher) DispatchDue(ctx context.Context) (int, error) {
	due, err := d.store.ListDueMessages(ctx, d.clock.Now().UTC(), batchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, msg := range due {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		if d.deliver(ctx, msg) {
			sent++
		}
	}
	return sent, nil
}

func (d *Dispatcher) deliver(ctx context.Context, msg notification.Message) bool {
	sendCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	providerID, err := d.sender.Send(sendCtx, mailer.Envelope{To: msg.To, Subject: msg.Subject, Body: msg.Body})
	cancel()

	now := d.clock.Now().UTC()
	msg.Attempts++
	log := d.log.WithField("message_id", msg.ID).WithField("attempt", msg.Attempts)

	result := "sent"
	if err == nil {
		msg.Status = notification.StatusSent
		msg.ProviderID = providerID
		msg.LastError = ""
		msg.SentAt = &now
		log.Debug("email sent")
	} else {
		msg.LastError = err.Error()
		if msg.Attempts >= MaxAttempts {
			msg.Status = notification.StatusFailed
			result = "failed"
			log.WithError(err).Error("email permanently failed")
		} else {
			msg.NextAttemptAt = now.Add(Backoff(msg.Attempts))
			result = "retried"
			log.WithError(err).WithField("next_attempt_at", msg.NextAttemptAt).Warn("email send failed; will retry")
		}
	}
	metrics.RecordDelivery(string(msg.Kind), result)

	if _, uerr := d.store.UpdateMessage(ctx, msg); uerr != nil {
		log.WithError(uerr).Error("update outbox message failed")
	}
	return err == nil
}
