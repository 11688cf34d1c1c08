package notifications

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/R3E-Network/signflow/internal/app/domain/notification"
	mailer "github.com/R3E-Network/signflow/internal/app/mail"
	"github.com/R3E-Network/signflow/internal/app/storage/memory"
	"github.com/R3E-Network/signflow/pkg/logger"
)

type fakeSender struct {
	mu       sync.Mutex
	failures int
	sent     []mailer.Envelope
}

func (f *fakeSender) Send(_ context.Context, env mailer.Envelope) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return "", errors.New("smtp unavailable")
	}
	f.sent = append(f.sent, env)
	return "provider-" + env.To, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	assert.Equal(t, 30*time.Second, Backoff(1))
	assert.Equal(t, time.Minute, Backoff(2))
	assert.Equal(t, 2*time.Minute, Backoff(3))
	assert.Equal(t, 16*time.Minute, Backoff(6))
	assert.Equal(t, 32*time.Minute, Backoff(7))
	assert.Equal(t, time.Hour, Backoff(8))
	assert.Equal(t, time.Hour, Backoff(20))

	// The message fails on attempt MaxAttempts, so the longest wait it ever
	// sees follows attempt MaxAttempts-1.
	assert.Equal(t, 32*time.Minute, Backoff(MaxAttempts-1))
}

func TestEnqueueRendersTemplate(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := New(memory.New(), clk, "", logger.NewDiscard())

	msg, err := svc.Enqueue(context.Background(), "org", notification.KindPasswordReset, "ana@example.com", map[string]any{
		"Name":      "Ana",
		"Link":      "https://app.example.com/reset?token=abc",
		"ExpiresAt": clk.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, notification.StatusPending, msg.Status)
	assert.Contains(t, msg.Body, "https://app.example.com/reset?token=abc")
	assert.Equal(t, clk.Now().UTC(), msg.NextAttemptAt)

	_, err = svc.Enqueue(context.Background(), "org", notification.KindPasswordReset, "not-an-email", nil)
	require.Error(t, err)
}

func TestDispatchRetriesWithBackoffThenSends(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := testclock.NewClock(start)
	store := memory.New()
	svc := New(store, clk, "", logger.NewDiscard())
	sender := &fakeSender{failures: 1}
	d := NewDispatcher(store, sender, clk, time.Second, logger.NewDiscard())
	ctx := context.Background()

	msg, err := svc.Enqueue(ctx, "org", notification.KindPasswordReset, "ana@example.com", map[string]any{"Name": "Ana"})
	require.NoError(t, err)

	sent, err := d.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)

	got, err := svc.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, notification.StatusPending, got.Status)
	assert.Equal(t, start.Add(30*time.Second), got.NextAttemptAt)
	assert.Contains(t, got.LastError, "smtp unavailable")

	sent, err = d.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sent, "message is not due yet")

	clk.Advance(30 * time.Second)
	sent, err = d.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	got, err = svc.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusSent, got.Status)
	assert.Equal(t, "provider-ana@example.com", got.ProviderID)
	require.NotNil(t, got.SentAt)
}

func TestDispatchGivesUpAfterMaxAttempts(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	store := memory.New()
	svc := New(store, clk, "", logger.NewDiscard())
	d := NewDispatcher(store, &fakeSender{failures: 100}, clk, time.Second, logger.NewDiscard())
	ctx := context.Background()

	msg, err := svc.Enqueue(ctx, "", notification.KindPasswordReset, "ana@example.com", nil)
	require.NoError(t, err)

	for i := 0; i < MaxAttempts; i++ {
		_, err := d.DispatchDue(ctx)
		require.NoError(t, err)
		clk.Advance(time.Hour)
	}

	got, err := svc.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusFailed, got.Status)
	assert.Equal(t, MaxAttempts, got.Attempts)
}

func TestDispatcherLoopStopsCleanly(t *testing.T) {
	defer goleak.VerifyNone(t)

	clk := testclock.NewClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	store := memory.New()
	svc := New(store, clk, "", logger.NewDiscard())
	sender := &fakeSender{}
	d := NewDispatcher(store, sender, clk, time.Second, logger.NewDiscard())

	_, err := svc.Enqueue(context.Background(), "", notification.KindPasswordReset, "ana@example.com", nil)
	require.NoError(t, err)

	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, clk.WaitAdvance(time.Second, 5*time.Second, 1))
	assert.Eventually(t, func() bool { return sender.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
	require.NoError(t, d.Stop(ctx))
}

func TestDeliveryWebhookMarksBounces(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	store := memory.New()
	svc := New(store, clk, "whsec", logger.NewDiscard())
	d := NewDispatcher(store, &fakeSender{}, clk, time.Second, logger.NewDiscard())
	ctx := context.Background()

	msg, err := svc.Enqueue(ctx, "", notification.KindPasswordReset, "ana@example.com", nil)
	require.NoError(t, err)
	_, err = d.DispatchDue(ctx)
	require.NoError(t, err)

	body := []byte(`[{"event":"delivered","message_id":"<provider-ana@example.com>"},
		{"event":"bounced","message_id":"provider-ana@example.com","reason":"mailbox full"},
		{"event":"bounced","message_id":"unknown"}]`)

	_, err = svc.HandleDeliveryWebhook(ctx, "deadbeef", body)
	require.Error(t, err, "bad signature must be rejected")

	n, err := svc.HandleDeliveryWebhook(ctx, sign("whsec", body), body)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := svc.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, notification.StatusFailed, got.Status)
	assert.Equal(t, "bounced: mailbox full", got.LastError)
}

func TestVerifySignatureWithoutSecretRejects(t *testing.T) {
	svc := New(memory.New(), nil, "", logger.NewDiscard())
	body := []byte(`{}`)
	assert.False(t, svc.VerifySignature(body, sign("", body)))
}
