package notifications

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"

	"github.com/juju/clock"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/signflow/internal/app/domain/notification"
	mailer "github.com/R3E-Network/signflow/internal/app/mail"
	"github.com/R3E-Network/signflow/internal/app/metrics"
	"github.com/R3E-Network/signflow/internal/app/storage"
	svcerrors "github.com/R3E-Network/signflow/internal/errors"
	"github.com/R3E-Network/signflow/pkg/logger"
)

// SignatureHeader carries the hex HMAC-SHA256 of a delivery webhook body.
const SignatureHeader = "X-Signature"

// Service renders emails into the outbox and records provider feedback.
type Service struct {
	store  storage.NotificationStore
	clock  clock.Clock
	secret []byte
	log    *logger.Logger
}

// New constructs a notification service. webhookSecret may be empty, in
// which case delivery webhooks are rejected.
func New(store storage.NotificationStore, clk clock.Clock, webhookSecret string, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("notifications")
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Service{store: store, clock: clk, secret: []byte(webhookSecret), log: log}
}

// Enqueue renders the template for kind and stores a pending message that
// the dispatcher picks up on its next pass.
func (s *Service) Enqueue(ctx context.Context, orgID string, kind notification.Kind, to string, data map[string]any) (notification.Message, error) {
	to = strings.TrimSpace(to)
	if _, err := mail.ParseAddress(to); err != nil {
		return notification.Message{}, svcerrors.Validationf("invalid recipient %q", to)
	}
	subject, body, err := mailer.Render(kind, data)
	if err != nil {
		return notification.Message{}, svcerrors.Internal("render email", err)
	}

	now := s.clock.Now().UTC()
	msg, err := s.store.CreateMessage(ctx, notification.Message{
		OrganizationID: orgID,
		Kind:           kind,
		To:             to,
		Subject:        subject,
		Body:           body,
		Status:         notification.StatusPending,
		NextAttemptAt:  now,
		CreatedAt:      now,
	})
	if err != nil {
		return notification.Message{}, err
	}
	s.log.WithContext(ctx).
		WithField("message_id", msg.ID).
		WithField("kind", string(kind)).
		Debug("email queued")
	return msg, nil
}

// Get returns one outbox message.
func (s *Service) Get(ctx context.Context, id string) (notification.Message, error) {
	msg, err := s.store.GetMessage(ctx, id)
	if err != nil {
		if svcerrors.Is(err, storage.ErrNotFound) {
			return notification.Message{}, svcerrors.NotFound("message", id)
		}
		return notification.Message{}, err
	}
	return msg, nil
}

// VerifySignature checks the hex HMAC-SHA256 of body against sig.
func (s *Service) VerifySignature(body []byte, sig string) bool {
	if len(s.secret) == 0 || sig == "" {
		return false
	}
	sig = strings.TrimPrefix(strings.TrimSpace(sig), "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// HandleDeliveryWebhook applies provider delivery events. The body is either
// a single event object or an array of them, each carrying "event",
// "message_id" and an optional "reason". Bounces and rejections mark the
// message failed. It returns how many messages were updated.
func (s *Service) HandleDeliveryWebhook(ctx context.Context, signature string, body []byte) (int, error) {
	if !s.VerifySignature(body, signature) {
		return 0, svcerrors.Unauthorized("invalid webhook signature")
	}
	if !gjson.ValidBytes(body) {
		return 0, svcerrors.Validation("webhook body is not valid JSON")
	}

	parsed := gjson.ParseBytes(body)
	var events []gjson.Result
	if parsed.IsArray() {
		events = parsed.Array()
	} else {
		events = []gjson.Result{parsed}
	}

	updated := 0
	for _, ev := range events {
		changed, err := s.applyDeliveryEvent(ctx, ev)
		if err != nil {
			return updated, err
		}
		if changed {
			updated++
		}
	}
	return updated, nil
}

func (s *Service) applyDeliveryEvent(ctx context.Context, ev gjson.Result) (bool, error) {
	kind := strings.ToLower(ev.Get("event").String())
	providerID := strings.Trim(ev.Get("message_id").String(), "<>")
	if providerID == "" {
		return false, nil
	}

	msg, err := s.store.GetMessageByProviderID(ctx, providerID)
	if err != nil {
		if svcerrors.Is(err, storage.ErrNotFound) {
			s.log.WithField("provider_id", providerID).Warn("delivery event for unknown message")
			return false, nil
		}
		return false, err
	}

	switch kind {
	case "bounce", "bounced", "dropped", "rejected", "failed":
		reason := ev.Get("reason").String()
		if reason == "" {
			reason = ev.Get("error").String()
		}
		msg.Status = notification.StatusFailed
		msg.LastError = fmt.Sprintf("%s: %s", kind, reason)
		if _, err := s.store.UpdateMessage(ctx, msg); err != nil {
			return false, err
		}
		metrics.RecordDelivery(string(msg.Kind), "bounced")
		s.log.WithField("message_id", msg.ID).
			WithField("reason", reason).
			Warn("email bounced")
		return true, nil
	case "delivered":
		s.log.WithField("message_id", msg.ID).Debug("email delivered")
		return false, nil
	default:
		return false, nil
	}
}
