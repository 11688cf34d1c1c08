package notification

import "time"

// Kind identifies the email template.
type Kind string

const (
	KindSignatureRequested Kind = "signature_requested"
	KindSignatureReminder  Kind = "signature_reminder"
	KindRequestCompleted   Kind = "request_completed"
	KindRequestDeclined    Kind = "request_declined"
	KindRequestCancelled   Kind = "request_cancelled"
	KindRequestExpired     Kind = "request_expired"
	KindInvitation         Kind = "organization_invitation"
	KindPasswordReset      Kind = "password_reset"
)

// Status is the delivery state of an outbox message.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Message is one outbound email in the outbox.
type Message struct {
	ID             string     `json:"id"`
	OrganizationID string     `json:"organization_id,omitempty"`
	Kind           Kind       `json:"kind"`
	To             string     `json:"to"`
	Subject        string     `json:"subject"`
	Body           string     `json:"-"`
	Status         Status     `json:"status"`
	Attempts       int        `json:"attempts"`
	NextAttemptAt  time.Time  `json:"next_attempt_at"`
	LastError      string     `json:"last_error,omitempty"`
	ProviderID     string     `json:"provider_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
}
