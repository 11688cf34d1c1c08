package signature

import (
	"sort"
	"time"
)

// WorkflowType controls how participants are notified.
type WorkflowType string

const (
	// WorkflowSequential notifies actionable participants one order group at a
	// time, lowest order first.
	WorkflowSequential WorkflowType = "sequential"
	// WorkflowParallel notifies every actionable participant at once.
	WorkflowParallel WorkflowType = "parallel"
)

// Valid reports whether w is a known workflow type.
func (w WorkflowType) Valid() bool {
	return w == WorkflowSequential || w == WorkflowParallel
}

// Status is the request lifecycle state.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusDeclined   Status = "declined"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
)

var transitions = map[Status][]Status{
	StatusDraft:      {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusDeclined, StatusCancelled, StatusExpired},
}

// CanTransition reports whether a request may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Role is what a participant is asked to do.
type Role string

const (
	RoleSigner   Role = "signer"
	RoleApprover Role = "approver"
	RoleCC       Role = "cc"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleSigner || r == RoleApprover || r == RoleCC
}

// Actionable reports whether the role must act for the request to complete.
func (r Role) Actionable() bool {
	return r == RoleSigner || r == RoleApprover
}

// ParticipantStatus tracks one participant's progress.
type ParticipantStatus string

const (
	ParticipantPending  ParticipantStatus = "pending"
	ParticipantNotified ParticipantStatus = "notified"
	ParticipantViewed   ParticipantStatus = "viewed"
	ParticipantSigned   ParticipantStatus = "signed"
	ParticipantApproved ParticipantStatus = "approved"
	ParticipantDeclined ParticipantStatus = "declined"
)

// Done reports whether the participant has finished acting.
func (s ParticipantStatus) Done() bool {
	return s == ParticipantSigned || s == ParticipantApproved || s == ParticipantDeclined
}

// Request binds a document to a set of participants.
type Request struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organization_id"`
	DocumentID     string       `json:"document_id"`
	Title          string       `json:"title"`
	Message        string       `json:"message,omitempty"`
	WorkflowType   WorkflowType `json:"workflow_type"`
	Status         Status       `json:"status"`
	CreatedBy      string       `json:"created_by"`
	ExpiresAt      *time.Time   `json:"expires_at,omitempty"`
	SentAt         *time.Time   `json:"sent_at,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	// Version increments on every update and guards concurrent writers.
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Expired reports whether the request deadline has passed at now.
func (r Request) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// Participant is one recipient of a request.
type Participant struct {
	ID             string            `json:"id"`
	RequestID      string            `json:"request_id"`
	Name           string            `json:"name"`
	Email          string            `json:"email"`
	Role           Role              `json:"role"`
	Order          int               `json:"order"`
	Status         ParticipantStatus `json:"status"`
	TokenHash      string            `json:"-"`
	NotifiedAt     *time.Time        `json:"notified_at,omitempty"`
	ViewedAt       *time.Time        `json:"viewed_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	LastRemindedAt *time.Time        `json:"last_reminded_at,omitempty"`
	DeclineReason  string            `json:"decline_reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Active reports whether the participant has been asked to act and has not
// yet done so.
func (p Participant) Active() bool {
	return p.Role.Actionable() && (p.Status == ParticipantNotified || p.Status == ParticipantViewed)
}

// FieldType is the kind of input a field collects.
type FieldType string

const (
	FieldSignature FieldType = "signature"
	FieldInitials  FieldType = "initials"
	FieldDate      FieldType = "date"
	FieldText      FieldType = "text"
	FieldCheckbox  FieldType = "checkbox"
)

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldSignature, FieldInitials, FieldDate, FieldText, FieldCheckbox:
		return true
	}
	return false
}

// Field is a placement on the document that one participant fills in.
// Coordinates are in PDF points with a top-left origin, as the editor
// draws them.
type Field struct {
	ID            string     `json:"id"`
	RequestID     string     `json:"request_id"`
	ParticipantID string     `json:"participant_id"`
	Type          FieldType  `json:"type"`
	Page          int        `json:"page"`
	X             float64    `json:"x"`
	Y             float64    `json:"y"`
	Width         float64    `json:"width"`
	Height        float64    `json:"height"`
	Required      bool       `json:"required"`
	Label         string     `json:"label,omitempty"`
	Value         string     `json:"value,omitempty"`
	FilledAt      *time.Time `json:"filled_at,omitempty"`
}

// Filter narrows request listings.
type Filter struct {
	Status     Status
	DocumentID string
}

// SortParticipants orders participants by Order then creation time.
func SortParticipants(ps []Participant) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Order != ps[j].Order {
			return ps[i].Order < ps[j].Order
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}

// NextToNotify returns the participants that should be notified now given the
// workflow type. In sequential mode that is the lowest order group that still
// has unfinished actionable participants, provided none of them has been
// notified already. In parallel mode it is every actionable participant still
// pending.
func NextToNotify(workflow WorkflowType, ps []Participant) []Participant {
	sorted := make([]Participant, len(ps))
	copy(sorted, ps)
	SortParticipants(sorted)

	var out []Participant
	if workflow == WorkflowParallel {
		for _, p := range sorted {
			if p.Role.Actionable() && p.Status == ParticipantPending {
				out = append(out, p)
			}
		}
		return out
	}

	for _, p := range sorted {
		if !p.Role.Actionable() || p.Status.Done() {
			continue
		}
		group := p.Order
		for _, q := range sorted {
			if q.Order != group || !q.Role.Actionable() || q.Status.Done() {
				continue
			}
			if q.Status != ParticipantPending {
				// The group is already active.
				return nil
			}
			out = append(out, q)
		}
		return out
	}
	return nil
}

// AllActionableDone reports whether every signer and approver has finished
// without declining.
func AllActionableDone(ps []Participant) bool {
	seen := false
	for _, p := range ps {
		if !p.Role.Actionable() {
			continue
		}
		seen = true
		if p.Status != ParticipantSigned && p.Status != ParticipantApproved {
			return false
		}
	}
	return seen
}
