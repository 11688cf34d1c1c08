package audit

import "time"

// ActorType distinguishes who caused an event.
type ActorType string

const (
	ActorUser        ActorType = "user"
	ActorParticipant ActorType = "participant"
	ActorSystem      ActorType = "system"
)

// Event is one immutable audit-trail entry.
type Event struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	ActorType      ActorType         `json:"actor_type"`
	ActorID        string            `json:"actor_id,omitempty"`
	Action         string            `json:"action"`
	ResourceType   string            `json:"resource_type"`
	ResourceID     string            `json:"resource_id"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IP             string            `json:"ip,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Filter narrows audit listings.
type Filter struct {
	ResourceType string
	ResourceID   string
	Limit        int
}
