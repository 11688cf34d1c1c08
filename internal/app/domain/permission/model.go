package permission

import "time"

// ResourceType names what a grant applies to.
type ResourceType string

const (
	ResourceDocument ResourceType = "document"
	ResourceFolder   ResourceType = "folder"
)

// Valid reports whether t is a known resource type.
func (t ResourceType) Valid() bool {
	return t == ResourceDocument || t == ResourceFolder
}

// Level is an access level. Higher levels include lower ones.
type Level string

const (
	LevelNone   Level = ""
	LevelView   Level = "view"
	LevelEdit   Level = "edit"
	LevelManage Level = "manage"
)

var levelRank = map[Level]int{
	LevelNone:   0,
	LevelView:   1,
	LevelEdit:   2,
	LevelManage: 3,
}

// Valid reports whether l is an assignable level.
func (l Level) Valid() bool {
	return l == LevelView || l == LevelEdit || l == LevelManage
}

// Includes reports whether l grants at least other.
func (l Level) Includes(other Level) bool {
	return levelRank[l] >= levelRank[other]
}

// Max returns the stronger of two levels.
func Max(a, b Level) Level {
	if levelRank[b] > levelRank[a] {
		return b
	}
	return a
}

// Grant gives one user a level on one resource.
type Grant struct {
	ID             string       `json:"id"`
	OrganizationID string       `json:"organization_id"`
	ResourceType   ResourceType `json:"resource_type"`
	ResourceID     string       `json:"resource_id"`
	UserID         string       `json:"user_id"`
	Level          Level        `json:"level"`
	CreatedBy      string       `json:"created_by"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}
