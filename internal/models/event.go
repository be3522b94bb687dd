package models

// Lifecycle event types published on the directory event bus.
const (
	EventJoinedGroup     = "joined_group"
	EventUserJoinedGroup = "user_joined_group"
	EventUserLeftGroup   = "user_left_group"
)

// DirectoryEvent describes a group lifecycle change. Targets is delivery
// metadata consumed by connection handlers, not part of the wire payload.
type DirectoryEvent struct {
	Type    string     `json:"type"`
	Group   *GroupInfo `json:"group,omitempty"`
	GID     int64      `json:"gid,omitempty"`
	UserIDs []int64    `json:"user_ids,omitempty"`
	Targets []int64    `json:"-"`
}
