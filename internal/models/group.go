package models

import (
	"time"
)

// GroupType tags a group as public or private. A private group always has an
// owner; a public group never does. Constructing the variant only through
// PublicGroupType/PrivateGroupType keeps that pairing enforced.
type GroupType struct {
	public bool
	owner  int64
}

// PublicGroupType returns the public variant.
func PublicGroupType() GroupType {
	return GroupType{public: true}
}

// PrivateGroupType returns the private variant owned by the given user.
func PrivateGroupType(owner int64) GroupType {
	return GroupType{owner: owner}
}

// IsPublic reports whether the group is public.
func (t GroupType) IsPublic() bool {
	return t.public
}

// Owner returns the owning user id; ok is false for public groups.
func (t GroupType) Owner() (int64, bool) {
	if t.public {
		return 0, false
	}
	return t.owner, true
}

// GroupRecord is a committed group row.
type GroupRecord struct {
	GID             int64     `db:"id"`
	Name            string    `db:"name"`
	Description     string    `db:"description"`
	IsPublic        bool      `db:"is_public"`
	OwnerID         *int64    `db:"owner_id"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
	AvatarUpdatedAt time.Time `db:"avatar_updated_at"`
}

// Type derives the tagged variant from the row.
func (r GroupRecord) Type() GroupType {
	if r.IsPublic || r.OwnerID == nil {
		return PublicGroupType()
	}
	return PrivateGroupType(*r.OwnerID)
}

// GroupInfo is the API and event view of a group. Owner is present only for
// private groups; a public group's member list is empty because membership
// is implicit.
type GroupInfo struct {
	GID             int64     `json:"gid"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	IsPublic        bool      `json:"is_public"`
	Owner           *int64    `json:"owner,omitempty"`
	Members         []int64   `json:"members"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	AvatarUpdatedAt time.Time `json:"avatar_updated_at"`
	PinnedMessages  []int64   `json:"pinned_messages"`
}

// Caller is the authenticated identity attached to a request.
type Caller struct {
	UID     int64
	IsAdmin bool
}

// CreateGroupRequest is a validated group-creation request.
type CreateGroupRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description string  `json:"description"`
	IsPublic    bool    `json:"is_public"`
	Members     []int64 `json:"members"`
}

// CreateGroupResult is returned to the caller on success.
type CreateGroupResult struct {
	GID       int64     `json:"gid"`
	CreatedAt time.Time `json:"created_at"`
}
