package cache

import (
	"sort"
	"sync"
	"time"

	"chat-directory/internal/models"
)

// Snapshot is the committed state of a group as held in memory. Member sets
// are copied on the way in and out so holders of a Snapshot never share
// mutable state with the cache.
type Snapshot struct {
	Type            models.GroupType
	Name            string
	Description     string
	Members         map[int64]struct{}
	CreatedAt       time.Time
	UpdatedAt       time.Time
	AvatarUpdatedAt time.Time
	PinnedMessages  []int64
}

// MemberIDs returns the member set as a sorted slice.
func (s Snapshot) MemberIDs() []int64 {
	ids := make([]int64, 0, len(s.Members))
	for id := range s.Members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Members = make(map[int64]struct{}, len(s.Members))
	for id := range s.Members {
		out.Members[id] = struct{}{}
	}
	out.PinnedMessages = append([]int64(nil), s.PinnedMessages...)
	return out
}

// GroupCache holds the committed group directory and the known-user set for
// read-heavy access. Readers share the lock; mutations are exclusive.
type GroupCache struct {
	mu     sync.RWMutex
	groups map[int64]Snapshot
	users  map[int64]struct{}
}

// New creates an empty cache.
func New() *GroupCache {
	return &GroupCache{
		groups: make(map[int64]Snapshot),
		users:  make(map[int64]struct{}),
	}
}

// ContainsUser reports whether the user id is known as of the last refresh.
func (c *GroupCache) ContainsUser(uid int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.users[uid]
	return ok
}

// AllUserIDs returns a point-in-time copy of the known-user set, sorted.
func (c *GroupCache) AllUserIDs() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]int64, 0, len(c.users))
	for id := range c.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ReplaceUsers swaps in a new known-user set. Called by the periodic
// registry refresh and at startup.
func (c *GroupCache) ReplaceUsers(uids []int64) {
	users := make(map[int64]struct{}, len(uids))
	for _, id := range uids {
		users[id] = struct{}{}
	}
	c.mu.Lock()
	c.users = users
	c.mu.Unlock()
}

// InsertGroup inserts or replaces a group snapshot. The snapshot becomes
// visible to readers atomically.
func (c *GroupCache) InsertGroup(gid int64, snap Snapshot) {
	clone := snap.clone()
	c.mu.Lock()
	c.groups[gid] = clone
	c.mu.Unlock()
}

// Group returns a copy of the snapshot for gid.
func (c *GroupCache) Group(gid int64) (Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.groups[gid]
	if !ok {
		return Snapshot{}, false
	}
	return snap.clone(), true
}

// Groups returns a copy of every cached snapshot keyed by gid.
func (c *GroupCache) Groups() map[int64]Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int64]Snapshot, len(c.groups))
	for gid, snap := range c.groups {
		out[gid] = snap.clone()
	}
	return out
}

// AddMembers adds uids to a cached group's member set.
func (c *GroupCache) AddMembers(gid int64, uids []int64, updatedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.groups[gid]
	if !ok {
		return
	}
	snap = snap.clone()
	for _, id := range uids {
		snap.Members[id] = struct{}{}
	}
	snap.UpdatedAt = updatedAt
	c.groups[gid] = snap
}

// RemoveMembers removes uids from a cached group's member set.
func (c *GroupCache) RemoveMembers(gid int64, uids []int64, updatedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.groups[gid]
	if !ok {
		return
	}
	snap = snap.clone()
	for _, id := range uids {
		delete(snap.Members, id)
	}
	snap.UpdatedAt = updatedAt
	c.groups[gid] = snap
}
