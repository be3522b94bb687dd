package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"chat-directory/internal/cache"
	"chat-directory/internal/eventbus"
	"chat-directory/internal/models"
	"chat-directory/internal/observability"
	"chat-directory/internal/repositories"
)

// Directory is the single entry point for group lifecycle operations.
type Directory interface {
	CreateGroup(ctx context.Context, caller models.Caller, req models.CreateGroupRequest) (models.CreateGroupResult, error)
	AddMembers(ctx context.Context, caller models.Caller, gid int64, uids []int64) (models.GroupInfo, error)
	RemoveMembers(ctx context.Context, caller models.Caller, gid int64, uids []int64) (models.GroupInfo, error)
	GetGroup(caller models.Caller, gid int64) (models.GroupInfo, error)
	ListGroups(caller models.Caller) []models.GroupInfo
}

// Service orchestrates validation, the durable write, the cache update and
// the broadcast for every mutating group operation. A group is either fully
// visible (durable, cached, broadcast attempted) or not visible at all.
type Service struct {
	groups repositories.GroupRepository
	users  repositories.UserRepository
	cache  *cache.GroupCache
	bus    *eventbus.Bus

	// mu serializes mutating operations so the known-user check, the durable
	// write and the cache insert of one mutation never interleave with
	// another's. Readers go through the cache's own lock and are never held
	// up by the durable store.
	mu sync.Mutex
}

// NewService constructs the directory service.
func NewService(groups repositories.GroupRepository, users repositories.UserRepository, groupCache *cache.GroupCache, bus *eventbus.Bus) *Service {
	return &Service{groups: groups, users: users, cache: groupCache, bus: bus}
}

// WarmCache loads the committed directory state into the cache. Called once
// at startup before the service takes traffic.
func (s *Service) WarmCache(ctx context.Context) error {
	if err := s.RefreshUsers(ctx); err != nil {
		return err
	}

	records, members, err := s.groups.ListGroups(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, record := range records {
		s.cache.InsertGroup(record.GID, snapshotFromRecord(record, members[record.GID]))
	}
	return nil
}

// RefreshUsers reconciles the cache's known-user set with the registry.
// Runs periodically; the core tolerates the staleness window in between.
func (s *Service) RefreshUsers(ctx context.Context) error {
	ids, err := s.users.ListUserIDs(ctx)
	if err != nil {
		return err
	}
	s.cache.ReplaceUsers(ids)
	return nil
}

// CreateGroup validates the request, commits the group in one transaction
// and then, best-effort, makes it observable through the cache and the event
// bus. Validation failures and storage failures leave no trace anywhere.
func (s *Service) CreateGroup(ctx context.Context, caller models.Caller, req models.CreateGroupRequest) (models.CreateGroupResult, error) {
	if req.IsPublic && !caller.IsAdmin {
		return models.CreateGroupResult{}, s.reject("create_group", fmt.Errorf("%w: only administrators may create public groups", ErrPermissionDenied))
	}
	if req.IsPublic && len(req.Members) > 0 {
		return models.CreateGroupResult{}, s.reject("create_group", fmt.Errorf("%w: public groups may not declare an explicit member list", ErrInvalidRequest))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var members []int64
	if !req.IsPublic {
		members = dedupe(append(append([]int64(nil), req.Members...), caller.UID))
	}
	for _, uid := range members {
		if !s.cache.ContainsUser(uid) {
			return models.CreateGroupResult{}, s.reject("create_group", fmt.Errorf("%w: unknown user %d", ErrInvalidRequest, uid))
		}
	}

	params := repositories.CreateGroupParams{
		Name:        req.Name,
		Description: req.Description,
		IsPublic:    req.IsPublic,
		Members:     members,
	}
	if !req.IsPublic {
		owner := caller.UID
		params.OwnerID = &owner
	}

	record, err := s.groups.CreateGroup(ctx, params)
	if err != nil {
		return models.CreateGroupResult{}, s.reject("create_group", fmt.Errorf("%w: %v", ErrStorage, err))
	}

	// The group is durable from here on; nothing below may fail the call.
	snap := snapshotFromRecord(record, members)
	s.cache.InsertGroup(record.GID, snap)

	targets := members
	if req.IsPublic {
		targets = s.cache.AllUserIDs()
	}
	info := infoFromSnapshot(record.GID, snap)
	s.bus.Publish(models.DirectoryEvent{
		Type:    models.EventJoinedGroup,
		Group:   &info,
		Targets: targets,
	})

	observability.IncDirectoryOp("create_group", "ok")
	return models.CreateGroupResult{GID: record.GID, CreatedAt: record.CreatedAt}, nil
}

// AddMembers adds uids to a private group. Only the owner or an
// administrator may add members, every id must be a known user, and none may
// already belong to the group.
func (s *Service) AddMembers(ctx context.Context, caller models.Caller, gid int64, uids []int64) (models.GroupInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.cache.Group(gid)
	if !ok {
		return models.GroupInfo{}, s.reject("add_members", repositories.ErrGroupNotFound)
	}
	if snap.Type.IsPublic() {
		return models.GroupInfo{}, s.reject("add_members", fmt.Errorf("%w: public group membership is implicit", ErrInvalidRequest))
	}
	owner, _ := snap.Type.Owner()
	if caller.UID != owner && !caller.IsAdmin {
		return models.GroupInfo{}, s.reject("add_members", fmt.Errorf("%w: only the owner may add members", ErrPermissionDenied))
	}

	ids := dedupe(uids)
	if len(ids) == 0 {
		return models.GroupInfo{}, s.reject("add_members", fmt.Errorf("%w: no members given", ErrInvalidRequest))
	}
	for _, uid := range ids {
		if !s.cache.ContainsUser(uid) {
			return models.GroupInfo{}, s.reject("add_members", fmt.Errorf("%w: unknown user %d", ErrInvalidRequest, uid))
		}
		if _, member := snap.Members[uid]; member {
			return models.GroupInfo{}, s.reject("add_members", fmt.Errorf("%w: user %d is already a member", ErrInvalidRequest, uid))
		}
	}

	record, err := s.groups.AddMembers(ctx, gid, ids)
	if err != nil {
		return models.GroupInfo{}, s.reject("add_members", storageErr(err))
	}

	s.cache.AddMembers(gid, ids, record.UpdatedAt)
	updated, _ := s.cache.Group(gid)
	info := infoFromSnapshot(gid, updated)
	s.bus.Publish(models.DirectoryEvent{
		Type:    models.EventUserJoinedGroup,
		GID:     gid,
		UserIDs: ids,
		Targets: updated.MemberIDs(),
	})

	observability.IncDirectoryOp("add_members", "ok")
	return info, nil
}

// RemoveMembers removes uids from a private group. The owner or an
// administrator may remove anyone but the owner; any member may remove
// themselves.
func (s *Service) RemoveMembers(ctx context.Context, caller models.Caller, gid int64, uids []int64) (models.GroupInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.cache.Group(gid)
	if !ok {
		return models.GroupInfo{}, s.reject("remove_members", repositories.ErrGroupNotFound)
	}
	if snap.Type.IsPublic() {
		return models.GroupInfo{}, s.reject("remove_members", fmt.Errorf("%w: public group membership is implicit", ErrInvalidRequest))
	}

	ids := dedupe(uids)
	if len(ids) == 0 {
		return models.GroupInfo{}, s.reject("remove_members", fmt.Errorf("%w: no members given", ErrInvalidRequest))
	}

	owner, _ := snap.Type.Owner()
	selfLeave := len(ids) == 1 && ids[0] == caller.UID
	if caller.UID != owner && !caller.IsAdmin && !selfLeave {
		return models.GroupInfo{}, s.reject("remove_members", fmt.Errorf("%w: only the owner may remove members", ErrPermissionDenied))
	}
	for _, uid := range ids {
		if uid == owner {
			return models.GroupInfo{}, s.reject("remove_members", fmt.Errorf("%w: the owner cannot be removed", ErrInvalidRequest))
		}
		if _, member := snap.Members[uid]; !member {
			return models.GroupInfo{}, s.reject("remove_members", fmt.Errorf("%w: user %d is not a member", ErrInvalidRequest, uid))
		}
	}

	record, err := s.groups.RemoveMembers(ctx, gid, ids)
	if err != nil {
		return models.GroupInfo{}, s.reject("remove_members", storageErr(err))
	}

	s.cache.RemoveMembers(gid, ids, record.UpdatedAt)
	updated, _ := s.cache.Group(gid)
	info := infoFromSnapshot(gid, updated)
	// Removed users are targeted too so their clients learn they are out.
	s.bus.Publish(models.DirectoryEvent{
		Type:    models.EventUserLeftGroup,
		GID:     gid,
		UserIDs: ids,
		Targets: dedupe(append(updated.MemberIDs(), ids...)),
	})

	observability.IncDirectoryOp("remove_members", "ok")
	return info, nil
}

// GetGroup returns the cached view of a group. Private groups are invisible
// to non-members, reported as not found.
func (s *Service) GetGroup(caller models.Caller, gid int64) (models.GroupInfo, error) {
	snap, ok := s.cache.Group(gid)
	if !ok {
		return models.GroupInfo{}, repositories.ErrGroupNotFound
	}
	if !s.visibleTo(caller, snap) {
		return models.GroupInfo{}, repositories.ErrGroupNotFound
	}
	return infoFromSnapshot(gid, snap), nil
}

// ListGroups returns every group visible to the caller: all public groups
// plus the private groups the caller belongs to.
func (s *Service) ListGroups(caller models.Caller) []models.GroupInfo {
	snapshots := s.cache.Groups()
	infos := make([]models.GroupInfo, 0, len(snapshots))
	for gid, snap := range snapshots {
		if s.visibleTo(caller, snap) {
			infos = append(infos, infoFromSnapshot(gid, snap))
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].GID < infos[j].GID })
	return infos
}

func (s *Service) visibleTo(caller models.Caller, snap cache.Snapshot) bool {
	if snap.Type.IsPublic() || caller.IsAdmin {
		return true
	}
	_, member := snap.Members[caller.UID]
	return member
}

func (s *Service) reject(op string, err error) error {
	observability.IncDirectoryOp(op, opResult(err))
	return err
}

func storageErr(err error) error {
	if errors.Is(err, repositories.ErrGroupNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorage, err)
}

func opResult(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, repositories.ErrGroupNotFound):
		return "not_found"
	default:
		return "storage_error"
	}
}

func snapshotFromRecord(record models.GroupRecord, members []int64) cache.Snapshot {
	memberSet := make(map[int64]struct{}, len(members))
	for _, uid := range members {
		memberSet[uid] = struct{}{}
	}
	return cache.Snapshot{
		Type:            record.Type(),
		Name:            record.Name,
		Description:     record.Description,
		Members:         memberSet,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
		AvatarUpdatedAt: record.AvatarUpdatedAt,
		PinnedMessages:  []int64{},
	}
}

func infoFromSnapshot(gid int64, snap cache.Snapshot) models.GroupInfo {
	info := models.GroupInfo{
		GID:             gid,
		Name:            snap.Name,
		Description:     snap.Description,
		IsPublic:        snap.Type.IsPublic(),
		Members:         snap.MemberIDs(),
		CreatedAt:       snap.CreatedAt,
		UpdatedAt:       snap.UpdatedAt,
		AvatarUpdatedAt: snap.AvatarUpdatedAt,
		PinnedMessages:  append([]int64(nil), snap.PinnedMessages...),
	}
	if owner, ok := snap.Type.Owner(); ok {
		info.Owner = &owner
	}
	return info
}

func dedupe(uids []int64) []int64 {
	set := make(map[int64]struct{}, len(uids))
	for _, uid := range uids {
		set[uid] = struct{}{}
	}
	out := make([]int64, 0, len(set))
	for uid := range set {
		out = append(out, uid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
