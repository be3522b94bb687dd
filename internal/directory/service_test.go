package directory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-directory/internal/cache"
	"chat-directory/internal/directory"
	"chat-directory/internal/eventbus"
	"chat-directory/internal/mocks"
	"chat-directory/internal/models"
	"chat-directory/internal/repositories"
)

func int64Ptr(v int64) *int64 {
	return &v
}

func newTestService(t *testing.T, repo repositories.GroupRepository, knownUsers ...int64) (*directory.Service, *cache.GroupCache, *eventbus.Subscriber) {
	t.Helper()
	groupCache := cache.New()
	groupCache.ReplaceUsers(knownUsers)
	bus := eventbus.NewBus(16)
	sub := bus.Subscribe()
	t.Cleanup(sub.Close)
	return directory.NewService(repo, new(mocks.UserRepositoryMock), groupCache, bus), groupCache, sub
}

func receivedEvent(t *testing.T, sub *eventbus.Subscriber) models.DirectoryEvent {
	t.Helper()
	select {
	case event := <-sub.Events():
		return event
	case <-time.After(time.Second):
		t.Fatal("expected an event on the bus")
		return models.DirectoryEvent{}
	}
}

func requireNoEvent(t *testing.T, sub *eventbus.Subscriber) {
	t.Helper()
	select {
	case event := <-sub.Events():
		t.Fatalf("unexpected event published: %+v", event)
	default:
	}
}

func TestCreateGroupPrivateIncludesCreator(t *testing.T) {
	repo := new(mocks.GroupRepositoryMock)
	svc, groupCache, sub := newTestService(t, repo, 3, 7, 9)

	now := time.Now()
	repo.On("CreateGroup", mock.Anything, repositories.CreateGroupParams{
		Name:        "Friends",
		Description: "",
		IsPublic:    false,
		OwnerID:     int64Ptr(7),
		Members:     []int64{3, 7, 9},
	}).Return(models.GroupRecord{
		GID:       5,
		Name:      "Friends",
		OwnerID:   int64Ptr(7),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil).Once()

	result, err := svc.CreateGroup(context.Background(), models.Caller{UID: 7}, models.CreateGroupRequest{
		Name:    "Friends",
		Members: []int64{3, 9},
	})
	require.NoError(t, err)
	require.Equal(t, int64(5), result.GID)
	require.Equal(t, now, result.CreatedAt)

	snap, ok := groupCache.Group(5)
	require.True(t, ok)
	require.Equal(t, []int64{3, 7, 9}, snap.MemberIDs())
	owner, isPrivate := snap.Type.Owner()
	require.True(t, isPrivate)
	require.Equal(t, int64(7), owner)

	event := receivedEvent(t, sub)
	require.Equal(t, models.EventJoinedGroup, event.Type)
	require.Equal(t, []int64{3, 7, 9}, event.Targets)
	require.NotNil(t, event.Group)
	require.Equal(t, int64(5), event.Group.GID)
	require.NotNil(t, event.Group.Owner)
	require.Equal(t, int64(7), *event.Group.Owner)

	repo.AssertExpectations(t)
}

func TestCreateGroupPublicRequiresAdmin(t *testing.T) {
	repo := new(mocks.GroupRepositoryMock)
	svc, groupCache, sub := newTestService(t, repo, 7)

	_, err := svc.CreateGroup(context.Background(), models.Caller{UID: 7}, models.CreateGroupRequest{
		Name:     "Announcements",
		IsPublic: true,
	})
	require.ErrorIs(t, err, directory.ErrPermissionDenied)

	require.Empty(t, groupCache.Groups())
	requireNoEvent(t, sub)
	repo.AssertNotCalled(t, "CreateGroup", mock.Anything, mock.Anything)
}

func TestCreateGroupPublicRejectsExplicitMembers(t *testing.T) {
	repo := new(mocks.GroupRepositoryMock)
	svc, _, sub := newTestService(t, repo, 1, 7)

	_, err := svc.CreateGroup(context.Background(), models.Caller{UID: 7, IsAdmin: true}, models.CreateGroupRequest{
		Name:     "X",
		IsPublic: true,
		Members:  []int64{1},
	})
	require.ErrorIs(t, err, directory.ErrInvalidRequest)

	requireNoEvent(t, sub)
	repo.AssertNotCalled(t, "CreateGroup", mock.Anything, mock.Anything)
}

func TestCreateGroupRejectsUnknownMember(t *testing.T) {
	repo := new(mocks.GroupRepositoryMock)
	svc, groupCache, sub := newTestService(t, repo, 3, 7)

	_, err := svc.CreateGroup(context.Background(), models.Caller{UID: 7}, models.CreateGroupRequest{
		Name:    "Friends",
		Members: []int64{3, 99},
	})
	require.ErrorIs(t, err, directory.ErrInvalidRequest)

	require.Empty(t, groupCache.Groups())
	requireNoEvent(t, sub)
	repo.AssertNotCalled(t, "CreateGroup", mock.Anything, mock.Anything)
}

func TestCreateGroupPublicTargetsAllKnownUsers(t *testing.T) {
	repo := new(mocks.GroupRepositoryMock)
	svc, groupCache, sub := newTestService(t, repo, 1, 2, 3, 7)

	now := time.Now()
	repo.On("CreateGroup", mock.Anything, repositories.CreateGroupParams{
		Name:     "Announcements",
		IsPublic: true,
	}).Return(models.GroupRecord{
		GID:       11,
		Name:      "Announcements",
		IsPublic:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil).Once()

	result, err := svc.CreateGroup(context.Background(), models.Caller{UID: 7, IsAdmin: true}, models.CreateGroupRequest{
		Name:     "Announcements",
		IsPublic: true,
	})
	require.NoError(t, err)
	require.Equal(t, int64(11), result.GID)

	snap, ok := groupCache.Group(11)
	require.True(t, ok)
	require.True(t, snap.Type.IsPublic())
	require.Empty(t, snap.MemberIDs())

	event := receivedEvent(t, sub)
	require.Equal(t, models.EventJoinedGroup, event.Type)
	require.Equal(t, []int64{1, 2, 3, 7}, event.Targets)
	require.Nil(t, event.Group.Owner)
	require.Empty(t, event.Group.Members)

	repo.AssertExpectations(t)
}

func TestCreateGroupStorageErrorLeavesNoTrace(t *testing.T) {
	repo := new(mocks.GroupRepositoryMock)
	svc, groupCache, sub := newTestService(t, repo, 7)

	repo.On("CreateGroup", mock.Anything, mock.Anything).
		Return(nil, context.DeadlineExceeded).Once()

	_, err := svc.CreateGroup(context.Background(), models.Caller{UID: 7}, models.CreateGroupRequest{
		Name: "Friends",
	})
	require.ErrorIs(t, err, directory.ErrStorage)

	require.Empty(t, groupCache.Groups())
	requireNoEvent(t, sub)
	repo.AssertExpectations(t)
}

// countingGroupRepo hands out sequential gids the way the store's identity
// column does, tracking one row per create.
type countingGroupRepo struct {
	mu      sync.Mutex
	nextGID int64
	rows    map[int64]repositories.CreateGroupParams
}

func newCountingGroupRepo() *countingGroupRepo {
	return &countingGroupRepo{rows: make(map[int64]repositories.CreateGroupParams)}
}

func (r *countingGroupRepo) CreateGroup(ctx context.Context, params repositories.CreateGroupParams) (models.GroupRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextGID++
	r.rows[r.nextGID] = params
	now := time.Now()
	record := models.GroupRecord{
		GID:       r.nextGID,
		Name:      params.Name,
		IsPublic:  params.IsPublic,
		OwnerID:   params.OwnerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return record, nil
}

func (r *countingGroupRepo) AddMembers(ctx context.Context, gid int64, uids []int64) (models.GroupRecord, error) {
	return models.GroupRecord{GID: gid, UpdatedAt: time.Now()}, nil
}

func (r *countingGroupRepo) RemoveMembers(ctx context.Context, gid int64, uids []int64) (models.GroupRecord, error) {
	return models.GroupRecord{GID: gid, UpdatedAt: time.Now()}, nil
}

func (r *countingGroupRepo) ListGroups(ctx context.Context) ([]models.GroupRecord, map[int64][]int64, error) {
	return nil, nil, nil
}

func TestCreateGroupConcurrentCreationsGetDistinctGIDs(t *testing.T) {
	repo := newCountingGroupRepo()
	svc, groupCache, sub := newTestService(t, repo, 7)
	sub.Close()

	const creations = 20
	results := make(chan models.CreateGroupResult, creations)
	errs := make(chan error, creations)
	var wg sync.WaitGroup
	for i := 0; i < creations; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.CreateGroup(context.Background(), models.Caller{UID: 7}, models.CreateGroupRequest{
				Name: "Friends",
			})
			if err != nil {
				errs <- err
				return
			}
			results <- result
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	seen := make(map[int64]bool)
	for result := range results {
		require.False(t, seen[result.GID], "gid %d assigned twice", result.GID)
		seen[result.GID] = true
	}
	require.Len(t, seen, creations)
	require.Len(t, groupCache.Groups(), creations)
	require.Len(t, repo.rows, creations)
}

func seedPrivateGroup(t *testing.T, groupCache *cache.GroupCache, gid, owner int64, members ...int64) {
	t.Helper()
	memberSet := map[int64]struct{}{owner: {}}
	for _, uid := range members {
		memberSet[uid] = struct{}{}
	}
	groupCache.InsertGroup(gid, cache.Snapshot{
		Type:    models.PrivateGroupType(owner),
		Name:    "seeded",
		Members: memberSet,
	})
}

func TestAddMembersByOwner(t *testing.T) {
	repo := new(mocks.GroupRepositoryMock)
	svc, groupCache, sub := newTestService(t, repo, 3, 7, 9)
	seedPrivateGroup(t, groupCache, 5, 7, 3)

	updatedAt := time.Now()
	repo.On("AddMembers", mock.Anything, int64(5), []int64{9}).
		Return(models.GroupRecord{GID: 5, UpdatedAt: updatedAt}, nil).Once()

	info, err := svc.AddMembers(context.Background(), models.Caller{UID: 7}, 5, []int64{9})
	require.NoError(t, err)
	require.Equal(t, []int64{3, 7, 9}, info.Members)

	snap, _ := groupCache.Group(5)
	require.Equal(t, []int64{3, 7, 9}, snap.MemberIDs())
	require.Equal(t, updatedAt, snap.UpdatedAt)

	event := receivedEvent(t, sub)
	require.Equal(t, models.EventUserJoinedGroup, event.Type)
	require.Equal(t, int64(5), event.GID)
	require.Equal(t, []int64{9}, event.UserIDs)
	require.Equal(t, []int64{3, 7, 9}, event.Targets)

	repo.AssertExpectations(t)
}

func TestAddMembersRequiresOwnerOrAdmin(t *testing.T) {
	repo := new(mocks.GroupRepositoryMock)
	svc, groupCache, sub := newTestService(t, repo, 3, 7, 9)
	seedPrivateGroup(t, groupCache, 5, 7, 3)

	_, err := svc.AddMembers(context.Background(), models.Caller{UID: 3}, 5, []int64{9})
	require.ErrorIs(t, err, directory.ErrPermissionDenied)
	requireNoEvent(t, sub)

	// An administrator may add members to any group.
	repo.On("AddMembers", mock.Anything, int64(5), []int64{9}).
		Return(models.GroupRecord{GID: 5, UpdatedAt: time.Now()}, nil).Once()
	_, err = svc.AddMembers(context.Background(), models.Caller{UID: 1, IsAdmin: true}, 5, []int64{9})
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestAddMembersValidation(t *testing.T) {
	repo := new(mocks.GroupRepositoryMock)
	svc, groupCache, sub := newTestService(t, repo, 3, 7, 9)
	seedPrivateGroup(t, groupCache, 5, 7, 3)
	groupCache.InsertGroup(8, cache.Snapshot{Type: models.PublicGroupType(), Name: "town-square"})

	_, err := svc.AddMembers(context.Background(), models.Caller{UID: 7}, 404, []int64{9})
	require.ErrorIs(t, err, repositories.ErrGroupNotFound)

	_, err = svc.AddMembers(context.Background(), models.Caller{UID: 7, IsAdmin: true}, 8, []int64{9})
	require.ErrorIs(t, err, directory.ErrInvalidRequest)

	_, err = svc.AddMembers(context.Background(), models.Caller{UID: 7}, 5, nil)
	require.ErrorIs(t, err, directory.ErrInvalidRequest)

	_, err = svc.AddMembers(context.Background(), models.Caller{UID: 7}, 5, []int64{99})
	require.ErrorIs(t, err, directory.ErrInvalidRequest)

	_, err = svc.AddMembers(context.Background(), models.Caller{UID: 7}, 5, []int64{3})
	require.ErrorIs(t, err, directory.ErrInvalidRequest)

	requireNoEvent(t, sub)
	repo.AssertNotCalled(t, "AddMembers", mock.Anything, mock.Anything, mock.Anything)
}

func TestRemoveMembersByOwner(t *testing.T) {
	repo := new(mocks.GroupRepositoryMock)
	svc, groupCache, sub := newTestService(t, repo, 3, 7, 9)
	seedPrivateGroup(t, groupCache, 5, 7, 3, 9)

	updatedAt := time.Now()
	repo.On("RemoveMembers", mock.Anything, int64(5), []int64{9}).
		Return(models.GroupRecord{GID: 5, UpdatedAt: updatedAt}, nil).Once()

	info, err := svc.RemoveMembers(context.Background(), models.Caller{UID: 7}, 5, []int64{9})
	require.NoError(t, err)
	require.Equal(t, []int64{3, 7}, info.Members)

	event := receivedEvent(t, sub)
	require.Equal(t, models.EventUserLeftGroup, event.Type)
	require.Equal(t, []int64{9}, event.UserIDs)
	// Removed users still hear about their own removal.
	require.Equal(t, []int64{3, 7, 9}, event.Targets)

	repo.AssertExpectations(t)
}

func TestRemoveMembersSelfLeave(t *testing.T) {
	repo := new(mocks.GroupRepositoryMock)
	svc, groupCache, sub := newTestService(t, repo, 3, 7, 9)
	seedPrivateGroup(t, groupCache, 5, 7, 3, 9)

	repo.On("RemoveMembers", mock.Anything, int64(5), []int64{3}).
		Return(models.GroupRecord{GID: 5, UpdatedAt: time.Now()}, nil).Once()

	info, err := svc.RemoveMembers(context.Background(), models.Caller{UID: 3}, 5, []int64{3})
	require.NoError(t, err)
	require.Equal(t, []int64{7, 9}, info.Members)

	event := receivedEvent(t, sub)
	require.Equal(t, models.EventUserLeftGroup, event.Type)
	repo.AssertExpectations(t)
}

func TestRemoveMembersValidation(t *testing.T) {
	repo := new(mocks.GroupRepositoryMock)
	svc, groupCache, sub := newTestService(t, repo, 3, 7, 9)
	seedPrivateGroup(t, groupCache, 5, 7, 3, 9)

	// A plain member may not remove someone else.
	_, err := svc.RemoveMembers(context.Background(), models.Caller{UID: 3}, 5, []int64{9})
	require.ErrorIs(t, err, directory.ErrPermissionDenied)

	// The owner cannot be removed, not even by an administrator.
	_, err = svc.RemoveMembers(context.Background(), models.Caller{UID: 1, IsAdmin: true}, 5, []int64{7})
	require.ErrorIs(t, err, directory.ErrInvalidRequest)

	_, err = svc.RemoveMembers(context.Background(), models.Caller{UID: 7}, 5, []int64{42})
	require.ErrorIs(t, err, directory.ErrInvalidRequest)

	requireNoEvent(t, sub)
	repo.AssertNotCalled(t, "RemoveMembers", mock.Anything, mock.Anything, mock.Anything)
}

func TestGetGroupVisibility(t *testing.T) {
	repo := new(mocks.GroupRepositoryMock)
	svc, groupCache, _ := newTestService(t, repo, 3, 7, 9)
	seedPrivateGroup(t, groupCache, 5, 7, 3)
	groupCache.InsertGroup(8, cache.Snapshot{Type: models.PublicGroupType(), Name: "town-square"})

	info, err := svc.GetGroup(models.Caller{UID: 3}, 5)
	require.NoError(t, err)
	require.Equal(t, []int64{3, 7}, info.Members)

	// Private groups look nonexistent to outsiders.
	_, err = svc.GetGroup(models.Caller{UID: 9}, 5)
	require.ErrorIs(t, err, repositories.ErrGroupNotFound)

	_, err = svc.GetGroup(models.Caller{UID: 9, IsAdmin: true}, 5)
	require.NoError(t, err)

	info, err = svc.GetGroup(models.Caller{UID: 9}, 8)
	require.NoError(t, err)
	require.True(t, info.IsPublic)

	_, err = svc.GetGroup(models.Caller{UID: 9}, 404)
	require.ErrorIs(t, err, repositories.ErrGroupNotFound)
}

func TestListGroupsFiltersByVisibility(t *testing.T) {
	repo := new(mocks.GroupRepositoryMock)
	svc, groupCache, _ := newTestService(t, repo, 3, 7, 9)
	seedPrivateGroup(t, groupCache, 5, 7, 3)
	groupCache.InsertGroup(8, cache.Snapshot{Type: models.PublicGroupType(), Name: "town-square"})

	infos := svc.ListGroups(models.Caller{UID: 9})
	require.Len(t, infos, 1)
	require.Equal(t, int64(8), infos[0].GID)

	infos = svc.ListGroups(models.Caller{UID: 3})
	require.Len(t, infos, 2)
	require.Equal(t, int64(5), infos[0].GID)
	require.Equal(t, int64(8), infos[1].GID)

	infos = svc.ListGroups(models.Caller{UID: 100, IsAdmin: true})
	require.Len(t, infos, 2)
}

func TestWarmCacheLoadsUsersAndGroups(t *testing.T) {
	repo := new(mocks.GroupRepositoryMock)
	users := new(mocks.UserRepositoryMock)
	groupCache := cache.New()
	bus := eventbus.NewBus(16)
	svc := directory.NewService(repo, users, groupCache, bus)

	users.On("ListUserIDs", mock.Anything).Return([]int64{3, 7}, nil).Once()
	repo.On("ListGroups", mock.Anything).Return([]models.GroupRecord{
		{GID: 5, Name: "Friends", OwnerID: int64Ptr(7)},
		{GID: 8, Name: "town-square", IsPublic: true},
	}, map[int64][]int64{5: {3, 7}}, nil).Once()

	require.NoError(t, svc.WarmCache(context.Background()))

	require.True(t, groupCache.ContainsUser(3))
	require.False(t, groupCache.ContainsUser(9))

	snap, ok := groupCache.Group(5)
	require.True(t, ok)
	require.Equal(t, []int64{3, 7}, snap.MemberIDs())

	snap, ok = groupCache.Group(8)
	require.True(t, ok)
	require.True(t, snap.Type.IsPublic())

	repo.AssertExpectations(t)
	users.AssertExpectations(t)
}
