package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-directory/internal/directory"
	"chat-directory/internal/models"
	"chat-directory/internal/repositories"
)

type DirectoryMock struct {
	mock.Mock
}

func (m *DirectoryMock) CreateGroup(ctx context.Context, caller models.Caller, req models.CreateGroupRequest) (models.CreateGroupResult, error) {
	args := m.Called(ctx, caller, req)
	var result models.CreateGroupResult
	if val := args.Get(0); val != nil {
		result = val.(models.CreateGroupResult)
	}
	return result, args.Error(1)
}

func (m *DirectoryMock) AddMembers(ctx context.Context, caller models.Caller, gid int64, uids []int64) (models.GroupInfo, error) {
	args := m.Called(ctx, caller, gid, uids)
	var info models.GroupInfo
	if val := args.Get(0); val != nil {
		info = val.(models.GroupInfo)
	}
	return info, args.Error(1)
}

func (m *DirectoryMock) RemoveMembers(ctx context.Context, caller models.Caller, gid int64, uids []int64) (models.GroupInfo, error) {
	args := m.Called(ctx, caller, gid, uids)
	var info models.GroupInfo
	if val := args.Get(0); val != nil {
		info = val.(models.GroupInfo)
	}
	return info, args.Error(1)
}

func (m *DirectoryMock) GetGroup(caller models.Caller, gid int64) (models.GroupInfo, error) {
	args := m.Called(caller, gid)
	var info models.GroupInfo
	if val := args.Get(0); val != nil {
		info = val.(models.GroupInfo)
	}
	return info, args.Error(1)
}

func (m *DirectoryMock) ListGroups(caller models.Caller) []models.GroupInfo {
	args := m.Called(caller)
	var infos []models.GroupInfo
	if val := args.Get(0); val != nil {
		infos = val.([]models.GroupInfo)
	}
	return infos
}

type GroupRepositoryMock struct {
	mock.Mock
}

func (m *GroupRepositoryMock) CreateGroup(ctx context.Context, params repositories.CreateGroupParams) (models.GroupRecord, error) {
	args := m.Called(ctx, params)
	var record models.GroupRecord
	if val := args.Get(0); val != nil {
		record = val.(models.GroupRecord)
	}
	return record, args.Error(1)
}

func (m *GroupRepositoryMock) AddMembers(ctx context.Context, gid int64, uids []int64) (models.GroupRecord, error) {
	args := m.Called(ctx, gid, uids)
	var record models.GroupRecord
	if val := args.Get(0); val != nil {
		record = val.(models.GroupRecord)
	}
	return record, args.Error(1)
}

func (m *GroupRepositoryMock) RemoveMembers(ctx context.Context, gid int64, uids []int64) (models.GroupRecord, error) {
	args := m.Called(ctx, gid, uids)
	var record models.GroupRecord
	if val := args.Get(0); val != nil {
		record = val.(models.GroupRecord)
	}
	return record, args.Error(1)
}

func (m *GroupRepositoryMock) ListGroups(ctx context.Context) ([]models.GroupRecord, map[int64][]int64, error) {
	args := m.Called(ctx)
	var records []models.GroupRecord
	if val := args.Get(0); val != nil {
		records = val.([]models.GroupRecord)
	}
	var members map[int64][]int64
	if val := args.Get(1); val != nil {
		members = val.(map[int64][]int64)
	}
	return records, members, args.Error(2)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) ListUserIDs(ctx context.Context) ([]int64, error) {
	args := m.Called(ctx)
	var ids []int64
	if val := args.Get(0); val != nil {
		ids = val.([]int64)
	}
	return ids, args.Error(1)
}

var _ directory.Directory = (*DirectoryMock)(nil)
var _ repositories.GroupRepository = (*GroupRepositoryMock)(nil)
var _ repositories.UserRepository = (*UserRepositoryMock)(nil)
