package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/jmoiron/sqlx"

	"chat-directory/internal/models"
)

var ErrGroupNotFound = errors.New("group not found")

// CreateGroupParams carries the validated inputs for the group insert. For a
// public group Members must be empty and OwnerID nil; the directory service
// guarantees both before calling.
type CreateGroupParams struct {
	Name        string
	Description string
	IsPublic    bool
	OwnerID     *int64
	Members     []int64
}

// GroupRepository abstracts durable group persistence.
type GroupRepository interface {
	CreateGroup(ctx context.Context, params CreateGroupParams) (models.GroupRecord, error)
	AddMembers(ctx context.Context, gid int64, uids []int64) (models.GroupRecord, error)
	RemoveMembers(ctx context.Context, gid int64, uids []int64) (models.GroupRecord, error)
	ListGroups(ctx context.Context) ([]models.GroupRecord, map[int64][]int64, error)
}

// GroupRepo is a sqlx implementation of GroupRepository.
type GroupRepo struct {
	db *sqlx.DB
}

// NewGroupRepo constructs a GroupRepo.
func NewGroupRepo(db *sqlx.DB) *GroupRepo {
	return &GroupRepo{db: db}
}

// CreateGroup inserts the group row and its membership rows in one
// transaction. The store assigns the gid and both timestamps; on any failure
// the whole transaction rolls back and no row is left behind.
func (r *GroupRepo) CreateGroup(ctx context.Context, params CreateGroupParams) (models.GroupRecord, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.GroupRecord{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var record models.GroupRecord
	if err = tx.QueryRowxContext(ctx,
		`INSERT INTO groups (name, description, owner_id, is_public, created_at, updated_at)
         VALUES ($1, $2, $3, $4, NOW(), NOW())
         RETURNING id, name, description, owner_id, is_public, created_at, updated_at, avatar_updated_at`,
		params.Name, params.Description, params.OwnerID, params.IsPublic,
	).StructScan(&record); err != nil {
		return models.GroupRecord{}, err
	}

	for _, uid := range sortedIDs(params.Members) {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`,
			record.GID, uid,
		); err != nil {
			return models.GroupRecord{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.GroupRecord{}, err
	}
	return record, nil
}

// AddMembers inserts membership rows for uids and bumps updated_at, all in
// one transaction.
func (r *GroupRepo) AddMembers(ctx context.Context, gid int64, uids []int64) (models.GroupRecord, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.GroupRecord{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, uid := range sortedIDs(uids) {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO group_members (group_id, user_id) VALUES ($1, $2)`,
			gid, uid,
		); err != nil {
			return models.GroupRecord{}, err
		}
	}

	record, err := touchGroup(ctx, tx, gid)
	if err != nil {
		return models.GroupRecord{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.GroupRecord{}, err
	}
	return record, nil
}

// RemoveMembers deletes membership rows for uids and bumps updated_at, all
// in one transaction.
func (r *GroupRepo) RemoveMembers(ctx context.Context, gid int64, uids []int64) (models.GroupRecord, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.GroupRecord{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, uid := range sortedIDs(uids) {
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM group_members WHERE group_id=$1 AND user_id=$2`,
			gid, uid,
		); err != nil {
			return models.GroupRecord{}, err
		}
	}

	record, err := touchGroup(ctx, tx, gid)
	if err != nil {
		return models.GroupRecord{}, err
	}

	if err = tx.Commit(); err != nil {
		return models.GroupRecord{}, err
	}
	return record, nil
}

// ListGroups loads every group row plus the membership rows, used to prime
// the cache at startup.
func (r *GroupRepo) ListGroups(ctx context.Context) ([]models.GroupRecord, map[int64][]int64, error) {
	var records []models.GroupRecord
	if err := r.db.SelectContext(ctx, &records,
		`SELECT id, name, description, owner_id, is_public, created_at, updated_at, avatar_updated_at
         FROM groups ORDER BY id`,
	); err != nil {
		return nil, nil, err
	}

	var rows []struct {
		GroupID int64 `db:"group_id"`
		UserID  int64 `db:"user_id"`
	}
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT group_id, user_id FROM group_members ORDER BY group_id, user_id`,
	); err != nil {
		return nil, nil, err
	}

	members := make(map[int64][]int64, len(records))
	for _, row := range rows {
		members[row.GroupID] = append(members[row.GroupID], row.UserID)
	}
	return records, members, nil
}

func touchGroup(ctx context.Context, tx *sqlx.Tx, gid int64) (models.GroupRecord, error) {
	var record models.GroupRecord
	err := tx.QueryRowxContext(ctx,
		`UPDATE groups SET updated_at=NOW() WHERE id=$1
         RETURNING id, name, description, owner_id, is_public, created_at, updated_at, avatar_updated_at`,
		gid,
	).StructScan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return models.GroupRecord{}, ErrGroupNotFound
	}
	return record, err
}

func sortedIDs(uids []int64) []int64 {
	ids := append([]int64(nil), uids...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
