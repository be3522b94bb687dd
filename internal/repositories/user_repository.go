package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// UserRepository exposes the user registry to the cache refresh loop. The
// directory core itself never reads it directly; existence checks go through
// the cache.
type UserRepository interface {
	ListUserIDs(ctx context.Context) ([]int64, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// ListUserIDs returns every registered user id.
func (r *UserRepo) ListUserIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids, `SELECT id FROM users ORDER BY id`)
	return ids, err
}
