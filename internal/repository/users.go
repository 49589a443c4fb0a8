package repository

import (
	"context"

	"gorm.io/gorm"

	"datacore/internal/storage"
)

type UserRepository struct {
	*Repo[storage.User]
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{Repo: newRepo[storage.User](db, "user")}
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*storage.User, error) {
	return r.first(ctx, r.db.WithContext(ctx).Where("username = ?", username), "get_by_username")
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*storage.User, error) {
	return r.first(ctx, r.db.WithContext(ctx).Where("email = ?", email), "get_by_email")
}

func (r *UserRepository) ListActive(ctx context.Context, offset, limit int) ([]storage.User, error) {
	q := r.db.WithContext(ctx).Where("is_active = ?", true).Order("created_at, id")
	return r.find(paginate(q, offset, limit), "list_active")
}
