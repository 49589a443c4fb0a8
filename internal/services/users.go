package services

// 用户服务：注册校验、口令校验与带缓存的资料读取。

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"datacore/internal/cache"
	"datacore/internal/repository"
	"datacore/internal/storage"
)

// Profile 是可以对外暴露、写入缓存与备份的用户视图，不含口令哈希。
type Profile struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	IsActive    bool      `json:"is_active"`
	IsSuperuser bool      `json:"is_superuser"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func profileOf(u *storage.User) *Profile {
	return &Profile{
		ID: u.ID, Username: u.Username, Email: u.Email,
		IsActive: u.IsActive, IsSuperuser: u.IsSuperuser,
		CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt,
	}
}

// UserService 提供用户注册、资料读取与口令校验。
type UserService struct {
	repo  *repository.UserRepository
	cache *cache.Manager
}

func NewUserService(repo *repository.UserRepository, cm *cache.Manager) *UserService {
	return &UserService{repo: repo, cache: cm}
}

// Register 校验并创建用户：用户名 3~50 字符，邮箱需包含 @ 与 .（统一小写），口令至少 8 位。
// 用户名或邮箱重复时返回 repository.ErrConflict。
func (s *UserService) Register(ctx context.Context, username, email, password string) (*Profile, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if n := len(username); n < 3 || n > 50 {
		return nil, fmt.Errorf("%w: username must be 3-50 characters", ErrValidation)
	}
	if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
		return nil, fmt.Errorf("%w: invalid email", ErrValidation)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u, err := s.repo.Create(ctx, &storage.User{
		Username: username, Email: email, HashedPassword: string(hash), IsActive: true,
	})
	if err != nil {
		return nil, err
	}
	return profileOf(u), nil
}

// Profile 先查缓存 user:{id}，未命中时回落到存储并回填。
func (s *UserService) Profile(ctx context.Context, id string) (*Profile, error) {
	var p Profile
	if s.cache.User(ctx, id, &p) {
		return &p, nil
	}
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	out := profileOf(u)
	s.cache.CacheUser(ctx, id, out)
	return out, nil
}

// ProfileUpdate 中为 nil 的字段保持不变。
type ProfileUpdate struct {
	Email    *string
	IsActive *bool
}

// UpdateProfile 写入存储后使该用户的缓存失效。
func (s *UserService) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (*Profile, error) {
	fields := map[string]any{}
	if upd.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*upd.Email))
		if !strings.Contains(email, "@") || !strings.Contains(email, ".") {
			return nil, fmt.Errorf("%w: invalid email", ErrValidation)
		}
		fields["email"] = email
	}
	if upd.IsActive != nil {
		fields["is_active"] = *upd.IsActive
	}
	u, err := s.repo.Update(ctx, id, fields)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	s.cache.InvalidateUser(ctx, id)
	return profileOf(u), nil
}

// CheckPassword 校验用户口令（bcrypt）。
func (s *UserService) CheckPassword(u *storage.User, password string) bool {
	if u == nil || u.HashedPassword == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(u.HashedPassword), []byte(password)) == nil
}

// Authenticate 按用户名查找活跃用户并校验口令；失败统一返回 ErrNotFound。
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*Profile, error) {
	u, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.IsActive || !s.CheckPassword(u, password) {
		return nil, ErrNotFound
	}
	return profileOf(u), nil
}
