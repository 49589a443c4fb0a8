package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"datacore/internal/cache"
	"datacore/internal/jsonval"
	"datacore/internal/repository"
	"datacore/internal/storage"
)

// NewTool 为创建工具生成任务的入参。
type NewTool struct {
	UserID       string
	ToolName     string
	Description  string
	Type         storage.ToolType
	Requirements any
}

// Artifact 是缓存于 tool_generation:{id} 的工具产物视图。
type Artifact struct {
	ID           string             `json:"id"`
	ToolName     string             `json:"tool_name"`
	ToolType     storage.ToolType   `json:"tool_type"`
	Status       storage.ToolStatus `json:"status"`
	Code         string             `json:"generated_code"`
	Dependencies any                `json:"dependencies"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
}

type ToolService struct {
	repo  *repository.ToolRepository
	cache *cache.Manager
}

func NewToolService(repo *repository.ToolRepository, cm *cache.Manager) *ToolService {
	return &ToolService{repo: repo, cache: cm}
}

func (s *ToolService) Create(ctx context.Context, in NewTool) (*storage.ToolGeneration, error) {
	name := strings.TrimSpace(in.ToolName)
	if name == "" || len(name) > 200 {
		return nil, fmt.Errorf("%w: tool name must be 1-200 characters", ErrValidation)
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown tool type %q", ErrValidation, in.Type)
	}
	t := &storage.ToolGeneration{UserID: in.UserID, ToolName: name, Description: in.Description, ToolType: in.Type}
	if in.Requirements != nil {
		raw, err := jsonval.Encode(in.Requirements)
		if err != nil {
			return nil, fmt.Errorf("%w: requirements: %v", ErrValidation, err)
		}
		t.Requirements = raw
	}
	return s.repo.Create(ctx, t)
}

// Start 把工具置为 generating。
func (s *ToolService) Start(ctx context.Context, id string) (*storage.ToolGeneration, error) {
	return s.setStatus(ctx, id, storage.ToolGenerating)
}

func (s *ToolService) setStatus(ctx context.Context, id string, st storage.ToolStatus) (*storage.ToolGeneration, error) {
	t, err := s.repo.UpdateStatus(ctx, id, st)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrNotFound
	}
	return t, nil
}

// Complete 写入生成代码与依赖、置为 completed 并缓存产物。
func (s *ToolService) Complete(ctx context.Context, id, code string, deps any) (*Artifact, error) {
	if _, err := jsonval.Normalize(deps); err != nil {
		return nil, fmt.Errorf("%w: dependencies: %v", ErrValidation, err)
	}
	cur, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ErrNotFound
	}
	if cur.Status.Terminal() {
		return nil, fmt.Errorf("%w: tool %s is %s", repository.ErrStatusTransition, id, cur.Status)
	}
	t, err := s.repo.Complete(ctx, id, code, deps)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrNotFound
	}
	art, err := artifactOf(t)
	if err != nil {
		return nil, err
	}
	s.cache.CacheToolGeneration(ctx, id, art)
	return art, nil
}

func (s *ToolService) Fail(ctx context.Context, id, message string) (*storage.ToolGeneration, error) {
	t, err := s.repo.SetError(ctx, id, message)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrNotFound
	}
	s.cache.Client().Delete(ctx, cache.ToolGenerationKey(id))
	return t, nil
}

// Artifact 旁路读取工具产物；未完成的工具返回 ErrNotReady。
func (s *ToolService) Artifact(ctx context.Context, id string) (*Artifact, error) {
	var art Artifact
	if s.cache.ToolGeneration(ctx, id, &art) {
		return &art, nil
	}
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrNotFound
	}
	if t.Status != storage.ToolCompleted {
		return nil, ErrNotReady
	}
	out, err := artifactOf(t)
	if err != nil {
		return nil, err
	}
	s.cache.CacheToolGeneration(ctx, id, out)
	return out, nil
}

func (s *ToolService) ListForUser(ctx context.Context, userID string, offset, limit int) ([]storage.ToolGeneration, error) {
	return s.repo.ListByUser(ctx, userID, offset, limit)
}

func artifactOf(t *storage.ToolGeneration) (*Artifact, error) {
	deps, err := jsonval.Decode(t.Dependencies)
	if err != nil {
		return nil, err
	}
	return &Artifact{
		ID: t.ID, ToolName: t.ToolName, ToolType: t.ToolType, Status: t.Status,
		Code: t.GeneratedCode, Dependencies: deps, CompletedAt: t.CompletedAt,
	}, nil
}
