package services

import (
	"context"
	"fmt"
	"strings"

	"datacore/internal/cache"
	"datacore/internal/jsonval"
	"datacore/internal/repository"
	"datacore/internal/storage"
)

// firstPageSize 是用户分析列表首页大小；只有首页写入 user_analyses 缓存。
const firstPageSize = 20

// NewAnalysis 为创建分析的入参。
type NewAnalysis struct {
	UserID      string
	Title       string
	Description string
	DataSource  string
	Type        storage.AnalysisType
	Parameters  any
}

// AnalysisService 管理分析记录的生命周期与结果缓存。
type AnalysisService struct {
	repo  *repository.AnalysisRepository
	files *repository.FileRepository
	cache *cache.Manager
}

func NewAnalysisService(repo *repository.AnalysisRepository, files *repository.FileRepository, cm *cache.Manager) *AnalysisService {
	return &AnalysisService{repo: repo, files: files, cache: cm}
}

func (s *AnalysisService) Create(ctx context.Context, in NewAnalysis) (*storage.DataAnalysis, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" || len(title) > 200 {
		return nil, fmt.Errorf("%w: title must be 1-200 characters", ErrValidation)
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown analysis type %q", ErrValidation, in.Type)
	}
	a := &storage.DataAnalysis{
		UserID: in.UserID, Title: title, Description: in.Description,
		DataSource: in.DataSource, AnalysisType: in.Type,
	}
	if in.Parameters != nil {
		raw, err := jsonval.Encode(in.Parameters)
		if err != nil {
			return nil, fmt.Errorf("%w: parameters: %v", ErrValidation, err)
		}
		a.Parameters = raw
	}
	out, err := s.repo.Create(ctx, a)
	if err != nil {
		return nil, err
	}
	s.cache.Client().Delete(ctx, cache.UserAnalysesKey(in.UserID))
	return out, nil
}

func (s *AnalysisService) Get(ctx context.Context, id string) (*storage.DataAnalysis, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	return a, nil
}

// Start 把分析置为 running。
func (s *AnalysisService) Start(ctx context.Context, id string) (*storage.DataAnalysis, error) {
	p := 0.0
	return s.setStatus(ctx, id, storage.AnalysisRunning, &p)
}

// Progress 更新运行中分析的进度（0~1）。
func (s *AnalysisService) Progress(ctx context.Context, id string, progress float64) (*storage.DataAnalysis, error) {
	return s.setStatus(ctx, id, storage.AnalysisRunning, &progress)
}

func (s *AnalysisService) setStatus(ctx context.Context, id string, st storage.AnalysisStatus, p *float64) (*storage.DataAnalysis, error) {
	a, err := s.repo.UpdateStatus(ctx, id, st, p)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	return a, nil
}

// Complete 在一次状态变更中写入结果并置为 completed，随后缓存结果、刷新该用户的列表缓存。
func (s *AnalysisService) Complete(ctx context.Context, id string, results any) (*storage.DataAnalysis, error) {
	if _, err := jsonval.Normalize(results); err != nil {
		return nil, fmt.Errorf("%w: results: %v", ErrValidation, err)
	}
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status.Terminal() {
		return nil, fmt.Errorf("%w: analysis %s is %s", repository.ErrStatusTransition, id, cur.Status)
	}
	a, err := s.repo.Complete(ctx, id, results)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	if v, err := jsonval.Decode(a.Results); err == nil {
		s.cache.CacheAnalysisResult(ctx, a.UserID, a.ID, v)
	}
	s.cache.Client().Delete(ctx, cache.UserAnalysesKey(a.UserID))
	return a, nil
}

// Fail 把分析置为 failed 并记录原因。
func (s *AnalysisService) Fail(ctx context.Context, id, message string) (*storage.DataAnalysis, error) {
	a, err := s.repo.SetError(ctx, id, message)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	s.cache.InvalidateAnalysis(ctx, id)
	s.cache.Client().Delete(ctx, cache.UserAnalysesKey(a.UserID))
	return a, nil
}

// Results 旁路读取分析结果：先查 analysis_result:{id}，未命中读存储并回填。
// 未完成的分析返回 ErrNotReady。
func (s *AnalysisService) Results(ctx context.Context, id string) (any, error) {
	var v any
	if s.cache.AnalysisResult(ctx, id, &v) {
		return v, nil
	}
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != storage.AnalysisCompleted {
		return nil, ErrNotReady
	}
	v, err = jsonval.Decode(a.Results)
	if err != nil {
		return nil, err
	}
	s.cache.CacheAnalysisResult(ctx, a.UserID, a.ID, v)
	return v, nil
}

// ListForUser 按创建时间倒序分页；默认首页走 user_analyses:{id} 缓存。
func (s *AnalysisService) ListForUser(ctx context.Context, userID string, offset, limit int) ([]storage.DataAnalysis, error) {
	if limit <= 0 {
		limit = firstPageSize
	}
	firstPage := offset <= 0 && limit == firstPageSize
	if firstPage {
		var cached []storage.DataAnalysis
		if s.cache.UserAnalyses(ctx, userID, &cached) {
			return cached, nil
		}
	}
	list, err := s.repo.ListByUser(ctx, userID, offset, limit)
	if err != nil {
		return nil, err
	}
	if firstPage {
		s.cache.CacheUserAnalyses(ctx, userID, list)
	}
	return list, nil
}

// AttachFile 为分析登记一个文件。
func (s *AnalysisService) AttachFile(ctx context.Context, f *storage.AnalysisFile) (*storage.AnalysisFile, error) {
	if strings.TrimSpace(f.Filename) == "" || strings.TrimSpace(f.FilePath) == "" {
		return nil, fmt.Errorf("%w: filename and path are required", ErrValidation)
	}
	return s.files.Create(ctx, f)
}

func (s *AnalysisService) Files(ctx context.Context, analysisID string, fileType storage.FileType) ([]storage.AnalysisFile, error) {
	if fileType == "" {
		return s.files.ListByAnalysis(ctx, analysisID)
	}
	return s.files.ListByAnalysisAndType(ctx, analysisID, fileType)
}
