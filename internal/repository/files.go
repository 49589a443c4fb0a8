package repository

import (
	"context"

	"gorm.io/gorm"

	"datacore/internal/storage"
)

type FileRepository struct {
	*Repo[storage.AnalysisFile]
}

func NewFileRepository(db *gorm.DB) *FileRepository {
	r := newRepo[storage.AnalysisFile](db, "analysis_file", "data_analysis_id")
	r.validate = func(f *storage.AnalysisFile) error {
		if f.DataAnalysisID == "" {
			return invalid("analysis_file.data_analysis_id is required")
		}
		if !f.FileType.Valid() {
			return invalid("unknown file type %q", f.FileType)
		}
		if f.FileSize < 0 {
			return invalid("negative file size")
		}
		return nil
	}
	return &FileRepository{Repo: r}
}

func (r *FileRepository) ListByAnalysis(ctx context.Context, analysisID string) ([]storage.AnalysisFile, error) {
	q := r.db.WithContext(ctx).Where("data_analysis_id = ?", analysisID).Order("created_at, id")
	return r.find(q, "list_by_analysis")
}

func (r *FileRepository) ListByAnalysisAndType(ctx context.Context, analysisID string, fileType storage.FileType) ([]storage.AnalysisFile, error) {
	q := r.db.WithContext(ctx).Where("data_analysis_id = ? AND file_type = ?", analysisID, fileType).Order("created_at, id")
	return r.find(q, "list_by_analysis_and_type")
}
