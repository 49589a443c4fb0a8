package repository

import "gorm.io/gorm"

// Set 汇集共享同一连接的全部仓储，启动时构造一次并显式传递。
type Set struct {
	Users        *UserRepository
	Analyses     *AnalysisRepository
	Files        *FileRepository
	Tools        *ToolRepository
	Logs         *LogRepository
	CacheEntries *CacheEntryRepository
}

func NewSet(db *gorm.DB) *Set {
	return &Set{
		Users:        NewUserRepository(db),
		Analyses:     NewAnalysisRepository(db),
		Files:        NewFileRepository(db),
		Tools:        NewToolRepository(db),
		Logs:         NewLogRepository(db),
		CacheEntries: NewCacheEntryRepository(db),
	}
}
