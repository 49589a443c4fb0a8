package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"datacore/internal/jsonval"
)

// 本文件定义持久化层使用的所有 GORM 模型，集中管理数据结构。
// 性能索引不在标签中声明，由迁移 002 统一创建。

type AnalysisType string

const (
	AnalysisStatistical   AnalysisType = "statistical"
	AnalysisML            AnalysisType = "ml"
	AnalysisVisualization AnalysisType = "visualization"
	AnalysisCorrelation   AnalysisType = "correlation"
	AnalysisTrend         AnalysisType = "trend"
)

// Valid 空值表示未分类，允许写入。
func (t AnalysisType) Valid() bool {
	switch t {
	case "", AnalysisStatistical, AnalysisML, AnalysisVisualization, AnalysisCorrelation, AnalysisTrend:
		return true
	}
	return false
}

type AnalysisStatus string

const (
	AnalysisPending   AnalysisStatus = "pending"
	AnalysisRunning   AnalysisStatus = "running"
	AnalysisCompleted AnalysisStatus = "completed"
	AnalysisFailed    AnalysisStatus = "failed"
)

// Rank 返回状态在前进序列中的位置，未知状态为 -1。
func (s AnalysisStatus) Rank() int {
	switch s {
	case AnalysisPending:
		return 0
	case AnalysisRunning:
		return 1
	case AnalysisCompleted, AnalysisFailed:
		return 2
	}
	return -1
}

func (s AnalysisStatus) Terminal() bool { return s == AnalysisCompleted || s == AnalysisFailed }

type ToolType string

const (
	ToolCalculator ToolType = "calculator"
	ToolConverter  ToolType = "converter"
	ToolAnalyzer   ToolType = "analyzer"
	ToolGenerator  ToolType = "generator"
	ToolValidator  ToolType = "validator"
)

func (t ToolType) Valid() bool {
	switch t {
	case "", ToolCalculator, ToolConverter, ToolAnalyzer, ToolGenerator, ToolValidator:
		return true
	}
	return false
}

type ToolStatus string

const (
	ToolPending    ToolStatus = "pending"
	ToolGenerating ToolStatus = "generating"
	ToolCompleted  ToolStatus = "completed"
	ToolFailed     ToolStatus = "failed"
)

func (s ToolStatus) Rank() int {
	switch s {
	case ToolPending:
		return 0
	case ToolGenerating:
		return 1
	case ToolCompleted, ToolFailed:
		return 2
	}
	return -1
}

func (s ToolStatus) Terminal() bool { return s == ToolCompleted || s == ToolFailed }

type FileType string

const (
	FileInput  FileType = "input"
	FileOutput FileType = "output"
	FileReport FileType = "report"
)

func (t FileType) Valid() bool {
	switch t {
	case "", FileInput, FileOutput, FileReport:
		return true
	}
	return false
}

// 日志级别沿用分析服务的大写约定。
const (
	LevelDebug   = "DEBUG"
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
)

type User struct {
	ID             string    `gorm:"type:char(36);primaryKey" json:"id"`
	Username       string    `gorm:"size:50;not null;uniqueIndex" json:"username"`
	Email          string    `gorm:"size:100;not null;uniqueIndex" json:"email"`
	HashedPassword string    `gorm:"size:255;not null" json:"-"`
	IsActive       bool      `gorm:"not null" json:"is_active"`
	IsSuperuser    bool      `gorm:"not null" json:"is_superuser"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	DataAnalyses    []DataAnalysis   `gorm:"foreignKey:UserID" json:"data_analyses,omitempty"`
	ToolGenerations []ToolGeneration `gorm:"foreignKey:UserID" json:"tool_generations,omitempty"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	u.ID = ensureID(u.ID)
	return nil
}

type DataAnalysis struct {
	ID           string         `gorm:"type:char(36);primaryKey" json:"id"`
	UserID       string         `gorm:"type:char(36);not null" json:"user_id"`
	Title        string         `gorm:"size:200;not null" json:"title"`
	Description  string         `gorm:"type:text" json:"description"`
	DataSource   string         `gorm:"size:500" json:"data_source"`
	AnalysisType AnalysisType   `gorm:"size:50" json:"analysis_type"`
	Parameters   jsonval.JSON   `json:"parameters"` // 分析参数
	Results      jsonval.JSON   `json:"results"`    // 分析结果
	Status       AnalysisStatus `gorm:"size:20;not null;default:pending" json:"status"`
	Progress     float64        `gorm:"not null;default:0" json:"progress"`
	ErrorMessage *string        `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`

	AnalysisFiles []AnalysisFile `gorm:"foreignKey:DataAnalysisID" json:"analysis_files,omitempty"`
}

func (DataAnalysis) TableName() string { return "data_analyses" }

func (a *DataAnalysis) BeforeCreate(*gorm.DB) error {
	a.ID = ensureID(a.ID)
	if a.Status == "" {
		a.Status = AnalysisPending
	}
	return nil
}

type AnalysisFile struct {
	ID             string    `gorm:"type:char(36);primaryKey" json:"id"`
	DataAnalysisID string    `gorm:"type:char(36);not null" json:"data_analysis_id"`
	Filename       string    `gorm:"size:255;not null" json:"filename"`
	FilePath       string    `gorm:"size:500;not null" json:"file_path"`
	FileType       FileType  `gorm:"size:50" json:"file_type"`
	FileSize       int64     `json:"file_size"`
	MimeType       string    `gorm:"size:100" json:"mime_type"`
	CreatedAt      time.Time `json:"created_at"`
}

func (f *AnalysisFile) BeforeCreate(*gorm.DB) error {
	f.ID = ensureID(f.ID)
	return nil
}

type ToolGeneration struct {
	ID            string       `gorm:"type:char(36);primaryKey" json:"id"`
	UserID        string       `gorm:"type:char(36);not null" json:"user_id"`
	ToolName      string       `gorm:"size:200;not null" json:"tool_name"`
	Description   string       `gorm:"type:text" json:"description"`
	ToolType      ToolType     `gorm:"size:50" json:"tool_type"`
	Requirements  jsonval.JSON `json:"requirements"` // 工具需求说明
	GeneratedCode string       `gorm:"type:longtext" json:"generated_code"`
	Dependencies  jsonval.JSON `json:"dependencies"` // 依赖列表
	Status        ToolStatus   `gorm:"size:20;not null;default:pending" json:"status"`
	ErrorMessage  *string      `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
}

func (t *ToolGeneration) BeforeCreate(*gorm.DB) error {
	t.ID = ensureID(t.ID)
	if t.Status == "" {
		t.Status = ToolPending
	}
	return nil
}

// SystemLog 只追加；按月子表（system_logs_YYYY_MM）用于保留期管理。
type SystemLog struct {
	ID        string       `gorm:"type:char(36);primaryKey" json:"id"`
	Level     string       `gorm:"size:20;not null" json:"level"`
	Service   string       `gorm:"size:50;not null" json:"service"`
	Message   string       `gorm:"type:text;not null" json:"message"`
	Details   jsonval.JSON `json:"details"` // 结构化详情
	CreatedAt time.Time    `json:"created_at"`
}

func (l *SystemLog) BeforeCreate(*gorm.DB) error {
	l.ID = ensureID(l.ID)
	return nil
}

// CacheEntry 是独立于 Redis 的持久化兜底缓存；ExpiresAt 到期即视为不存在。
type CacheEntry struct {
	ID        string       `gorm:"type:char(36);primaryKey" json:"id"`
	Key       string       `gorm:"size:255;not null;uniqueIndex" json:"key"`
	Value     jsonval.JSON `json:"value"`
	ExpiresAt time.Time    `gorm:"not null" json:"expires_at"`
	CreatedAt time.Time    `json:"created_at"`
}

func (CacheEntry) TableName() string { return "cache_entries" }

func (c *CacheEntry) BeforeCreate(*gorm.DB) error {
	c.ID = ensureID(c.ID)
	return nil
}

// MigrationRecord 是迁移台账的一行，只在对应变更成功后写入。
type MigrationRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	Version   string    `gorm:"size:50;not null;uniqueIndex"`
	Name      string    `gorm:"size:255;not null"`
	AppliedAt time.Time `gorm:"not null"`
}

func (MigrationRecord) TableName() string { return migrationTable }

func ensureID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// EntityModels 返回基线迁移需要建立的全部实体模型（依赖顺序：先被引用方）。
func EntityModels() []any {
	return []any{&User{}, &DataAnalysis{}, &AnalysisFile{}, &ToolGeneration{}, &SystemLog{}, &CacheEntry{}}
}

// EntityTables 为健康检查要求存在的实体表名。
var EntityTables = []string{
	"users", "data_analyses", "analysis_files",
	"tool_generations", "system_logs", "cache_entries",
}
