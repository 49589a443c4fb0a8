package storage

import (
	"context"
	"fmt"
	"sort"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Health 是表结构健康检查结果。
type Health struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	Missing []string `json:"missing,omitempty"`
	Tables  []string `json:"tables"`
}

func (h Health) Healthy() bool { return h.Status == StatusHealthy }

// HealthCheck 先验证连通性，再确认所有实体表存在。
// 缺表只体现在返回值中；仅在连接或元数据查询失败时返回错误。
func (m *Migrator) HealthCheck(ctx context.Context) (Health, error) {
	if err := Ping(ctx, m.db); err != nil {
		return Health{Status: StatusUnhealthy, Message: err.Error(), Tables: []string{}}, err
	}
	tables, err := m.db.WithContext(ctx).Migrator().GetTables()
	if err != nil {
		return Health{Status: StatusUnhealthy, Message: err.Error(), Tables: []string{}}, fmt.Errorf("list tables: %w", err)
	}
	sort.Strings(tables)
	present := toSet(tables)
	var missing []string
	for _, t := range EntityTables {
		if _, ok := present[t]; !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return Health{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("missing tables: %v", missing),
			Missing: missing,
			Tables:  tables,
		}, nil
	}
	return Health{Status: StatusHealthy, Message: "database is healthy", Tables: tables}, nil
}
