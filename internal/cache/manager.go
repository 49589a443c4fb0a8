package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"datacore/internal/config"
	"datacore/internal/jsonval"
)

// 键命名空间。
const (
	nsAnalysisResult = "analysis_result"
	nsToolGeneration = "tool_generation"
	nsUser           = "user"
	nsUserAnalyses   = "user_analyses"
	nsUserResults    = "user_results"
	nsAPI            = "api"

	SystemStatsKey = "system_stats"
)

func AnalysisResultKey(id string) string { return nsAnalysisResult + ":" + id }
func ToolGenerationKey(id string) string { return nsToolGeneration + ":" + id }
func UserKey(id string) string           { return nsUser + ":" + id }
func UserAnalysesKey(id string) string   { return nsUserAnalyses + ":" + id }
func userResultsKey(id string) string    { return nsUserResults + ":" + id }

// APIKey 返回 api:{endpoint}:{hash}。参数先规范化再按键排序编码，
// 因此相同参数集合无论插入顺序如何都得到相同的键。
func APIKey(endpoint string, params map[string]any) (string, error) {
	n, err := jsonval.Normalize(params)
	if err != nil {
		return "", err
	}
	// encoding/json 对映射键排序，嵌套对象同样适用
	canonical, err := json.Marshal(n)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s:%016x", nsAPI, endpoint, xxhash.Sum64(canonical)), nil
}

// Manager 按命名空间组织键与默认 TTL，并负责失效策略。
type Manager struct {
	c   *Client
	ttl config.CacheConfig
}

func NewManager(c *Client, ttl config.CacheConfig) *Manager {
	return &Manager{c: c, ttl: ttl}
}

func (m *Manager) Client() *Client { return m.c }

// Available 报告缓存后端当前是否可达。
func (m *Manager) Available(ctx context.Context) bool { return m.c.Ping(ctx) }

// CacheAnalysisResult 缓存分析结果，并把键登记到所属用户的结果集合中，供精确失效。
func (m *Manager) CacheAnalysisResult(ctx context.Context, userID, analysisID string, result any) bool {
	key := AnalysisResultKey(analysisID)
	if !m.c.Set(ctx, key, result, m.ttl.ResultTTL) {
		return false
	}
	if userID != "" {
		m.c.track(ctx, userResultsKey(userID), key, m.ttl.ResultTTL)
	}
	return true
}

func (m *Manager) AnalysisResult(ctx context.Context, analysisID string, dst any) bool {
	return m.c.Get(ctx, AnalysisResultKey(analysisID), dst)
}

func (m *Manager) CacheToolGeneration(ctx context.Context, id string, v any) bool {
	return m.c.Set(ctx, ToolGenerationKey(id), v, m.ttl.ToolTTL)
}

func (m *Manager) ToolGeneration(ctx context.Context, id string, dst any) bool {
	return m.c.Get(ctx, ToolGenerationKey(id), dst)
}

func (m *Manager) CacheUser(ctx context.Context, id string, v any) bool {
	return m.c.Set(ctx, UserKey(id), v, m.ttl.UserTTL)
}

func (m *Manager) User(ctx context.Context, id string, dst any) bool {
	return m.c.Get(ctx, UserKey(id), dst)
}

func (m *Manager) CacheUserAnalyses(ctx context.Context, userID string, v any) bool {
	return m.c.Set(ctx, UserAnalysesKey(userID), v, m.ttl.ListTTL)
}

func (m *Manager) UserAnalyses(ctx context.Context, userID string, dst any) bool {
	return m.c.Get(ctx, UserAnalysesKey(userID), dst)
}

func (m *Manager) CacheSystemStats(ctx context.Context, v any) bool {
	return m.c.Set(ctx, SystemStatsKey, v, m.ttl.StatsTTL)
}

func (m *Manager) SystemStats(ctx context.Context, dst any) bool {
	return m.c.Get(ctx, SystemStatsKey, dst)
}

// CacheAPIResponse 参数含不支持的形状时不缓存。
func (m *Manager) CacheAPIResponse(ctx context.Context, endpoint string, params map[string]any, v any) bool {
	key, err := APIKey(endpoint, params)
	if err != nil {
		m.c.fail("set", endpoint, err)
		return false
	}
	return m.c.Set(ctx, key, v, m.ttl.APITTL)
}

func (m *Manager) APIResponse(ctx context.Context, endpoint string, params map[string]any, dst any) bool {
	key, err := APIKey(endpoint, params)
	if err != nil {
		return false
	}
	return m.c.Get(ctx, key, dst)
}

// InvalidateUser 删除用户资料、列表，以及登记在该用户名下的分析结果键。
// 其他用户的缓存不受影响。返回删除的键数。
func (m *Manager) InvalidateUser(ctx context.Context, userID string) int64 {
	set := userResultsKey(userID)
	keys := append([]string{UserKey(userID), UserAnalysesKey(userID), set}, m.c.members(ctx, set)...)
	return m.c.Delete(ctx, keys...)
}

// InvalidateAnalysis 删除单个分析结果。
func (m *Manager) InvalidateAnalysis(ctx context.Context, analysisID string) bool {
	return m.c.Delete(ctx, AnalysisResultKey(analysisID)) > 0
}

// InvalidateStats 删除系统统计缓存。
func (m *Manager) InvalidateStats(ctx context.Context) bool {
	return m.c.Delete(ctx, SystemStatsKey) > 0
}
