package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v3"
)

// Config 保存进程级配置。字段提供开发友好的默认值；生产环境请在 config.yaml 或环境变量中覆盖。
type Config struct {
	Env       string
	HTTPAddr  string
	Log       LogConfig
	MySQL     MySQLConfig
	Redis     RedisConfig
	Cache     CacheConfig
	Retention RetentionConfig
	Backup    BackupConfig
}

type LogConfig struct {
	Level  string // debug|info|warn|error
	Format string // json|text
}

type MySQLConfig struct {
	// 完整连接串，非空时优先于下列分项
	DSNOverride string
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	Params      string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (m MySQLConfig) DSN() string {
	if m.DSNOverride != "" {
		return m.DSNOverride
	}
	port := m.Port
	if port == 0 {
		port = 3306
	}
	host := m.Host
	if host == "" {
		host = "127.0.0.1"
	}
	db := m.DBName
	if db == "" {
		db = "datacore"
	}
	params := m.Params
	if params == "" {
		params = "parseTime=true&loc=UTC&charset=utf8mb4"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", m.User, m.Password, host, port, db, params)
}

// DSNMasked 返回隐藏口令后的连接串，仅用于日志。
func (m MySQLConfig) DSNMasked() string {
	parsed, err := mysql.ParseDSN(m.DSN())
	if err != nil {
		return "<invalid dsn>"
	}
	if parsed.Passwd != "" {
		parsed.Passwd = "******"
	}
	return parsed.FormatDSN()
}

// Validate 校验连接串可被驱动解析。
func (m MySQLConfig) Validate() error {
	if _, err := mysql.ParseDSN(m.DSN()); err != nil {
		return fmt.Errorf("mysql dsn: %w", err)
	}
	return nil
}

type RedisConfig struct {
	// redis:// 连接串，非空时优先于 Addr/DB/Password
	URL          string
	Addr         string
	DB           int
	Password     string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// CacheConfig 为各命名空间的默认 TTL，按数据易变程度设定。
type CacheConfig struct {
	ResultTTL time.Duration
	ToolTTL   time.Duration
	UserTTL   time.Duration
	ListTTL   time.Duration
	StatsTTL  time.Duration
	APITTL    time.Duration
}

type RetentionConfig struct {
	LogDays            int
	FailedAnalysisDays int
}

type BackupConfig struct {
	Path         string
	AnalysisDays int
	ToolLimit    int
}

// Defaults 返回内置默认值（本地开发可直接运行）。
func Defaults() Config {
	return Config{
		Env:      "dev",
		HTTPAddr: ":8080",
		Log:      LogConfig{Level: "info", Format: "json"},
		MySQL: MySQLConfig{
			Host: "127.0.0.1", Port: 3306, User: "root", Password: "123456", DBName: "datacore",
			Params:       "parseTime=true&loc=UTC&charset=utf8mb4",
			MaxOpenConns: 20, MaxIdleConns: 10, ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{Addr: "127.0.0.1:6379", DialTimeout: 5 * time.Second, ReadTimeout: 3 * time.Second, WriteTimeout: 3 * time.Second},
		Cache: CacheConfig{
			ResultTTL: time.Hour, ToolTTL: time.Hour, UserTTL: 30 * time.Minute,
			ListTTL: 5 * time.Minute, StatsTTL: 10 * time.Minute, APITTL: 5 * time.Minute,
		},
		Retention: RetentionConfig{LogDays: 30, FailedAnalysisDays: 30},
		Backup:    BackupConfig{Path: "backup.json", AnalysisDays: 30, ToolLimit: 100},
	}
}

// Load 生成配置：默认值 → 同目录的配置文件（config.yaml/yml/json）→ 环境变量。
// 配置文件解析失败时保留默认值。
func Load() Config {
	cfg := Defaults()
	if path := FirstExisting("config.yaml", "config.yml", "config.json"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			log.WithError(err).WithField("path", path).Warn("config file ignored")
		}
	}
	if err := applyEnv(&cfg); err != nil {
		log.WithError(err).Warn("environment overrides ignored")
	}
	return cfg
}

// LoadFile 与 Load 相同，但使用显式路径，且文件错误会返回给调用方。
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	if err := loadFromFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// 配置文件格式：YAML 或 JSON。仅非零值会覆盖现有字段。
func loadFromFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ext := strings.ToLower(filepath.Ext(path))
	var fm fileModel
	if ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(b, &fm); err != nil {
			return err
		}
	} else if ext == ".json" || ext == "" {
		if err := json.Unmarshal(b, &fm); err != nil {
			return err
		}
	} else {
		return errors.New("unsupported config file format")
	}
	fm.apply(cfg)
	return nil
}

// --- 配置文件模型与合并逻辑 ---

type fileModel struct {
	Env       string         `yaml:"env" json:"env"`
	HTTPAddr  string         `yaml:"http_addr" json:"http_addr"`
	Log       *fileLog       `yaml:"log" json:"log"`
	MySQL     *fileMySQL     `yaml:"mysql" json:"mysql"`
	Redis     *fileRedis     `yaml:"redis" json:"redis"`
	Cache     *fileCache     `yaml:"cache" json:"cache"`
	Retention *fileRetention `yaml:"retention" json:"retention"`
	Backup    *fileBackup    `yaml:"backup" json:"backup"`
}

type fileLog struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}
type fileMySQL struct {
	DSN             string `yaml:"dsn" json:"dsn"`
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"password"`
	DBName          string `yaml:"db" json:"db"`
	Params          string `yaml:"params" json:"params"`
	MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}
type fileRedis struct {
	URL          string `yaml:"url" json:"url"`
	Addr         string `yaml:"addr" json:"addr"`
	DB           int    `yaml:"db" json:"db"`
	Password     string `yaml:"password" json:"password"`
	DialTimeout  string `yaml:"dial_timeout" json:"dial_timeout"`
	ReadTimeout  string `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout" json:"write_timeout"`
}
type fileCache struct {
	TTL struct {
		Results string `yaml:"results" json:"results"`
		Tools   string `yaml:"tools" json:"tools"`
		Users   string `yaml:"users" json:"users"`
		Lists   string `yaml:"lists" json:"lists"`
		Stats   string `yaml:"stats" json:"stats"`
		API     string `yaml:"api" json:"api"`
	} `yaml:"ttl" json:"ttl"`
}
type fileRetention struct {
	LogDays            int `yaml:"log_days" json:"log_days"`
	FailedAnalysisDays int `yaml:"failed_analysis_days" json:"failed_analysis_days"`
}
type fileBackup struct {
	Path         string `yaml:"path" json:"path"`
	AnalysisDays int    `yaml:"analysis_days" json:"analysis_days"`
	ToolLimit    int    `yaml:"tool_limit" json:"tool_limit"`
}

func (fm *fileModel) apply(cfg *Config) {
	if fm.Env != "" {
		cfg.Env = fm.Env
	}
	if fm.HTTPAddr != "" {
		cfg.HTTPAddr = fm.HTTPAddr
	}
	if fm.Log != nil {
		if fm.Log.Level != "" {
			cfg.Log.Level = fm.Log.Level
		}
		if fm.Log.Format != "" {
			cfg.Log.Format = fm.Log.Format
		}
	}
	if fm.MySQL != nil {
		if fm.MySQL.DSN != "" {
			cfg.MySQL.DSNOverride = fm.MySQL.DSN
		}
		if fm.MySQL.Host != "" {
			cfg.MySQL.Host = fm.MySQL.Host
		}
		if fm.MySQL.Port != 0 {
			cfg.MySQL.Port = fm.MySQL.Port
		}
		if fm.MySQL.User != "" {
			cfg.MySQL.User = fm.MySQL.User
		}
		if fm.MySQL.Password != "" {
			cfg.MySQL.Password = fm.MySQL.Password
		}
		if fm.MySQL.DBName != "" {
			cfg.MySQL.DBName = fm.MySQL.DBName
		}
		if fm.MySQL.Params != "" {
			cfg.MySQL.Params = fm.MySQL.Params
		}
		if fm.MySQL.MaxOpenConns != 0 {
			cfg.MySQL.MaxOpenConns = fm.MySQL.MaxOpenConns
		}
		if fm.MySQL.MaxIdleConns != 0 {
			cfg.MySQL.MaxIdleConns = fm.MySQL.MaxIdleConns
		}
		setDuration(&cfg.MySQL.ConnMaxLifetime, fm.MySQL.ConnMaxLifetime)
	}
	if fm.Redis != nil {
		if fm.Redis.URL != "" {
			cfg.Redis.URL = fm.Redis.URL
		}
		if fm.Redis.Addr != "" {
			cfg.Redis.Addr = fm.Redis.Addr
		}
		if fm.Redis.DB != 0 {
			cfg.Redis.DB = fm.Redis.DB
		}
		if fm.Redis.Password != "" {
			cfg.Redis.Password = fm.Redis.Password
		}
		setDuration(&cfg.Redis.DialTimeout, fm.Redis.DialTimeout)
		setDuration(&cfg.Redis.ReadTimeout, fm.Redis.ReadTimeout)
		setDuration(&cfg.Redis.WriteTimeout, fm.Redis.WriteTimeout)
	}
	if fm.Cache != nil {
		setDuration(&cfg.Cache.ResultTTL, fm.Cache.TTL.Results)
		setDuration(&cfg.Cache.ToolTTL, fm.Cache.TTL.Tools)
		setDuration(&cfg.Cache.UserTTL, fm.Cache.TTL.Users)
		setDuration(&cfg.Cache.ListTTL, fm.Cache.TTL.Lists)
		setDuration(&cfg.Cache.StatsTTL, fm.Cache.TTL.Stats)
		setDuration(&cfg.Cache.APITTL, fm.Cache.TTL.API)
	}
	if fm.Retention != nil {
		if fm.Retention.LogDays != 0 {
			cfg.Retention.LogDays = fm.Retention.LogDays
		}
		if fm.Retention.FailedAnalysisDays != 0 {
			cfg.Retention.FailedAnalysisDays = fm.Retention.FailedAnalysisDays
		}
	}
	if fm.Backup != nil {
		if fm.Backup.Path != "" {
			cfg.Backup.Path = fm.Backup.Path
		}
		if fm.Backup.AnalysisDays != 0 {
			cfg.Backup.AnalysisDays = fm.Backup.AnalysisDays
		}
		if fm.Backup.ToolLimit != 0 {
			cfg.Backup.ToolLimit = fm.Backup.ToolLimit
		}
	}
}

// setDuration 解析失败时保留原值。
func setDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}

// FirstExisting 按顺序返回第一个存在的文件路径；若都不存在则返回空字符串。
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
