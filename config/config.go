// Package config 加载与校验 graphflow 的 YAML 配置.
package config

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/graphflow/internal/database"
	"github.com/BaSui01/graphflow/llm"
	"github.com/BaSui01/graphflow/llm/embedding"
	"github.com/BaSui01/graphflow/retrieval"
	"github.com/BaSui01/graphflow/search"
	"github.com/BaSui01/graphflow/types"
)

// LogConfig 配置结构化日志.
type LogConfig struct {
	// Level 取 debug/info/warn/error
	Level string `yaml:"level" json:"level"`
	// Encoding 取 json 或 console
	Encoding string `yaml:"encoding" json:"encoding"`
}

// DatabaseConfig 配置 PostgreSQL 连接.
type DatabaseConfig struct {
	DSN  string              `yaml:"dsn" json:"dsn"`
	Pool database.PoolConfig `yaml:"pool" json:"pool"`
}

// Config 是 graphflow 的顶层配置.
type Config struct {
	Log       LogConfig               `yaml:"log" json:"log"`
	Database  DatabaseConfig          `yaml:"database" json:"database"`
	LLM       llm.OpenAIConfig        `yaml:"llm" json:"llm"`
	Embedding embedding.Config        `yaml:"embedding" json:"embedding"`
	Search    search.Config           `yaml:"search" json:"search"`
	Fusion    retrieval.FusionConfig  `yaml:"fusion" json:"fusion"`
	Cache     retrieval.CacheConfig   `yaml:"cache" json:"cache"`
	// SelectMode 取 ALL/SINGLE/MULTIPLE
	SelectMode string `yaml:"select_mode" json:"select_mode"`
	// DedupThreshold 是实体语义去重的相似度阈值
	DedupThreshold float64 `yaml:"dedup_threshold" json:"dedup_threshold"`
}

// Default 返回一份可直接使用的默认配置.
func Default() Config {
	return Config{
		Log:            LogConfig{Level: "info", Encoding: "json"},
		Database:       DatabaseConfig{Pool: database.DefaultPoolConfig()},
		Search:         search.DefaultConfig(),
		Fusion:         retrieval.DefaultFusionConfig(),
		Cache:          retrieval.DefaultCacheConfig(),
		SelectMode:     string(retrieval.SelectAll),
		DedupThreshold: 0.9,
	}
}

// Load 读取 YAML 配置文件, 未设置的字段保持默认值.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, types.NewErrorf(types.ErrConfiguration, "read config %s", path).WithCause(err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, types.NewErrorf(types.ErrConfiguration, "parse config %s", path).WithCause(err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 做启动前的静态检查.
func (c *Config) Validate() error {
	switch retrieval.SelectMode(c.SelectMode) {
	case retrieval.SelectAll, retrieval.SelectSingle, retrieval.SelectMultiple:
	default:
		return types.NewErrorf(types.ErrConfiguration, "unknown select_mode %q", c.SelectMode)
	}
	if c.DedupThreshold < 0 || c.DedupThreshold > 1 {
		return types.NewErrorf(types.ErrConfiguration, "dedup_threshold %v out of [0,1]", c.DedupThreshold)
	}
	if c.Embedding.Dimensions < 0 {
		return types.NewError(types.ErrConfiguration, "embedding dimensions must be non-negative")
	}
	return nil
}

// BuildLogger 按日志配置构建 zap Logger.
func (c *Config) BuildLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, types.NewErrorf(types.ErrConfiguration, "unknown log level %q", c.Log.Level)
	}
	zcfg := zap.NewProductionConfig()
	if c.Log.Encoding == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
