// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
// 启动时加载一次，之后只读，通过构造函数显式传递给各组件。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Auth          AuthConfig          `mapstructure:"auth"`
	OBO           OBOConfig           `mapstructure:"obo"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Conversation  ConversationConfig  `mapstructure:"conversation"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Title         TitleConfig         `mapstructure:"title"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port    string `mapstructure:"port"`
	Mode    string `mapstructure:"mode"`
	Version string `mapstructure:"version"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
	Mongo MongoConfig `mapstructure:"mongo"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MongoConfig 存储 MongoDB 的配置。
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// AuthConfig 存储入站 bearer 凭证的校验参数。
// Secret 与 PublicKeyPath 二选一：前者 HS256，后者 RS256。
type AuthConfig struct {
	Issuer              string `mapstructure:"issuer"`
	Audience            string `mapstructure:"audience"`
	Secret              string `mapstructure:"secret"`
	PublicKeyPath       string `mapstructure:"public_key_path"`
	LeewaySeconds       int    `mapstructure:"leeway_seconds"`
	DevTokenExpireHours int    `mapstructure:"dev_token_expire_hours"`
}

// OBOConfig 存储 on-behalf-of 令牌交换的配置。
type OBOConfig struct {
	TokenURL       string `mapstructure:"token_url"`
	ClientID       string `mapstructure:"client_id"`
	ClientSecret   string `mapstructure:"client_secret"`
	Scope          string `mapstructure:"scope"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	SkewSeconds    int    `mapstructure:"skew_seconds"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses   string `mapstructure:"addresses"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	IndexName   string `mapstructure:"index_name"`
	CreateIndex bool   `mapstructure:"create_index"`
	Dimensions  int    `mapstructure:"dimensions"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	Endpoint             string `mapstructure:"endpoint"`
	AccessKeyID          string `mapstructure:"access_key_id"`
	SecretAccessKey      string `mapstructure:"secret_access_key"`
	UseSSL               bool   `mapstructure:"use_ssl"`
	Region               string `mapstructure:"region"`
	PresignExpireMinutes int    `mapstructure:"presign_expire_minutes"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	Dimensions     int    `mapstructure:"dimensions"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	Model          string              `mapstructure:"model"`
	TimeoutSeconds int                 `mapstructure:"timeout_seconds"`
	Generation     LLMGenerationConfig `mapstructure:"generation"`
	Prompt         LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules    string `mapstructure:"rules"`
	RefStart string `mapstructure:"ref_start"`
	RefEnd   string `mapstructure:"ref_end"`
}

// RetrievalConfig 存储检索策略的配置。
type RetrievalConfig struct {
	DefaultApproach    string              `mapstructure:"default_approach"`
	Enabled            []string            `mapstructure:"enabled"`
	TopK               int                 `mapstructure:"top_k"`
	RelevanceThreshold float64             `mapstructure:"relevance_threshold"`
	TimeoutSeconds     int                 `mapstructure:"timeout_seconds"`
	KnowledgeBase      KnowledgeBaseConfig `mapstructure:"knowledge_base"`
}

// KnowledgeBaseConfig 存储知识库检索接口的配置。
// Remote* 用于 live_remote（委托凭证），Indexed* 用于 indexed_kb（服务级 api-key）。
type KnowledgeBaseConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	APIVersion    string `mapstructure:"api_version"`
	APIKey        string `mapstructure:"api_key"`
	RemoteKB      string `mapstructure:"remote_kb"`
	RemoteSource  string `mapstructure:"remote_source"`
	IndexedKB     string `mapstructure:"indexed_kb"`
	IndexedSource string `mapstructure:"indexed_source"`
}

// RateLimitConfig 存储限流相关的配置。
type RateLimitConfig struct {
	Driver        string `mapstructure:"driver"`
	PerMinute     int    `mapstructure:"per_minute"`
	WindowSeconds int    `mapstructure:"window_seconds"`
}

// ConversationConfig 存储会话存储相关的配置。
type ConversationConfig struct {
	Driver         string `mapstructure:"driver"`
	TTLDays        int    `mapstructure:"ttl_days"`
	HistoryWindow  int    `mapstructure:"history_window"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ChatConfig 存储问答请求相关的配置。
type ChatConfig struct {
	MaxInputLength     int `mapstructure:"max_input_length"`
	SlowRequestSeconds int `mapstructure:"slow_request_seconds"`
}

// AuditConfig 存储审计相关的配置。
type AuditConfig struct {
	MySQLEnabled bool `mapstructure:"mysql_enabled"`
}

// TitleConfig 存储会话标题后台任务的配置。
type TitleConfig struct {
	Driver  string `mapstructure:"driver"`
	Workers int    `mapstructure:"workers"`
}

var knownApproaches = map[string]bool{
	"indexed_hybrid": true,
	"live_remote":    true,
	"indexed_kb":     true,
}

// Load 从指定路径读取 YAML 文件并解析为 Config。
// 环境变量 DOCQA_<SECTION>_<KEY> 会覆盖文件中的同名配置。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DOCQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.version", "1.0.0")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("auth.leeway_seconds", 30)
	v.SetDefault("auth.dev_token_expire_hours", 8)
	v.SetDefault("obo.timeout_seconds", 10)
	v.SetDefault("obo.skew_seconds", 60)
	v.SetDefault("kafka.group_id", "docqa-title-worker")
	v.SetDefault("elasticsearch.index_name", "knowledge_base")
	v.SetDefault("elasticsearch.dimensions", 1536)
	v.SetDefault("minio.presign_expire_minutes", 60)
	v.SetDefault("embedding.timeout_seconds", 15)
	v.SetDefault("llm.timeout_seconds", 60)
	v.SetDefault("llm.prompt.ref_start", "<<REF>>")
	v.SetDefault("llm.prompt.ref_end", "<<END>>")
	v.SetDefault("retrieval.default_approach", "indexed_hybrid")
	v.SetDefault("retrieval.enabled", []string{"indexed_hybrid"})
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.relevance_threshold", 0.3)
	v.SetDefault("retrieval.timeout_seconds", 30)
	v.SetDefault("retrieval.knowledge_base.api_version", "2025-11-01-preview")
	v.SetDefault("rate_limit.driver", "memory")
	v.SetDefault("rate_limit.per_minute", 20)
	v.SetDefault("rate_limit.window_seconds", 60)
	v.SetDefault("conversation.driver", "redis")
	v.SetDefault("conversation.ttl_days", 90)
	v.SetDefault("conversation.history_window", 10)
	v.SetDefault("conversation.timeout_seconds", 5)
	v.SetDefault("chat.max_input_length", 4000)
	v.SetDefault("chat.slow_request_seconds", 5)
	v.SetDefault("title.driver", "memory")
	v.SetDefault("title.workers", 2)
}

// Validate 检查配置的一致性。
func (c *Config) Validate() error {
	if !knownApproaches[c.Retrieval.DefaultApproach] {
		return fmt.Errorf("未知的默认检索策略: %q", c.Retrieval.DefaultApproach)
	}
	defaultEnabled := false
	for _, a := range c.Retrieval.Enabled {
		if !knownApproaches[a] {
			return fmt.Errorf("未知的检索策略: %q", a)
		}
		if a == c.Retrieval.DefaultApproach {
			defaultEnabled = true
		}
	}
	if !defaultEnabled {
		return fmt.Errorf("默认检索策略 %q 未启用", c.Retrieval.DefaultApproach)
	}
	if c.RateLimit.PerMinute <= 0 || c.RateLimit.WindowSeconds <= 0 {
		return errors.New("rate_limit.per_minute 和 rate_limit.window_seconds 必须为正数")
	}
	if c.Chat.MaxInputLength <= 0 {
		return errors.New("chat.max_input_length 必须为正数")
	}
	if c.Conversation.TTLDays <= 0 {
		return errors.New("conversation.ttl_days 必须为正数")
	}
	if c.Conversation.TimeoutSeconds <= 0 {
		return errors.New("conversation.timeout_seconds 必须为正数")
	}
	if c.Auth.Secret == "" && c.Auth.PublicKeyPath == "" {
		return errors.New("auth.secret 与 auth.public_key_path 至少配置一项")
	}
	return nil
}

// ConversationTTL 返回会话的滚动过期窗口。
func (c *Config) ConversationTTL() time.Duration {
	return time.Duration(c.Conversation.TTLDays) * 24 * time.Hour
}

// StoreTimeout 返回单次会话存储或审计写入的超时时间。
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Conversation.TimeoutSeconds) * time.Second
}

// RateLimitWindow 返回限流滑动窗口长度。
func (c *Config) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// RetrievalTimeout 返回单次检索调用的超时时间。
func (c *Config) RetrievalTimeout() time.Duration {
	return time.Duration(c.Retrieval.TimeoutSeconds) * time.Second
}
