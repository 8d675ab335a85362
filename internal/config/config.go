package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用程序配置
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracing    TracingConfig    `yaml:"tracing"`
	Auth       AuthConfig       `yaml:"auth"`
	Webhook    WebhookConfig    `yaml:"webhook"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	Qdrant     QdrantConfig     `yaml:"qdrant"`
	MinIO      MinIOConfig      `yaml:"minio"`
	MySQL      MySQLConfig      `yaml:"mysql"`
	Redis      RedisConfig      `yaml:"redis"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Outbox     OutboxConfig     `yaml:"outbox"`
	Ingestion  IngestionConfig  `yaml:"ingestion"`
	Generation GenerationConfig `yaml:"generation"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Credits    CreditsConfig    `yaml:"credits"`

	// 模型QPM限制，key 为模型名
	ModelQPMLimits map[string]int `yaml:"model_qpm_limits"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Address         string `yaml:"address"`          // 例如 ":8080"
	ShutdownTimeout string `yaml:"shutdown_timeout"` // 例如 "10s"
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	TimeFormat   string `yaml:"time_format"`
	ReportCaller bool   `yaml:"report_caller"`
	FilePath     string `yaml:"file_path"`
}

// TracingConfig OpenTelemetry 配置
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"` // OTLP gRPC 地址，例如 "localhost:4317"
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// AuthConfig Bearer Token 校验配置
type AuthConfig struct {
	JWKSURL         string `yaml:"jwks_url"`
	Issuer          string `yaml:"issuer"`
	Audience        string `yaml:"audience"`
	RefreshInterval string `yaml:"refresh_interval"` // JWKS 后台刷新间隔
}

// WebhookConfig 支付回调签名配置
type WebhookConfig struct {
	Secret    string `yaml:"secret"`
	Tolerance string `yaml:"tolerance"` // 时间戳容忍窗口
}

// GeminiConfig 生成与向量模型配置
type GeminiConfig struct {
	APIKey             string  `yaml:"api_key"`
	GenerationModel    string  `yaml:"generation_model"`
	ExtractionModel    string  `yaml:"extraction_model"` // 公司名/职位抽取用的小模型
	EmbeddingModel     string  `yaml:"embedding_model"`
	EmbeddingDimension int     `yaml:"embedding_dimension"`
	Temperature        float64 `yaml:"temperature"`
	RequestTimeout     string  `yaml:"request_timeout"`
}

// QdrantConfig Qdrant向量数据库配置
type QdrantConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Collection  string `yaml:"collection"`
	Dimension   int    `yaml:"dimension"`
	APIKey      string `yaml:"api_key,omitempty"`
	Distance    string `yaml:"distance"`
	HTTPTimeout string `yaml:"http_timeout"`
}

// MinIOConfig MinIO配置
type MinIOConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyID"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	UseSSL          bool   `yaml:"useSSL"`
	BucketName      string `yaml:"bucketName"`
	Location        string `yaml:"location"`
	UploadURLExpiry string `yaml:"upload_url_expiry"` // 预签名上传URL有效期
	// 上传监听，关闭后需要外部把 bucket 通知接到 ingest 队列
	WatchUploads bool `yaml:"watch_uploads"`
	// 生成结果归档保留天数，0 表示不设置生命周期
	GenerationArchiveExpireDays int `yaml:"generation_archive_expire_days"`
}

// MySQLConfig MySQL配置
type MySQLConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	Username               string `yaml:"username"`
	Password               string `yaml:"password"`
	Database               string `yaml:"database"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	ConnMaxIdleTimeMinutes int    `yaml:"conn_max_idle_time_minutes"`
	ConnectTimeoutSeconds  int    `yaml:"connect_timeout_seconds"`
	ReadTimeoutSeconds     int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `yaml:"write_timeout_seconds"`
	LogLevel               int    `yaml:"log_level"` // gorm 日志级别(1-4)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Address             string `yaml:"address"`
	Password            string `yaml:"password"`
	DB                  int    `yaml:"db"`
	PoolSize            int    `yaml:"pool_size"`
	MinIdleConns        int    `yaml:"min_idle_conns"`
	DialTimeoutSeconds  int    `yaml:"dial_timeout_seconds"`
	ReadTimeoutSeconds  int    `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `yaml:"write_timeout_seconds"`
	MaxRetries          int    `yaml:"max_retries"`
	QueryVectorTTLHours int    `yaml:"query_vector_ttl_hours"` // JD 查询向量缓存时长
}

// RabbitMQConfig RabbitMQ配置
type RabbitMQConfig struct {
	URL                  string `yaml:"url"`
	ResumeExchange       string `yaml:"resume_exchange"`
	IngestRoutingKey     string `yaml:"ingest_routing_key"`
	IngestQueue          string `yaml:"ingest_queue"`
	GenerationExchange   string `yaml:"generation_exchange"`
	GenerationRoutingKey string `yaml:"generation_routing_key"`
	GenerationQueue      string `yaml:"generation_queue"`
	PrefetchCount        int    `yaml:"prefetch_count"`
	RetryInterval        string `yaml:"retry_interval"`
}

// OutboxConfig 发件箱中继配置
type OutboxConfig struct {
	PollInterval string `yaml:"poll_interval"`
	BatchSize    int    `yaml:"batch_size"`
	MaxRetries   int    `yaml:"max_retries"`
}

// IngestionConfig 简历入库配置
type IngestionConfig struct {
	ChunkSize      int    `yaml:"chunk_size"`
	ChunkOverlap   int    `yaml:"chunk_overlap"`
	UpsertBatch    int    `yaml:"upsert_batch"`
	ValidateResume *bool  `yaml:"validate_resume"` // 缺省为 true
	LockTTL        string `yaml:"lock_ttl"`
}

// GenerationConfig 生成流程配置
type GenerationConfig struct {
	TopK           int    `yaml:"top_k"`
	RetryDelay     string `yaml:"retry_delay"`
	PromptVersion  string `yaml:"prompt_version"`
	PromptDir      string `yaml:"prompt_dir"`       // 可选，覆盖内置模板
	ExtractJobInfo *bool  `yaml:"extract_job_info"` // 缺省为 true
	ArchiveResults *bool  `yaml:"archive_results"`  // 缺省为 true
}

// JobsConfig 任务生命周期配置
type JobsConfig struct {
	TTL           string `yaml:"ttl"`
	Deadline      string `yaml:"deadline"`
	SweepInterval string `yaml:"sweep_interval"`
}

// CreditsConfig 额度配置
type CreditsConfig struct {
	DefaultCredits int    `yaml:"default_credits"`
	UnlimitedTier  string `yaml:"unlimited_tier"`
	DefaultTier    string `yaml:"default_tier"`
}

// LoadConfig 从文件加载配置，再用环境变量覆盖敏感项，最后补默认值
func LoadConfig(configPath string) (*Config, error) {
	cfg, err := LoadConfigFromFileOnly(configPath)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadConfigFromFileOnly 只从文件加载配置，不读取环境变量
func LoadConfigFromFileOnly(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("必须提供配置文件路径")
	}
	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("配置文件不存在: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	envString := func(key string, target *string) {
		if v := os.Getenv(key); v != "" {
			*target = v
		}
	}
	envString("GEMINI_API_KEY", &cfg.Gemini.APIKey)
	envString("QDRANT_API_KEY", &cfg.Qdrant.APIKey)
	envString("MINIO_ACCESS_KEY", &cfg.MinIO.AccessKeyID)
	envString("MINIO_SECRET_KEY", &cfg.MinIO.SecretAccessKey)
	envString("MYSQL_PASSWORD", &cfg.MySQL.Password)
	envString("REDIS_PASSWORD", &cfg.Redis.Password)
	envString("RABBITMQ_URL", &cfg.RabbitMQ.URL)
	envString("WEBHOOK_SECRET", &cfg.Webhook.Secret)
	envString("AUTH_JWKS_URL", &cfg.Auth.JWKSURL)

	if v := os.Getenv("SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("DEFAULT_CREDITS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Credits.DefaultCredits = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ShutdownTimeout == "" {
		cfg.Server.ShutdownTimeout = "10s"
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "resume-tailor"
	}
	if cfg.Tracing.SampleRatio <= 0 {
		cfg.Tracing.SampleRatio = 1.0
	}
	if cfg.Auth.RefreshInterval == "" {
		cfg.Auth.RefreshInterval = "1h"
	}
	if cfg.Webhook.Tolerance == "" {
		cfg.Webhook.Tolerance = "5m"
	}

	if cfg.Gemini.GenerationModel == "" {
		cfg.Gemini.GenerationModel = "gemini-2.5-pro"
	}
	if cfg.Gemini.ExtractionModel == "" {
		cfg.Gemini.ExtractionModel = "gemini-2.5-flash-lite"
	}
	if cfg.Gemini.EmbeddingModel == "" {
		cfg.Gemini.EmbeddingModel = "text-embedding-004"
	}
	if cfg.Gemini.EmbeddingDimension == 0 {
		cfg.Gemini.EmbeddingDimension = 768
	}
	if cfg.Gemini.RequestTimeout == "" {
		cfg.Gemini.RequestTimeout = "120s"
	}

	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = "resume_embeddings"
	}
	if cfg.Qdrant.Dimension == 0 {
		cfg.Qdrant.Dimension = cfg.Gemini.EmbeddingDimension
	}
	if cfg.Qdrant.Distance == "" {
		cfg.Qdrant.Distance = "Cosine"
	}
	if cfg.Qdrant.HTTPTimeout == "" {
		cfg.Qdrant.HTTPTimeout = "30s"
	}

	if cfg.MinIO.BucketName == "" {
		cfg.MinIO.BucketName = "resumes"
	}
	if cfg.MinIO.UploadURLExpiry == "" {
		cfg.MinIO.UploadURLExpiry = "1h"
	}

	if cfg.Redis.QueryVectorTTLHours == 0 {
		cfg.Redis.QueryVectorTTLHours = 24
	}

	if cfg.RabbitMQ.ResumeExchange == "" {
		cfg.RabbitMQ.ResumeExchange = "resume.events.exchange"
	}
	if cfg.RabbitMQ.IngestRoutingKey == "" {
		cfg.RabbitMQ.IngestRoutingKey = "resume.uploaded"
	}
	if cfg.RabbitMQ.IngestQueue == "" {
		cfg.RabbitMQ.IngestQueue = "q.resume_ingest"
	}
	if cfg.RabbitMQ.GenerationExchange == "" {
		cfg.RabbitMQ.GenerationExchange = "generation.events.exchange"
	}
	if cfg.RabbitMQ.GenerationRoutingKey == "" {
		cfg.RabbitMQ.GenerationRoutingKey = "generation.requested"
	}
	if cfg.RabbitMQ.GenerationQueue == "" {
		cfg.RabbitMQ.GenerationQueue = "q.generation_requests"
	}
	if cfg.RabbitMQ.PrefetchCount == 0 {
		cfg.RabbitMQ.PrefetchCount = 4
	}
	if cfg.RabbitMQ.RetryInterval == "" {
		cfg.RabbitMQ.RetryInterval = "5s"
	}

	if cfg.Outbox.PollInterval == "" {
		cfg.Outbox.PollInterval = "2s"
	}
	if cfg.Outbox.BatchSize == 0 {
		cfg.Outbox.BatchSize = 20
	}
	if cfg.Outbox.MaxRetries == 0 {
		cfg.Outbox.MaxRetries = 5
	}

	if cfg.Ingestion.ChunkSize == 0 {
		cfg.Ingestion.ChunkSize = 1000
	}
	if cfg.Ingestion.ChunkOverlap == 0 {
		cfg.Ingestion.ChunkOverlap = 100
	}
	if cfg.Ingestion.UpsertBatch == 0 {
		cfg.Ingestion.UpsertBatch = 100
	}
	if cfg.Ingestion.LockTTL == "" {
		cfg.Ingestion.LockTTL = "10m"
	}
	if cfg.Ingestion.ValidateResume == nil {
		cfg.Ingestion.ValidateResume = BoolPtr(true)
	}

	if cfg.Generation.TopK == 0 {
		cfg.Generation.TopK = 5
	}
	if cfg.Generation.RetryDelay == "" {
		cfg.Generation.RetryDelay = "2s"
	}
	if cfg.Generation.PromptVersion == "" {
		cfg.Generation.PromptVersion = "structured-v1"
	}
	if cfg.Generation.ExtractJobInfo == nil {
		cfg.Generation.ExtractJobInfo = BoolPtr(true)
	}
	if cfg.Generation.ArchiveResults == nil {
		cfg.Generation.ArchiveResults = BoolPtr(true)
	}

	if cfg.Jobs.TTL == "" {
		cfg.Jobs.TTL = "24h"
	}
	if cfg.Jobs.Deadline == "" {
		cfg.Jobs.Deadline = "15m"
	}
	if cfg.Jobs.SweepInterval == "" {
		cfg.Jobs.SweepInterval = "10m"
	}

	if cfg.Credits.DefaultCredits == 0 {
		cfg.Credits.DefaultCredits = 3
	}
	if cfg.Credits.UnlimitedTier == "" {
		cfg.Credits.UnlimitedTier = "unlimited"
	}
	if cfg.Credits.DefaultTier == "" {
		cfg.Credits.DefaultTier = "free"
	}
}

// BoolPtr 返回 b 的指针，用于区分“未配置”和 false
func BoolPtr(b bool) *bool {
	return &b
}

// BoolOr 未配置时返回 def
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// GetDuration 解析时长字符串，失败或为空时返回默认值
func GetDuration(value string, defaultDuration time.Duration) time.Duration {
	if value == "" {
		return defaultDuration
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return defaultDuration
	}
	return d
}
