// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"aec-rag-go/internal/apperr"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，由 Init 填充，供服务入口使用。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Source        SourceConfig        `mapstructure:"source"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	NER           NERConfig           `mapstructure:"ner"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Chunking      ChunkingConfig      `mapstructure:"chunking"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Admission     AdmissionConfig     `mapstructure:"admission"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Query         QueryConfig         `mapstructure:"query"`
	Checkpoint    CheckpointConfig    `mapstructure:"checkpoint"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
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

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
// Topic 承载文档处理任务；NotificationTopic 承载 MinIO 的对象变更通知，可为空。
type KafkaConfig struct {
	Brokers           string `mapstructure:"brokers"`
	Topic             string `mapstructure:"topic"`
	GroupID           string `mapstructure:"group_id"`
	NotificationTopic string `mapstructure:"notification_topic"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
	Prefix          string `mapstructure:"prefix"`
}

// SourceConfig 选择文档来源。kind 为 minio 或 local。
type SourceConfig struct {
	Kind            string `mapstructure:"kind"`
	LocalRoot       string `mapstructure:"local_root"`
	Watch           bool   `mapstructure:"watch"`
	CategorySegment int    `mapstructure:"category_segment"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

// NERConfig 配置实体识别使用的模型。
type NERConfig struct {
	APIKey      string   `mapstructure:"api_key"`
	BaseURL     string   `mapstructure:"base_url"`
	Model       string   `mapstructure:"model"`
	EntityTypes []string `mapstructure:"entity_types"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Model      string              `mapstructure:"model"`
	Generation LLMGenerationConfig `mapstructure:"generation"`
	Prompt     LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
}

// ChunkingConfig 配置分块的 token 上限与重叠。
type ChunkingConfig struct {
	MaxTokens     int `mapstructure:"max_tokens"`
	OverlapTokens int `mapstructure:"overlap_tokens"`
}

// PipelineConfig 配置编排器的重试、租约和并发。
type PipelineConfig struct {
	Workers    int           `mapstructure:"workers"`
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
	LeaseTTL   time.Duration `mapstructure:"lease_ttl"`
}

// WindowConfig 是单个外部服务的准入窗口。
type WindowConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	RatePerSec  float64       `mapstructure:"rate_per_sec"`
	Burst       int           `mapstructure:"burst"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// AdmissionConfig 为每个外部服务配置准入窗口。
type AdmissionConfig struct {
	Extraction WindowConfig `mapstructure:"extraction"`
	Embedding  WindowConfig `mapstructure:"embedding"`
	NER        WindowConfig `mapstructure:"ner"`
	Completion WindowConfig `mapstructure:"completion"`
}

// SchedulerConfig 配置周期性扫描。
type SchedulerConfig struct {
	FullScanInterval time.Duration `mapstructure:"full_scan_interval"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	StaleAfter       time.Duration `mapstructure:"stale_after"`
}

// QueryConfig 配置检索与上下文组装。
type QueryConfig struct {
	TopK                 int     `mapstructure:"top_k"`
	Similarity           string  `mapstructure:"similarity"`
	MinSimilarity        float64 `mapstructure:"min_similarity"`
	MaxChunksPerDocument int     `mapstructure:"max_chunks_per_document"`
	ContextTokenBudget   int     `mapstructure:"context_token_budget"`
	InsufficientText     string  `mapstructure:"insufficient_text"`
}

// CheckpointConfig 配置阶段产物的本地缓存。
type CheckpointConfig struct {
	Path     string        `mapstructure:"path"`
	InMemory bool          `mapstructure:"in_memory"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// setDefaults 设置各项默认值。
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("kafka.topic", "aec-document-tasks")
	v.SetDefault("kafka.group_id", "aec-rag-go-workers")
	v.SetDefault("elasticsearch.index_name", "aec_knowledge_chunks")
	v.SetDefault("source.kind", "minio")
	v.SetDefault("source.category_segment", 0)
	v.SetDefault("embedding.dimensions", 1536)

	v.SetDefault("chunking.max_tokens", 500)
	v.SetDefault("chunking.overlap_tokens", 50)

	v.SetDefault("pipeline.workers", 8)
	v.SetDefault("pipeline.max_retries", 5)
	v.SetDefault("pipeline.base_delay", "2s")
	v.SetDefault("pipeline.max_delay", "2m")
	v.SetDefault("pipeline.lease_ttl", "5m")

	v.SetDefault("admission.extraction.concurrency", 4)
	v.SetDefault("admission.extraction.timeout", "120s")
	v.SetDefault("admission.embedding.concurrency", 8)
	v.SetDefault("admission.embedding.timeout", "30s")
	v.SetDefault("admission.ner.concurrency", 4)
	v.SetDefault("admission.ner.timeout", "60s")
	v.SetDefault("admission.completion.concurrency", 4)
	v.SetDefault("admission.completion.timeout", "90s")

	v.SetDefault("scheduler.full_scan_interval", "3h")
	v.SetDefault("scheduler.poll_interval", "10m")
	v.SetDefault("scheduler.stale_after", "15m")

	v.SetDefault("query.top_k", 20)
	v.SetDefault("query.similarity", "cosine")
	v.SetDefault("query.min_similarity", 0.35)
	v.SetDefault("query.max_chunks_per_document", 3)
	v.SetDefault("query.context_token_budget", 3000)
	v.SetDefault("query.insufficient_text", "I couldn't find relevant information in the indexed documents to answer this question.")

	v.SetDefault("checkpoint.path", "./data/checkpoints")
	v.SetDefault("checkpoint.ttl", "72h")
}

// Load 读取 .env（可选）和 YAML 配置文件，环境变量 AECRAG_* 可覆盖同名配置项。
// 所有失败都以 apperr.ErrConfiguration 返回。
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, apperr.Configuration("读取 .env 失败: %v", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("AECRAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, apperr.Configuration("读取配置文件失败: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperr.Configuration("无法将配置解析到结构体中: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Init 加载配置到全局变量 Conf。
func Init(configPath string) error {
	cfg, err := Load(configPath)
	if err != nil {
		return err
	}
	Conf = *cfg
	return nil
}

// Validate 检查配置的完整性和一致性。
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Embedding.BaseURL == "" || c.Embedding.Model == "" {
		add("embedding.base_url 与 embedding.model 必须配置")
	}
	if c.Chunking.MaxTokens <= 0 {
		add("chunking.max_tokens 必须大于 0")
	}
	if c.Chunking.OverlapTokens < 0 || c.Chunking.OverlapTokens >= c.Chunking.MaxTokens {
		add("chunking.overlap_tokens 必须在 [0, max_tokens) 之间")
	}
	if c.Pipeline.Workers <= 0 {
		add("pipeline.workers 必须大于 0")
	}
	if c.Pipeline.MaxRetries < 0 {
		add("pipeline.max_retries 不能为负数")
	}
	if c.Pipeline.BaseDelay <= 0 || c.Pipeline.MaxDelay < c.Pipeline.BaseDelay {
		add("pipeline.base_delay 必须大于 0 且不大于 max_delay")
	}
	if c.Pipeline.LeaseTTL < time.Second {
		add("pipeline.lease_ttl 至少为 1s")
	}
	for name, w := range map[string]WindowConfig{
		"extraction": c.Admission.Extraction,
		"embedding":  c.Admission.Embedding,
		"ner":        c.Admission.NER,
		"completion": c.Admission.Completion,
	} {
		if w.Concurrency <= 0 || w.Timeout <= 0 {
			add("admission.%s 的 concurrency 与 timeout 必须大于 0", name)
		}
	}
	switch c.Query.Similarity {
	case "cosine", "dot_product", "euclidean":
	default:
		add("query.similarity 只支持 cosine / dot_product / euclidean，当前为 %q", c.Query.Similarity)
	}
	if c.Query.TopK <= 0 || c.Query.MaxChunksPerDocument <= 0 || c.Query.ContextTokenBudget <= 0 {
		add("query.top_k、max_chunks_per_document、context_token_budget 必须大于 0")
	}
	if c.Query.MinSimilarity < -1 || c.Query.MinSimilarity > 1 {
		add("query.min_similarity 必须在 [-1, 1] 之间")
	}
	switch c.Source.Kind {
	case "minio":
		if c.MinIO.Endpoint == "" || c.MinIO.BucketName == "" {
			add("source.kind=minio 时必须配置 minio.endpoint 与 minio.bucket_name")
		}
	case "local":
		if c.Source.LocalRoot == "" {
			add("source.kind=local 时必须配置 source.local_root")
		}
	default:
		add("source.kind 只支持 minio / local，当前为 %q", c.Source.Kind)
	}
	if c.Scheduler.FullScanInterval <= 0 {
		add("scheduler.full_scan_interval 必须大于 0")
	}

	if len(problems) > 0 {
		return apperr.Configuration("%s", strings.Join(problems, "; "))
	}
	return nil
}
