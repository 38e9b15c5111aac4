package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Dmoore628/PersonalAssistant/internal/auth"
	"github.com/Dmoore628/PersonalAssistant/pkg/logger"
	"github.com/Dmoore628/PersonalAssistant/pkg/plugin"
)

// Config 描述守护进程启动所需的全部配置。
type Config struct {
	ServiceName string          `json:"service_name" yaml:"service_name"`
	Server      ServerConfig    `json:"server" yaml:"server"`
	Logging     logger.Config   `json:"logging" yaml:"logging"`
	Bus         BusConfig       `json:"bus" yaml:"bus"`
	Store       StoreConfig     `json:"store" yaml:"store"`
	Workflow    WorkflowConfig  `json:"workflow" yaml:"workflow"`
	Executor    ExecutorConfig  `json:"executor" yaml:"executor"`
	Retention   RetentionConfig `json:"retention" yaml:"retention"`
	Metrics     MetricsConfig   `json:"metrics" yaml:"metrics"`
	Auth        auth.Config     `json:"auth" yaml:"auth"`
	// Plugins 描述需要加载的动作插件。
	Plugins plugin.ManagerConfig `json:"plugins" yaml:"plugins"`
}

// ServerConfig 控制 REST 接口的监听地址、跨域与限流。
type ServerConfig struct {
	Address        string   `json:"address" yaml:"address"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins"`
	// RateLimit 是每秒允许的提交次数，0 表示不限流。
	RateLimit float64 `json:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `json:"rate_burst" yaml:"rate_burst"`
}

// BusConfig 选择消息总线实现。
type BusConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	// Consumers 列出本进程需要消费的队列；为空时消费 plan.created 与 system.execute。
	Consumers []string `json:"consumers" yaml:"consumers"`
}

// RabbitMQConfig 描述 RabbitMQ 连接参数。
type RabbitMQConfig struct {
	URL      string `json:"url" yaml:"url"`
	Prefetch int    `json:"prefetch" yaml:"prefetch"`
}

// RedisConfig 描述 Redis 连接参数，消息总线与结果存储共用。
type RedisConfig struct {
	Address          string `json:"address" yaml:"address"`
	Password         string `json:"password" yaml:"password"`
	DB               int    `json:"db" yaml:"db"`
	KeyPrefix        string `json:"key_prefix" yaml:"key_prefix"`
	BlockWaitSeconds int    `json:"block_wait_seconds" yaml:"block_wait_seconds"`
}

// StoreConfig 选择已完成运行结果的存储后端。
type StoreConfig struct {
	Driver string      `json:"driver" yaml:"driver"`
	Redis  RedisConfig `json:"redis" yaml:"redis"`
	MySQL  MySQLConfig `json:"mysql" yaml:"mysql"`
}

// MySQLConfig 描述 MySQL 结果存储的连接池参数。
type MySQLConfig struct {
	DSN                    string `json:"dsn" yaml:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
}

// WorkflowConfig 控制编排核心的默认策略。
type WorkflowConfig struct {
	SuccessThreshold          float64     `json:"success_threshold" yaml:"success_threshold"`
	DefaultStepTimeoutSeconds float64     `json:"default_step_timeout_seconds" yaml:"default_step_timeout_seconds"`
	DefaultRetry              RetryConfig `json:"default_retry_policy" yaml:"default_retry_policy"`
}

// RetryConfig 是默认重试策略的配置形态。
type RetryConfig struct {
	MaxRetries          int     `json:"max_retries" yaml:"max_retries"`
	InitialDelaySeconds float64 `json:"initial_delay" yaml:"initial_delay"`
	BackoffMultiplier   float64 `json:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// ExecutorConfig 选择动作执行能力的提供方。
type ExecutorConfig struct {
	Driver string             `json:"driver" yaml:"driver"`
	HTTP   HTTPExecutorConfig `json:"http" yaml:"http"`
}

// HTTPExecutorConfig 描述远程执行端点。
type HTTPExecutorConfig struct {
	Endpoint       string `json:"endpoint" yaml:"endpoint"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// Timeout 返回 HTTP 客户端超时。
func (c HTTPExecutorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetentionConfig 控制已完成结果的定期清理。
type RetentionConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	Schedule      string `json:"schedule" yaml:"schedule"`
	MaxAgeSeconds int64  `json:"max_age_seconds" yaml:"max_age_seconds"`
}

// MaxAge 返回结果的最长保留时间。
func (c RetentionConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeSeconds) * time.Second
}

// MetricsConfig 控制 /metrics 是否开放。Address 为空时挂在 API 服务上，
// 否则单独监听。
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
}

// Load 解析配置文件；.yaml/.yml 使用 YAML，其余按 JSON 处理。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &cfg)
	default:
		err = json.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回不依赖配置文件的内存版配置，便于本地运行。
func Default() *Config {
	var cfg Config
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults(".")
	return &cfg
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("SERVICE_NAME"); ok && v != "" {
		c.ServiceName = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup("RABBITMQ_URL"); ok && v != "" {
		c.Bus.RabbitMQ.URL = v
		if c.Bus.Driver == "" {
			c.Bus.Driver = "rabbitmq"
		}
	}
	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		c.Bus.Redis.Address = v
		c.Store.Redis.Address = v
	}
	if v, ok := lookup("MYSQL_DSN"); ok && v != "" {
		c.Store.MySQL.DSN = v
	}
}

func (c *Config) applyDefaults(baseDir string) {
	if c.ServiceName == "" {
		c.ServiceName = "archid"
	}
	c.Logging.Service = c.ServiceName
	if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}
	if c.Plugins.PluginDir != "" && !filepath.IsAbs(c.Plugins.PluginDir) {
		c.Plugins.PluginDir = filepath.Join(baseDir, c.Plugins.PluginDir)
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst <= 0 {
		c.Server.RateBurst = int(c.Server.RateLimit)
		if c.Server.RateBurst < 1 {
			c.Server.RateBurst = 1
		}
	}

	if c.Bus.Driver == "" {
		c.Bus.Driver = "memory"
	}
	if c.Bus.RabbitMQ.Prefetch <= 0 {
		c.Bus.RabbitMQ.Prefetch = 1
	}
	if c.Bus.Redis.KeyPrefix == "" {
		c.Bus.Redis.KeyPrefix = "archi:queue:"
	}
	if c.Bus.Redis.BlockWaitSeconds <= 0 {
		c.Bus.Redis.BlockWaitSeconds = 5
	}
	if len(c.Bus.Consumers) == 0 {
		c.Bus.Consumers = []string{"plan.created", "system.execute"}
	}

	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Store.Redis.Address == "" {
		c.Store.Redis.Address = c.Bus.Redis.Address
	}
	if c.Store.Redis.KeyPrefix == "" {
		c.Store.Redis.KeyPrefix = "archi:workflow:"
	}

	if c.Workflow.SuccessThreshold <= 0 {
		c.Workflow.SuccessThreshold = 0.8
	}
	if c.Workflow.DefaultStepTimeoutSeconds <= 0 {
		c.Workflow.DefaultStepTimeoutSeconds = 30
	}
	if c.Workflow.DefaultRetry.MaxRetries <= 0 {
		c.Workflow.DefaultRetry.MaxRetries = 3
	}
	if c.Workflow.DefaultRetry.InitialDelaySeconds <= 0 {
		c.Workflow.DefaultRetry.InitialDelaySeconds = 1
	}
	if c.Workflow.DefaultRetry.BackoffMultiplier <= 0 {
		c.Workflow.DefaultRetry.BackoffMultiplier = 2
	}

	if c.Executor.Driver == "" {
		c.Executor.Driver = "simulated"
	}
	if c.Executor.HTTP.TimeoutSeconds <= 0 {
		c.Executor.HTTP.TimeoutSeconds = 60
	}

	if c.Retention.Schedule == "" {
		c.Retention.Schedule = "@hourly"
	}
	if c.Retention.MaxAgeSeconds <= 0 {
		c.Retention.MaxAgeSeconds = int64((24 * time.Hour).Seconds())
	}
}

// Validate 检查驱动名称等枚举值。
func (c *Config) Validate() error {
	switch c.Bus.Driver {
	case "memory", "rabbitmq", "redis":
	default:
		return fmt.Errorf("未知的消息总线驱动: %s", c.Bus.Driver)
	}
	if c.Bus.Driver == "rabbitmq" && c.Bus.RabbitMQ.URL == "" {
		return errors.New("rabbitmq 驱动需要配置 bus.rabbitmq.url 或 RABBITMQ_URL")
	}
	if c.Bus.Driver == "redis" && c.Bus.Redis.Address == "" {
		return errors.New("redis 驱动需要配置 bus.redis.address 或 REDIS_ADDR")
	}
	switch c.Store.Driver {
	case "memory", "redis", "mysql":
	default:
		return fmt.Errorf("未知的结果存储驱动: %s", c.Store.Driver)
	}
	if c.Store.Driver == "mysql" && c.Store.MySQL.DSN == "" {
		return errors.New("mysql 存储需要配置 store.mysql.dsn 或 MYSQL_DSN")
	}
	switch c.Executor.Driver {
	case "simulated", "http":
	default:
		return fmt.Errorf("未知的动作执行器: %s", c.Executor.Driver)
	}
	if c.Executor.Driver == "http" && c.Executor.HTTP.Endpoint == "" {
		return errors.New("http 执行器需要配置 executor.http.endpoint")
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("鉴权配置无效: %w", err)
	}
	if err := c.Plugins.Validate(); err != nil {
		return fmt.Errorf("插件配置无效: %w", err)
	}
	if c.Workflow.SuccessThreshold > 1 {
		return fmt.Errorf("workflow.success_threshold 必须位于 (0,1]: %v", c.Workflow.SuccessThreshold)
	}
	return nil
}
