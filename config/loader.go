// =============================================================================
// 📦 EventFlow 配置加载器
// =============================================================================
// 支持从 YAML 文件和环境变量加载配置
//
// 使用方式:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("/etc/eventflow/config.yaml").
//	    WithEnvPrefix("EVENTFLOW").
//	    Load()
//
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 主配置结构
// =============================================================================

// Config 是 EventFlow 节点的完整配置
type Config struct {
	// Node 节点身份
	Node NodeConfig `yaml:"node" env:"NODE"`

	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Pipeline 流水线与 cartridge 配置
	Pipeline PipelineConfig `yaml:"pipeline" env:"PIPELINE"`

	// Mesh 节点网格配置
	Mesh MeshConfig `yaml:"mesh" env:"MESH"`

	// Redis 缓存配置（去重索引）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 事件存储配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// NodeConfig 节点身份
type NodeConfig struct {
	// 节点 ID，网格内唯一
	ID string `yaml:"id" env:"ID"`
	// 所属集群，可为空
	Cluster string `yaml:"cluster" env:"CLUSTER"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// API Key（为空时不校验）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 每个客户端的请求速率
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// PipelineConfig 流水线配置
type PipelineConfig struct {
	// 并发处理的工作协程数
	Workers int `yaml:"workers" env:"WORKERS"`
	// 等待队列长度
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
	// 额外 schema 文件（YAML），为空时只使用内置 schema
	SchemaFile string `yaml:"schema_file" env:"SCHEMA_FILE"`
	// schema 文件轮询间隔
	SchemaPollInterval time.Duration `yaml:"schema_poll_interval" env:"SCHEMA_POLL_INTERVAL"`

	Trust       TrustConfig       `yaml:"trust" env:"TRUST"`
	Dedup       DedupConfig       `yaml:"dedup" env:"DEDUP"`
	Correlation CorrelationConfig `yaml:"correlation" env:"CORRELATION"`
	Promotion   PromotionConfig   `yaml:"promotion" env:"PROMOTION"`
	Installer   InstallerConfig   `yaml:"installer" env:"INSTALLER"`
}

// TrustConfig 信任评估配置
type TrustConfig struct {
	// 严格度: permissive, standard, strict
	Strictness string `yaml:"strictness" env:"STRICTNESS"`
	// 已知来源白名单
	KnownSources []string `yaml:"known_sources" env:"KNOWN_SOURCES"`
	// 已知对等节点白名单（远端事件以节点身份判断来源）
	KnownPeers []string `yaml:"known_peers" env:"KNOWN_PEERS"`
}

// DedupConfig 去重配置
type DedupConfig struct {
	// 索引后端: memory, redis
	Backend string `yaml:"backend" env:"BACKEND"`
	// 幂等键保留时间
	Retention time.Duration `yaml:"retention" env:"RETENTION"`
	// Redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// CorrelationConfig 时间窗口关联配置
type CorrelationConfig struct {
	// 窗口长度
	Window time.Duration `yaml:"window" env:"WINDOW"`
	// 同类事件突发阈值
	BurstThreshold int `yaml:"burst_threshold" env:"BURST_THRESHOLD"`
	// 级联失败阈值
	CascadeThreshold int `yaml:"cascade_threshold" env:"CASCADE_THRESHOLD"`
	// 参与级联检测的事件类型
	CascadeEvents []string `yaml:"cascade_events" env:"CASCADE_EVENTS"`
	// 单实体失败阈值
	DegradationThreshold int `yaml:"degradation_threshold" env:"DEGRADATION_THRESHOLD"`
}

// PromotionConfig 推广建议配置
type PromotionConfig struct {
	// 调用次数达到该值时建议推广
	Threshold int `yaml:"threshold" env:"THRESHOLD"`
}

// InstallerConfig 远程 cartridge 安装配置
type InstallerConfig struct {
	// 自主级别: L1, L2, L3
	Autonomy string `yaml:"autonomy" env:"AUTONOMY"`
}

// MeshConfig 节点网格配置
type MeshConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// WebSocket 监听路径
	ListenPath string `yaml:"listen_path" env:"LISTEN_PATH"`
	// 对等令牌签名密钥（HS256）
	Secret string `yaml:"secret" env:"SECRET"`
	// 令牌有效期
	TokenTTL time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
	// 单个对等节点发送超时
	SendTimeout time.Duration `yaml:"send_timeout" env:"SEND_TIMEOUT"`
	// 每个对等节点的入站速率
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT"`
	// 入站突发数
	RateBurst int `yaml:"rate_burst" env:"RATE_BURST"`
	// 静态对等节点列表
	Peers []PeerConfig `yaml:"peers" env:"-"`
}

// PeerConfig 静态对等节点
type PeerConfig struct {
	ID      string `yaml:"id"`
	Cluster string `yaml:"cluster"`
	URL     string `yaml:"url"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: sqlite, postgres, mysql
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名（sqlite 为文件路径）
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 启动时自动迁移表结构
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "EVENTFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Node.ID == "" {
		errs = append(errs, "node.id is required")
	}
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Pipeline.Workers <= 0 {
		errs = append(errs, "pipeline.workers must be positive")
	}

	switch c.Pipeline.Trust.Strictness {
	case "permissive", "standard", "strict":
	default:
		errs = append(errs, fmt.Sprintf("unknown trust strictness %q", c.Pipeline.Trust.Strictness))
	}

	switch c.Pipeline.Dedup.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("unknown dedup backend %q", c.Pipeline.Dedup.Backend))
	}
	if c.Pipeline.Dedup.Retention <= 0 {
		errs = append(errs, "pipeline.dedup.retention must be positive")
	}

	corr := c.Pipeline.Correlation
	if corr.Window <= 0 {
		errs = append(errs, "pipeline.correlation.window must be positive")
	}
	if corr.BurstThreshold <= 0 || corr.CascadeThreshold <= 0 || corr.DegradationThreshold <= 0 {
		errs = append(errs, "correlation thresholds must be positive")
	}

	if c.Pipeline.Promotion.Threshold <= 0 {
		errs = append(errs, "pipeline.promotion.threshold must be positive")
	}

	switch c.Pipeline.Installer.Autonomy {
	case "L1", "L2", "L3":
	default:
		errs = append(errs, fmt.Sprintf("unknown installer autonomy %q", c.Pipeline.Installer.Autonomy))
	}

	if c.Mesh.Enabled {
		if c.Mesh.Secret == "" {
			errs = append(errs, "mesh.secret is required when mesh is enabled")
		}
		for i, p := range c.Mesh.Peers {
			if p.ID == "" || p.URL == "" {
				errs = append(errs, fmt.Sprintf("mesh.peers[%d] needs id and url", i))
			}
		}
	}

	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
