// =============================================================================
// 📦 EventFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"os"
	"time"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Node:      DefaultNodeConfig(),
		Server:    DefaultServerConfig(),
		Pipeline:  DefaultPipelineConfig(),
		Mesh:      DefaultMeshConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultNodeConfig 以主机名作为节点 ID
func DefaultNodeConfig() NodeConfig {
	id, err := os.Hostname()
	if err != nil || id == "" {
		id = "eventflow-node"
	}
	return NodeConfig{ID: id}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultPipelineConfig 返回默认流水线配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Workers:            16,
		QueueSize:          1024,
		SchemaPollInterval: 5 * time.Second,
		Trust: TrustConfig{
			Strictness: "standard",
		},
		Dedup: DedupConfig{
			Backend:   "memory",
			Retention: 10 * time.Minute,
			KeyPrefix: "eventflow:dedup:",
		},
		Correlation: CorrelationConfig{
			Window:               5 * time.Minute,
			BurstThreshold:       20,
			CascadeThreshold:     3,
			CascadeEvents:        []string{"system.worker.crashed"},
			DegradationThreshold: 3,
		},
		Promotion: PromotionConfig{
			Threshold: 1000,
		},
		Installer: InstallerConfig{
			Autonomy: "L1",
		},
	}
}

// DefaultMeshConfig 返回默认网格配置
func DefaultMeshConfig() MeshConfig {
	return MeshConfig{
		Enabled:     false,
		ListenPath:  "/mesh/v1/ws",
		TokenTTL:    time.Hour,
		SendTimeout: 5 * time.Second,
		RateLimit:   50,
		RateBurst:   100,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置（嵌入式 sqlite）
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "eventflow",
		Password:        "",
		Name:            "eventflow.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "eventflow",
		SampleRate:   0.1,
	}
}
