package config

import (
	"fmt"
	"time"
)

// Config 是 FlowCanvas 的完整配置结构
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Editor    EditorConfig    `yaml:"editor" env:"EDITOR"`
	Store     StoreConfig     `yaml:"store" env:"STORE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 控制 API 监听、限流与跨域
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT" validate:"gte=1,lte=65535"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" validate:"gte=0"`

	// 按客户端 IP 的 HTTP 限流，RPS 为 0 时关闭
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS" validate:"gte=0"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST" validate:"gte=0"`

	// 单个 WebSocket 连接上的意图限流
	WSIntentRPS   float64 `yaml:"ws_intent_rps" env:"WS_INTENT_RPS" validate:"gte=0"`
	WSIntentBurst int     `yaml:"ws_intent_burst" env:"WS_INTENT_BURST" validate:"gte=0"`

	// 为空时不输出 CORS 头；同时作为 WebSocket 的 Origin 白名单
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// EditorConfig 编辑会话的行为参数
type EditorConfig struct {
	IDPrefix         string  `yaml:"id_prefix" env:"ID_PREFIX" validate:"required,max=32,excludesall=-:"`
	SnapGrid         float64 `yaml:"snap_grid" env:"SNAP_GRID" validate:"gte=0"`
	SeedNewDocuments bool    `yaml:"seed_new_documents" env:"SEED_NEW_DOCUMENTS"`

	// 0 表示关闭
	AutosaveInterval time.Duration `yaml:"autosave_interval" env:"AUTOSAVE_INTERVAL" validate:"gte=0"`
	// 0 表示会话永不回收
	IdleTimeout      time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT" validate:"gte=0"`
	SubscriberBuffer int           `yaml:"subscriber_buffer" env:"SUBSCRIBER_BUFFER" validate:"gte=1"`

	// 只能通过 YAML 配置；为空时使用内置调色板
	Palette []PaletteCategory `yaml:"palette" env:"-" validate:"dive"`
}

// PaletteCategory 调色板分类
type PaletteCategory struct {
	Name  string        `yaml:"name" validate:"required"`
	Icon  string        `yaml:"icon"`
	Items []PaletteItem `yaml:"items" validate:"dive"`
}

// PaletteItem 可拖拽的节点种类
type PaletteItem struct {
	Name    string   `yaml:"name" validate:"required"`
	Variant string   `yaml:"variant" validate:"omitempty,oneof=branch loop random split merge llm"`
	Role    string   `yaml:"role" validate:"omitempty,oneof=default input output"`
	// 句柄名参与边 id，不能包含 - 或 :
	Handles []string `yaml:"handles" validate:"dive,required,excludesall=-:"`
	Model   string   `yaml:"model"`
}

// StoreConfig 文档存储后端
type StoreConfig struct {
	// memory | file | redis | database
	Type      string           `yaml:"type" env:"TYPE" validate:"oneof=memory file redis database"`
	Dir       string           `yaml:"dir" env:"DIR"`
	Format    string           `yaml:"format" env:"FORMAT" validate:"oneof=json yaml"`
	KeyPrefix string           `yaml:"key_prefix" env:"KEY_PREFIX"`
	Timeout   time.Duration    `yaml:"timeout" env:"TIMEOUT" validate:"gte=0"`
	Cache     StoreCacheConfig `yaml:"cache" env:"CACHE"`
}

// StoreCacheConfig 在非 redis 后端前叠加一层 Redis 读缓存
type StoreCacheConfig struct {
	Enabled bool          `yaml:"enabled" env:"ENABLED"`
	TTL     time.Duration `yaml:"ttl" env:"TTL" validate:"gte=0"`
}

// RedisConfig Redis 连接
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB" validate:"gte=0"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE" validate:"gte=0"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS" validate:"gte=0"`
}

// DatabaseConfig 关系型数据库连接
type DatabaseConfig struct {
	Driver   string `yaml:"driver" env:"DRIVER" validate:"oneof=postgres mysql sqlite"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT" validate:"gte=0,lte=65535"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// sqlite 时为数据库文件路径
	Name    string `yaml:"name" env:"NAME"`
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME" validate:"gte=0"`

	// 关闭后需先执行 flowcanvas migrate up
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// DSN 返回 gorm 驱动可用的连接串，未知驱动返回空串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return d.Name
	}
	return ""
}

// LogConfig zap 日志
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	Format           string   `yaml:"format" env:"FORMAT" validate:"oneof=json console"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig OpenTelemetry 导出
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE" validate:"gte=0,lte=1"`
}
