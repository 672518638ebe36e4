// Package config 提供 TOML 配置加载、环境变量覆盖与校验
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 基础配置结构
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 服务版本
	Version string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`
	// HTTP 服务配置
	HTTP HTTPConfig `mapstructure:"http"`
	// 数据库配置
	Database DatabaseConfig `mapstructure:"database"`
	// Redis 配置
	Redis RedisConfig `mapstructure:"redis"`
	// Kafka 配置
	Kafka KafkaConfig `mapstructure:"kafka"`
	// 日志配置
	Logger LoggerConfig `mapstructure:"logger"`
	// 指标配置
	Metrics MetricsConfig `mapstructure:"metrics"`
	// 接口限流配置
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	// 管理接口配置
	Admin AdminConfig `mapstructure:"admin"`
	// 交易所配置
	Exchange ExchangeConfig `mapstructure:"exchange"`
}

// AdminConfig 管理接口（注资、手动维护、快照），默认关闭
type AdminConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	// 监听地址
	Host string `mapstructure:"host"`
	// 监听端口
	Port int `mapstructure:"port"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// Addr 监听地址
func (c HTTPConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动：mysql
	Driver string `mapstructure:"driver"`
	// 数据源名称
	DSN string `mapstructure:"dsn"`
	// 最大连接数
	MaxOpenConns int `mapstructure:"max_open_conns"`
	// 最大空闲连接数
	MaxIdleConns int `mapstructure:"max_idle_conns"`
	// 连接最大生命周期（秒）
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime"`
	// 是否启用日志
	LogEnabled bool `mapstructure:"log_enabled"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int `mapstructure:"slow_query_threshold"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用
	Enabled bool `mapstructure:"enabled"`
	// 主机地址
	Host string `mapstructure:"host"`
	// 端口
	Port int `mapstructure:"port"`
	// 密码
	Password string `mapstructure:"password"`
	// 数据库编号
	DB int `mapstructure:"db"`
	// 最大连接数
	MaxPoolSize int `mapstructure:"max_pool_size"`
	// 连接超时（秒）
	ConnTimeout int `mapstructure:"conn_timeout"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	// Broker 地址列表
	Brokers []string `mapstructure:"brokers"`
	// Consumer Group ID
	GroupID string `mapstructure:"group_id"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
	WithCaller bool   `mapstructure:"with_caller"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `mapstructure:"enabled"`
	// Prometheus 监听端口
	Port int `mapstructure:"port"`
	// 指标路径
	Path string `mapstructure:"path"`
}

// RateLimitConfig HTTP 请求限流，按客户端 IP
type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`
	QPS     int  `mapstructure:"qps"`
	Burst   int  `mapstructure:"burst"`
	// 本地限流器空闲多久后回收（秒）
	IdleSeconds int `mapstructure:"idle_seconds"`
}

// IdleTimeout 本地限流器空闲回收时长，未配置时为 10 分钟
func (c RateLimitConfig) IdleTimeout() time.Duration {
	if c.IdleSeconds <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.IdleSeconds) * time.Second
}

// ExchangeConfig 交易所业务配置
type ExchangeConfig struct {
	// 销售税率，范围 [0, 0.25]
	SalesTaxPercent float64 `mapstructure:"sales_tax_percent"`
	MinPricePerItem int64   `mapstructure:"min_price_per_item"`
	MaxPricePerItem int64   `mapstructure:"max_price_per_item"`
	BuyOrderSlots   int     `mapstructure:"buy_order_slots"`
	OfferSlots      int     `mapstructure:"offer_slots"`
	// 卖单挂单时长（小时）
	OfferExpirationHours int `mapstructure:"offer_expiration_hours"`
	// 买单默认与最大有效天数
	DefaultBuyOrderDays int   `mapstructure:"default_buy_order_days"`
	MaxBuyOrderDays     int   `mapstructure:"max_buy_order_days"`
	MaxQuantity         int64 `mapstructure:"max_quantity"`
	// 维护任务间隔（秒）
	MaintenanceIntervalSeconds int `mapstructure:"maintenance_interval_seconds"`
	// 可交易物品，为空表示不限制
	Items []string `mapstructure:"items"`
	// 每个玩家的价格提醒上限与有效期（小时）
	MaxWatchesPerPlayer int `mapstructure:"max_watches_per_player"`
	WatchTTLHours       int `mapstructure:"watch_ttl_hours"`

	Cooldown     CooldownConfig     `mapstructure:"cooldown"`
	Audit        AuditConfig        `mapstructure:"audit"`
	Analytics    AnalyticsConfig    `mapstructure:"analytics"`
	Notification NotificationConfig `mapstructure:"notification"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
	Snapshot     SnapshotConfig     `mapstructure:"snapshot"`
	Events       EventsConfig       `mapstructure:"events"`
}

// OfferTTL 卖单挂单时长
func (c ExchangeConfig) OfferTTL() time.Duration {
	return time.Duration(c.OfferExpirationHours) * time.Hour
}

// WatchTTL 价格提醒有效期
func (c ExchangeConfig) WatchTTL() time.Duration {
	return time.Duration(c.WatchTTLHours) * time.Hour
}

// MaintenanceInterval 维护任务间隔
func (c ExchangeConfig) MaintenanceInterval() time.Duration {
	return time.Duration(c.MaintenanceIntervalSeconds) * time.Second
}

// CooldownConfig 各操作冷却（毫秒）
type CooldownConfig struct {
	SellCreateMs int `mapstructure:"sell_create_ms"`
	BuyCreateMs  int `mapstructure:"buy_create_ms"`
	SellToggleMs int `mapstructure:"sell_toggle_ms"`
	BuyToggleMs  int `mapstructure:"buy_toggle_ms"`
}

// AuditConfig 审计日志配置
type AuditConfig struct {
	LogSize int `mapstructure:"log_size"`
}

// AnalyticsConfig 市场分析配置
type AnalyticsConfig struct {
	HistorySize int `mapstructure:"history_size"`
}

// NotificationConfig 通知配置
type NotificationConfig struct {
	MaxPerPlayer int `mapstructure:"max_per_player"`
}

// MonitoringConfig 运行指标配置
type MonitoringConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// SnapshotConfig 快照持久化配置
type SnapshotConfig struct {
	// 后端：none, file, redis, mysql
	Backend         string `mapstructure:"backend"`
	Path            string `mapstructure:"path"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
}

// Interval 快照间隔
func (c SnapshotConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// EventsConfig 成交事件发布配置
type EventsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Topic   string `mapstructure:"topic"`
	Buffer  int    `mapstructure:"buffer"`
}

// Load 从 TOML 文件加载配置，文件必须存在
func Load(configPath string) (*Config, error) {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return decode(v)
}

// LoadWithDefaults 从 TOML 文件加载配置，文件不存在时使用默认值
func LoadWithDefaults(configPath string) (*Config, error) {
	v := newViper(configPath)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return decode(v)
}

func newViper(configPath string) *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}

	ex := &c.Exchange
	if ex.SalesTaxPercent < 0 || ex.SalesTaxPercent > 0.25 {
		return fmt.Errorf("exchange.sales_tax_percent must be within [0, 0.25], got %v", ex.SalesTaxPercent)
	}
	if ex.MinPricePerItem < 1 || ex.MaxPricePerItem < ex.MinPricePerItem {
		return fmt.Errorf("invalid exchange price range [%d, %d]", ex.MinPricePerItem, ex.MaxPricePerItem)
	}
	if ex.BuyOrderSlots < 1 || ex.OfferSlots < 1 {
		return fmt.Errorf("exchange slot counts must be positive")
	}
	if ex.MaxQuantity < 1 {
		return fmt.Errorf("exchange.max_quantity must be positive")
	}
	if ex.DefaultBuyOrderDays < 1 || ex.MaxBuyOrderDays < ex.DefaultBuyOrderDays {
		return fmt.Errorf("invalid buy order duration %d (max %d)", ex.DefaultBuyOrderDays, ex.MaxBuyOrderDays)
	}
	if ex.Audit.LogSize < 100 || ex.Audit.LogSize > 10000 {
		return fmt.Errorf("exchange.audit.log_size must be within [100, 10000], got %d", ex.Audit.LogSize)
	}

	switch ex.Snapshot.Backend {
	case "", "none", "file":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("snapshot backend redis requires redis.enabled")
		}
	case "mysql":
		if c.Database.DSN == "" {
			return fmt.Errorf("snapshot backend mysql requires database.dsn")
		}
	default:
		return fmt.Errorf("unknown snapshot backend: %s", ex.Snapshot.Backend)
	}
	if ex.Events.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("exchange.events requires kafka.brokers")
	}
	return nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "grandexchange")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", 1000)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_pool_size", 10)
	v.SetDefault("redis.conn_timeout", 5)
	v.SetDefault("redis.read_timeout", 3)
	v.SetDefault("redis.write_timeout", 3)

	v.SetDefault("kafka.write_timeout", 10)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/exchange.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.qps", 20)
	v.SetDefault("ratelimit.burst", 40)
	v.SetDefault("ratelimit.idle_seconds", 600)

	v.SetDefault("admin.enabled", false)

	v.SetDefault("exchange.sales_tax_percent", 0.05)
	v.SetDefault("exchange.min_price_per_item", 1)
	v.SetDefault("exchange.max_price_per_item", 1_000_000)
	v.SetDefault("exchange.buy_order_slots", 3)
	v.SetDefault("exchange.offer_slots", 10)
	v.SetDefault("exchange.offer_expiration_hours", 168)
	v.SetDefault("exchange.default_buy_order_days", 7)
	v.SetDefault("exchange.max_buy_order_days", 30)
	v.SetDefault("exchange.max_quantity", 1_000_000)
	v.SetDefault("exchange.maintenance_interval_seconds", 60)
	v.SetDefault("exchange.max_watches_per_player", 20)
	v.SetDefault("exchange.watch_ttl_hours", 168)
	v.SetDefault("exchange.cooldown.sell_create_ms", 5000)
	v.SetDefault("exchange.cooldown.buy_create_ms", 5000)
	v.SetDefault("exchange.cooldown.sell_toggle_ms", 2000)
	v.SetDefault("exchange.cooldown.buy_toggle_ms", 2000)
	v.SetDefault("exchange.audit.log_size", 1000)
	v.SetDefault("exchange.analytics.history_size", 100)
	v.SetDefault("exchange.notification.max_per_player", 100)
	v.SetDefault("exchange.monitoring.enabled", true)
	v.SetDefault("exchange.snapshot.backend", "none")
	v.SetDefault("exchange.snapshot.path", "data/snapshots")
	v.SetDefault("exchange.snapshot.key_prefix", "grandexchange:snapshot:")
	v.SetDefault("exchange.snapshot.interval_seconds", 300)
	v.SetDefault("exchange.events.enabled", false)
	v.SetDefault("exchange.events.topic", "grandexchange.trades")
	v.SetDefault("exchange.events.buffer", 1024)
}

// GetEnv 获取环境变量，支持默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
