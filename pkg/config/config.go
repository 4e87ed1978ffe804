// Package config 提供 TOML 配置加载与环境变量覆盖，所有字段均有可运行的默认值
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config 服务配置根结构
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`
	// HTTP 服务配置
	HTTP HTTPConfig `mapstructure:"http"`
	// 数据库配置
	Database DatabaseConfig `mapstructure:"database"`
	// 日志配置
	Logger LoggerConfig `mapstructure:"logger"`
	// 市场配置
	Market MarketConfig `mapstructure:"market"`
	// 事件总线配置
	EventBus EventBusConfig `mapstructure:"eventbus"`
	// Kafka 事件镜像配置
	Kafka KafkaConfig `mapstructure:"kafka"`
	// 下游服务地址
	Services ServicesConfig `mapstructure:"services"`
	// Webhook 投递配置
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout"`
}

// Addr 返回监听地址
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig 数据库配置，所有服务共享同一个磁盘文件
type DatabaseConfig struct {
	// sqlite 文件路径，":memory:" 表示内存库
	Path string `mapstructure:"path"`
	// 最大连接数
	MaxOpenConns int `mapstructure:"max_open_conns"`
	// 最大空闲连接数
	MaxIdleConns int `mapstructure:"max_idle_conns"`
	// 是否打印 SQL
	LogEnabled bool `mapstructure:"log_enabled"`
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
}

// MarketConfig 市场与价格引擎配置
type MarketConfig struct {
	// 初始标的，格式 "SYM:PRICE:NAME,SYM:PRICE:NAME"
	InitialStocks string `mapstructure:"initial_stocks"`
	// 价格波动系数
	VolatilityFactor float64 `mapstructure:"volatility_factor"`
	// 开市小时（本地时间，0-23），-1 表示不启用定时开闭市
	OpenHour int `mapstructure:"open_hour"`
	// 闭市小时
	CloseHour int `mapstructure:"close_hour"`
}

// StockSeed 初始标的定义
type StockSeed struct {
	Symbol string
	Price  decimal.Decimal
	Name   string
}

// ParseInitialStocks 解析 initial_stocks 配置串
func (c MarketConfig) ParseInitialStocks() ([]StockSeed, error) {
	if strings.TrimSpace(c.InitialStocks) == "" {
		return nil, nil
	}
	var seeds []StockSeed
	for _, item := range strings.Split(c.InitialStocks, ",") {
		parts := strings.SplitN(strings.TrimSpace(item), ":", 3)
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid stock spec %q, want SYM:PRICE[:NAME]", item)
		}
		price, err := decimal.NewFromString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid price in stock spec %q: %w", item, err)
		}
		seed := StockSeed{Symbol: strings.ToUpper(parts[0]), Price: price}
		if len(parts) == 3 {
			seed.Name = parts[2]
		} else {
			seed.Name = seed.Symbol
		}
		seeds = append(seeds, seed)
	}
	return seeds, nil
}

// EventBusConfig 事件总线配置
type EventBusConfig struct {
	// 每订阅者队列容量
	QueueSize int `mapstructure:"queue_size"`
}

// KafkaConfig Kafka 事件镜像配置
type KafkaConfig struct {
	// 是否启用事件镜像
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	// 消费组 ID（webhook 服务消费镜像流时使用）
	GroupID string `mapstructure:"group_id"`
}

// ServicesConfig 下游服务基地址
type ServicesConfig struct {
	InvestorAddr  string `mapstructure:"investor_addr"`
	PricingAddr   string `mapstructure:"pricing_addr"`
	AnalyticsAddr string `mapstructure:"analytics_addr"`
	// 调用超时（毫秒）
	RequestTimeout int `mapstructure:"request_timeout"`
}

// WebhookConfig Webhook 投递配置
type WebhookConfig struct {
	// 单次投递超时（秒）
	DeliverTimeout int `mapstructure:"deliver_timeout"`
	// 最大投递尝试次数
	MaxAttempts int `mapstructure:"max_attempts"`
}

// Load 加载配置文件并应用环境变量覆盖。
// 环境变量使用 STOCKSIM_ 前缀，层级用下划线分隔，
// 另外保留 PRICE_VOLATILITY_FACTOR 作为波动系数的快捷覆盖。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("STOCKSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("market.volatility_factor", "PRICE_VOLATILITY_FACTOR"); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "stocksim")
	v.SetDefault("environment", "dev")
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)
	v.SetDefault("database.path", "data/stocksim.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/stocksim.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("market.initial_stocks", "AAPL:150.00:Apple,GOOG:2800.00:Alphabet,TSLA:700.00:Tesla")
	v.SetDefault("market.volatility_factor", 0.001)
	v.SetDefault("market.open_hour", -1)
	v.SetDefault("market.close_hour", -1)
	v.SetDefault("eventbus.queue_size", 1024)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.topic", "stocksim.events")
	v.SetDefault("kafka.group_id", "stocksim-webhook")
	v.SetDefault("services.investor_addr", "http://127.0.0.1:8082")
	v.SetDefault("services.pricing_addr", "http://127.0.0.1:8083")
	v.SetDefault("services.analytics_addr", "http://127.0.0.1:8084")
	v.SetDefault("services.request_timeout", 3000)
	v.SetDefault("webhook.deliver_timeout", 5)
	v.SetDefault("webhook.max_attempts", 3)
}
