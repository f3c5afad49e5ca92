package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/newplayman/orderly-stream/internal/gateway"
)

// Config 全局配置结构
type Config struct {
	NetworkID      string          `mapstructure:"network_id"`       // mainnet | testnet
	AccountID      string          `mapstructure:"account_id"`       // Orderly account id，拼接在 ws 地址末尾
	OrderlyKey     string          `mapstructure:"orderly_key"`      // ed25519:<base58 公钥>
	OrderlySecret  string          `mapstructure:"orderly_secret"`   // ed25519:<base58 私钥>
	PublicURL      string          `mapstructure:"public_url"`       // 可选，覆盖公共流地址
	PrivateURL     string          `mapstructure:"private_url"`      // 可选，覆盖私有流地址
	PingIntervalMs int             `mapstructure:"ping_interval_ms"` // 心跳间隔 (ms)
	LogLevel       string          `mapstructure:"log_level"`        // 日志级别
	MetricsPort    int             `mapstructure:"metrics_port"`     // Prometheus 端口，0 表示不启动
	PublicTopics   []string        `mapstructure:"public_topics"`    // 启动时订阅的公共 topic
	PrivateTopics  []string        `mapstructure:"private_topics"`   // 启动时订阅的私有 topic
	Reconnect      ReconnectConfig `mapstructure:"reconnect"`
	Watchdog       WatchdogConfig  `mapstructure:"watchdog"`
}

// ReconnectConfig 断线重连（指数退避）
type ReconnectConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	InitialIntervalMs int     `mapstructure:"initial_interval_ms"`
	MaxIntervalMs     int     `mapstructure:"max_interval_ms"`
	Multiplier        float64 `mapstructure:"multiplier"`
	MaxElapsedSec     int     `mapstructure:"max_elapsed_sec"` // 0 表示一直重试
}

// WatchdogConfig 数据流停滞检测
type WatchdogConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	CheckIntervalSec  int  `mapstructure:"check_interval_sec"`
	StaleThresholdSec int  `mapstructure:"stale_threshold_sec"`
}

var (
	mu           sync.RWMutex
	globalConfig *Config
	reloadHooks  []func(*Config)
)

// LoadConfig 加载配置文件
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	// 环境变量覆盖
	v.SetEnvPrefix("ORDERLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 密钥只建议放在环境变量里
	_ = v.BindEnv("orderly_key", "ORDERLY_KEY")
	_ = v.BindEnv("orderly_secret", "ORDERLY_SECRET")
	_ = v.BindEnv("account_id", "ORDERLY_ACCOUNT_ID")
	_ = v.BindEnv("network_id", "ORDERLY_NETWORK_ID")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	globalConfig = cfg
	mu.Unlock()

	// 启动热重载监听
	watchConfig(v)

	log.Info().Str("path", path).Str("network", cfg.NetworkID).Msg("配置加载成功")
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network_id", gateway.NetworkMainnet)
	v.SetDefault("ping_interval_ms", int(gateway.DefaultPingInterval/time.Millisecond))
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_port", 0)
	v.SetDefault("reconnect.enabled", true)
	v.SetDefault("reconnect.initial_interval_ms", 500)
	v.SetDefault("reconnect.max_interval_ms", 30000)
	v.SetDefault("reconnect.multiplier", 2.0)
	v.SetDefault("reconnect.max_elapsed_sec", 0)
	v.SetDefault("watchdog.enabled", true)
	v.SetDefault("watchdog.check_interval_sec", 5)
	v.SetDefault("watchdog.stale_threshold_sec", 60)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return &cfg, nil
}

// GetConfig 获取全局配置
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return globalConfig
}

// OnReload 注册热重载回调，只在新配置通过校验后调用。
func OnReload(fn func(*Config)) {
	mu.Lock()
	reloadHooks = append(reloadHooks, fn)
	mu.Unlock()
}

// validateConfig 验证配置有效性
func validateConfig(cfg *Config) error {
	cfg.NetworkID = strings.ToLower(cfg.NetworkID)
	if cfg.PublicURL == "" || cfg.PrivateURL == "" {
		if cfg.NetworkID != gateway.NetworkMainnet && cfg.NetworkID != gateway.NetworkTestnet {
			return fmt.Errorf("network_id 必须是 mainnet 或 testnet，当前为 %q", cfg.NetworkID)
		}
	}
	if cfg.AccountID == "" {
		return fmt.Errorf("account_id 不能为空")
	}
	if cfg.OrderlyKey == "" || cfg.OrderlySecret == "" {
		return fmt.Errorf("orderly_key 和 orderly_secret 不能为空")
	}
	if cfg.PingIntervalMs < 100 || cfg.PingIntervalMs > 60000 {
		return fmt.Errorf("ping_interval_ms 必须在 100-60000 之间")
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level 无效: %w", err)
	}
	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return fmt.Errorf("metrics_port 必须在 0-65535 之间")
	}

	if cfg.Reconnect.Enabled {
		r := cfg.Reconnect
		if r.InitialIntervalMs <= 0 {
			return fmt.Errorf("reconnect.initial_interval_ms 必须 > 0")
		}
		if r.MaxIntervalMs < r.InitialIntervalMs {
			return fmt.Errorf("reconnect.max_interval_ms 必须 >= initial_interval_ms")
		}
		if r.Multiplier < 1.0 {
			return fmt.Errorf("reconnect.multiplier 必须 >= 1.0")
		}
		if r.MaxElapsedSec < 0 {
			return fmt.Errorf("reconnect.max_elapsed_sec 不能为负")
		}
	}

	if cfg.Watchdog.Enabled {
		w := cfg.Watchdog
		if w.CheckIntervalSec <= 0 {
			return fmt.Errorf("watchdog.check_interval_sec 必须 > 0")
		}
		if w.StaleThresholdSec <= w.CheckIntervalSec {
			return fmt.Errorf("watchdog.stale_threshold_sec 必须 > check_interval_sec")
		}
	}

	for i, topic := range cfg.PublicTopics {
		if strings.TrimSpace(topic) == "" {
			return fmt.Errorf("public_topics[%d] 不能为空", i)
		}
	}
	for i, topic := range cfg.PrivateTopics {
		if strings.TrimSpace(topic) == "" {
			return fmt.Errorf("private_topics[%d] 不能为空", i)
		}
	}
	return nil
}

// watchConfig 监听配置文件变化并热重载。
// 连接参数（地址、密钥）不会热更新，只有日志级别立即生效，其余交给回调。
func watchConfig(v *viper.Viper) {
	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().Str("file", e.Name).Msg("检测到配置文件变化，正在重载...")

		newCfg, err := decode(v)
		if err != nil {
			log.Error().Err(err).Msg("新配置验证失败，保持旧配置")
			return
		}
		ApplyLogLevel(newCfg.LogLevel)

		mu.Lock()
		globalConfig = newCfg
		hooks := append(([]func(*Config))(nil), reloadHooks...)
		mu.Unlock()

		for _, fn := range hooks {
			fn(newCfg)
		}
		log.Info().Str("log_level", newCfg.LogLevel).Msg("配置热重载成功")
	})
	v.WatchConfig()
}

// ApplyLogLevel 设置全局日志级别，无法解析时保持 info。
func ApplyLogLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// GetPingInterval 获取心跳间隔
func (c *Config) GetPingInterval() time.Duration {
	return time.Duration(c.PingIntervalMs) * time.Millisecond
}

// ConnectionConfig 转换为网关连接配置。
func (c *Config) ConnectionConfig() gateway.ConnectionConfig {
	return gateway.ConnectionConfig{
		NetworkID:    c.NetworkID,
		AccountID:    c.AccountID,
		PublicKey:    c.OrderlyKey,
		PrivateKey:   c.OrderlySecret,
		PublicURL:    c.PublicURL,
		PrivateURL:   c.PrivateURL,
		PingInterval: c.GetPingInterval(),
	}
}

// InitialInterval 首次重连等待
func (r ReconnectConfig) InitialInterval() time.Duration {
	return time.Duration(r.InitialIntervalMs) * time.Millisecond
}

// MaxInterval 单次重连最大等待
func (r ReconnectConfig) MaxInterval() time.Duration {
	return time.Duration(r.MaxIntervalMs) * time.Millisecond
}

// MaxElapsed 放弃重连前的总时长，0 表示不限
func (r ReconnectConfig) MaxElapsed() time.Duration {
	return time.Duration(r.MaxElapsedSec) * time.Second
}

// CheckInterval 巡检间隔
func (w WatchdogConfig) CheckInterval() time.Duration {
	return time.Duration(w.CheckIntervalSec) * time.Second
}

// StaleThreshold 无数据判定阈值
func (w WatchdogConfig) StaleThreshold() time.Duration {
	return time.Duration(w.StaleThresholdSec) * time.Second
}
