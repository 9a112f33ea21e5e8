// Package config defines all configuration for the alert engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// deployment-sensitive fields overridable via ALERT_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"alertengine/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Store    StoreConfig    `mapstructure:"store"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// EngineConfig controls the cross-process single-worker lease.
//
//   - SingleWorker: when true, only the lease holder fires alerts; warm
//     standbys keep their ring buffers populated but stay silent.
//   - LeaseName: primary key of the lease row shared by all replicas.
//   - LeaseTTL / LeaseHeartbeat / LeaseRetry: see the lease coordinator.
//   - InstanceID: stable owner identity; generated when empty.
type EngineConfig struct {
	SingleWorker   bool          `mapstructure:"single_worker"`
	LeaseName      string        `mapstructure:"lease_name"`
	LeaseTTL       time.Duration `mapstructure:"lease_ttl"`
	LeaseHeartbeat time.Duration `mapstructure:"lease_heartbeat"`
	LeaseRetry     time.Duration `mapstructure:"lease_retry"`
	InstanceID     string        `mapstructure:"instance_id"`
	ShutdownWait   time.Duration `mapstructure:"shutdown_wait"`
}

// PairConfig names one (exchange, market) the fan-in ingests.
type PairConfig struct {
	Exchange string `mapstructure:"exchange"`
	Market   string `mapstructure:"market"`
}

// FeedConfig controls the price fan-in.
type FeedConfig struct {
	Pairs        []PairConfig  `mapstructure:"pairs"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// UseWebsocket switches the Binance pairs to the miniTicker push stream;
	// other exchanges always poll.
	UseWebsocket  bool   `mapstructure:"use_websocket"`
	MailboxSize   int    `mapstructure:"mailbox_size"`
	BinanceWSSpot string `mapstructure:"binance_ws_spot"`
	BinanceWSFut  string `mapstructure:"binance_ws_futures"`
}

// AlertsConfig tunes the evaluation loops.
//
//   - FastInterval: fast price-alert loop cadence (floor 150ms).
//   - Cooldown: minimum spacing between two complex fires per (alert, symbol).
//   - CacheRefresh: complex alert cache reload period.
//   - SweepInterval: safety-net sweeper period.
//   - KlinesInterval / KlinesLookback / KlinesDelay: historical recovery sweep.
type AlertsConfig struct {
	FastInterval   time.Duration `mapstructure:"fast_interval"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	CacheRefresh   time.Duration `mapstructure:"cache_refresh"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	KlinesInterval time.Duration `mapstructure:"klines_interval"`
	KlinesLookback time.Duration `mapstructure:"klines_lookback"`
	KlinesDelay    time.Duration `mapstructure:"klines_delay"`
}

// StoreConfig sets the SQLite database location shared by all replicas.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// RealtimeConfig controls the websocket push server.
type RealtimeConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TelegramConfig holds the bot token for messenger dispatch.
// An empty token disables Telegram delivery entirely.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	BaseURL  string `mapstructure:"base_url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// FastIntervalFloor is the hard lower bound on the fast loop cadence.
const FastIntervalFloor = 150 * time.Millisecond

// Load reads config from a YAML file with env var overrides.
// Deployment knobs use the env names shared with the rest of the platform:
// ALERT_ENGINE_SINGLE_WORKER, ALERT_ENGINE_LEASE_NAME, ALERT_ENGINE_LEASE_TTL_MS,
// ALERT_ENGINE_LEASE_HEARTBEAT_MS, ALERT_ENGINE_LEASE_RETRY_MS,
// ALERT_ENGINE_INSTANCE_ID, PRICE_ALERT_POLL_MS, TELEGRAM_BOT_TOKEN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ALERT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if cfg.Alerts.FastInterval < FastIntervalFloor {
		cfg.Alerts.FastInterval = FastIntervalFloor
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.single_worker", true)
	v.SetDefault("engine.lease_name", "alert-engine")
	v.SetDefault("engine.lease_ttl", "15s")
	v.SetDefault("engine.lease_retry", "2s")
	v.SetDefault("engine.shutdown_wait", "5s")
	v.SetDefault("feed.poll_interval", "3s")
	v.SetDefault("feed.mailbox_size", 1024)
	v.SetDefault("feed.binance_ws_spot", "wss://stream.binance.com:9443/ws/!miniTicker@arr")
	v.SetDefault("feed.binance_ws_futures", "wss://fstream.binance.com/ws/!miniTicker@arr")
	v.SetDefault("alerts.fast_interval", "300ms")
	v.SetDefault("alerts.cooldown", "30s")
	v.SetDefault("alerts.cache_refresh", "30s")
	v.SetDefault("alerts.sweep_interval", "10s")
	v.SetDefault("alerts.klines_interval", "2m")
	v.SetDefault("alerts.klines_lookback", "6h")
	v.SetDefault("alerts.klines_delay", "30s")
	v.SetDefault("store.path", "data/alerts.db")
	v.SetDefault("realtime.enabled", true)
	v.SetDefault("realtime.port", 8090)
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// applyEnvOverrides maps the platform-wide env names onto config fields.
// Millisecond-valued variables keep their _MS suffix for compatibility.
func applyEnvOverrides(cfg *Config) {
	if s := os.Getenv("ALERT_ENGINE_SINGLE_WORKER"); s != "" {
		cfg.Engine.SingleWorker = s == "true" || s == "1"
	}
	if s := os.Getenv("ALERT_ENGINE_LEASE_NAME"); s != "" {
		cfg.Engine.LeaseName = s
	}
	if d, ok := envMillis("ALERT_ENGINE_LEASE_TTL_MS"); ok {
		cfg.Engine.LeaseTTL = d
	}
	if d, ok := envMillis("ALERT_ENGINE_LEASE_HEARTBEAT_MS"); ok {
		cfg.Engine.LeaseHeartbeat = d
	}
	if d, ok := envMillis("ALERT_ENGINE_LEASE_RETRY_MS"); ok {
		cfg.Engine.LeaseRetry = d
	}
	if s := os.Getenv("ALERT_ENGINE_INSTANCE_ID"); s != "" {
		cfg.Engine.InstanceID = s
	}
	if d, ok := envMillis("PRICE_ALERT_POLL_MS"); ok {
		cfg.Alerts.FastInterval = d
	}
	if s := os.Getenv("TELEGRAM_BOT_TOKEN"); s != "" {
		cfg.Telegram.BotToken = s
	}
}

func envMillis(name string) (time.Duration, bool) {
	s := os.Getenv(name)
	if s == "" {
		return 0, false
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// Heartbeat returns the effective heartbeat: the configured value, or TTL/3.
func (e EngineConfig) Heartbeat() time.Duration {
	if e.LeaseHeartbeat > 0 {
		return e.LeaseHeartbeat
	}
	return e.LeaseTTL / 3
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if len(c.Feed.Pairs) == 0 {
		return fmt.Errorf("feed.pairs must list at least one exchange/market pair")
	}
	for _, p := range c.Feed.Pairs {
		switch types.Exchange(p.Exchange) {
		case types.ExchangeBinance, types.ExchangeBybit:
		default:
			return fmt.Errorf("feed.pairs: unknown exchange %q", p.Exchange)
		}
		switch types.Market(p.Market) {
		case types.MarketFutures, types.MarketSpot:
		default:
			return fmt.Errorf("feed.pairs: unknown market %q", p.Market)
		}
	}
	if c.Engine.LeaseTTL <= 0 {
		return fmt.Errorf("engine.lease_ttl must be > 0")
	}
	if c.Engine.Heartbeat() >= c.Engine.LeaseTTL {
		return fmt.Errorf("engine.lease_heartbeat must be < engine.lease_ttl")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Realtime.Enabled && c.Realtime.Port <= 0 {
		return fmt.Errorf("realtime.port must be > 0")
	}
	return nil
}
