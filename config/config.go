package config

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Binance       BinanceConfig        `mapstructure:"binance"`
	Engine        EngineConfig         `mapstructure:"engine"`
	Log           LogConfig            `mapstructure:"log"`
	Postgres      PostgresConfig       `mapstructure:"postgres"`
	Subscriptions []SubscriptionConfig `mapstructure:"subscriptions"`
}

type BinanceConfig struct {
	REST RESTConfig `mapstructure:"rest"`
	WS   WSConfig   `mapstructure:"ws"`
}

type RESTConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WSConfig struct {
	URL string `mapstructure:"url"`
}

// EngineConfig holds the reconciliation knobs. Every value has a usable
// default (see Load) so an empty section still produces a working engine.
type EngineConfig struct {
	MaxDepthBuffer          int           `mapstructure:"max_depth_buffer"`           // buffered depth updates while the snapshot is in flight
	DepthLimit              int           `mapstructure:"depth_limit"`                // levels requested per REST depth snapshot
	MaxSnapshotRetries      int           `mapstructure:"max_snapshot_retries"`       // fast snapshot retries before the recovery loop
	SnapshotRecovery        time.Duration `mapstructure:"snapshot_recovery"`          // long-interval snapshot retry cadence
	BaseReconnectDelay      time.Duration `mapstructure:"base_reconnect_delay"`       // backoff floor
	MaxReconnectDelay       time.Duration `mapstructure:"max_reconnect_delay"`        // backoff ceiling
	MaxReconnectFails       int           `mapstructure:"max_reconnect_fails"`        // consecutive failures before polling fallback
	PollInterval            time.Duration `mapstructure:"poll_interval"`              // REST polling cadence in fallback mode
	MaxCandles              int           `mapstructure:"max_candles"`                // candle series length cap
	BackfillLimit           int           `mapstructure:"backfill_limit"`             // klines fetched on (re)subscribe
	TradeTapeCapacity       int           `mapstructure:"trade_tape_capacity"`        // ring buffer entries for recent trades
	DeriveCandlesFromTrades bool          `mapstructure:"derive_candles_from_trades"` // build bars from the trade stream instead of relaying klines
}

type SubscriptionConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Interval string `mapstructure:"interval"`
}

// LogConfig defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

// Load loads application configuration using Viper.
// It reads from config.yaml and overrides with environment variables.
func Load() *Config {
	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
	} else {
		v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
	}

	// Support environment variables with dot notation (e.g., BINANCE_WS_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setEngineDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("failed to read config: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	return &cfg
}

func setEngineDefaults(v *viper.Viper) {
	v.SetDefault("engine.max_depth_buffer", 1000)
	v.SetDefault("engine.depth_limit", 1000)
	v.SetDefault("engine.max_snapshot_retries", 5)
	v.SetDefault("engine.snapshot_recovery", 30*time.Second)
	v.SetDefault("engine.base_reconnect_delay", time.Second)
	v.SetDefault("engine.max_reconnect_delay", 30*time.Second)
	v.SetDefault("engine.max_reconnect_fails", 8)
	v.SetDefault("engine.poll_interval", 5*time.Second)
	v.SetDefault("engine.max_candles", 1000)
	v.SetDefault("engine.backfill_limit", 500)
	v.SetDefault("engine.trade_tape_capacity", 2048)
}
