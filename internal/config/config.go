// Package config defines the top-level configuration for the MEV simulator
// and provides validation helpers.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

// Simulation modes.
const (
	ModeRealtime   = "realtime"
	ModeHistorical = "historical"
	ModeSynthetic  = "synthetic"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MEVSIM_* environment variables and
// command-line flags.
type Config struct {
	Simulation  SimulationConfig          `toml:"simulation"`
	Performance PerformanceConfig         `toml:"performance"`
	Strategies  map[string]StrategyConfig `toml:"-"`
	Blockchain  BlockchainConfig          `toml:"blockchain"`
	Trading     TradingConfig             `toml:"trading"`
	Monitoring  MonitoringConfig          `toml:"monitoring"`
	Data        DataConfig                `toml:"data"`
	Security    SecurityConfig            `toml:"security"`
	Redis       RedisConfig               `toml:"redis"`
	Postgres    PostgresConfig            `toml:"postgres"`
	S3          S3Config                  `toml:"s3"`
	Server      ServerConfig              `toml:"server"`
	Notify      NotifyConfig              `toml:"notify"`
}

// SimulationConfig selects the transaction source and run shape.
type SimulationConfig struct {
	Mode                string          `toml:"mode"`
	MempoolEmulation    bool            `toml:"mempool_emulation"`
	BlockSimulation     bool            `toml:"block_simulation"`
	StartBlock          uint64          `toml:"start_block"`
	BlockCount          uint64          `toml:"block_count"`
	TickInterval        duration        `toml:"tick_interval"`
	EnableVisualization bool            `toml:"enable_visualization"`
	EnableProfiling     bool            `toml:"enable_profiling"`
	ExportFormats       []string        `toml:"export_formats"`
	StateFile           string          `toml:"state_file"`
	LoadState           string          `toml:"load_state"`
	Synthetic           SyntheticConfig `toml:"synthetic"`
}

// SyntheticConfig shapes generated transaction flow.
type SyntheticConfig struct {
	TransactionRate uint64 `toml:"transaction_rate"`
	DurationSeconds uint64 `toml:"duration_seconds"`
	MaxTxsPerBlock  int    `toml:"max_txs_per_block"`
	Seed            int64  `toml:"seed"`
}

// PerformanceConfig bounds concurrency and resource use.
type PerformanceConfig struct {
	ThreadPoolSize        int `toml:"thread_pool_size"`
	QueueSize             int `toml:"queue_size"`
	LatencyTargetUs       int `toml:"latency_target_us"`
	MaxConcurrentRequests int `toml:"max_concurrent_requests"`
	MemoryLimitMB         int `toml:"memory_limit_mb"`
}

// StrategyConfig configures one named strategy instance.
type StrategyConfig struct {
	// Type is the factory type name. Empty means the strategy's own name.
	Type                   string   `toml:"type"`
	Enabled                bool     `toml:"enabled"`
	MinProfitETH           float64  `toml:"min_profit_eth"`
	MaxSlippagePercent     float64  `toml:"max_slippage_percent"`
	TargetDexes            []string `toml:"target_dexes"`
	GasLimit               uint64   `toml:"gas_limit"`
	MaxGasPriceGwei        uint64   `toml:"max_gas_price_gwei"`
	BundleTimeoutMs        uint64   `toml:"bundle_timeout_ms"`
	FrontrunGasMultiplier  float64  `toml:"frontrun_gas_multiplier"`
	BackrunGasMultiplier   float64  `toml:"backrun_gas_multiplier"`
	PriorityFeeGwei        float64  `toml:"priority_fee_gwei"`
	MinTransactionValueETH float64  `toml:"min_transaction_value_eth"`
	TargetProtocols        []string `toml:"target_protocols"`
	MaxBundleSize          int      `toml:"max_bundle_size"`

	// Arbitrage only.
	MaxPathLength   int      `toml:"max_path_length"`
	BaseTokens      []string `toml:"base_tokens"`
	RiskCeiling     float64  `toml:"risk_ceiling"`
	PriceTTLSeconds int      `toml:"price_ttl_seconds"`
}

// BundleTimeout returns BundleTimeoutMs as a duration.
func (s StrategyConfig) BundleTimeout() time.Duration {
	return time.Duration(s.BundleTimeoutMs) * time.Millisecond
}

// TypeName returns the factory type for a strategy registered under name.
func (s StrategyConfig) TypeName(name string) string {
	if s.Type != "" {
		return s.Type
	}
	return name
}

// DefaultStrategyConfig returns the baseline settings every strategy starts
// from before file values are applied.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		Enabled:                false,
		MinProfitETH:           0.01,
		MaxSlippagePercent:     0.5,
		TargetDexes:            []string{"uniswap_v2", "sushiswap"},
		GasLimit:               500_000,
		MaxGasPriceGwei:        100,
		BundleTimeoutMs:        1000,
		FrontrunGasMultiplier:  1.1,
		BackrunGasMultiplier:   1.05,
		PriorityFeeGwei:        2.0,
		MinTransactionValueETH: 0.1,
		TargetProtocols:        []string{"uniswap_v2"},
		MaxBundleSize:          10,
		MaxPathLength:          4,
		BaseTokens:             []string{"WETH"},
		RiskCeiling:            0.8,
		PriceTTLSeconds:        300,
	}
}

// BlockchainConfig holds chain, relay and fork endpoints.
type BlockchainConfig struct {
	Ethereum  EthereumConfig  `toml:"ethereum"`
	Flashbots FlashbotsConfig `toml:"flashbots"`
	Fork      ForkConfig      `toml:"fork"`
	Searcher  SearcherConfig  `toml:"searcher"`
}

type EthereumConfig struct {
	RPCURL           string `toml:"rpc_url"`
	ChainID          int64  `toml:"chain_id"`
	BlockTimeSeconds int    `toml:"block_time_seconds"`
}

type FlashbotsConfig struct {
	RelayURL        string `toml:"relay_url"`
	BundleTimeoutMs uint64 `toml:"bundle_timeout_ms"`
	MaxBundleSize   int    `toml:"max_bundle_size"`
}

type ForkConfig struct {
	Enabled     bool   `toml:"enabled"`
	URL         string `toml:"url"`
	BlockNumber uint64 `toml:"block_number"`
}

// SearcherConfig locates the key whose address is used as the sender of
// simulated bundle calls.
type SearcherConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// TradingConfig holds gas, slippage and bundle policy.
type TradingConfig struct {
	GasOptimization GasOptimizationConfig `toml:"gas_optimization"`
	Slippage        SlippageConfig        `toml:"slippage"`
	Bundle          BundleConfig          `toml:"bundle"`
}

type GasOptimizationConfig struct {
	Enabled             bool    `toml:"enabled"`
	BaseFeeMultiplier   float64 `toml:"base_fee_multiplier"`
	PriorityFeeStrategy string  `toml:"priority_fee_strategy"`
	MaxGasPriceGwei     uint64  `toml:"max_gas_price_gwei"`
}

type SlippageConfig struct {
	DefaultPercent    float64 `toml:"default_percent"`
	MaxPercent        float64 `toml:"max_percent"`
	DynamicAdjustment bool    `toml:"dynamic_adjustment"`
}

type BundleConfig struct {
	MaxTransactions int    `toml:"max_transactions"`
	TimeoutMs       uint64 `toml:"timeout_ms"`
	RetryAttempts   int    `toml:"retry_attempts"`
}

// MonitoringConfig holds metrics, logging and visualization settings.
type MonitoringConfig struct {
	Metrics       MetricsConfig       `toml:"metrics"`
	Logging       LoggingConfig       `toml:"logging"`
	Visualization VisualizationConfig `toml:"visualization"`
}

type MetricsConfig struct {
	Enabled        bool     `toml:"enabled"`
	Port           int      `toml:"port"`
	ExportInterval duration `toml:"export_interval"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

type VisualizationConfig struct {
	Enabled        bool     `toml:"enabled"`
	UpdateInterval duration `toml:"update_interval"`
}

// DataConfig holds local storage and cache settings.
type DataConfig struct {
	Storage StorageConfig `toml:"storage"`
	Cache   CacheConfig   `toml:"cache"`
}

type StorageConfig struct {
	Directory string `toml:"directory"`
}

type CacheConfig struct {
	Enabled    bool `toml:"enabled"`
	TTLSeconds int  `toml:"ttl_seconds"`
}

// SecurityConfig holds HTTP API protection settings.
type SecurityConfig struct {
	RateLimiting RateLimitConfig  `toml:"rate_limiting"`
	Validation   ValidationConfig `toml:"validation"`
}

type RateLimitConfig struct {
	Enabled           bool `toml:"enabled"`
	RequestsPerSecond int  `toml:"requests_per_second"`
	BurstSize         int  `toml:"burst_size"`
}

type ValidationConfig struct {
	MaxRequestSizeMB int    `toml:"max_request_size_mb"`
	TimeoutMs        uint64 `toml:"timeout_ms"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey protects every route except health and metrics. Empty
	// disables authentication.
	APIKey string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	arb := DefaultStrategyConfig()
	arb.Enabled = true
	arb.TargetDexes = []string{"uniswap_v2", "uniswap_v3", "sushiswap"}

	sandwich := DefaultStrategyConfig()
	sandwich.TargetProtocols = []string{"uniswap_v2", "sushiswap"}
	// The frontrun is capped at a tenth of pool depth, so its own price
	// impact stays under 10%.
	sandwich.MaxSlippagePercent = 10
	sandwich.MaxPathLength = 0
	sandwich.BaseTokens = nil

	return Config{
		Simulation: SimulationConfig{
			Mode:             ModeRealtime,
			MempoolEmulation: true,
			BlockSimulation:  true,
			TickInterval:     duration{12 * time.Second},
			ExportFormats:    []string{"csv", "json"},
			StateFile:        "mevsim_state.json",
			Synthetic: SyntheticConfig{
				TransactionRate: 1000,
				DurationSeconds: 3600,
				MaxTxsPerBlock:  200,
				Seed:            1,
			},
		},
		Performance: PerformanceConfig{
			ThreadPoolSize:        16,
			QueueSize:             10000,
			LatencyTargetUs:       100,
			MaxConcurrentRequests: 100,
			MemoryLimitMB:         2048,
		},
		Strategies: map[string]StrategyConfig{
			"arbitrage": arb,
			"sandwich":  sandwich,
		},
		Blockchain: BlockchainConfig{
			Ethereum: EthereumConfig{
				RPCURL:           "http://localhost:8545",
				ChainID:          1,
				BlockTimeSeconds: 12,
			},
			Flashbots: FlashbotsConfig{
				RelayURL:        "https://relay.flashbots.net",
				BundleTimeoutMs: 1000,
				MaxBundleSize:   10,
			},
		},
		Trading: TradingConfig{
			GasOptimization: GasOptimizationConfig{
				Enabled:             true,
				BaseFeeMultiplier:   1.1,
				PriorityFeeStrategy: "dynamic",
				MaxGasPriceGwei:     100,
			},
			Slippage: SlippageConfig{
				DefaultPercent:    0.5,
				MaxPercent:        2.0,
				DynamicAdjustment: true,
			},
			Bundle: BundleConfig{
				MaxTransactions: 10,
				TimeoutMs:       1000,
				RetryAttempts:   3,
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:        true,
				Port:           8080,
				ExportInterval: duration{60 * time.Second},
			},
			Logging: LoggingConfig{Level: "info"},
			Visualization: VisualizationConfig{
				Enabled:        true,
				UpdateInterval: duration{time.Second},
			},
		},
		Data: DataConfig{
			Storage: StorageConfig{Directory: "./data"},
			Cache:   CacheConfig{Enabled: true, TTLSeconds: 300},
		},
		Security: SecurityConfig{
			RateLimiting: RateLimitConfig{Enabled: true, RequestsPerSecond: 100, BurstSize: 50},
			Validation:   ValidationConfig{MaxRequestSizeMB: 10, TimeoutMs: 5000},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "mevsim",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "mevsim-results",
			Prefix:         "runs",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"simulation_error", "simulation_stopped"},
		},
	}
}

// EnabledStrategies returns the names of enabled strategies in sorted order.
func (c *Config) EnabledStrategies() []string {
	names := make([]string, 0, len(c.Strategies))
	for name, s := range c.Strategies {
		if s.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// IsStrategyEnabled reports whether name exists and is enabled.
func (c *Config) IsStrategyEnabled(name string) bool {
	s, ok := c.Strategies[name]
	return ok && s.Enabled
}

// Strategy returns the configuration for name.
func (c *Config) Strategy(name string) (StrategyConfig, error) {
	s, ok := c.Strategies[name]
	if !ok {
		return StrategyConfig{}, fmt.Errorf("strategy %q: %w", name, domain.ErrNotFound)
	}
	return s, nil
}

// TickInterval returns the main-loop cadence.
func (c *Config) TickInterval() time.Duration { return c.Simulation.TickInterval.Duration }

// StatsInterval returns how often statistics are snapshotted and published.
func (c *Config) StatsInterval() time.Duration { return c.Monitoring.Metrics.ExportInterval.Duration }

// VisualizationInterval returns how often the visualization sink is fed.
func (c *Config) VisualizationInterval() time.Duration {
	return c.Monitoring.Visualization.UpdateInterval.Duration
}

// NeedsChain reports whether the configured mode talks to an RPC node.
func (c *Config) NeedsChain() bool {
	return !strings.EqualFold(c.Simulation.Mode, ModeSynthetic) || c.Blockchain.Fork.Enabled
}

// validModes enumerates the accepted values for SimulationConfig.Mode.
var validModes = map[string]bool{
	ModeRealtime:   true,
	ModeHistorical: true,
	ModeSynthetic:  true,
}

// validLogLevels enumerates the accepted values for LoggingConfig.Level.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validExportFormats = map[string]bool{
	"csv":  true,
	"json": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found. The error wraps
// domain.ErrConfiguration.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Simulation.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("simulation: unknown mode %q (valid: realtime, historical, synthetic)", c.Simulation.Mode))
	}
	if mode == ModeHistorical && c.Simulation.BlockCount == 0 {
		errs = append(errs, "simulation: block_count must be > 0 in historical mode")
	}
	if mode == ModeSynthetic && c.Simulation.Synthetic.TransactionRate == 0 {
		errs = append(errs, "simulation: synthetic.transaction_rate must be > 0")
	}
	if c.Simulation.TickInterval.Duration <= 0 {
		errs = append(errs, "simulation: tick_interval must be > 0")
	}
	for _, f := range c.Simulation.ExportFormats {
		if !validExportFormats[strings.ToLower(f)] {
			errs = append(errs, fmt.Sprintf("simulation: unknown export format %q (valid: csv, json)", f))
		}
	}

	if !validLogLevels[strings.ToLower(c.Monitoring.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("monitoring: unknown logging.level %q (valid: debug, info, warn, error)", c.Monitoring.Logging.Level))
	}

	if c.NeedsChain() && strings.TrimSpace(c.Blockchain.Ethereum.RPCURL) == "" && !c.Blockchain.Fork.Enabled {
		errs = append(errs, "blockchain: ethereum.rpc_url is required")
	}
	if c.Blockchain.Fork.Enabled && strings.TrimSpace(c.Blockchain.Fork.URL) == "" {
		errs = append(errs, "blockchain: fork.url is required when fork is enabled")
	}
	if c.Blockchain.Searcher.EncryptedKeyPath != "" && c.Blockchain.Searcher.KeyPassword == "" {
		errs = append(errs, "blockchain: searcher.key_password is required when encrypted_key_path is set")
	}

	if c.Performance.ThreadPoolSize <= 0 {
		errs = append(errs, "performance: thread_pool_size must be > 0")
	}
	if c.Performance.QueueSize <= 0 {
		errs = append(errs, "performance: queue_size must be > 0")
	}

	for _, name := range c.EnabledStrategies() {
		s := c.Strategies[name]
		if s.MinProfitETH < 0 {
			errs = append(errs, fmt.Sprintf("strategies.%s: min_profit_eth must be >= 0", name))
		}
		if s.MaxSlippagePercent < 0 || s.MaxSlippagePercent > 100 {
			errs = append(errs, fmt.Sprintf("strategies.%s: max_slippage_percent must be 0-100, got %v", name, s.MaxSlippagePercent))
		}
		if s.GasLimit == 0 {
			errs = append(errs, fmt.Sprintf("strategies.%s: gas_limit must be > 0", name))
		}
		if s.BundleTimeoutMs == 0 {
			errs = append(errs, fmt.Sprintf("strategies.%s: bundle_timeout_ms must be > 0", name))
		}
	}

	if c.Trading.Bundle.RetryAttempts < 0 {
		errs = append(errs, "trading: bundle.retry_attempts must be >= 0")
	}

	if c.Monitoring.Metrics.Enabled && (c.Monitoring.Metrics.Port <= 0 || c.Monitoring.Metrics.Port > 65535) {
		errs = append(errs, fmt.Sprintf("monitoring: metrics.port must be 1-65535, got %d", c.Monitoring.Metrics.Port))
	}
	if c.Monitoring.Metrics.ExportInterval.Duration <= 0 {
		errs = append(errs, "monitoring: metrics.export_interval must be > 0")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.Postgres.Enabled && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: config validation failed:\n  - %s", domain.ErrConfiguration, strings.Join(errs, "\n  - "))
	}
	return nil
}
