package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/alanyoungcy/mevsim/internal/domain"
)

// strategiesFile captures the [strategies.<name>] tables undecoded so each
// one can be layered on top of DefaultStrategyConfig.
type strategiesFile struct {
	Strategies map[string]toml.Primitive `toml:"strategies"`
}

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MEVSIM_* environment variable overrides, and
// returns the final Config. An empty path yields the defaults plus
// environment overrides. The returned Config has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrConfiguration, path, err)
		}
		if err := decodeStrategies(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func decodeStrategies(path string, cfg *Config) error {
	var raw strategiesFile
	md, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("%w: decode strategies in %s: %v", domain.ErrConfiguration, path, err)
	}
	if len(raw.Strategies) == 0 {
		return nil
	}

	names := make([]string, 0, len(raw.Strategies))
	for name := range raw.Strategies {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		sc, ok := cfg.Strategies[name]
		if !ok {
			sc = DefaultStrategyConfig()
		}
		if err := md.PrimitiveDecode(raw.Strategies[name], &sc); err != nil {
			return fmt.Errorf("%w: strategies.%s: %v", domain.ErrConfiguration, name, err)
		}
		cfg.Strategies[name] = sc
	}
	return nil
}

// applyEnvOverrides reads well-known MEVSIM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Simulation ──
	setStr(&cfg.Simulation.Mode, "MEVSIM_MODE")
	setDuration(&cfg.Simulation.TickInterval, "MEVSIM_TICK_INTERVAL")
	setUint64(&cfg.Simulation.Synthetic.TransactionRate, "MEVSIM_TX_RATE")
	setUint64(&cfg.Simulation.Synthetic.DurationSeconds, "MEVSIM_DURATION_SECONDS")

	// ── Performance ──
	setInt(&cfg.Performance.ThreadPoolSize, "MEVSIM_THREAD_POOL_SIZE")
	setInt(&cfg.Performance.QueueSize, "MEVSIM_QUEUE_SIZE")

	// ── Blockchain ──
	setStr(&cfg.Blockchain.Ethereum.RPCURL, "MEVSIM_ETHEREUM_RPC_URL")
	setInt64(&cfg.Blockchain.Ethereum.ChainID, "MEVSIM_ETHEREUM_CHAIN_ID")
	setStr(&cfg.Blockchain.Flashbots.RelayURL, "MEVSIM_FLASHBOTS_RELAY_URL")
	setBool(&cfg.Blockchain.Fork.Enabled, "MEVSIM_FORK_ENABLED")
	setStr(&cfg.Blockchain.Fork.URL, "MEVSIM_FORK_URL")
	setStr(&cfg.Blockchain.Searcher.PrivateKey, "MEVSIM_SEARCHER_PRIVATE_KEY")
	setStr(&cfg.Blockchain.Searcher.EncryptedKeyPath, "MEVSIM_SEARCHER_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Blockchain.Searcher.KeyPassword, "MEVSIM_SEARCHER_KEY_PASSWORD")

	// ── Trading ──
	setInt(&cfg.Trading.Bundle.RetryAttempts, "MEVSIM_BUNDLE_RETRY_ATTEMPTS")

	// ── Monitoring ──
	setBool(&cfg.Monitoring.Metrics.Enabled, "MEVSIM_METRICS_ENABLED")
	setInt(&cfg.Monitoring.Metrics.Port, "MEVSIM_METRICS_PORT")
	setStr(&cfg.Monitoring.Logging.Level, "MEVSIM_LOG_LEVEL")
	setBool(&cfg.Monitoring.Visualization.Enabled, "MEVSIM_VISUALIZATION_ENABLED")

	// ── Data ──
	setStr(&cfg.Data.Storage.Directory, "MEVSIM_DATA_DIR")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "MEVSIM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MEVSIM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MEVSIM_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MEVSIM_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "MEVSIM_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "MEVSIM_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "MEVSIM_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MEVSIM_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MEVSIM_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MEVSIM_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MEVSIM_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MEVSIM_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MEVSIM_POSTGRES_SSL_MODE")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "MEVSIM_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MEVSIM_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MEVSIM_S3_REGION")
	setStr(&cfg.S3.Bucket, "MEVSIM_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MEVSIM_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MEVSIM_S3_SECRET_KEY")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MEVSIM_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "MEVSIM_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MEVSIM_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "MEVSIM_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MEVSIM_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MEVSIM_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MEVSIM_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MEVSIM_NOTIFY_EVENTS")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		if cleaned := splitList(v); len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// splitList splits a comma-separated list, trimming blanks.
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}
