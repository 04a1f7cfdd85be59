package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by
// "***", suitable for logging the active configuration.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Blockchain.Ethereum.RPCURL)
	redact(&out.Blockchain.Fork.URL)
	redact(&out.Blockchain.Searcher.PrivateKey)
	redact(&out.Blockchain.Searcher.KeyPassword)
	redact(&out.Redis.Password)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)
	redact(&out.Server.APIKey)

	// Copy maps and slices so mutations to the redacted copy do not affect
	// the original.
	if cfg.Strategies != nil {
		out.Strategies = make(map[string]StrategyConfig, len(cfg.Strategies))
		for k, v := range cfg.Strategies {
			out.Strategies[k] = v
		}
	}
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = "***"
	}
}
