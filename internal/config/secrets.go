package config

// RedactedConfig returns a copy of cfg with sensitive fields replaced by
// "***" so the active configuration can be logged without leaking secrets.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Venue.APISecret)
	redact(&out.Venue.SecretPassword)
	redact(&out.Redis.Password)
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the copy.
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}
	if cfg.Notify.CooledKinds != nil {
		out.Notify.CooledKinds = append([]string(nil), cfg.Notify.CooledKinds...)
	}
	if cfg.Executor.SlippageLadder != nil {
		out.Executor.SlippageLadder = append([]float64(nil), cfg.Executor.SlippageLadder...)
	}

	return out
}

const redacted = "***"

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
