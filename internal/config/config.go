package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	DatabaseURL   string `mapstructure:"DB_DSN"`
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`

	JWTSecret       string `mapstructure:"JWT_SECRET"`
	TokenTTLMinutes int    `mapstructure:"TOKEN_TTL_MINUTES"`
	CORSOrigins     string `mapstructure:"CORS_ORIGINS"`
	DefaultTimezone string `mapstructure:"DEFAULT_TIMEZONE"`

	PromotionIntervalSeconds int  `mapstructure:"PROMOTION_INTERVAL_SECONDS"`
	PromotionAlwaysOn        bool `mapstructure:"PROMOTION_ALWAYS_ON"`
	HoursCacheSize           int  `mapstructure:"HOURS_CACHE_SIZE"`
	HoursCacheTTLSeconds     int  `mapstructure:"HOURS_CACHE_TTL_SECONDS"`
	RealtimePollSeconds      int  `mapstructure:"REALTIME_POLL_SECONDS"`
	RealtimeBatchSize        int  `mapstructure:"REALTIME_BATCH_SIZE"`

	RateLimitPerMinute       int `mapstructure:"RATE_LIMIT_PER_MIN"`
	RateLimitBurst           int `mapstructure:"RATE_LIMIT_BURST"`
	ClinicRateLimitPerMinute int `mapstructure:"CLINIC_RATE_LIMIT_PER_MIN"`
	ClinicRateLimitBurst     int `mapstructure:"CLINIC_RATE_LIMIT_BURST"`

	NotifPollSeconds   int    `mapstructure:"NOTIF_POLL_SECONDS"`
	NotifBatchSize     int    `mapstructure:"NOTIF_BATCH_SIZE"`
	NotifMaxAttempts   int    `mapstructure:"NOTIF_MAX_ATTEMPTS"`
	NotifRetrySeconds  int    `mapstructure:"NOTIF_RETRY_DELAY_SECONDS"`
	NotifLineProvider  string `mapstructure:"NOTIF_LINE_PROVIDER"`
	NotifSMSProvider   string `mapstructure:"NOTIF_SMS_PROVIDER"`
	NotifEmailProvider string `mapstructure:"NOTIF_EMAIL_PROVIDER"`
	ReminderCron       string `mapstructure:"REMINDER_CRON"`

	LineChannelToken  string `mapstructure:"LINE_CHANNEL_TOKEN"`
	LineEndpoint      string `mapstructure:"LINE_ENDPOINT"`
	TwilioAccountSID  string `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken   string `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber  string `mapstructure:"TWILIO_FROM_NUMBER"`
	SendGridAPIKey    string `mapstructure:"SENDGRID_API_KEY"`
	SendGridFromEmail string `mapstructure:"SENDGRID_FROM_EMAIL"`
	SendGridFromName  string `mapstructure:"SENDGRID_FROM_NAME"`
	EmailSubject      string `mapstructure:"EMAIL_SUBJECT"`
	WebhookURL        string `mapstructure:"NOTIF_WEBHOOK_URL"`
	WebhookToken      string `mapstructure:"NOTIF_WEBHOOK_TOKEN"`

	AMQPURL      string `mapstructure:"AMQP_URL"`
	AMQPExchange string `mapstructure:"AMQP_EXCHANGE"`

	OtelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OtelInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

var defaults = map[string]interface{}{
	"PORT":                       "8080",
	"ENV":                        "development",
	"LOG_LEVEL":                  "info",
	"MIGRATIONS_DIR":             "migrations",
	"TOKEN_TTL_MINUTES":          720,
	"CORS_ORIGINS":               "http://localhost:3000",
	"DEFAULT_TIMEZONE":           "Asia/Tokyo",
	"PROMOTION_INTERVAL_SECONDS": 30,
	"PROMOTION_ALWAYS_ON":        false,
	"HOURS_CACHE_SIZE":           256,
	"HOURS_CACHE_TTL_SECONDS":    300,
	"REALTIME_POLL_SECONDS":      1,
	"REALTIME_BATCH_SIZE":        100,
	"RATE_LIMIT_PER_MIN":         120,
	"RATE_LIMIT_BURST":           30,
	"CLINIC_RATE_LIMIT_PER_MIN":  600,
	"CLINIC_RATE_LIMIT_BURST":    120,
	"NOTIF_POLL_SECONDS":         5,
	"NOTIF_BATCH_SIZE":           50,
	"NOTIF_MAX_ATTEMPTS":         3,
	"NOTIF_RETRY_DELAY_SECONDS":  60,
	"NOTIF_LINE_PROVIDER":        "log",
	"NOTIF_SMS_PROVIDER":         "log",
	"NOTIF_EMAIL_PROVIDER":       "log",
	"REMINDER_CRON":              "0 18 * * *",
	"AMQP_EXCHANGE":              "schedule.events",
}

// unsetKeys have no default but must still be bound so Unmarshal sees them.
var unsetKeys = []string{
	"DB_DSN",
	"JWT_SECRET",
	"LINE_CHANNEL_TOKEN",
	"LINE_ENDPOINT",
	"TWILIO_ACCOUNT_SID",
	"TWILIO_AUTH_TOKEN",
	"TWILIO_FROM_NUMBER",
	"SENDGRID_API_KEY",
	"SENDGRID_FROM_EMAIL",
	"SENDGRID_FROM_NAME",
	"EMAIL_SUBJECT",
	"NOTIF_WEBHOOK_URL",
	"NOTIF_WEBHOOK_TOKEN",
	"AMQP_URL",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
	"OTEL_EXPORTER_OTLP_INSECURE",
}

// Load reads the environment, falling back to an optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}
	for _, key := range unsetKeys {
		_ = v.BindEnv(key)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks settings every command needs. Serve-only settings are
// checked by ValidateServe.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("DB_DSN is required")
	}
	if _, err := time.LoadLocation(c.DefaultTimezone); err != nil {
		return fmt.Errorf("DEFAULT_TIMEZONE %q: %w", c.DefaultTimezone, err)
	}
	if c.PromotionIntervalSeconds <= 0 {
		return errors.New("PROMOTION_INTERVAL_SECONDS must be positive")
	}
	return nil
}

func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.JWTSecret == "" && !c.IsDev() {
		return errors.New("JWT_SECRET is required outside development")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}
	return nil
}

func (c *Config) Origins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) PromotionInterval() time.Duration {
	return seconds(c.PromotionIntervalSeconds)
}

func (c *Config) HoursCacheTTL() time.Duration {
	return seconds(c.HoursCacheTTLSeconds)
}

func (c *Config) NotifPollInterval() time.Duration {
	return seconds(c.NotifPollSeconds)
}

func (c *Config) NotifRetryDelay() time.Duration {
	return seconds(c.NotifRetrySeconds)
}

func (c *Config) RealtimePollInterval() time.Duration {
	return seconds(c.RealtimePollSeconds)
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}

func seconds(value int) time.Duration {
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}
