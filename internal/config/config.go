// Package config loads the control plane's configuration from environment
// variables via viper, using a BindEnv/SetDefault per key so every setting
// has an explicit, discoverable default.
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// RateLimitPolicy is one entry of the endpoint-class policy table: limit
// + window + burst allowance.
type RateLimitPolicy struct {
	Limit           int
	WindowSeconds   int
	BurstAllowance  int
}

// Config holds every environment-driven setting the control plane reads.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	JWTSecret            string `mapstructure:"JWT_SECRET"`
	JWTAlgorithm         string `mapstructure:"JWT_ALGORITHM"`
	AccessTokenTTLMinutes int   `mapstructure:"ACCESS_TOKEN_TTL_MINUTES"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	KVURL       string `mapstructure:"KV_URL"`

	AllowedOrigins []string `mapstructure:"ALLOWED_ORIGINS"`
	AllowedHosts   []string `mapstructure:"ALLOWED_HOSTS"`

	RateLimitEnabled   bool `mapstructure:"RATE_LIMIT_ENABLED"`
	DDoSProtectionOn   bool `mapstructure:"DDOS_PROTECTION_ENABLED"`
	GlobalRateLimit    int  `mapstructure:"GLOBAL_RATE_LIMIT"`
	IPRateLimit        int  `mapstructure:"IP_RATE_LIMIT"`

	DDoSThreshold           int      `mapstructure:"DDOS_THRESHOLD"`
	DDoSBanDurationSeconds  int      `mapstructure:"DDOS_BAN_DURATION_SECONDS"`
	DDoSWhitelist           []string `mapstructure:"DDOS_WHITELIST"`
	SuspiciousThreshold     int      `mapstructure:"SUSPICIOUS_THRESHOLD"`
	SuspiciousWindowSeconds int      `mapstructure:"SUSPICIOUS_WINDOW_SECONDS"`
	SuspiciousBanSeconds    int      `mapstructure:"SUSPICIOUS_BAN_DURATION_SECONDS"`

	OTPTTLMinutes               int `mapstructure:"OTP_TTL_MINUTES"`
	MetricsPushIntervalSeconds  int `mapstructure:"METRICS_PUSH_INTERVAL_SECONDS"`
	SessionStaleThresholdSeconds int `mapstructure:"SESSION_STALE_THRESHOLD_SECONDS"`

	PaymentProviderSecret string `mapstructure:"PAYMENT_PROVIDER_SECRET"`
	PaymentWebhookSecret  string `mapstructure:"PAYMENT_WEBHOOK_SECRET"`

	RabbitMQURL     string `mapstructure:"RABBITMQ_URL"`
	NotifyQueueName string `mapstructure:"NOTIFY_QUEUE_NAME"`

	// EndpointPolicies is derived, not read directly from env; see
	// DefaultEndpointPolicies.
	EndpointPolicies map[string]RateLimitPolicy
}

// DefaultEndpointPolicies returns the default rate-limit policy table.
// Operators may not override this via env in this implementation; the
// table is small and closed.
func DefaultEndpointPolicies() map[string]RateLimitPolicy {
	return map[string]RateLimitPolicy{
		"auth_login":           {Limit: 5, WindowSeconds: 300, BurstAllowance: 2},
		"auth_register":        {Limit: 3, WindowSeconds: 3600, BurstAllowance: 1},
		"auth_password_reset":  {Limit: 3, WindowSeconds: 3600, BurstAllowance: 1},
		"vpn_connect":          {Limit: 20, WindowSeconds: 60, BurstAllowance: 5},
		"vpn_disconnect":       {Limit: 30, WindowSeconds: 60, BurstAllowance: 10},
		"payments":             {Limit: 10, WindowSeconds: 300, BurstAllowance: 3},
		"websocket":            {Limit: 5, WindowSeconds: 60, BurstAllowance: 2},
		"general":              {Limit: 60, WindowSeconds: 60, BurstAllowance: 20},
	}
}

// Load reads configuration from the environment (and an optional .env file
// in path) into a Config, applying defaults and clamping out-of-range
// values to sane minimums.
func Load(path string) (Config, error) {
	if path == "" {
		path = "."
	}
	if err := godotenv.Load(path + "/.env"); err != nil {
		// absence of a .env file is not an error outside local dev
		log.Printf("level=debug component=config msg=\"no .env file loaded\" path=%s", path)
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("JWT_ALGORITHM", "HS256")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 30)
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("DDOS_PROTECTION_ENABLED", true)
	v.SetDefault("GLOBAL_RATE_LIMIT", 1000)
	v.SetDefault("IP_RATE_LIMIT", 100)
	v.SetDefault("DDOS_THRESHOLD", 500)
	v.SetDefault("DDOS_BAN_DURATION_SECONDS", 3600)
	v.SetDefault("SUSPICIOUS_THRESHOLD", 50)
	v.SetDefault("SUSPICIOUS_WINDOW_SECONDS", 300)
	v.SetDefault("SUSPICIOUS_BAN_DURATION_SECONDS", 1800)
	v.SetDefault("OTP_TTL_MINUTES", 10)
	v.SetDefault("METRICS_PUSH_INTERVAL_SECONDS", 1)
	v.SetDefault("SESSION_STALE_THRESHOLD_SECONDS", 600)
	v.SetDefault("NOTIFY_QUEUE_NAME", "vpn_control.notifications")

	for _, key := range []string{
		"SERVER_PORT", "JWT_SECRET", "JWT_ALGORITHM", "ACCESS_TOKEN_TTL_MINUTES",
		"DATABASE_URL", "KV_URL", "ALLOWED_ORIGINS", "ALLOWED_HOSTS",
		"RATE_LIMIT_ENABLED", "DDOS_PROTECTION_ENABLED", "GLOBAL_RATE_LIMIT",
		"IP_RATE_LIMIT", "DDOS_THRESHOLD", "DDOS_BAN_DURATION_SECONDS",
		"DDOS_WHITELIST", "SUSPICIOUS_THRESHOLD", "SUSPICIOUS_WINDOW_SECONDS",
		"SUSPICIOUS_BAN_DURATION_SECONDS", "OTP_TTL_MINUTES",
		"METRICS_PUSH_INTERVAL_SECONDS", "SESSION_STALE_THRESHOLD_SECONDS",
		"PAYMENT_PROVIDER_SECRET", "PAYMENT_WEBHOOK_SECRET", "RABBITMQ_URL",
		"NOTIFY_QUEUE_NAME",
	} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	cfg.ServerPort = v.GetString("SERVER_PORT")
	cfg.JWTSecret = v.GetString("JWT_SECRET")
	cfg.JWTAlgorithm = v.GetString("JWT_ALGORITHM")
	cfg.AccessTokenTTLMinutes = v.GetInt("ACCESS_TOKEN_TTL_MINUTES")
	cfg.DatabaseURL = v.GetString("DATABASE_URL")
	cfg.KVURL = v.GetString("KV_URL")
	cfg.AllowedOrigins = splitCSV(v.GetString("ALLOWED_ORIGINS"))
	cfg.AllowedHosts = splitCSV(v.GetString("ALLOWED_HOSTS"))
	cfg.RateLimitEnabled = v.GetBool("RATE_LIMIT_ENABLED")
	cfg.DDoSProtectionOn = v.GetBool("DDOS_PROTECTION_ENABLED")
	cfg.GlobalRateLimit = v.GetInt("GLOBAL_RATE_LIMIT")
	cfg.IPRateLimit = v.GetInt("IP_RATE_LIMIT")
	cfg.DDoSThreshold = v.GetInt("DDOS_THRESHOLD")
	cfg.DDoSBanDurationSeconds = v.GetInt("DDOS_BAN_DURATION_SECONDS")
	cfg.DDoSWhitelist = splitCSV(v.GetString("DDOS_WHITELIST"))
	cfg.SuspiciousThreshold = v.GetInt("SUSPICIOUS_THRESHOLD")
	cfg.SuspiciousWindowSeconds = v.GetInt("SUSPICIOUS_WINDOW_SECONDS")
	cfg.SuspiciousBanSeconds = v.GetInt("SUSPICIOUS_BAN_DURATION_SECONDS")
	cfg.OTPTTLMinutes = v.GetInt("OTP_TTL_MINUTES")
	cfg.MetricsPushIntervalSeconds = v.GetInt("METRICS_PUSH_INTERVAL_SECONDS")
	cfg.SessionStaleThresholdSeconds = v.GetInt("SESSION_STALE_THRESHOLD_SECONDS")
	cfg.PaymentProviderSecret = v.GetString("PAYMENT_PROVIDER_SECRET")
	cfg.PaymentWebhookSecret = v.GetString("PAYMENT_WEBHOOK_SECRET")
	cfg.RabbitMQURL = v.GetString("RABBITMQ_URL")
	cfg.NotifyQueueName = v.GetString("NOTIFY_QUEUE_NAME")
	cfg.EndpointPolicies = DefaultEndpointPolicies()

	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return cfg, fmt.Errorf("config: JWT_SECRET is mandatory")
	}
	if cfg.AccessTokenTTLMinutes <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive ACCESS_TOKEN_TTL_MINUTES; defaulting to 30\"")
		cfg.AccessTokenTTLMinutes = 30
	}
	if cfg.MetricsPushIntervalSeconds <= 0 {
		cfg.MetricsPushIntervalSeconds = 1
	}
	if cfg.SessionStaleThresholdSeconds <= 0 {
		cfg.SessionStaleThresholdSeconds = 600
	}

	return cfg, nil
}

// AccessTokenTTL returns the configured token lifetime as a duration.
func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

// MetricsPushInterval returns the configured push cadence as a duration.
func (c Config) MetricsPushInterval() time.Duration {
	return time.Duration(c.MetricsPushIntervalSeconds) * time.Second
}

// SessionStaleThreshold returns the configured staleness window.
func (c Config) SessionStaleThreshold() time.Duration {
	return time.Duration(c.SessionStaleThresholdSeconds) * time.Second
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
