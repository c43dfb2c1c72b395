package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "COAUTHOR"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "coauthor.db"
	defaultLogLevel        = "info"
	defaultTokenTTLMinutes = 30
	defaultFlushDelayMs    = 500
	defaultPresignExpiryS  = 300
	defaultMaxUploadBytes  = 10 << 20
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	SigningSecret   string
	TokenTTL        time.Duration
	GoogleClientID  string
	GoogleJWKSURL   string
	DatabasePath    string
	RedisURL        string
	LogLevel        string
	FlushDelay      time.Duration
	SMTPHost        string
	SMTPPort        string
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	StorageEndpoint string
	StorageAccess   string
	StorageSecret   string
	StorageBucket   string
	StorageUseTLS   bool
	PresignExpiry   time.Duration
	MaxUploadBytes  int64
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("google.jwks_url", "https://www.googleapis.com/oauth2/v3/certs")
	configViper.SetDefault("realtime.flush_delay_ms", defaultFlushDelayMs)
	configViper.SetDefault("storage.presign_expiry_s", defaultPresignExpiryS)
	configViper.SetDefault("storage.max_upload_bytes", defaultMaxUploadBytes)
	configViper.SetDefault("storage.use_tls", true)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		TokenTTL:        time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		GoogleClientID:  configViper.GetString("google.client_id"),
		GoogleJWKSURL:   configViper.GetString("google.jwks_url"),
		DatabasePath:    configViper.GetString("database.path"),
		RedisURL:        configViper.GetString("redis.url"),
		LogLevel:        configViper.GetString("log.level"),
		FlushDelay:      time.Duration(configViper.GetInt("realtime.flush_delay_ms")) * time.Millisecond,
		SMTPHost:        configViper.GetString("smtp.host"),
		SMTPPort:        configViper.GetString("smtp.port"),
		SMTPUsername:    configViper.GetString("smtp.username"),
		SMTPPassword:    configViper.GetString("smtp.password"),
		SMTPFrom:        configViper.GetString("smtp.from"),
		StorageEndpoint: configViper.GetString("storage.endpoint"),
		StorageAccess:   configViper.GetString("storage.access_key"),
		StorageSecret:   configViper.GetString("storage.secret_key"),
		StorageBucket:   configViper.GetString("storage.bucket"),
		StorageUseTLS:   configViper.GetBool("storage.use_tls"),
		PresignExpiry:   time.Duration(configViper.GetInt("storage.presign_expiry_s")) * time.Second,
		MaxUploadBytes:  configViper.GetInt64("storage.max_upload_bytes"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.FlushDelay <= 0 {
		return fmt.Errorf("realtime.flush_delay_ms must be positive")
	}
	return nil
}
