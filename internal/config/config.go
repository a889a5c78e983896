// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the internal gRPC server (health) listens on.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// JWTSigningSecret is the HMAC secret for HS256 access tokens. Ignored when a key pair is set.
	JWTSigningSecret string `mapstructure:"JWT_SIGNING_SECRET"`
	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY for RS256/ES256.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "30m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the absolute session lifetime (e.g. "720h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// CookieSecure sets the Secure flag on the refresh cookie. Must be true in production.
	CookieSecure bool `mapstructure:"COOKIE_SECURE"`

	// EncryptionKey is the hex-encoded 32-byte AES key used when EncryptionKeySource is "env".
	EncryptionKey string `mapstructure:"ENCRYPTION_KEY"`
	// EncryptionKeySource selects where the key is loaded from: "env" or "vault".
	EncryptionKeySource string `mapstructure:"ENCRYPTION_KEY_SOURCE"`
	// VaultKeyPath is the KV v2 path holding the key (field "value", base64) when the source is "vault".
	VaultKeyPath string `mapstructure:"VAULT_KEY_PATH"`

	// ResetMaxAttempts is the number of password-reset requests allowed per window.
	ResetMaxAttempts int `mapstructure:"RESET_MAX_ATTEMPTS"`
	// ResetWindowStr is the rolling window for reset attempts (e.g. "60m").
	ResetWindowStr string `mapstructure:"RESET_WINDOW"`
	// ResetTokenTTLStr is the lifetime of an issued reset token (e.g. "1h").
	ResetTokenTTLStr string `mapstructure:"RESET_TOKEN_TTL"`

	// UploadMaxBytes is the largest accepted upload; enforced before encryption.
	UploadMaxBytes int64 `mapstructure:"UPLOAD_MAX_BYTES"`
	// UploadAllowedTypes is a comma-separated list of accepted MIME types.
	UploadAllowedTypes string `mapstructure:"UPLOAD_ALLOWED_TYPES"`
	// BlobBackend selects the encrypted blob store: "fs" or "s3".
	BlobBackend string `mapstructure:"BLOB_BACKEND"`
	// BlobDir is the directory for the "fs" blob backend.
	BlobDir string `mapstructure:"BLOB_DIR"`
	// S3Bucket is the bucket for the "s3" blob backend.
	S3Bucket string `mapstructure:"S3_BUCKET"`
	// S3Prefix is an optional key prefix inside S3Bucket.
	S3Prefix string `mapstructure:"S3_PREFIX"`

	// SessionBackend selects the session store: "postgres" or "redis".
	SessionBackend string `mapstructure:"SESSION_BACKEND"`
	// RedisAddr is the Redis address used when SessionBackend is "redis".
	RedisAddr string `mapstructure:"REDIS_ADDR"`

	// AuthRatePerSecond and AuthRateBurst bound credential endpoint traffic per client IP.
	AuthRatePerSecond int `mapstructure:"AUTH_RATE_PER_SECOND"`
	AuthRateBurst     int `mapstructure:"AUTH_RATE_BURST"`

	// KafkaBrokers is a comma-separated list of Kafka brokers. When set, audit events are also streamed to Kafka.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuditKafkaTopic is the Kafka topic for audit events.
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the audit worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is where the audit worker pushes log lines (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// MailWebhookURL is the mail relay endpoint for password-reset messages.
	MailWebhookURL string `mapstructure:"MAIL_WEBHOOK_URL"`
	// MailAPIKey is sent as a bearer key to the mail relay.
	MailAPIKey string `mapstructure:"MAIL_API_KEY"`
	// ResetLinkBase is the front-end URL the reset token is appended to.
	ResetLinkBase string `mapstructure:"RESET_LINK_BASE"`
	// DevOutbox keeps reset mails in memory and exposes them on GET /dev/outbox. Never in production.
	DevOutbox bool `mapstructure:"DEV_OUTBOX"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("JWT_SIGNING_SECRET", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "careportal-auth")
	v.SetDefault("JWT_AUDIENCE", "careportal-api")
	v.SetDefault("JWT_ACCESS_TTL", "30m")
	v.SetDefault("JWT_REFRESH_TTL", "720h") // 30d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("ENCRYPTION_KEY", "")
	v.SetDefault("ENCRYPTION_KEY_SOURCE", "env")
	v.SetDefault("VAULT_KEY_PATH", "secret/data/careportal/encryption-key")
	v.SetDefault("RESET_MAX_ATTEMPTS", 3)
	v.SetDefault("RESET_WINDOW", "60m")
	v.SetDefault("RESET_TOKEN_TTL", "1h")
	v.SetDefault("UPLOAD_MAX_BYTES", 10<<20)
	v.SetDefault("UPLOAD_ALLOWED_TYPES", "application/pdf,image/jpeg,image/png")
	v.SetDefault("BLOB_BACKEND", "fs")
	v.SetDefault("BLOB_DIR", "./uploads")
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_PREFIX", "")
	v.SetDefault("SESSION_BACKEND", "postgres")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("AUTH_RATE_PER_SECOND", 5)
	v.SetDefault("AUTH_RATE_BURST", 10)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "careportal-audit")
	v.SetDefault("KAFKA_GROUP_ID", "careportal-audit-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("MAIL_WEBHOOK_URL", "")
	v.SetDefault("MAIL_API_KEY", "")
	v.SetDefault("RESET_LINK_BASE", "http://localhost:3000/reset-password")
	v.SetDefault("DEV_OUTBOX", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if !cfg.CookieSecure && cfg.Env == "production" {
		return nil, errors.New("config: COOKIE_SECURE must not be false when APP_ENV=production")
	}

	if cfg.DevOutbox && cfg.Env == "production" {
		return nil, errors.New("config: DEV_OUTBOX must not be enabled when APP_ENV=production")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.ResetMaxAttempts <= 0 {
		return nil, errors.New("config: RESET_MAX_ATTEMPTS must be positive")
	}
	if cfg.UploadMaxBytes <= 0 {
		return nil, errors.New("config: UPLOAD_MAX_BYTES must be positive")
	}

	switch cfg.EncryptionKeySource {
	case "env":
		if cfg.EncryptionKey != "" {
			if _, err := cfg.EncryptionKeyBytes(); err != nil {
				return nil, err
			}
		}
	case "vault":
		if cfg.VaultKeyPath == "" {
			return nil, errors.New("config: VAULT_KEY_PATH must be set when ENCRYPTION_KEY_SOURCE=vault")
		}
	default:
		return nil, errors.New("config: ENCRYPTION_KEY_SOURCE must be env or vault")
	}
	switch cfg.BlobBackend {
	case "fs", "s3":
	default:
		return nil, errors.New("config: BLOB_BACKEND must be fs or s3")
	}
	if cfg.BlobBackend == "s3" && cfg.S3Bucket == "" {
		return nil, errors.New("config: S3_BUCKET must be set when BLOB_BACKEND=s3")
	}
	switch cfg.SessionBackend {
	case "postgres", "redis":
	default:
		return nil, errors.New("config: SESSION_BACKEND must be postgres or redis")
	}

	return &cfg, nil
}

// EncryptionKeyBytes decodes EncryptionKey. The key must be exactly 32 bytes (AES-256).
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(c.EncryptionKey))
	if err != nil {
		return nil, errors.New("config: ENCRYPTION_KEY must be hex-encoded")
	}
	if len(key) != 32 {
		return nil, errors.New("config: ENCRYPTION_KEY must decode to exactly 32 bytes")
	}
	return key, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 30m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 30*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 720h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 720*time.Hour)
}

// ResetWindow parses ResetWindowStr. Returns 60m if unset or invalid.
func (c *Config) ResetWindow() time.Duration {
	return parseDuration(c.ResetWindowStr, 60*time.Minute)
}

// ResetTokenTTL parses ResetTokenTTLStr. Returns 1h if unset or invalid.
func (c *Config) ResetTokenTTL() time.Duration {
	return parseDuration(c.ResetTokenTTLStr, time.Hour)
}

// AllowedUploadTypes returns the accepted MIME types from the comma-separated config.
func (c *Config) AllowedUploadTypes() []string {
	return splitList(c.UploadAllowedTypes)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if audit streaming is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
