package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"careportal/internal/assignment/repository"
	"careportal/internal/audit"
	auditrepo "careportal/internal/audit/repository"
	"careportal/internal/config"
	"careportal/internal/db"
	"careportal/internal/encryption"
	healthhandler "careportal/internal/health/handler"
	identityhandler "careportal/internal/identity/handler"
	identityrepo "careportal/internal/identity/repository"
	identityservice "careportal/internal/identity/service"
	"careportal/internal/metrics"
	"careportal/internal/notify"
	"careportal/internal/pii"
	"careportal/internal/policy/engine"
	policyrepo "careportal/internal/policy/repository"
	"careportal/internal/resetlimit"
	"careportal/internal/security"
	"careportal/internal/server"
	"careportal/internal/server/interceptors"
	sessionrepo "careportal/internal/session/repository"
	sessionservice "careportal/internal/session/service"
	"careportal/internal/telemetry"
	otelsetup "careportal/internal/telemetry/otel"
	"careportal/internal/telemetry/producer"
	"careportal/internal/vault/blob"
	vaultrepo "careportal/internal/vault/repository"
	vaultservice "careportal/internal/vault/service"
)

const redisSessionPrefix = "careportal:session"

// app is the wired process: handler dependencies plus everything that needs closing.
type app struct {
	http    server.HTTPDeps
	grpc    server.Deps
	closers []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg *config.Config) (*app, error) {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	tokens, err := tokenProvider(cfg)
	if err != nil {
		return nil, err
	}
	cipher, err := encryptionEngine(ctx, cfg)
	if err != nil {
		return nil, err
	}

	conn, err := db.Open(ctx, cfg.DatabaseURL, db.DefaultPool)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = conn.Close() })

	sessions, err := sessionRepository(ctx, cfg, conn, a)
	if err != nil {
		return nil, err
	}
	blobs, err := blobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	mirrors, telemetryOn, err := auditMirrors(ctx, cfg, a)
	if err != nil {
		return nil, err
	}
	auditLog := audit.NewLogger(auditrepo.NewPostgresRepository(conn), interceptors.ClientInfo, mirrors...)

	identities := identityrepo.NewPostgresRepository(conn)
	assignments := repository.NewPostgresRepository(conn)
	policy := engine.NewOPAEvaluator(policyrepo.NewPostgresRepository(conn))
	sessionSvc := sessionservice.NewService(sessions, cfg.RefreshTTL())

	var mailer notify.Mailer
	var outbox *notify.DevOutbox
	switch {
	case cfg.DevOutbox:
		outbox = notify.NewDevOutbox()
		mailer = outbox
		log.Println("server: reset mails go to the dev outbox at GET /dev/outbox")
	case cfg.MailWebhookURL != "":
		mailer = notify.NewWebhookMailer(cfg.MailAPIKey, cfg.MailWebhookURL, cfg.ResetLinkBase)
	default:
		mailer = notify.Discard{}
		log.Println("server: no mail relay configured; password reset mails are dropped")
	}

	authSvc := identityservice.NewAuthService(identityservice.Deps{
		Identities:  identities,
		Codec:       pii.NewCodec(cipher, identities, auditLog),
		Sessions:    sessionSvc,
		Tokens:      tokens,
		Hasher:      security.NewHasher(cfg.BcryptCost),
		Limiter:     resetlimit.New(identities, cfg.ResetMaxAttempts, cfg.ResetWindow()),
		Mailer:      mailer,
		Audit:       auditLog,
		Assignments: assignments,
		Metrics:     m,
		ResetTTL:    cfg.ResetTokenTTL(),
	})
	// Detached reset mails finish before the database and audit sinks close.
	a.closers = append(a.closers, authSvc.Wait)
	vaultSvc := vaultservice.NewService(vaultservice.Deps{
		Cipher:       cipher,
		Blobs:        blobs,
		Files:        vaultrepo.NewPostgresRepository(conn),
		Policy:       policy,
		Assignments:  assignments,
		Audit:        auditLog,
		Metrics:      m,
		MaxBytes:     cfg.UploadMaxBytes,
		AllowedTypes: cfg.AllowedUploadTypes(),
	})
	health := healthhandler.NewServer(conn, policy)

	a.http = server.HTTPDeps{
		Tokens:            tokens,
		Auth:              authSvc,
		Cookie:            identityhandler.CookieConfig{Secure: cfg.CookieSecure},
		Session:           sessionSvc,
		Vault:             vaultSvc,
		Audit:             auditLog,
		Assignments:       assignments,
		Identities:        identities,
		Health:            health,
		Metrics:           m,
		AuthRatePerSecond: cfg.AuthRatePerSecond,
		AuthRateBurst:     cfg.AuthRateBurst,
	}
	if outbox != nil {
		a.http.DevOutbox = outbox
	}
	a.grpc = server.Deps{Tokens: tokens, Audit: auditLog, Health: health, Telemetry: telemetryOn}
	ok = true
	return a, nil
}

// tokenProvider prefers an asymmetric key pair and falls back to the HMAC secret.
func tokenProvider(cfg *config.Config) (*security.TokenProvider, error) {
	if cfg.JWTPrivateKey != "" || cfg.JWTPublicKey != "" {
		priv, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("jwt keys: %w", err)
		}
		return security.NewKeyPairTokenProvider(priv, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	}
	if cfg.JWTSigningSecret == "" {
		return nil, errors.New("set JWT_SIGNING_SECRET or JWT_PRIVATE_KEY and JWT_PUBLIC_KEY")
	}
	return security.NewHMACTokenProvider([]byte(cfg.JWTSigningSecret), cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
}

func encryptionEngine(ctx context.Context, cfg *config.Config) (*encryption.Engine, error) {
	var src encryption.KeySource
	switch cfg.EncryptionKeySource {
	case "vault":
		kv, err := encryption.NewVaultKV(cfg.VaultKeyPath)
		if err != nil {
			return nil, err
		}
		src = kv
	default:
		if cfg.EncryptionKey == "" {
			return nil, errors.New("ENCRYPTION_KEY is not set")
		}
		key, err := cfg.EncryptionKeyBytes()
		if err != nil {
			return nil, err
		}
		src = encryption.StaticKey(key)
	}
	key, err := src.Key(ctx)
	if err != nil {
		return nil, err
	}
	return encryption.New(encryption.Config{Key: key})
}

func sessionRepository(ctx context.Context, cfg *config.Config, conn *sql.DB, a *app) (sessionrepo.Repository, error) {
	if cfg.SessionBackend != "redis" {
		return sessionrepo.NewPostgresRepository(conn), nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	log.Printf("server: sessions stored in redis at %s", cfg.RedisAddr)
	return sessionrepo.NewRedisRepository(rdb, redisSessionPrefix), nil
}

func blobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	if cfg.BlobBackend == "s3" {
		return blob.NewS3StoreFromEnv(ctx, cfg.S3Bucket, cfg.S3Prefix)
	}
	return blob.NewFSStore(cfg.BlobDir)
}

// auditMirrors returns the optional OTel and Kafka audit emitters. The bool reports whether OTLP
// export is on, which also enables gRPC tracing.
func auditMirrors(ctx context.Context, cfg *config.Config, a *app) ([]telemetry.EventEmitter, bool, error) {
	var mirrors []telemetry.EventEmitter
	telemetryOn := cfg.OTLPEndpoint != ""
	if telemetryOn {
		providers, err := otelsetup.NewProviders(ctx, otelsetup.Settings{
			Endpoint:    cfg.OTLPEndpoint,
			ServiceName: "careportal",
			Environment: cfg.Env,
			Insecure:    cfg.OTLPInsecure,
		})
		if err != nil {
			return nil, false, fmt.Errorf("otel: %w", err)
		}
		providers.SetGlobal()
		a.closers = append(a.closers, func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := providers.Shutdown(ctx); err != nil {
				log.Printf("otel shutdown: %v", err)
			}
		})
		mirrors = append(mirrors, otelsetup.NewAuditEmitter(providers.LoggerProvider))
	}
	if kp := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.AuditKafkaTopic); kp != nil {
		a.closers = append(a.closers, func() { _ = kp.Close() })
		mirrors = append(mirrors, kp)
		log.Printf("server: streaming audit records to kafka topic %s", cfg.AuditKafkaTopic)
	}
	if len(mirrors) > 0 {
		// Closers run in reverse, so in-flight async emits drain before the sinks close.
		a.closers = append(a.closers, func() { time.Sleep(telemetry.ShutdownDrainDuration) })
	}
	return mirrors, telemetryOn, nil
}
