// worker forwards audit records from Kafka to Loki and periodically reports vault orphans.
// Forwarding needs KAFKA_BROKERS and LOKI_URL; the orphan report needs DATABASE_URL.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"careportal/internal/config"
	"careportal/internal/db"
	"careportal/internal/telemetry/loki"
	"careportal/internal/vault/blob"
	vaultrepo "careportal/internal/vault/repository"
	vaultservice "careportal/internal/vault/service"
)

const reconcileInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	started := 0

	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 && cfg.LokiURL != "" {
		client, err := loki.NewClient(cfg.LokiURL)
		if err != nil {
			log.Fatalf("worker: %v", err)
		}
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          cfg.AuditKafkaTopic,
			GroupID:        cfg.KafkaGroupID,
			MinBytes:       1,
			MaxBytes:       10e6, // 10MB
			MaxWait:        time.Second,
			CommitInterval: time.Second,
		})
		defer reader.Close()
		log.Printf("worker: consuming %s (group %s), pushing to %s", cfg.AuditKafkaTopic, cfg.KafkaGroupID, cfg.LokiURL)
		g.Go(func() error { return forward(ctx, reader, client) })
		started++
	}

	if cfg.DatabaseURL != "" {
		conn, err := db.Open(ctx, cfg.DatabaseURL, db.Pool{MaxOpen: 2})
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer conn.Close()
		blobs, err := openBlobs(ctx, cfg)
		if err != nil {
			log.Fatalf("blob store: %v", err)
		}
		vault := vaultservice.NewService(vaultservice.Deps{Blobs: blobs, Files: vaultrepo.NewPostgresRepository(conn)})
		g.Go(func() error { return reconcileLoop(ctx, vault) })
		started++
	}

	if started == 0 {
		log.Fatal("worker: nothing to do; set KAFKA_BROKERS and LOKI_URL, or DATABASE_URL")
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("worker: %v", err)
	}
	log.Println("worker: stopped")
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

type auditPusher interface {
	PushAuditJSON(ctx context.Context, raw []byte) error
}

// forward pushes each audit message to Loki. A failed push is logged and the message is not retried.
func forward(ctx context.Context, r messageReader, p auditPusher) error {
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("worker: kafka read error: %v", err)
			continue
		}
		pushCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := p.PushAuditJSON(pushCtx, msg.Value); err != nil {
			log.Printf("worker: loki push failed: %v", err)
		}
		cancel()
	}
}

type reconciler interface {
	ReconcileOrphans(ctx context.Context) (*vaultservice.Orphans, error)
}

func reconcileLoop(ctx context.Context, v reconciler) error {
	t := time.NewTicker(reconcileInterval)
	defer t.Stop()
	for {
		reportOrphans(ctx, v)
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

func reportOrphans(ctx context.Context, v reconciler) {
	o, err := v.ReconcileOrphans(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("worker: reconcile: %v", err)
		}
		return
	}
	for _, k := range o.BlobKeys {
		log.Printf("worker: blob %s has no metadata row", k)
	}
	for _, r := range o.Records {
		log.Printf("worker: file %s (owner %s) is missing blob %s", r.ID, r.OwnerID, r.BlobKey)
	}
	log.Printf("worker: reconcile done: %d orphan blobs, %d orphan records", len(o.BlobKeys), len(o.Records))
}

func openBlobs(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	if cfg.BlobBackend == "s3" {
		return blob.NewS3StoreFromEnv(ctx, cfg.S3Bucket, cfg.S3Prefix)
	}
	return blob.NewFSStore(cfg.BlobDir)
}
