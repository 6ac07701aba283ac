package main

import (
	"context"
	"fmt"
	"log/slog"

	"blogfront/internal/auth/service"
	"blogfront/internal/platform/config"
	"blogfront/pkg/platform/audit"
	"blogfront/pkg/platform/audit/publisher"
	kafkastore "blogfront/pkg/platform/audit/store/kafka"
	"blogfront/pkg/platform/audit/store/memory"
	postgresstore "blogfront/pkg/platform/audit/store/postgres"
)

// newAuditPublisher builds the audit sink chosen by config. The returned
// close func flushes the async buffer and releases the sink's connections.
func newAuditPublisher(ctx context.Context, cfg config.AuditConfig, log *slog.Logger) (service.AuditPublisher, func(), error) {
	var (
		sink    audit.Appender
		release = func() {}
	)
	switch cfg.Sink {
	case config.AuditSinkNone:
		return nil, func() {}, nil
	case config.AuditSinkMemory:
		sink = memory.NewInMemoryStore()
	case config.AuditSinkPostgres:
		db, err := postgresstore.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit database: %w", err)
		}
		store := postgresstore.New(db)
		if err := store.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrate audit database: %w", err)
		}
		sink = store
		release = func() { _ = db.Close() }
	case config.AuditSinkKafka:
		client, err := kafkastore.NewClient(cfg.KafkaBrokers)
		if err != nil {
			return nil, nil, fmt.Errorf("connect audit kafka: %w", err)
		}
		sink = kafkastore.New(client, cfg.KafkaTopic)
		release = client.Close
	default:
		return nil, nil, fmt.Errorf("unknown audit sink %q", cfg.Sink)
	}

	opts := []publisher.Option{publisher.WithLogger(log)}
	if cfg.AsyncBuffer > 0 {
		opts = append(opts, publisher.WithAsyncBuffer(cfg.AsyncBuffer))
	}
	pub := publisher.NewPublisher(sink, opts...)
	return pub, func() {
		pub.Close()
		release()
	}, nil
}
