package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/R3E-Network/signflow/internal/app/blob"
	"github.com/R3E-Network/signflow/internal/app/mail"
	"github.com/R3E-Network/signflow/internal/app/storage/postgres"
	"github.com/R3E-Network/signflow/internal/app/storage/redis"
	"github.com/R3E-Network/signflow/internal/config"
	"github.com/R3E-Network/signflow/internal/platform/database"
	"github.com/R3E-Network/signflow/internal/platform/migrations"
	"github.com/R3E-Network/signflow/pkg/logger"
)

// Open builds an Application from configuration, connecting to postgres,
// redis, the blob backend and the SMTP relay as configured. When migrate is
// set, pending migrations run before the services are built.
func Open(ctx context.Context, cfg *config.Config, migrate bool, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	var (
		stores  Stores
		closers []func() error
		checks  []func(context.Context) error
	)
	fail := func(err error) (*Application, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	if strings.EqualFold(cfg.Database.Driver, "postgres") {
		db, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, db.Close)
		checks = append(checks, db.PingContext)
		if migrate {
			if err := migrations.Up(db.DB); err != nil {
				return fail(fmt.Errorf("migrate: %w", err))
			}
			log.Info("database migrations applied")
		}
		pg := postgres.New(db)
		stores = Stores{
			Users: pg, Sessions: pg, Organizations: pg, Documents: pg, Folders: pg,
			Tags: pg, Permissions: pg, Signatures: pg, Audit: pg, Notifications: pg,
		}
	} else {
		log.Warn("using in-memory storage; data is lost on restart")
	}

	if url := strings.TrimSpace(cfg.Redis.URL); url != "" {
		client, err := redis.Open(ctx, url)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, client.Close)
		checks = append(checks, func(ctx context.Context) error { return client.Ping(ctx).Err() })
		stores.Sessions = redis.NewSessionStore(client)
		log.Info("sessions stored in redis")
	}

	blobs, err := openBlobs(ctx, cfg.Storage)
	if err != nil {
		return fail(err)
	}

	var sender mail.Sender
	if !cfg.Mail.Disabled {
		smtp, err := mail.NewSMTPSender(mail.SMTPConfig{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
		})
		if err != nil {
			return fail(err)
		}
		sender = smtp
	}

	application, err := New(stores, Options{Config: cfg, Blobs: blobs, Mailer: sender}, log)
	if err != nil {
		return fail(err)
	}
	application.closers = closers
	application.health = func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	return application, nil
}

func openBlobs(ctx context.Context, cfg config.StorageConfig) (blob.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		return blob.NewMemory(), nil
	case "filesystem":
		return blob.NewFilesystem(cfg.Root)
	case "s3":
		return blob.NewS3(ctx, blob.S3Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Backend)
	}
}
