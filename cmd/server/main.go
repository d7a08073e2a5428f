package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/listserv/internal/api"
	"github.com/ignite/listserv/internal/config"
	"github.com/ignite/listserv/internal/inbound"
	"github.com/ignite/listserv/internal/notify"
	"github.com/ignite/listserv/internal/permission"
	"github.com/ignite/listserv/internal/pkg/distlock"
	"github.com/ignite/listserv/internal/pkg/httpretry"
	"github.com/ignite/listserv/internal/pkg/logger"
	"github.com/ignite/listserv/internal/repository/dynamo"
	"github.com/ignite/listserv/internal/repository/memory"
	"github.com/ignite/listserv/internal/repository/postgres"
	"github.com/ignite/listserv/internal/service/command"
	"github.com/ignite/listserv/internal/service/mailinglist"
	"github.com/ignite/listserv/internal/service/routing"
	"github.com/ignite/listserv/internal/ses"
	"github.com/ignite/listserv/internal/storage"
	"github.com/ignite/listserv/internal/token"
)

func main() {
	path := "config/config.yaml"
	if p := os.Getenv("LISTSERV_CONFIG"); p != "" {
		path = p
	}
	cfg, err := config.LoadFromEnv(path)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Storage.MessageBucket == "" {
		log.Fatal("storage.message_bucket is required")
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.Redact())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := storage.LoadAWSConfig(ctx, storage.AWSOptions{
		Region:  cfg.Storage.AWSRegion,
		Profile: cfg.Storage.GetAWSProfile(),
	})
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}
	sesCfg, err := storage.LoadAWSConfig(ctx, storage.AWSOptions{
		Region:          cfg.SES.Region,
		Profile:         cfg.Storage.GetAWSProfile(),
		AccessKeyID:     cfg.SES.AccessKey,
		SecretAccessKey: cfg.SES.SecretKey,
	})
	if err != nil {
		log.Fatalf("Failed to load SES config: %v", err)
	}

	// Persistence
	var (
		repo mailinglist.Repository
		db   *sql.DB
	)
	switch cfg.Storage.Backend {
	case "postgres":
		db, err = sql.Open("postgres", cfg.Storage.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(20)
		db.SetConnMaxIdleTime(5 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("Failed to reach database: %v", err)
		}
		repo = postgres.NewRepo(db)
	case "dynamodb":
		repo = dynamo.NewFromConfig(awsCfg, cfg.Storage.DynamoDBTable)
	default:
		logger.Warn("using in-memory repository; state is lost on restart")
		repo = memory.New()
	}
	logger.Info("repository ready", "backend", cfg.Storage.Backend)

	// Per-list locks
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid redis url: %v", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to reach redis: %v", err)
		}
	}
	locker := distlock.NewLocker(rdb, db, distlock.Options{
		TTL:  cfg.Redis.LockTTL(),
		Wait: cfg.Redis.LockWait(),
	})

	// Mail in and out
	s3Client := s3.NewFromConfig(awsCfg)
	messages := storage.NewMessageStore(s3Client, cfg.Storage.MessageBucket, cfg.Storage.MessagePrefix)
	replyFrom := cfg.Core.ReplyFrom
	if replyFrom == "" {
		replyFrom = cfg.Core.CommandAddress
	}
	outbox := ses.NewOutboxFromConfig(sesCfg, messages, replyFrom,
		ses.WithTimeout(cfg.SES.Timeout()),
		ses.WithBatchSize(cfg.SES.BatchSize),
	)

	tokens, err := token.NewCodec(cfg.Core.SecretKey)
	if err != nil {
		log.Fatalf("Failed to create token codec: %v", err)
	}
	notices, err := notify.New(cfg.Core.CommandAddress)
	if err != nil {
		log.Fatalf("Failed to parse notification templates: %v", err)
	}

	registry, err := mailinglist.NewRegistry(mailinglist.Deps{
		Repo:           repo,
		Locker:         locker,
		Permissions:    permission.NewEngine(permission.WithOwnerOnlyConfig(cfg.Permissions.OwnerOnlyConfig)),
		Tokens:         tokens,
		Outbox:         outbox,
		Notices:        notices,
		CommandAddress: cfg.Core.CommandAddress,
	})
	if err != nil {
		log.Fatalf("Failed to create registry: %v", err)
	}
	if err := provision(ctx, registry, cfg); err != nil {
		log.Fatalf("Failed to provision lists: %v", err)
	}

	processor := inbound.NewProcessor(
		messages,
		routing.NewRouter(cfg.Core.CommandAddress, registry),
		command.NewDispatcher(registry, notices),
		outbox,
	)
	health := api.NewHealthChecker(db, rdb, s3Client, cfg.Storage.MessageBucket, func(ctx context.Context) (int, error) {
		addrs, err := registry.Addresses(ctx)
		return len(addrs), err
	})
	confirmer := httpretry.New(nil, httpretry.Options{})
	server := api.NewServer(cfg.Server, api.NewInboundHandler(processor, confirmer), health)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("starting server", "addr", cfg.Server.Addr(), "command_address", cfg.Core.CommandAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

// provision creates the bootstrap lists that do not exist yet.
func provision(ctx context.Context, reg *mailinglist.Registry, cfg *config.Config) error {
	for _, l := range cfg.Lists {
		_, created, err := reg.Ensure(ctx, l.Spec(cfg.Core))
		if err != nil {
			return fmt.Errorf("list %s: %w", l.Address, err)
		}
		if !created {
			logger.Debug("list already provisioned", "list", l.Address)
		}
	}
	return nil
}
