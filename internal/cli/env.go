package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/caseflow"
	"github.com/petrijr/caseflow/internal/config"
	"github.com/petrijr/caseflow/internal/notify"
	"github.com/petrijr/caseflow/internal/persistence"
	"github.com/petrijr/caseflow/internal/taskqueue"
	"github.com/petrijr/caseflow/pkg/api"
)

// caseStore is what the built-in steps need from the business-case side.
type caseStore interface {
	api.CaseStore
	api.ReviewerDirectory
	api.PeerReviewStore
}

// Env is a Runtime plus the connections it owns.
type Env struct {
	Runtime *caseflow.Runtime
	Config  *config.Config
	Logger  *slog.Logger

	notifier *notify.Async
	closers  []func() error
}

// Close waits for pending notifications and releases every connection.
func (e *Env) Close() error {
	if e == nil {
		return nil
	}
	if e.notifier != nil {
		e.notifier.Wait()
	}
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	return errors.Join(errs...)
}

// Open builds an Env from cfg.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Env, err error) {
	e := &Env{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	var (
		stores persistence.Persistence
		cases  caseStore
		queue  taskqueue.Queue
		db     *sql.DB
	)

	switch cfg.Store.Driver {
	case "memory":
		stores = persistence.NewInMemory()
		cases = persistence.NewInMemoryCaseStore()
	case "sqlite", "postgres":
		driver := "sqlite"
		if cfg.Store.Driver == "postgres" {
			driver = "pgx"
		}
		db, err = sql.Open(driver, cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Store.Driver, err)
		}
		e.closers = append(e.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping %s: %w", cfg.Store.Driver, err)
		}
		if stores, cases, err = openSQL(cfg.Store.Driver, db); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}

	switch cfg.Queue.Driver {
	case "memory":
		queue = taskqueue.NewInMemoryQueue(cfg.Queue.Capacity)
	case "sqlite":
		queue, err = taskqueue.NewSQLiteQueue(db)
	case "postgres":
		queue, err = taskqueue.NewPostgresQueue(db)
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisAddr})
		e.closers = append(e.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		queue = taskqueue.NewRedisQueue(client, cfg.Queue.RedisPrefix)
	default:
		return nil, fmt.Errorf("unsupported queue driver %q", cfg.Queue.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s queue: %w", cfg.Queue.Driver, err)
	}

	if cfg.Exceptions.Backend == "mongo" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Exceptions.MongoURI))
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		e.closers = append(e.closers, func() error { return client.Disconnect(context.Background()) })
		stores.Exceptions = persistence.NewMongoExceptionStore(client, cfg.Exceptions.MongoDatabase, cfg.Exceptions.MongoCollection)
	}

	e.notifier = notify.NewAsync(notify.LogNotifier{Logger: logger}, logger, cfg.Notify.SendTimeout)

	e.Runtime, err = caseflow.New(caseflow.Options{
		Stores:    stores,
		Queue:     queue,
		Cases:     cases,
		Directory: cases,
		Reviews:   cases,
		Notifier:  e.notifier,
		Retry: caseflow.Retry(cfg.Worker.MaxAttempts).
			WithExponentialBackoff(cfg.Worker.InitialBackoff, cfg.Worker.BackoffMultiplier, cfg.Worker.MaxBackoff).
			Ptr(),
		InterStepDelay:   cfg.Engine.InterStepDelay,
		FailOnExhaustion: cfg.Engine.FailOnExhaustion,
		AdminRecipient:   cfg.Notify.AdminRecipient,
		MetricsNS:        cfg.Metrics.Namespace,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func openSQL(driver string, db *sql.DB) (persistence.Persistence, caseStore, error) {
	var (
		store *persistence.SQLStore
		cases *persistence.SQLCaseStore
		err   error
	)
	if driver == "postgres" {
		if store, err = persistence.NewPostgresStore(db); err == nil {
			cases, err = persistence.NewPostgresCaseStore(db)
		}
	} else {
		if store, err = persistence.NewSQLiteStore(db); err == nil {
			cases, err = persistence.NewSQLiteCaseStore(db)
		}
	}
	if err != nil {
		return persistence.Persistence{}, nil, fmt.Errorf("init %s schema: %w", driver, err)
	}
	return persistence.Persistence{Instances: store, Steps: store, Exceptions: store}, cases, nil
}
