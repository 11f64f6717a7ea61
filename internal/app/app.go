// Package app builds the runtime shared by the API and worker services.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/dirsync/internal/account"
	"github.com/cuongbtq/dirsync/internal/config"
	"github.com/cuongbtq/dirsync/internal/directory"
	"github.com/cuongbtq/dirsync/internal/dirsync"
	"github.com/cuongbtq/dirsync/internal/executor"
	"github.com/cuongbtq/dirsync/internal/job"
	"github.com/cuongbtq/dirsync/internal/mapping"
	"github.com/cuongbtq/dirsync/internal/metrics"
	"github.com/cuongbtq/dirsync/migrations"
	"github.com/cuongbtq/dirsync/shared/logger"
	"github.com/cuongbtq/dirsync/shared/postgresql"
	"github.com/cuongbtq/dirsync/shared/rabbitmq"
)

// Runtime holds the connected clients and the sync service
type Runtime struct {
	Logger    *slog.Logger
	DB        *postgresql.Client
	Rabbit    *rabbitmq.Client
	Accounts  *account.Storage
	Directory *directory.Client
	Executor  *executor.Postgres
	Registry  *job.Registry
	Metrics   *metrics.Metrics
	Sync      *dirsync.Service
}

// New connects to PostgreSQL and RabbitMQ, applies migrations and wires the
// sync service into a persisted executor
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Runtime, error) {
	rt := &Runtime{Logger: log}

	var err error
	if rt.DB, err = initPostgreSQL(ctx, &cfg.Database, log); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := rt.DB.Migrate(ctx, migrations.FS); err != nil {
		rt.Close()
		return nil, err
	}

	if rt.Rabbit, err = initRabbitMQ(&cfg.RabbitMQ, log); err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	table, err := loadTable(cfg.Sync.MappingFile)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.Accounts = account.NewStorage(rt.DB.GetDB(), log)
	rt.Directory = directory.NewClient(directoryConfig(&cfg.Directory), log)
	rt.Registry = job.NewRegistry()
	rt.Metrics = metrics.New()
	rt.Executor = executor.NewPostgres(rt.DB.GetDB(), rt.Registry, rt.Rabbit, log)

	rt.Sync = dirsync.NewService(&dirsync.Dependencies{
		Accounts:                 rt.Accounts,
		Directory:                rt.Directory,
		Converter:                mapping.NewConverter(table, rt.Directory, cfg.Sync.SchemaTTL),
		Scheduler:                rt.Executor,
		Metrics:                  rt.Metrics,
		Logger:                   log,
		RetryBudget:              cfg.Sync.Retries(),
		Strict:                   cfg.Sync.Strict,
		ProtectedAccountFields:   cfg.Sync.ProtectedAccountFields,
		ProtectedDirectoryFields: cfg.Sync.ProtectedDirectoryFields,
	})
	rt.Sync.Register(rt.Registry)

	rt.Accounts.OnChange(rt.Sync.AccountChanged)
	rt.Executor.OnCall(rt.Sync.ObserveJob)

	return rt, nil
}

// RabbitHealth reports the broker connection state
func (rt *Runtime) RabbitHealth(context.Context) error {
	if !rt.Rabbit.IsConnected() {
		return rabbitmq.ErrNotConnected
	}
	return nil
}

// Close releases every connection that was opened
func (rt *Runtime) Close() {
	if rt.Rabbit != nil {
		rt.Rabbit.Close()
	}
	if rt.DB != nil {
		rt.DB.Close()
	}
}

func loadTable(path string) (*mapping.Table, error) {
	if path == "" {
		return mapping.NewTable()
	}
	return mapping.LoadTable(path)
}

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      cfg.App.Name,
		Version:      cfg.App.Version,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(ctx, &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		DeadLetterExchange: cfg.Queue.DeadLetterExchange,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}

func directoryConfig(cfg *config.DirectoryConfig) *directory.Config {
	return &directory.Config{
		BaseURL:                 cfg.BaseURL,
		Token:                   cfg.Token,
		Timeout:                 cfg.Timeout,
		PageSize:                cfg.PageSize,
		RateLimit:               cfg.RateLimit,
		RateBurst:               cfg.RateBurst,
		BreakerMaxRequests:      cfg.Breaker.MaxRequests,
		BreakerInterval:         cfg.Breaker.Interval,
		BreakerTimeout:          cfg.Breaker.Timeout,
		BreakerFailureThreshold: cfg.Breaker.FailureThreshold,
	}
}
