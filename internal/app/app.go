// Package app builds the process-wide object graph from configuration.
// Handlers, workers and binaries receive the App explicitly; there are no
// package-level service singletons.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/cardmail/internal/api"
	"github.com/ignite/cardmail/internal/config"
	"github.com/ignite/cardmail/internal/mailer"
	"github.com/ignite/cardmail/internal/pkg/distlock"
	"github.com/ignite/cardmail/internal/pkg/logger"
	"github.com/ignite/cardmail/internal/repository/memory"
	"github.com/ignite/cardmail/internal/repository/postgres"
	"github.com/ignite/cardmail/internal/service/followup"
	"github.com/ignite/cardmail/internal/service/tracking"
	ingress "github.com/ignite/cardmail/internal/tracking"
	"github.com/ignite/cardmail/internal/worker"
)

// sweepLockKey names the distributed lock around each follow-up sweep.
const sweepLockKey = "followup-sweep"

// ErrNoTransport means the configured provider has no credentials.
var ErrNoTransport = errors.New("email transport not configured")

// Store is everything the services need from storage. Both the postgres
// and memory stores satisfy it.
type Store interface {
	tracking.Repository
	followup.Repository
	mailer.RecordStore
	api.ContactStore
	api.Pinger
}

// App holds the wired components.
type App struct {
	Config     *config.Config
	DB         *sql.DB
	Redis      *redis.Client
	Store      Store
	StoreKind  string
	Dispatcher *mailer.Dispatcher // nil when no transport is configured
	Engine     *tracking.Engine
	FollowUps  *followup.Service
	Scheduler  *worker.FollowUpScheduler
	Archive    *ingress.Archive
	Verifier   *ingress.Verifier

	log *logger.Logger
}

// New builds the App. Without a database URL it runs on the in-memory store.
// Redis, the email transport and the archive are optional; their absence is
// logged and the dependent features degrade.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())

	a := &App{Config: cfg, log: logger.Default().With("component", "app")}

	if cfg.Database.URL != "" {
		db, err := openDB(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.Store = postgres.NewStore(db)
		a.StoreKind = "postgres"
	} else {
		a.log.Warn("no database configured, using in-memory store")
		a.Store = memory.NewStore()
		a.StoreKind = "memory"
	}

	a.Redis = openRedis(ctx, cfg.Redis.URL, a.log)

	verifier, err := ingress.NewVerifier(cfg.Webhook.VerifyKey)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Verifier = verifier
	if !verifier.Enabled() && cfg.Webhook.EnforceSignature {
		a.Close()
		return nil, fmt.Errorf("webhook.enforce_signature requires webhook.verify_key")
	}

	archive, err := ingress.NewS3Archive(ctx, cfg.Webhook.ArchiveBucket, cfg.Webhook.ArchiveRegion)
	if err != nil {
		a.log.Warn("webhook archive disabled", "error", err)
	}
	a.Archive = archive

	transport, err := NewTransport(ctx, cfg)
	if err != nil {
		a.log.Warn("email sending disabled", "provider", cfg.Mailer.Provider, "error", err)
	} else {
		a.Dispatcher = mailer.NewDispatcher(transport, a.Store, mailer.Config{
			FromEmail: cfg.Mailer.FromEmail,
			FromName:  cfg.Mailer.FromName,
			ReplyTo:   cfg.Mailer.ReplyToEmail,
			Timeout:   cfg.Mailer.Timeout(),
		})
	}
	if cfg.Mailer.Provider == "ses" {
		// Only the SendGrid event webhook feeds the engine.
		a.log.Warn("ses provider: no engagement events are received, only the follow-up sweep applies")
	}

	// A nil *Dispatcher must not become a non-nil interface value.
	var propertySender tracking.Sender
	var followUpSender followup.Sender
	if a.Dispatcher != nil {
		propertySender = a.Dispatcher
		followUpSender = a.Dispatcher
	}

	a.Engine = tracking.NewEngine(a.Store, propertySender, tracking.Options{
		ClaimLease:       cfg.FollowUp.ClaimLease,
		SuppressFollowUp: cfg.FollowUp.SuppressAfterProperty(),
	})
	a.FollowUps = followup.NewService(a.Store, followUpSender, followup.Options{
		SendPause:  cfg.FollowUp.SendPause,
		ClaimLease: cfg.FollowUp.ClaimLease,
		BatchLimit: cfg.FollowUp.BatchLimit,
	})

	hour, minute, _ := cfg.FollowUp.DailyClock()
	lock := distlock.NewLock(a.Redis, a.DB, sweepLockKey, 2*cfg.FollowUp.ClaimLease)
	a.Scheduler = worker.NewFollowUpScheduler(a.FollowUps, lock, worker.SchedulerConfig{
		Threshold: cfg.FollowUp.Threshold,
		Tick:      cfg.FollowUp.Tick,
		DailyHour: hour,
		DailyMin:  minute,
	})

	return a, nil
}

// NewTransport builds the transport selected by mailer.provider.
func NewTransport(ctx context.Context, cfg *config.Config) (mailer.Transport, error) {
	switch cfg.Mailer.Provider {
	case "ses":
		return mailer.NewSESTransportFromConfig(ctx, cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region, cfg.SES.ConfigurationSet)
	default:
		if cfg.SendGrid.APIKey == "" {
			return nil, ErrNoTransport
		}
		return mailer.NewSendGridTransport(cfg.SendGrid.APIKey, cfg.SendGrid.BaseURL, cfg.SendGrid.UnsubscribeGroupID), nil
	}
}

// Start launches background workers.
func (a *App) Start() error {
	if !a.Config.FollowUp.IsEnabled() {
		a.log.Info("follow-up scheduler disabled")
		return nil
	}
	if a.Dispatcher == nil {
		a.log.Warn("follow-up scheduler not started, no email transport")
		return nil
	}
	return a.Scheduler.Start()
}

// Handlers builds the HTTP handler set.
func (a *App) Handlers() *api.Handlers {
	d := api.Deps{
		Engine:           a.Engine,
		Verifier:         a.Verifier,
		EnforceSignature: a.Config.Webhook.EnforceSignature,
		Archive:          a.Archive,
		MaxBodyBytes:     a.Config.Webhook.MaxBodyBytes,
		Contacts:         a.Store,
		FollowUps:        a.FollowUps,
		Scheduler:        a.Scheduler,
		Threshold:        a.Config.FollowUp.Threshold,
	}
	if a.Dispatcher != nil {
		d.Mailer = a.Dispatcher
	}
	return api.NewHandlers(d)
}

// HealthChecker builds the health endpoint's checker.
func (a *App) HealthChecker() *api.HealthChecker {
	c := api.HealthComponents{
		Store:     a.Store,
		StoreKind: a.StoreKind,
		Redis:     a.Redis,
		Scheduler: a.Scheduler,
		ArchiveOn: a.Archive != nil,
		WebhookOn: a.Engine != nil,
		VerifyOn:  a.Verifier.Enabled(),
	}
	if a.Dispatcher != nil {
		c.Transport = a.Dispatcher.TransportName()
	}
	return api.NewHealthChecker(c)
}

// Server builds the HTTP server.
func (a *App) Server() *api.Server {
	return api.NewServer(a.Config.Server, a.Handlers(), a.HealthChecker())
}

// Close stops workers, waits for archive uploads and closes clients.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	a.Archive.Wait()

	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

func openDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// openRedis returns nil when url is empty or the server is unreachable; the
// sweep lock then falls back to PostgreSQL advisory locks.
func openRedis(ctx context.Context, url string, log *logger.Logger) *redis.Client {
	if url == "" {
		return nil
	}
	var client *redis.Client
	if opts, err := redis.ParseURL(url); err == nil {
		client = redis.NewClient(opts)
	} else {
		client = redis.NewClient(&redis.Options{Addr: url})
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unreachable, using fallback lock", "error", err)
		client.Close()
		return nil
	}
	return client
}
