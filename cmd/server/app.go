package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/matthewbaird/protestdesk/internal/activity"
	"github.com/matthewbaird/protestdesk/internal/auth"
	"github.com/matthewbaird/protestdesk/internal/concierge"
	"github.com/matthewbaird/protestdesk/internal/config"
	"github.com/matthewbaird/protestdesk/internal/dataservice"
	"github.com/matthewbaird/protestdesk/internal/documents"
	"github.com/matthewbaird/protestdesk/internal/event"
	"github.com/matthewbaird/protestdesk/internal/eventbus"
	"github.com/matthewbaird/protestdesk/internal/functions"
	"github.com/matthewbaird/protestdesk/internal/handler"
	"github.com/matthewbaird/protestdesk/internal/intake"
	"github.com/matthewbaird/protestdesk/internal/portal"
	"github.com/matthewbaird/protestdesk/internal/referral"
	"github.com/matthewbaird/protestdesk/internal/server"
	"github.com/matthewbaird/protestdesk/internal/session"
	"github.com/matthewbaird/protestdesk/internal/storage"
	"github.com/matthewbaird/protestdesk/internal/submission"
	"github.com/matthewbaird/protestdesk/internal/wire"
)

// app holds the assembled services and whatever must be closed on exit.
type app struct {
	ds       dataservice.DataService
	activity activity.Store
	bus      *eventbus.Bus
	server   server.Config
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// openData opens the configured data service and activity store. For the
// sql backend the schema is created when migrate is set.
func openData(ctx context.Context, cfg *config.Config, migrate bool) (dataservice.DataService, activity.Store, func(), error) {
	if cfg.Data.Backend != "sql" && cfg.Data.Backend != "sqlite" {
		ds, err := dataservice.New(cfg.Data.Backend, dataservice.Options{Latency: cfg.Data.Latency})
		if err != nil {
			return nil, nil, nil, err
		}
		return ds, activity.NewMemoryStore(), func() {}, nil
	}

	drv, err := dataservice.OpenSQLite(ctx, cfg.Data.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	closeDB := func() { drv.Close() }
	ds, err := dataservice.New(cfg.Data.Backend, dataservice.Options{Driver: drv})
	if err != nil {
		closeDB()
		return nil, nil, nil, err
	}
	store := activity.NewSQLStore(drv)
	if migrate {
		if err := migrateSQL(ctx, ds, store); err != nil {
			closeDB()
			return nil, nil, nil, err
		}
	}
	return ds, store, closeDB, nil
}

func migrateSQL(ctx context.Context, ds dataservice.DataService, store *activity.SQLStore) error {
	svc, ok := ds.(*dataservice.SQLService)
	if !ok {
		return fmt.Errorf("migrate: %T is not a SQL data service", ds)
	}
	if err := svc.Migrate(ctx); err != nil {
		return fmt.Errorf("running schema migration: %w", err)
	}
	if err := store.CreateTable(ctx); err != nil {
		return fmt.Errorf("creating activity table: %w", err)
	}
	return nil
}

func openBuckets(cfg *config.Config) storage.Buckets {
	if cfg.Storage.Backend == "memory" {
		return storage.NewMemoryBuckets()
	}
	return storage.NewFSBuckets(cfg.Storage.Root)
}

func openSessions(ctx context.Context, cfg *config.Config) (session.Store, func(), error) {
	if cfg.Sessions.Backend != "redis" {
		store := session.NewMemoryStore(time.Minute)
		return store, store.Close, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Sessions.RedisAddr,
		Password: cfg.Sessions.RedisPassword,
		DB:       cfg.Sessions.RedisDB,
	})
	store := session.NewRedisStore(client, "protestdesk:")
	if err := store.Ping(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Sessions.RedisAddr, err)
	}
	return store, func() { client.Close() }, nil
}

func newSigner(cfg *config.Config, log *zap.Logger) (*auth.Signer, error) {
	secret := cfg.Auth.Secret
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generating auth secret: %w", err)
		}
		secret = hex.EncodeToString(buf)
		log.Warn("AUTH_SECRET not set, using an ephemeral secret; portal tokens will not survive a restart")
	}
	return auth.NewSigner(secret, auth.TTLs{
		Access:  cfg.Auth.AccessTTL,
		Refresh: cfg.Auth.RefreshTTL,
		Portal:  cfg.Auth.PortalTTL,
	})
}

// buildApp wires every service from cfg.
func buildApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	ds, store, closeData, err := openData(ctx, cfg, true)
	if err != nil {
		return nil, err
	}
	a.ds, a.activity = ds, store
	a.closers = append(a.closers, closeData)

	bus := eventbus.New(256, log)
	bus.Subscribe("log", eventbus.NewLogConsumer(log))
	rec := event.NewActivityRecorder(store)
	rec.SetPublisher(bus)
	a.bus = bus

	buckets := openBuckets(cfg)
	docBucket, err := buckets.Bucket(storage.DocumentsBucket)
	if err != nil {
		return nil, fmt.Errorf("opening %s bucket: %w", storage.DocumentsBucket, err)
	}

	var fn functions.Invoker
	switch cfg.Functions.Mode {
	case "remote":
		fn = functions.NewHTTPInvoker(cfg.Functions.BaseURL, cfg.Functions.APIKey,
			&http.Client{Timeout: cfg.Functions.Timeout})
	default:
		reg := functions.NewRegistry()
		documents.NewGenerator(ds, docBucket, rec, log, cfg.Documents.Agent, cfg.Documents.FeePercent).Register(reg)
		fn = reg
	}

	sessions, closeSessions, err := openSessions(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeSessions)

	signer, err := newSigner(cfg, log)
	if err != nil {
		return nil, err
	}

	referrals := referral.NewService(ds)
	pipe := submission.New(ds, fn, rec, log,
		submission.WithReferrals(referrals),
		submission.WithDocumentTimeout(cfg.Functions.Timeout))

	a.server = server.Config{
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Logger:          log,
		Support: handler.SupportContact{
			Email: cfg.Support.Email,
			Phone: cfg.Support.Phone,
			URL:   cfg.Support.URL,
		},
		Intake:    intake.NewService(sessions, pipe, signer, cfg.Sessions.IntakeTTL, log),
		Concierge: concierge.NewService(ds, sessions, pipe, cfg.Sessions.ConciergeTTL, log),
		Auth:      auth.NewService(signer, ds),
		Portal: portal.NewService(portal.Config{
			DataService:    ds,
			Buckets:        buckets,
			Activity:       store,
			Referrals:      referrals,
			Submitter:      pipe,
			Recorder:       rec,
			Logger:         log,
			MaxUploadBytes: cfg.Storage.MaxUploadBytes,
		}),
		Activity: store,
		Wire: wire.Options{
			ExitDelay:      cfg.Concierge.ExitDelay,
			EnterDelay:     cfg.Concierge.EnterDelay,
			OriginPatterns: cfg.Server.AllowedOrigins,
		},
	}

	ok = true
	return a, nil
}
