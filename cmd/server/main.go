package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/events"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/identity"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/notes"
	"github.com/example/ride-dispatch/internal/proximity"
	"github.com/example/ride-dispatch/internal/rooms"
	"github.com/example/ride-dispatch/internal/storage"
)

func main() {
	configPath := pflag.String("config", "", "optional YAML config file (overrides defaults, overridden by env)")
	pflag.Parse()

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("server_exit", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(cctx); err != nil {
			logger.Warn("store_close_failed", "error", err)
		}
	}()

	var (
		noteStore notes.Store = notes.NewMemoryStore(cfg.NotesCap, cfg.NotesTTL)
		rdb       *redis.Client
	)
	if cfg.NotesBackend == "redis" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		noteStore = notes.NewRedisStore(rdb, cfg.NotesCap, cfg.NotesTTL)
	}

	publisher, err := openPublisher(cfg)
	if err != nil {
		return err
	}
	defer publisher.Close()

	estimator := &eta.Estimator{SpeedMps: cfg.DefaultSpeedMps}
	if cfg.OSRMURL != "" {
		estimator.Client = eta.NewOSRMClient(cfg.OSRMURL)
		estimator.Cache = eta.NewCache(5 * time.Minute)
	}

	reg := rooms.NewRegistry()
	topo := &rooms.Topology{Registry: reg, Bookings: store}

	var profiles identity.ProfileClient
	if cfg.ProfileServiceURL != "" {
		profiles = identity.NewHTTPProfileClient(cfg.ProfileServiceURL, cfg.UpstreamTimeout)
	}
	resolver := identity.NewResolver(identity.NewVerifier(cfg.JWTSecret), store, profiles, logger)

	m := &matcher.Service{Drivers: store, RadiusKm: cfg.RadiusKm, ETA: estimator}
	disp := dispatch.NewService(store, m, reg, publisher, logger, dispatch.Options{
		DefaultVehicleType:  cfg.DefaultVehicleType,
		RadiusKm:            cfg.RadiusKm,
		BroadcastAllDrivers: cfg.BroadcastAllDrivers,
	})

	ready := func(ctx context.Context) error {
		if err := store.Ping(ctx); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}

	api := httpapi.NewServer(httpapi.Deps{
		Resolver:      resolver,
		Topology:      topo,
		Dispatch:      disp,
		Notes:         notes.NewService(noteStore, store, reg, logger),
		Proximity:     proximity.NewBridge(cfg.ProximityServiceURL, cfg.UpstreamTimeout),
		Ready:         ready,
		Logger:        logger,
		EventTimeout:  cfg.EventTimeout,
		SendQueueSize: cfg.SendQueueSize,
		InternalToken: cfg.InternalCallbackToken,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_listening", "addr", cfg.HTTPAddr, "store", cfg.StoreBackend, "notes", cfg.NotesBackend, "events", cfg.EventsBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("listen: %w", err)
		}
	}

	logger.Info("server_shutting_down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http_shutdown_failed", "error", err)
	}
	if err := api.CloseConnections(sctx); err != nil {
		logger.Warn("ws_shutdown_incomplete", "error", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StoreBackend {
	case "mongo":
		return storage.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case "postgres":
		ps, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, err
		}
		if cfg.RunMigrations {
			if err := ps.Migrate(ctx); err != nil {
				_ = ps.Close(ctx)
				return nil, err
			}
			logger.Info("migrations_applied")
		}
		return ps, nil
	}
	logger.Warn("using_memory_store", "hint", "bookings are lost on restart")
	return storage.NewMemoryStore(), nil
}

func openPublisher(cfg config.ServerConfig) (events.Publisher, error) {
	switch cfg.EventsBackend {
	case "kafka":
		return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case "amqp":
		return events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	}
	return events.Nop{}, nil
}
