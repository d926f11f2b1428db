package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_consumed_total",
		Help: "Total driver location messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	locationUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_location_updates_total",
		Help: "Total driver locations written to the store",
	})
	locationErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_location_errors_total",
		Help: "Total driver location writes that failed after retries",
	})
	unknownDrivers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_unknown_drivers_total",
		Help: "Locations reported for drivers missing from the directory",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, locationUpdates, locationErrors, unknownDrivers)
}

func main() {
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger := logging.Component(logging.NewLogger(cfg.LogLevel), "location_consumer")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("store_open_failed", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = store.Close(cctx)
	}()

	go serveOps(cfg.MetricsAddr, store, logger)

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer r.Close()

	logger.Info("consumer_listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	consume(ctx, r, store, cfg, logger)
	logger.Info("consumer_stopped")
}

// MessageReader is the part of kafka.Reader the loop needs.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

func consume(ctx context.Context, r MessageReader, w storage.LocationWriter, cfg config.ConsumerConfig, logger *slog.Logger) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("kafka_read_failed", "error", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		msgsConsumed.Inc()

		loc, err := decodeLocation(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid_location_message", "offset", m.Offset, "error", err)
			continue
		}

		switch err := updateWithRetry(ctx, w, loc, cfg.Attempts, cfg.Backoff); {
		case err == nil:
			locationUpdates.Inc()
		case errors.Is(err, storage.ErrNotFound):
			unknownDrivers.Inc()
			logger.Debug("location_for_unknown_driver", "driver_id", loc.DriverID)
		default:
			locationErrors.Inc()
			logger.Error("location_update_failed", "driver_id", loc.DriverID, "error", err)
		}
	}
}

func decodeLocation(b []byte) (models.DriverLocation, error) {
	var loc models.DriverLocation
	if err := json.Unmarshal(b, &loc); err != nil {
		return loc, err
	}
	if loc.DriverID == "" {
		return loc, errors.New("driverId is required")
	}
	if !loc.Loc.Valid() {
		return loc, fmt.Errorf("invalid coordinates %v,%v", loc.Loc.Lat, loc.Loc.Lon)
	}
	return loc, nil
}

// updateWithRetry writes loc, retrying transient failures with doubling
// delay. A missing driver is not retried.
func updateWithRetry(ctx context.Context, w storage.LocationWriter, loc models.DriverLocation, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = w.UpdateDriverLocation(ctx, loc); err == nil || errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if i == attempts-1 || !sleep(ctx, delay) {
			break
		}
		delay *= 2
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func openStore(ctx context.Context, cfg config.ConsumerConfig) (storage.Store, error) {
	if cfg.StoreBackend == "postgres" {
		return storage.NewPostgresStore(ctx, cfg.PGDSN)
	}
	return storage.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
}

func serveOps(addr string, store storage.Store, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, "store not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	logger.Info("ops_listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("ops_server_stopped", "error", err)
	}
}
