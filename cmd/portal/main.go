package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hongminglow/hostel-portal/internal/booking"
	"github.com/hongminglow/hostel-portal/internal/config"
	"github.com/hongminglow/hostel-portal/internal/domain"
	"github.com/hongminglow/hostel-portal/internal/gateway"
	"github.com/hongminglow/hostel-portal/internal/logger"
	"github.com/hongminglow/hostel-portal/internal/metrics"
	"github.com/hongminglow/hostel-portal/internal/server"
	"github.com/hongminglow/hostel-portal/internal/session"
	"github.com/hongminglow/hostel-portal/internal/storage"
	"github.com/hongminglow/hostel-portal/internal/storage/memory"
	"github.com/hongminglow/hostel-portal/internal/storage/postgres"
)

func main() {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	log := logger.SetupDefault(os.Stdout, logger.ParseLevel(cfg.LogLevel))
	if envErr != nil {
		log.Info("no .env file found; relying on existing environment")
	}

	ctx := context.Background()
	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("init credential store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	client, err := gateway.NewClient(gateway.Config{
		BaseURL: cfg.GatewayBaseURL,
		Timeout: cfg.GatewayTimeout,
	}, nil, log, collector)
	if err != nil {
		log.Error("init gateway client", slog.Any("error", err))
		os.Exit(1)
	}

	sess := session.NewManager(client, store, log,
		session.WithRefreshSkew(cfg.TokenRefreshSkew),
		session.WithRecorder(collector),
	)
	if err := sess.Restore(ctx); err != nil {
		if !domain.IsMalformedToken(err) {
			log.Error("restore session", slog.Any("error", err))
			os.Exit(1)
		}
		log.Warn("discarded unreadable saved session", slog.Any("error", err))
	}

	orch := booking.NewOrchestrator(client, sess, booking.Config{
		BaseFee:             cfg.BookingBaseFee,
		ProfileRefreshDelay: cfg.ProfileRefreshDelay,
	}, log, collector)

	srv := server.New(cfg, server.Deps{
		Session:  sess,
		Catalog:  client,
		Booking:  orch,
		Logger:   log,
		Metrics:  metrics.Handler(reg),
		Statuses: collector,
	})

	go func() {
		log.Info("hostel portal listening",
			slog.String("addr", cfg.HTTPAddress()),
			slog.String("gateway", cfg.GatewayBaseURL),
			slog.String("session", string(sess.Snapshot().Status)),
		)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		log.Error("graceful shutdown error", slog.Any("error", err))
	}
	orch.Close()
}

// openStore persists credentials in Postgres when DATABASE_URL is set and in
// process memory otherwise.
func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (storage.CredentialStore, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set; saved sessions will not survive a restart")
		return memory.New(), func() {}, nil
	}
	if err := postgres.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
		return nil, nil, err
	}
	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	store := postgres.New(db, cfg.CredentialKey)
	return store, func() {
		if err := store.Close(); err != nil {
			log.Error("close credential store", slog.Any("error", err))
		}
	}, nil
}
