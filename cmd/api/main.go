package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"scheduling-platform/internal/availability"
	"scheduling-platform/internal/booking"
	"scheduling-platform/internal/calendar"
	"scheduling-platform/internal/calls"
	"scheduling-platform/internal/config"
	"scheduling-platform/internal/httpapi"
	"scheduling-platform/internal/notify"
	"scheduling-platform/internal/reservation"
	"scheduling-platform/pkg/logger"
	"scheduling-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Redis is optional; without it the availability cache is simply off and
	// every list request hits the provider.
	var rdb *redis.Client
	if cfg.Redis.Host != "" {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	// Postgres is optional; without it booked appointments are simply not
	// archived. The calendar provider remains the source of truth either way.
	var db *sql.DB
	if cfg.DB.Host != "" {
		db, err = utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	calClient := calendar.NewClient(calendar.Options{
		BaseURL:    cfg.Calendar.BaseURL,
		CalendarID: cfg.Calendar.CalendarID,
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.Calendar.AccessToken,
		}),
		Timeout: cfg.Calendar.RequestTimeout,
		Logger:  log,
	})

	var cache *availability.BusyCache
	if rdb != nil {
		cache = availability.NewBusyCache(rdb, 0, log)
	}
	oracle := availability.NewOracle(calClient, cache, log)

	store := reservation.NewMemoryStore()
	store.StartSweeper(rootCtx, time.Minute)

	notifier := notify.NewNotifier(notify.Options{
		WebhookURL: cfg.Automation.WebhookURL,
		Logger:     log,
	})

	var archive *booking.Archive
	if db != nil {
		archive = booking.NewArchive(db)
	}
	orchestrator := booking.NewOrchestrator(store, oracle, calClient, booking.OrchestratorOptions{
		HoldTTL:  cfg.Scheduling.HoldTTL,
		Timezone: cfg.Scheduling.Timezone,
		Notifier: notifier,
		Archive:  archive,
		Logger:   log,
	})

	registry := calls.NewRegistry(notifier, calls.DefaultRetention, log)
	registry.StartJanitor(rootCtx, time.Hour)

	dialer := calls.NewService(calls.ServiceOptions{
		BaseURL:    cfg.CallSvc.BaseURL,
		APIKey:     cfg.CallSvc.APIKey,
		AgentID:    cfg.CallSvc.AgentID,
		FromNumber: cfg.CallSvc.FromNumber,
		Logger:     log,
	})

	handlers := httpapi.Handlers{
		Oracle:   oracle,
		Store:    store,
		Booker:   orchestrator,
		Registry: registry,
		Dialer:   dialer,
		Slots: httpapi.SlotSettings{
			Duration:    time.Duration(cfg.Scheduling.SlotDurationMin) * time.Minute,
			Granularity: time.Duration(cfg.Scheduling.SlotGranularityMin) * time.Minute,
			HoldTTL:     cfg.Scheduling.HoldTTL,
			Hours: availability.BusinessHours{
				OpenHour:  cfg.Scheduling.BusinessOpenHour,
				CloseHour: cfg.Scheduling.BusinessCloseHour,
				Location:  cfg.Location(),
			},
		},
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, handlers, db, rdb)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
