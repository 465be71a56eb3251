package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/devnight0507/reverse-bot/config"
	"github.com/devnight0507/reverse-bot/internal/api"
	"github.com/devnight0507/reverse-bot/internal/browser"
	"github.com/devnight0507/reverse-bot/internal/challenge"
	"github.com/devnight0507/reverse-bot/internal/db"
	"github.com/devnight0507/reverse-bot/internal/events"
	"github.com/devnight0507/reverse-bot/internal/logger"
	"github.com/devnight0507/reverse-bot/internal/navigator"
	"github.com/devnight0507/reverse-bot/internal/notification"
	"github.com/devnight0507/reverse-bot/internal/orchestrator"
	"github.com/devnight0507/reverse-bot/internal/session"
	"github.com/devnight0507/reverse-bot/internal/store"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration from %s: %v\n", configPath, err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	defer log.Sync()
	log.Info("configuration loaded", logger.String("path", configPath))

	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		log.Fatal("VAPID keys must be configured")
	}
	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		log.Fatal("failed to initialize database", logger.Error(err))
	}
	appStore := store.NewGormStore(gormDB)
	log.Info("data store initialized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telegram := notification.NewTelegramSender(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions, telegram, log)
	pool.Start(ctx)

	sink := events.Fanout{
		events.NewStoreSink(appStore, log),
		pool,
	}

	budget := challenge.NewBudget(cfg.Solver.MaxSolves, cfg.Solver.RatePerMinute)
	solver := challenge.NewClient(challenge.ClientConfig{
		APIURL:       cfg.Solver.APIURL,
		APIKey:       cfg.Solver.APIKey,
		Timeout:      time.Duration(cfg.Solver.TimeoutSeconds) * time.Second,
		PollInterval: time.Duration(cfg.Solver.PollIntervalSeconds) * time.Second,
		MaxRetries:   cfg.Solver.MaxRetries,
	}, budget, log)

	nav := navigator.New(solver, log, navigator.Options{
		ThinkMin: time.Duration(cfg.Browser.ThinkMinMillis) * time.Millisecond,
		ThinkMax: time.Duration(cfg.Browser.ThinkMaxMillis) * time.Millisecond,
	})

	factory := func() (browser.Engine, error) {
		return browser.NewHTTPEngine(browser.Options{
			BaseURL:   cfg.Portal.BaseURL,
			UserAgent: cfg.Browser.UserAgent,
			Headless:  cfg.Browser.Headless,
			Timeout:   cfg.Monitor.StepTimeout,
		})
	}

	sessions := session.NewManager(appStore, nav, factory, sink, log, session.Options{
		Restore: cfg.Browser.SessionRestore,
		TTL:     time.Duration(cfg.Browser.SessionTTLHours) * time.Hour,
	})
	defer sessions.Close()

	var monitor *orchestrator.Orchestrator
	if cfg.Monitor.Enabled {
		monitor = orchestrator.New(appStore, sessions, nav, sink, log, orchestrator.Options{
			Interval:          cfg.Monitor.Interval,
			BackoffMin:        cfg.Monitor.BackoffMin,
			BackoffMax:        cfg.Monitor.BackoffMax,
			DegradedThreshold: cfg.Monitor.DegradedThreshold,
			StepTimeout:       cfg.Monitor.StepTimeout,
		})
		if err := monitor.Start(); err != nil {
			log.Fatal("starting monitor failed", logger.Error(err))
		}
	} else {
		log.Info("monitor disabled, running API only")
	}

	var status api.MonitorStatus
	if monitor != nil {
		status = monitor
	}
	router := api.NewRouter(appStore, &webpushOptions, status, cfg.Server)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("HTTP server starting", logger.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", logger.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info("shutdown signal received, stopping services")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown", logger.Error(err))
	}
	if monitor != nil {
		if err := monitor.Stop(); err != nil && !errors.Is(err, orchestrator.ErrNotRunning) {
			log.Error("stopping monitor", logger.Error(err))
		}
	}
	cancel()

	log.Info("stopped")
}
