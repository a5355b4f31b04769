// cmd/botserver/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"bma-social-bot/internal/ai"
	"bma-social-bot/internal/catalog"
	"bma-social-bot/internal/channel"
	awsclient "bma-social-bot/internal/common/aws"
	"bma-social-bot/internal/common/config"
	"bma-social-bot/internal/common/database"
	"bma-social-bot/internal/common/httpx"
	"bma-social-bot/internal/common/logger"
	"bma-social-bot/internal/common/observability"
	"bma-social-bot/internal/conversation"
	"bma-social-bot/internal/escalation"
	"bma-social-bot/internal/guard"
	"bma-social-bot/internal/models"
	"bma-social-bot/internal/platform"
	"bma-social-bot/internal/resolver"
	"bma-social-bot/internal/session"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("starting botserver",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Catalog source ---
	var source catalog.Source
	if cfg.Catalog.Source == "postgres" {
		var pg *database.PostgresClient
		err = retryWithBackoff(func() error {
			var err error
			pg, err = database.NewPostgres(cfg.Database.Postgres)
			if err != nil {
				return err
			}
			return pg.Ping(ctx)
		}, 15, 2*time.Second, zapLog, "PostgreSQL connection")
		if err != nil {
			zapLog.Fatal("postgres failed after retries", zap.Error(err))
		}
		defer pg.Close()
		source = catalog.NewPostgresSource(pg.DB)
		zapLog.Info("PostgreSQL connected")
	} else {
		source = catalog.NewFileSource(cfg.Catalog.FilePath)
	}

	cat := catalog.New()
	err = retryWithBackoff(func() error {
		return loadCatalog(ctx, cat, source)
	}, 5, 2*time.Second, zapLog, "catalog load")
	if err != nil {
		zapLog.Fatal("catalog load failed after retries", zap.Error(err))
	}
	zapLog.Info("catalog loaded", zap.Int("venues", len(cat.Venues())))

	// --- Redis for session write-through ---
	var redisClient *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redisClient, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redisClient.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")
	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redisClient.Close()
	zapLog.Info("Redis connected")

	sessions := session.NewStore(cfg.Session, redisClient.Client, log)
	sessions.StartSweeper(ctx)
	defer sessions.Close()

	// --- Escalation notifiers ---
	notifiers := []escalation.Notifier{
		escalation.NewWebhookNotifier(cfg.Escalation.WebhookURL,
			httpx.NewClient(config.GetDuration(cfg.Escalation.Timeout))),
	}
	if cfg.Escalation.Email.Enabled {
		sesClient, err := awsclient.NewSESClient(ctx, cfg.Escalation.AWS.Region)
		if err != nil {
			zapLog.Fatal("ses client init failed", zap.Error(err))
		}
		notifiers = append(notifiers,
			escalation.NewEmailNotifier(sesClient, cfg.Escalation.Email.FromEmail, cfg.Escalation.Email.Team))
	}
	if cfg.Escalation.SMS.Enabled {
		snsClient, err := awsclient.NewSNSClient(ctx, cfg.Escalation.AWS.Region)
		if err != nil {
			zapLog.Fatal("sns client init failed", zap.Error(err))
		}
		notifiers = append(notifiers,
			escalation.NewSMSNotifier(snsClient, cfg.Escalation.SMS.Numbers,
				models.EscalationPriority(cfg.Escalation.SMS.PriorityThreshold)))
	}

	router := escalation.NewRouter(notifiers, config.GetDuration(cfg.Escalation.Timeout), log)
	router.OnRaised(func(category string) {
		obs.RecordEscalation(ctx, category)
	})

	// --- Engine ---
	engine := conversation.NewEngine(cfg.Conversation, conversation.Dependencies{
		Catalog:     cat,
		Resolver:    resolver.New(resolverConfig(cfg), cat, log),
		Sessions:    sessions,
		Guard:       guard.New(cfg.Guard, log),
		Escalations: router,
		Generator:   ai.NewOpenAIGenerator(cfg.APIs, log),
		Platform:    platform.NewClient(cfg.APIs, log),
		Obs:         obs,
		Logger:      log,
	})

	// --- Periodic catalog refresh ---
	if interval := config.GetDuration(cfg.Catalog.RefreshInterval); interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := loadCatalog(ctx, cat, source); err != nil {
						// The previous catalog stays live; refresh failures
						// never reach in-flight conversations.
						log.WithError(err).Error("catalog refresh failed", nil)
					} else {
						log.Info("catalog refreshed", map[string]interface{}{
							"venues": len(cat.Venues()),
						})
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// --- HTTP servers ---
	mux := http.NewServeMux()
	channel.NewWebhook(engine, log).Register(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		zapLog.Info("webhook server listening", zap.String("address", cfg.Server.ListenAddress))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Fatal("webhook server failed", zap.Error(err))
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.Server.MetricsAddress, Handler: metricsMux}
	go func() {
		zapLog.Info("metrics server listening", zap.String("address", cfg.Server.MetricsAddress))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("metrics server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zapLog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("webhook server shutdown failed", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("metrics server shutdown failed", zap.Error(err))
	}
	zapLog.Info("botserver stopped")
}

func loadCatalog(ctx context.Context, cat *catalog.Catalog, source catalog.Source) error {
	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	records, err := source.Fetch(loadCtx)
	if err != nil {
		return err
	}
	return cat.LoadAll(records)
}

func resolverConfig(cfg *config.Config) resolver.Config {
	return resolver.Config{
		AutoAcceptThreshold: cfg.Resolver.AutoAcceptThreshold,
		CandidateFloor:      cfg.Resolver.CandidateFloor,
		DisambiguationGap:   cfg.Resolver.DisambiguationGap,
		SignificantTokenLen: cfg.Resolver.SignificantTokenLen,
		GenericWords:        cfg.Resolver.GenericWords,
		MaxCandidates:       cfg.Resolver.MaxCandidates,
	}
}
