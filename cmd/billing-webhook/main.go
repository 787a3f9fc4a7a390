package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"subgate/internal/billing"
	"subgate/internal/directory"
	"subgate/internal/subscription"
	"subgate/internal/webhook"
	"subgate/pkg/config"
	"subgate/pkg/db"
	"subgate/pkg/logger"
	"subgate/pkg/middleware"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, "billing-webhook")
	defer func() { _ = log.Sync() }()

	if err := cfg.ValidateWebhook(); err != nil {
		log.Fatalw("invalid configuration", "err", err)
	}
	shutdownTracing := middleware.InitTracing(cfg, "billing-webhook", log)
	defer func() { _ = shutdownTracing(context.Background()) }()

	ctx := context.Background()
	dir := mustDirectory(ctx, cfg, log)

	var ledger subscription.Ledger = subscription.NewMemoryLedger()
	if rdb := db.MustRedis(cfg, log); rdb != nil {
		defer rdb.Close()
		ledger = subscription.NewRedisLedger(rdb)
	}

	stripe := billing.NewStripe(billing.StripeConfig{
		APIKey:      cfg.StripeAPIKey,
		BaseURL:     cfg.StripeAPIURL,
		MetadataKey: cfg.UsernameMetadataKey,
		Timeout:     cfg.UpstreamTimeout,
	})
	syncer, err := subscription.NewSynchronizer(
		subscription.NewCustomerResolver(stripe, dir),
		dir,
		cfg.PaidGroup,
		subscription.WithLedger(ledger),
		subscription.WithLogger(log),
	)
	if err != nil {
		log.Fatalw("synchronizer", "err", err)
	}
	verifier, err := webhook.NewVerifier(cfg.StripeEndpointSecret, cfg.WebhookTolerance)
	if err != nil {
		log.Fatalw("webhook verifier", "err", err)
	}
	h := webhook.New(verifier, syncer, log)

	if os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" {
		log.Infow("billing-webhook running as lambda", "directory", cfg.DirectoryBackend)
		lambda.StartWithOptions(middleware.FlushAfter(h.HandleProxy),
			lambda.WithEnableSIGTERM(func() { _ = shutdownTracing(context.Background()) }))
		return
	}
	serve(cfg, log, h)
}

func mustDirectory(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) directory.Directory {
	switch cfg.DirectoryBackend {
	case "postgres":
		pool := db.MustConnect(cfg, log)
		if err := directory.EnsureSchema(ctx, pool); err != nil {
			log.Fatalw("directory schema", "err", err)
		}
		if err := directory.SeedUsers(ctx, pool, cfg.DirectorySeed); err != nil {
			log.Warnw("directory seed ignored", "err", err)
		}
		return directory.NewPostgres(pool)
	case "memory":
		users, err := directory.ParseSeed(cfg.DirectorySeed)
		if err != nil {
			log.Warnw("directory seed ignored", "err", err)
		}
		log.Warnw("using in-memory directory; membership is lost on restart", "users", len(users))
		return directory.NewMemory(users...)
	default:
		cog, err := directory.NewCognitoFromEnv(ctx, cfg.Region, cfg.DirectoryPoolID, cfg.UpstreamTimeout)
		if err != nil {
			log.Fatalw("cognito client", "err", err)
		}
		return cog
	}
}

func serve(cfg config.Config, log *zap.SugaredLogger, h *webhook.Handler) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	r.Use(middleware.DebugWriteHeader(cfg.DebugDoubleWrite, log))
	r.Use(middleware.Tracing("billing-webhook"))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	webhook.RegisterHTTP(r, h)

	srv := &http.Server{
		Addr:              cfg.WebhookAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("billing-webhook listening", "addr", cfg.WebhookAddr, "directory", cfg.DirectoryBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	log.Infow("billing-webhook stopped")
}
