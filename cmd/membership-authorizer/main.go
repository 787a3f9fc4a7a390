package main

import (
	"context"
	"net/http"

	"github.com/aws/aws-lambda-go/lambda"

	"subgate/internal/authorizer"
	"subgate/internal/decision"
	"subgate/internal/keys"
	"subgate/internal/token"
	"subgate/pkg/config"
	"subgate/pkg/logger"
	"subgate/pkg/middleware"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, "membership-authorizer")
	defer func() { _ = log.Sync() }()

	if err := cfg.ValidateAuthorizer(); err != nil {
		log.Fatalw("invalid configuration", "err", err)
	}
	shutdown := middleware.InitTracing(cfg, "membership-authorizer", log)
	defer func() { _ = shutdown(context.Background()) }()

	var policy keys.RefreshPolicy = keys.NeverRefresh{}
	if cfg.KeyRefreshOnMiss {
		policy = keys.NewRateLimited(cfg.KeyRefreshEvery)
	}
	cache := keys.New(
		keys.HTTPFetcher{URL: cfg.JWKSURL, Client: &http.Client{Timeout: cfg.UpstreamTimeout}},
		keys.WithRefreshPolicy(policy),
		keys.WithFetchTimeout(cfg.UpstreamTimeout),
		keys.WithLogger(log),
	)
	// Warm the cache during init; a failure here is retried on first use.
	if err := cache.Load(context.Background()); err != nil {
		log.Warnw("signing keys not loaded at cold start", "url", cfg.JWKSURL, "err", err)
	}

	verifier, err := token.NewVerifier(cache, token.Config{
		Audience:    cfg.AppClientID,
		Issuer:      cfg.Issuer,
		ClockSkew:   cfg.TokenClockSkew,
		GroupsClaim: cfg.GroupsClaim,
	})
	if err != nil {
		log.Fatalw("token verifier", "err", err)
	}
	engine, err := decision.New(context.Background(), cfg.PaidGroup, decision.WithLogger(log))
	if err != nil {
		log.Fatalw("decision engine", "err", err)
	}

	h := authorizer.New(verifier, engine, log)
	log.Infow("membership-authorizer ready", "jwks", cfg.JWKSURL, "group", cfg.PaidGroup, "refresh_on_miss", cfg.KeyRefreshOnMiss)
	lambda.StartWithOptions(middleware.FlushAfter(h.Authorize),
		lambda.WithEnableSIGTERM(func() { _ = shutdown(context.Background()) }))
}
