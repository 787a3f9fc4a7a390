package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.uber.org/zap"

	"subgate/pkg/config"
)

var (
	tracingOnce  sync.Once
	instrumented bool
	shutdownFn   = func(context.Context) error { return nil }
	provider     *sdktrace.TracerProvider
)

// InitTracing installs an OTLP/HTTP tracer provider when an exporter endpoint
// is configured. It runs once per process; the returned func flushes spans.
func InitTracing(cfg config.Config, service string, log *zap.SugaredLogger) func(context.Context) error {
	tracingOnce.Do(func() {
		if cfg.OTelEndpoint == "" {
			return
		}
		ctx := context.Background()
		var opts []otlptracehttp.Option
		if strings.HasPrefix(strings.ToLower(cfg.OTelEndpoint), "http://") {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			log.Warnw("tracing disabled: exporter init failed", "err", err)
			return
		}
		res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(service)))
		if err != nil {
			log.Warnw("tracing disabled: resource init failed", "err", err)
			return
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp), sdktrace.WithResource(res))
		otel.SetTracerProvider(tp)
		shutdownFn = tp.Shutdown
		provider = tp
		instrumented = true
		log.Infow("tracing enabled", "endpoint", cfg.OTelEndpoint)
	})
	return shutdownFn
}

// Tracing wraps handlers with otelhttp once InitTracing has enabled export.
func Tracing(operation string) func(http.Handler) http.Handler {
	if !instrumented {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler { return otelhttp.NewHandler(next, operation) }
}

// ForceFlush exports buffered spans. It is a no-op while tracing is disabled.
func ForceFlush(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	return provider.ForceFlush(ctx)
}

// FlushAfter wraps a Lambda handler so spans recorded during an invocation are
// exported before it returns; the runtime may freeze the process right after.
func FlushAfter[Req, Resp any](fn func(context.Context, Req) (Resp, error)) func(context.Context, Req) (Resp, error) {
	return func(ctx context.Context, req Req) (Resp, error) {
		defer func() {
			fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			_ = ForceFlush(fctx)
		}()
		return fn(ctx, req)
	}
}
