package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if seen == "" || rec.Header().Get(HeaderRequestID) != seen {
		t.Fatalf("generated id %q, header %q", seen, rec.Header().Get(HeaderRequestID))
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(HeaderRequestID, "abc")
	h.ServeHTTP(rec, req)
	if seen != "abc" || rec.Header().Get(HeaderRequestID) != "abc" {
		t.Fatalf("propagated id %q", seen)
	}
}

func TestWithRequestID_KeepsExisting(t *testing.T) {
	ctx := WithRequestID(context.Background(), "first")
	ctx = WithRequestID(ctx, "second")
	if got := RequestIDFrom(ctx); got != "first" {
		t.Fatalf("id = %q", got)
	}
	if got := RequestIDFrom(WithRequestID(context.Background(), "")); got != "" {
		t.Fatalf("empty id stored as %q", got)
	}
}

func TestRecover(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	h := Recover(zap.New(core).Sugar())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content type = %s", ct)
	}
	if logs.FilterMessage("panic").Len() != 1 {
		t.Fatalf("expected one panic log, got %d", logs.Len())
	}
}

func TestDebugWriteHeader(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core).Sugar()
	double := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	DebugWriteHeader(true, log)(double).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if logs.FilterMessage("double WriteHeader").Len() != 1 {
		t.Fatal("expected a double WriteHeader warning")
	}

	off := DebugWriteHeader(false, log)(double)
	if _, ok := interface{}(off).(http.HandlerFunc); !ok {
		t.Fatal("disabled middleware should return the handler unchanged")
	}
}

func TestTracingPassThroughWhenDisabled(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })
	Tracing("webhook")(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !called {
		t.Fatal("handler not called")
	}
}

func TestFlushAfterExportsBeforeReturning(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(time.Hour)))
	prev := provider
	provider = tp
	t.Cleanup(func() {
		provider = prev
		_ = tp.Shutdown(context.Background())
	})

	handler := FlushAfter(func(ctx context.Context, name string) (string, error) {
		_, span := tp.Tracer("test").Start(ctx, "invoke")
		span.End()
		return "hello " + name, nil
	})
	got, err := handler(context.Background(), "jane")
	if err != nil || got != "hello jane" {
		t.Fatalf("handler = %q, %v", got, err)
	}
	if spans := exp.GetSpans(); len(spans) != 1 || spans[0].Name != "invoke" {
		t.Fatalf("exported spans = %v, want the invocation span", spans)
	}
}

func TestForceFlushWithoutProvider(t *testing.T) {
	prev := provider
	provider = nil
	t.Cleanup(func() { provider = prev })
	if err := ForceFlush(context.Background()); err != nil {
		t.Fatalf("ForceFlush: %v", err)
	}
}
