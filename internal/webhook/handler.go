// Package webhook receives billing provider subscription events over HTTP or
// an API gateway proxy integration and hands verified events to the
// subscription synchronizer.
package webhook

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"subgate/internal/metrics"
	"subgate/internal/subscription"
	"subgate/pkg/middleware"
	"subgate/pkg/problems"
)

// SignatureHeader carries the billing provider's payload signature.
const SignatureHeader = "Stripe-Signature"

// MaxBodyBytes bounds the accepted request body.
const MaxBodyBytes = 65536

type EventVerifier interface {
	Verify(payload []byte, signature string) (subscription.Event, error)
}

type Applier interface {
	Apply(ctx context.Context, ev subscription.Event) (subscription.Result, error)
}

type Handler struct {
	verifier EventVerifier
	applier  Applier
	log      *zap.SugaredLogger
}

func New(v EventVerifier, a Applier, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{verifier: v, applier: a, log: log}
}

// Response is a transport-neutral webhook reply.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

type ack struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
	Outcome string `json:"outcome"`
}

// Handle verifies and applies one delivery. Nothing is parsed, and the
// directory is never touched, unless the signature is valid.
func (h *Handler) Handle(ctx context.Context, signature string, body []byte) Response {
	log := h.log.With("request_id", middleware.RequestIDFrom(ctx))

	ev, err := h.verifier.Verify(body, signature)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("invalid_payload").Inc()
		log.Warnw("webhook rejected", "err", err)
		return problemResponse(problems.New(http.StatusBadRequest, "invalid-payload", "Invalid Payload"))
	}

	res, err := h.applier.Apply(ctx, ev)
	if err != nil {
		p, outcome := classify(err)
		metrics.WebhookEvents.WithLabelValues(outcome).Inc()
		log.Errorw("webhook not applied", "event_id", ev.ID, "type", ev.Type, "customer", ev.CustomerID, "outcome", outcome, "err", err)
		return problemResponse(p)
	}

	metrics.WebhookEvents.WithLabelValues(string(res.Outcome)).Inc()
	b, _ := json.Marshal(ack{Status: "Success", EventID: ev.ID, Outcome: string(res.Outcome)})
	return Response{Status: http.StatusOK, ContentType: "application/json", Body: b}
}

func classify(err error) (problems.Problem, string) {
	switch {
	case errors.Is(err, problems.ErrInvalidPayload):
		return problems.New(http.StatusBadRequest, "invalid-payload", "Invalid Payload"), "invalid_payload"
	case errors.Is(err, problems.ErrCustomerNotFound):
		return problems.New(http.StatusNotFound, "customer-not-found", "no directory user for billing customer"), "customer_not_found"
	case errors.Is(err, problems.ErrCustomerAmbiguous):
		return problems.New(http.StatusConflict, "customer-ambiguous", "billing customer maps to more than one directory user"), "customer_ambiguous"
	case errors.Is(err, problems.ErrUpstream):
		return problems.New(http.StatusBadGateway, "upstream-unavailable", "upstream unavailable"), "upstream_error"
	default:
		return problems.New(http.StatusInternalServerError, "internal", ""), "error"
	}
}

func problemResponse(p problems.Problem) Response {
	return Response{Status: p.Status, ContentType: "application/problem+json", Body: p.Body()}
}

// RegisterHTTP mounts the webhook on its current path and the legacy one.
func RegisterHTTP(r chi.Router, h *Handler) {
	r.Post("/webhooks/stripe", h.ServeHTTP)
	r.Post("/stripe_webhook", h.ServeHTTP)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("invalid_payload").Inc()
		problems.Write(w, problems.New(http.StatusBadRequest, "invalid-payload", "Invalid Payload"))
		return
	}
	// Header.Get canonicalizes, so any casing of the header name matches.
	resp := h.Handle(r.Context(), r.Header.Get(SignatureHeader), body)
	w.Header().Set("Content-Type", resp.ContentType)
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

// HandleProxy is the Lambda handler for an API gateway proxy integration.
func (h *Handler) HandleProxy(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		// An undecodable body fails signature verification below.
		body, _ = base64.StdEncoding.DecodeString(req.Body)
	}
	if len(body) > MaxBodyBytes {
		body = nil
	}
	ctx = middleware.WithRequestID(ctx, req.RequestContext.RequestID)
	resp := h.Handle(ctx, proxyHeader(req, SignatureHeader), body)
	return events.APIGatewayProxyResponse{
		StatusCode: resp.Status,
		Headers:    map[string]string{"Content-Type": resp.ContentType},
		Body:       string(resp.Body),
	}, nil
}

// proxyHeader looks name up case-insensitively; gateways pass header names
// through as the client sent them.
func proxyHeader(req events.APIGatewayProxyRequest, name string) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	for k, vs := range req.MultiValueHeaders {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}
