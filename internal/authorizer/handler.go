// Package authorizer adapts token verification and the access decision to the
// API gateway's custom (TOKEN) authorizer contract.
package authorizer

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"go.uber.org/zap"

	"subgate/internal/decision"
	"subgate/internal/metrics"
	"subgate/internal/token"
	"subgate/pkg/problems"
)

const policyVersion = "2012-10-17"

var (
	// ErrUnauthorized is the exact message the gateway maps to 401.
	ErrUnauthorized = errors.New("Unauthorized")
	// ErrUnavailable makes the gateway answer 500; the caller may retry.
	ErrUnavailable = errors.New("authorizer unavailable")
)

type Verifier interface {
	Verify(ctx context.Context, raw string) (token.Claims, error)
}

type Decider interface {
	Decide(ctx context.Context, claims token.Claims, resource string) decision.Decision
}

type Handler struct {
	verifier Verifier
	engine   Decider
	log      *zap.SugaredLogger
}

func New(v Verifier, d Decider, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{verifier: v, engine: d, log: log}
}

// Authorize is the Lambda handler. Bad credentials return ErrUnauthorized and
// no policy; a valid but unentitled caller gets a Deny policy.
func (h *Handler) Authorize(ctx context.Context, req events.APIGatewayCustomAuthorizerRequest) (events.APIGatewayCustomAuthorizerResponse, error) {
	log := h.log
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		log = log.With("request_id", lc.AwsRequestID)
	}
	if req.MethodArn == "" {
		metrics.AuthorizerRejections.WithLabelValues("no_resource").Inc()
		log.Warnw("authorizer request without method arn")
		return events.APIGatewayCustomAuthorizerResponse{}, ErrUnauthorized
	}

	raw, ok := bearer(req.AuthorizationToken)
	if !ok {
		metrics.AuthorizerRejections.WithLabelValues("missing").Inc()
		log.Infow("missing bearer token", "resource", req.MethodArn)
		return events.APIGatewayCustomAuthorizerResponse{}, ErrUnauthorized
	}

	claims, err := h.verifier.Verify(ctx, raw)
	if err != nil {
		var verr *token.Error
		switch {
		case errors.As(err, &verr):
			metrics.AuthorizerRejections.WithLabelValues(verr.Reason).Inc()
			log.Infow("token rejected", "reason", verr.Reason, "err", verr.Err)
			return events.APIGatewayCustomAuthorizerResponse{}, ErrUnauthorized
		case errors.Is(err, problems.ErrUpstream):
			metrics.AuthorizerRejections.WithLabelValues("upstream").Inc()
			log.Errorw("signing keys unavailable", "err", err)
			return events.APIGatewayCustomAuthorizerResponse{}, ErrUnavailable
		default:
			metrics.AuthorizerRejections.WithLabelValues("unknown").Inc()
			log.Errorw("token verification failed", "err", err)
			return events.APIGatewayCustomAuthorizerResponse{}, ErrUnauthorized
		}
	}

	d := h.engine.Decide(ctx, claims, req.MethodArn)
	metrics.AuthorizerDecisions.WithLabelValues(string(d.Effect)).Inc()
	log.Infow("authorization decided", "sub", d.Subject, "effect", d.Effect, "resource", d.Resource, "reason", d.Reason)
	return Response(d), nil
}

// Response renders d as a policy document scoped to d.Resource only.
func Response(d decision.Decision) events.APIGatewayCustomAuthorizerResponse {
	effect := decision.Deny
	if d.Effect == decision.Allow {
		effect = decision.Allow
	}
	resp := events.APIGatewayCustomAuthorizerResponse{
		PrincipalID: d.Subject,
		PolicyDocument: events.APIGatewayCustomAuthorizerPolicy{
			Version: policyVersion,
			Statement: []events.IAMPolicyStatement{{
				Action:   []string{"execute-api:Invoke"},
				Effect:   string(effect),
				Resource: []string{d.Resource},
			}},
		},
		Context: map[string]interface{}{"sub": d.Subject},
	}
	if d.Username != "" {
		resp.Context["username"] = d.Username
	}
	return resp
}

func bearer(header string) (string, bool) {
	raw := strings.TrimSpace(header)
	if len(raw) > len("bearer ") && strings.EqualFold(raw[:len("bearer ")], "bearer ") {
		raw = strings.TrimSpace(raw[len("bearer "):])
	}
	return raw, raw != ""
}
