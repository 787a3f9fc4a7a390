// Package decision turns verified claims into an Allow/Deny decision scoped to
// a single resource.
package decision

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"

	"subgate/internal/token"
)

type Effect string

const (
	Allow Effect = "Allow"
	Deny  Effect = "Deny"
)

// Decision authorizes exactly one resource for one subject.
type Decision struct {
	Subject  string
	Username string
	Effect   Effect
	Resource string
	Reason   string
}

//go:embed membership.rego
var defaultPolicy string

// Engine evaluates the entitlement policy. The policy receives
// {"groups": [...], "required_group": "..."} and must define data.membership.allow.
type Engine struct {
	paidGroup string
	query     rego.PreparedEvalQuery
	log       *zap.SugaredLogger
}

type Option func(*engineOptions)

type engineOptions struct {
	module string
	log    *zap.SugaredLogger
}

// WithPolicy replaces the embedded policy module.
func WithPolicy(module string) Option {
	return func(o *engineOptions) { o.module = module }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(o *engineOptions) { o.log = log }
}

func New(ctx context.Context, paidGroup string, opts ...Option) (*Engine, error) {
	if paidGroup == "" {
		return nil, errors.New("decision: paid group is required")
	}
	o := engineOptions{module: defaultPolicy, log: zap.NewNop().Sugar()}
	for _, fn := range opts {
		fn(&o)
	}
	q, err := rego.New(
		rego.Query("data.membership.allow"),
		rego.Module("membership.rego", o.module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("decision: compile policy: %w", err)
	}
	return &Engine{paidGroup: paidGroup, query: q, log: o.log}, nil
}

// Decide never returns Allow unless the policy evaluated to exactly true.
func (e *Engine) Decide(ctx context.Context, claims token.Claims, resource string) Decision {
	d := Decision{Subject: claims.Subject, Username: claims.Username, Effect: Deny, Resource: resource}
	groups := claims.Groups
	if groups == nil {
		groups = []string{}
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(map[string]any{
		"groups":         groups,
		"required_group": e.paidGroup,
	}))
	if err != nil {
		e.log.Errorw("policy evaluation failed", "sub", claims.Subject, "err", err)
		d.Reason = "policy_error"
		return d
	}
	if len(rs) == 1 && len(rs[0].Expressions) == 1 {
		if allowed, ok := rs[0].Expressions[0].Value.(bool); ok && allowed {
			d.Effect = Allow
			return d
		}
	}
	d.Reason = "not_entitled"
	return d
}
