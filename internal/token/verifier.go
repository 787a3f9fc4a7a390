// Package token verifies identity-provider bearer tokens.
package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jmes "github.com/jmespath/go-jmespath"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"subgate/pkg/problems"
)

// Algorithm is the only signature algorithm accepted. Tokens declaring any
// other alg are rejected before a key is looked up.
const Algorithm = jwa.RS256

// KeySource resolves a signing key by kid.
type KeySource interface {
	Key(ctx context.Context, kid string) (jwk.Key, error)
}

// Claims are the verified claims the decision engine needs.
type Claims struct {
	Subject  string
	Username string
	Audience []string
	Groups   []string
	Expires  time.Time
}

// Error is returned for every verification failure. It matches
// problems.ErrUnauthorized; Reason is for logs and metrics only.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return "unauthorized: " + e.Reason + ": " + e.Err.Error()
	}
	return "unauthorized: " + e.Reason
}

func (e *Error) Unwrap() error        { return e.Err }
func (e *Error) Is(target error) bool { return target == problems.ErrUnauthorized }

func reject(reason string, err error) error { return &Error{Reason: reason, Err: err} }

type Config struct {
	Audience    string // application client id, compared exactly
	Issuer      string // optional
	ClockSkew   time.Duration
	GroupsClaim string // JMESPath expression; defaults to "cognito:groups"
	Clock       func() time.Time
}

type Verifier struct {
	keys     KeySource
	audience string
	issuer   string
	skew     time.Duration
	groups   *jmes.JMESPath
	clock    jwt.Clock
}

func NewVerifier(keys KeySource, cfg Config) (*Verifier, error) {
	if keys == nil {
		return nil, errors.New("token: key source is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("token: audience is required")
	}
	expr := cfg.GroupsClaim
	if expr == "" {
		expr = `"cognito:groups"`
	}
	groups, err := jmes.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("token: groups claim expression %q: %w", expr, err)
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Verifier{
		keys:     keys,
		audience: cfg.Audience,
		issuer:   strings.TrimRight(cfg.Issuer, "/"),
		skew:     cfg.ClockSkew,
		groups:   groups,
		clock:    jwt.ClockFunc(now),
	}, nil
}

// Verify checks structure, key, signature, temporal claims and audience, in
// that order. Failures match problems.ErrUnauthorized, except key set fetch
// failures which match problems.ErrUpstream.
func (v *Verifier) Verify(ctx context.Context, raw string) (Claims, error) {
	segs := strings.Split(raw, ".")
	if len(segs) != 3 || segs[0] == "" || segs[1] == "" || segs[2] == "" {
		return Claims{}, reject("malformed", fmt.Errorf("expected 3 segments, got %d", len(segs)))
	}
	msg, err := jws.Parse([]byte(raw))
	if err != nil || len(msg.Signatures()) != 1 {
		return Claims{}, reject("malformed", err)
	}
	hdr := msg.Signatures()[0].ProtectedHeaders()
	if alg := hdr.Algorithm(); alg != Algorithm {
		return Claims{}, reject("algorithm", fmt.Errorf("alg %q not accepted", alg))
	}
	kid := hdr.KeyID()
	if kid == "" {
		return Claims{}, reject("malformed", errors.New("missing kid"))
	}

	key, err := v.keys.Key(ctx, kid)
	if err != nil {
		if errors.Is(err, problems.ErrUpstream) {
			return Claims{}, err
		}
		return Claims{}, reject("unknown_kid", fmt.Errorf("kid %q: %w", kid, err))
	}

	tok, err := jwt.Parse([]byte(raw), jwt.WithKey(Algorithm, key), jwt.WithValidate(false))
	if err != nil {
		return Claims{}, reject("signature", err)
	}

	opts := []jwt.ValidateOption{
		jwt.WithClock(v.clock),
		jwt.WithAcceptableSkew(v.skew),
		jwt.WithAudience(v.audience),
		jwt.WithRequiredClaim(jwt.ExpirationKey),
		jwt.WithRequiredClaim(jwt.SubjectKey),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if err := jwt.Validate(tok, opts...); err != nil {
		return Claims{}, reject("claims", err)
	}

	groups, err := v.extractGroups(ctx, tok)
	if err != nil {
		return Claims{}, reject("claims", err)
	}
	return Claims{
		Subject:  tok.Subject(),
		Username: stringClaim(tok, "cognito:username", "username"),
		Audience: tok.Audience(),
		Groups:   groups,
		Expires:  tok.Expiration(),
	}, nil
}

// extractGroups evaluates the groups expression. An absent claim is an empty
// list; non-string members are skipped.
func (v *Verifier) extractGroups(ctx context.Context, tok jwt.Token) ([]string, error) {
	all, err := tok.AsMap(ctx)
	if err != nil {
		return nil, err
	}
	res, err := v.groups.Search(all)
	if err != nil {
		return nil, fmt.Errorf("groups claim: %w", err)
	}
	switch g := res.(type) {
	case nil:
		return nil, nil
	case []string:
		return g, nil
	case []any:
		out := make([]string, 0, len(g))
		for _, item := range g {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, nil
	case string:
		return []string{g}, nil
	default:
		return nil, nil
	}
}

func stringClaim(tok jwt.Token, names ...string) string {
	for _, n := range names {
		if v, ok := tok.Get(n); ok {
			if s, _ := v.(string); s != "" {
				return s
			}
		}
	}
	return ""
}
