package subscription

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"subgate/internal/directory"
	"subgate/pkg/problems"
)

var tracer = otel.Tracer("subgate/subscription")

type Outcome string

const (
	Granted Outcome = "granted"
	Revoked Outcome = "revoked"
	// Stale means a newer event for the customer was already applied.
	Stale Outcome = "stale"
)

type Result struct {
	Action   Action
	Username string
	Outcome  Outcome
}

type Synchronizer struct {
	resolver Resolver
	dir      directory.Directory
	ledger   Ledger
	group    string
	log      *zap.SugaredLogger
}

type Option func(*Synchronizer)

func WithLedger(l Ledger) Option {
	return func(s *Synchronizer) {
		if l != nil {
			s.ledger = l
		}
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Synchronizer) { s.log = log }
}

func NewSynchronizer(resolver Resolver, dir directory.Directory, group string, opts ...Option) (*Synchronizer, error) {
	if resolver == nil || dir == nil {
		return nil, errors.New("subscription: resolver and directory are required")
	}
	if group == "" {
		return nil, errors.New("subscription: group is required")
	}
	s := &Synchronizer{
		resolver: resolver,
		dir:      dir,
		ledger:   NopLedger{},
		group:    group,
		log:      zap.NewNop().Sugar(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Apply resolves the event's customer and adds or removes the user from the
// paid group. A resolution failure performs no mutation.
func (s *Synchronizer) Apply(ctx context.Context, ev Event) (res Result, err error) {
	action := ev.Action()
	ctx, span := tracer.Start(ctx, "subscription.apply", trace.WithAttributes(
		attribute.String("billing.event_id", ev.ID),
		attribute.String("billing.event_type", string(ev.Type)),
		attribute.String("billing.status", string(ev.Status)),
		attribute.String("subscription.action", string(action)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	res = Result{Action: action}
	if ev.CustomerID == "" {
		return res, fmt.Errorf("%w: event %s has no customer", problems.ErrInvalidPayload, ev.ID)
	}
	log := s.log.With("event_id", ev.ID, "customer", ev.CustomerID, "action", action)

	username, err := s.resolver.Resolve(ctx, ev.CustomerID, action)
	if err != nil {
		log.Errorw("customer resolution failed", "err", err)
		return res, err
	}
	res.Username = username
	log = log.With("username", username)

	admitted, err := s.ledger.Admit(ctx, ev.CustomerID, ev.Created)
	if err != nil {
		log.Errorw("event ledger unavailable", "err", err)
		return res, err
	}
	if !admitted {
		res.Outcome = Stale
		log.Warnw("skipping event older than the last applied one", "created", ev.Created)
		return res, nil
	}

	switch action {
	case Grant:
		err = s.dir.AddUserToGroup(ctx, username, s.group)
		res.Outcome = Granted
	default:
		err = s.dir.RemoveUserFromGroup(ctx, username, s.group)
		res.Outcome = Revoked
	}
	if err != nil {
		log.Errorw("group membership update failed", "group", s.group, "err", err)
		res.Outcome = ""
		return res, err
	}
	// Only an applied event moves the mark; a failed one leaves older
	// redeliveries admissible.
	if err = s.ledger.Commit(ctx, ev.CustomerID, ev.Created); err != nil {
		log.Errorw("event ledger commit failed", "err", err)
		return res, err
	}
	log.Infow("group membership updated", "group", s.group, "outcome", res.Outcome)
	return res, nil
}
