package subscription

import (
	"context"
	"fmt"

	"subgate/internal/directory"
	"subgate/pkg/problems"
)

// Resolver maps a billing customer to exactly one directory username.
// A Revoke also resolves disabled users so their membership is still removed;
// a Grant only ever targets enabled users. Failures match
// problems.ErrCustomerNotFound, problems.ErrCustomerAmbiguous or
// problems.ErrUpstream.
type Resolver interface {
	Resolve(ctx context.Context, customerID string, action Action) (string, error)
}

// CustomerLookup reads the directory username recorded on a billing customer.
type CustomerLookup interface {
	CustomerUsername(ctx context.Context, customerID string) (string, error)
}

// CustomerResolver resolves through billing customer metadata, then confirms
// the username against the directory. Nothing is cached between events.
type CustomerResolver struct {
	billing CustomerLookup
	dir     directory.Directory
}

func NewCustomerResolver(billing CustomerLookup, dir directory.Directory) *CustomerResolver {
	return &CustomerResolver{billing: billing, dir: dir}
}

func (r *CustomerResolver) Resolve(ctx context.Context, customerID string, action Action) (string, error) {
	username, err := r.billing.CustomerUsername(ctx, customerID)
	if err != nil {
		return "", err
	}
	users, err := r.dir.FindUsers(ctx, username, action == Revoke)
	if err != nil {
		return "", err
	}
	switch len(users) {
	case 0:
		return "", fmt.Errorf("%w: customer %s -> username %s", problems.ErrCustomerNotFound, customerID, username)
	case 1:
		return users[0], nil
	default:
		return "", fmt.Errorf("%w: customer %s -> %d users", problems.ErrCustomerAmbiguous, customerID, len(users))
	}
}
