// Package billing reads customer data from the billing provider.
package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"subgate/pkg/problems"
)

// ErrNoUsername means the customer exists but carries no directory username.
var ErrNoUsername = errors.New("billing customer has no username metadata")

type StripeConfig struct {
	APIKey      string
	BaseURL     string // optional override, used against stripe-mock and in tests
	MetadataKey string // defaults to "cognito_username"
	Timeout     time.Duration
}

// Stripe looks customers up through the Stripe API.
type Stripe struct {
	api         *client.API
	metadataKey string
}

func NewStripe(cfg StripeConfig) *Stripe {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	bc := &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: timeout},
		// Retries belong to the provider's redelivery, not to this request.
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if cfg.BaseURL != "" {
		bc.URL = stripe.String(cfg.BaseURL)
	}
	api := &client.API{}
	api.Init(cfg.APIKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, bc),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, bc),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, bc),
	})
	key := cfg.MetadataKey
	if key == "" {
		key = "cognito_username"
	}
	return &Stripe{api: api, metadataKey: key}
}

// CustomerUsername returns the directory username stored in the customer's metadata.
// Unknown or deleted customers and a missing key wrap problems.ErrCustomerNotFound;
// transport failures wrap problems.ErrUpstream.
func (s *Stripe) CustomerUsername(ctx context.Context, customerID string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cus, err := s.api.Customers.Get(customerID, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%w: customer %s: %v", problems.ErrCustomerNotFound, customerID, err)
		}
		return "", fmt.Errorf("%w: retrieve customer %s: %v", problems.ErrUpstream, customerID, err)
	}
	if cus.Deleted {
		return "", fmt.Errorf("%w: customer %s is deleted", problems.ErrCustomerNotFound, customerID)
	}
	username := cus.Metadata[s.metadataKey]
	if username == "" {
		return "", fmt.Errorf("%w: customer %s: %w", problems.ErrCustomerNotFound, customerID, ErrNoUsername)
	}
	return username, nil
}
