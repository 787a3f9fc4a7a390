package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"

	"subgate/internal/subscription"
	"subgate/pkg/problems"
)

// DefaultTolerance is the maximum accepted age of a signature timestamp.
const DefaultTolerance = 300 * time.Second

// Verifier checks billing provider signatures and parses verified bodies.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(secret string, tolerance time.Duration) (*Verifier, error) {
	if secret == "" {
		return nil, errors.New("webhook: endpoint secret is required")
	}
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Verifier{secret: secret, tolerance: tolerance}, nil
}

// eventObject holds the fields read from data.object. Customer is either an
// id string or an expanded customer object.
type eventObject struct {
	Object   string          `json:"object"`
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Customer json.RawMessage `json:"customer"`
}

// Verify checks the signature header against the raw body and only then
// decodes the event. Every failure matches problems.ErrInvalidPayload.
func (v *Verifier) Verify(payload []byte, signature string) (subscription.Event, error) {
	if signature == "" {
		return subscription.Event{}, fmt.Errorf("%w: missing signature", problems.ErrInvalidPayload)
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return subscription.Event{}, fmt.Errorf("%w: %v", problems.ErrInvalidPayload, err)
	}
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return subscription.Event{}, fmt.Errorf("%w: event %s has no data.object", problems.ErrInvalidPayload, ev.ID)
	}

	var obj eventObject
	if err := json.Unmarshal(ev.Data.Raw, &obj); err != nil {
		return subscription.Event{}, fmt.Errorf("%w: data.object: %v", problems.ErrInvalidPayload, err)
	}
	customer, err := customerID(obj)
	if err != nil {
		return subscription.Event{}, fmt.Errorf("%w: event %s: %v", problems.ErrInvalidPayload, ev.ID, err)
	}

	out := subscription.Event{
		ID:         ev.ID,
		Type:       subscription.EventType(ev.Type),
		CustomerID: customer,
		Status:     subscription.Status(obj.Status),
	}
	if ev.Created > 0 {
		out.Created = time.Unix(ev.Created, 0)
	}
	return out, nil
}

func customerID(obj eventObject) (string, error) {
	if len(obj.Customer) > 0 && string(obj.Customer) != "null" {
		var id string
		if err := json.Unmarshal(obj.Customer, &id); err == nil {
			if id == "" {
				return "", errors.New("empty customer")
			}
			return id, nil
		}
		var expanded struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(obj.Customer, &expanded); err != nil || expanded.ID == "" {
			return "", errors.New("unreadable customer")
		}
		return expanded.ID, nil
	}
	if obj.Object == "customer" && obj.ID != "" {
		return obj.ID, nil
	}
	return "", errors.New("no customer")
}
