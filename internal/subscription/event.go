// Package subscription keeps paid-group membership in step with billing
// subscription events.
package subscription

import "time"

type EventType string

const (
	SubscriptionCreated EventType = "customer.subscription.created"
	SubscriptionUpdated EventType = "customer.subscription.updated"
	SubscriptionDeleted EventType = "customer.subscription.deleted"
)

type Status string

const (
	StatusActive            Status = "active"
	StatusTrialing          Status = "trialing"
	StatusPastDue           Status = "past_due"
	StatusCanceled          Status = "canceled"
	StatusIncomplete        Status = "incomplete"
	StatusIncompleteExpired Status = "incomplete_expired"
	StatusUnpaid            Status = "unpaid"
	StatusPaused            Status = "paused"
)

// Event is one verified billing webhook delivery.
type Event struct {
	ID         string
	Type       EventType
	CustomerID string
	Status     Status
	Created    time.Time
}

type Action string

const (
	Grant  Action = "grant"
	Revoke Action = "revoke"
)

// Action is total over (type, status): only a created or updated
// subscription in an entitled status grants; everything else revokes.
func (e Event) Action() Action {
	placed := e.Type == SubscriptionCreated || e.Type == SubscriptionUpdated
	entitled := e.Status == StatusActive || e.Status == StatusTrialing
	if placed && entitled {
		return Grant
	}
	return Revoke
}
