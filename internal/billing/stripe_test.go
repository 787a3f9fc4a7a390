package billing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"subgate/pkg/problems"
)

func newTestStripe(t *testing.T, h http.HandlerFunc) *Stripe {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewStripe(StripeConfig{APIKey: "sk_test_123", BaseURL: srv.URL, Timeout: time.Second})
}

func TestCustomerUsername(t *testing.T) {
	var gotPath, gotAuth string
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotAuth = r.URL.Path, r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cus_1","object":"customer","metadata":{"cognito_username":"jane"}}`))
	})

	got, err := s.CustomerUsername(context.Background(), "cus_1")
	if err != nil {
		t.Fatalf("CustomerUsername: %v", err)
	}
	if got != "jane" {
		t.Fatalf("username = %s", got)
	}
	if gotPath != "/v1/customers/cus_1" {
		t.Fatalf("path = %s", gotPath)
	}
	if gotAuth != "Bearer sk_test_123" {
		t.Fatalf("authorization = %q", gotAuth)
	}
}

func TestCustomerUsername_Failures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"missing metadata", 200, `{"id":"cus_1","object":"customer","metadata":{}}`, problems.ErrCustomerNotFound},
		{"deleted", 200, `{"id":"cus_1","object":"customer","deleted":true}`, problems.ErrCustomerNotFound},
		{"no such customer", 404, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such customer"}}`, problems.ErrCustomerNotFound},
		{"provider error", 500, `{"error":{"type":"api_error","message":"boom"}}`, problems.ErrUpstream},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := s.CustomerUsername(context.Background(), "cus_1")
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCustomerUsername_Timeout(t *testing.T) {
	block := make(chan struct{})
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	})
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := s.CustomerUsername(ctx, "cus_1"); !errors.Is(err, problems.ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
}
