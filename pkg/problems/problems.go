package problems

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
)

// Failure taxonomy shared by the authorizer and the billing webhook.
var (
	// ErrUnauthorized covers any bad, missing, expired, mis-keyed or mis-audienced credential.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidPayload is a webhook signature or parse failure.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrResolution means a billing customer could not be mapped to exactly one directory user.
	ErrResolution = errors.New("customer resolution failed")
	// ErrUpstream is a network failure talking to the key set, directory or billing provider.
	ErrUpstream = errors.New("upstream unavailable")
)

var (
	ErrCustomerNotFound  = &resolutionError{msg: "no directory user for billing customer"}
	ErrCustomerAmbiguous = &resolutionError{msg: "more than one directory user for billing customer"}
)

type resolutionError struct{ msg string }

func (e *resolutionError) Error() string        { return e.msg }
func (e *resolutionError) Is(target error) bool { return target == ErrResolution }

// Base returns the base URL for problem type identifiers.
// Order of precedence:
// 1. PROBLEM_BASE_URL (exact base, e.g. https://mydomain.com/problems)
// 2. BASE_PUBLIC_URL + "/problems" (if set)
// 3. https://example.com/problems (fallback)
func Base() string {
	if b := os.Getenv("PROBLEM_BASE_URL"); b != "" {
		return strings.TrimRight(b, "/")
	}
	if b := os.Getenv("BASE_PUBLIC_URL"); b != "" {
		return strings.TrimRight(b, "/") + "/problems"
	}
	return "https://example.com/problems"
}

// Type builds a full problem type URL for the given slug.
func Type(slug string) string { return Base() + "/" + slug }

// Problem is an RFC 7807 response body.
type Problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// New builds a Problem whose title is the standard status text.
func New(status int, slug, detail string) Problem {
	return Problem{Type: Type(slug), Title: http.StatusText(status), Status: status, Detail: detail}
}

// Body encodes p as JSON. Encoding a Problem cannot fail.
func (p Problem) Body() []byte {
	b, _ := json.Marshal(p)
	return b
}

// Write sends p with the application/problem+json content type.
func Write(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_, _ = w.Write(p.Body())
}
