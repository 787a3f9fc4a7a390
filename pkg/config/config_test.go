package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_DerivesCognitoURLs(t *testing.T) {
	t.Setenv("REGION", "eu-west-1")
	t.Setenv("USER_POOL_ID", "eu-west-1_abc")
	t.Setenv("APP_CLIENT_ID", "client-abc")
	t.Setenv("REDIS_URL", "redis://localhost:6379")

	cfg := Load()
	if cfg.JWKSURL != "https://cognito-idp.eu-west-1.amazonaws.com/eu-west-1_abc/.well-known/jwks.json" {
		t.Fatalf("JWKSURL = %s", cfg.JWKSURL)
	}
	if cfg.Issuer != "https://cognito-idp.eu-west-1.amazonaws.com/eu-west-1_abc" {
		t.Fatalf("Issuer = %s", cfg.Issuer)
	}
	if cfg.DirectoryPoolID != "eu-west-1_abc" {
		t.Fatalf("DirectoryPoolID = %s, want pool fallback", cfg.DirectoryPoolID)
	}
	if cfg.PaidGroup != "paid_subscribers" {
		t.Fatalf("PaidGroup = %s", cfg.PaidGroup)
	}
	if cfg.KeyRefreshEvery != 5*time.Minute {
		t.Fatalf("KeyRefreshEvery = %s", cfg.KeyRefreshEvery)
	}
	if err := cfg.ValidateAuthorizer(); err != nil {
		t.Fatalf("ValidateAuthorizer: %v", err)
	}
}

func TestLoad_YAMLOverlayLosesToEnv(t *testing.T) {
	t.Cleanup(func() { fileValues = nil })
	dir := t.TempDir()
	path := filepath.Join(dir, "subgate.yaml")
	body := "paid_group: premium\nupstream_timeout_sec: 9\napp_client_id: from-file\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("SUBGATE_CONFIG_FILE", path)
	t.Setenv("APP_CLIENT_ID", "from-env")

	cfg := Load()
	if cfg.PaidGroup != "premium" {
		t.Fatalf("PaidGroup = %s, want premium", cfg.PaidGroup)
	}
	if cfg.UpstreamTimeout != 9*time.Second {
		t.Fatalf("UpstreamTimeout = %s", cfg.UpstreamTimeout)
	}
	if cfg.AppClientID != "from-env" {
		t.Fatalf("AppClientID = %s, want env to win", cfg.AppClientID)
	}
}

func TestValidateWebhook(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "complete cognito",
			cfg:  Config{StripeEndpointSecret: "whsec", StripeAPIKey: "sk", PaidGroup: "g", DirectoryBackend: "cognito", DirectoryPoolID: "pool"},
		},
		{
			name:    "postgres without dsn",
			cfg:     Config{StripeEndpointSecret: "whsec", StripeAPIKey: "sk", PaidGroup: "g", DirectoryBackend: "postgres"},
			wantErr: "DATABASE_URL",
		},
		{
			name:    "missing secret",
			cfg:     Config{StripeAPIKey: "sk", PaidGroup: "g", DirectoryBackend: "memory"},
			wantErr: "STRIPE_ENDPOINT",
		},
		{
			name:    "unknown backend",
			cfg:     Config{StripeEndpointSecret: "whsec", StripeAPIKey: "sk", PaidGroup: "g", DirectoryBackend: "ldap"},
			wantErr: "ldap",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.ValidateWebhook()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want mention of %s", err, tc.wantErr)
			}
		})
	}
}
