// pkg/config/config.go
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env         string
	WebhookAddr string // billing-webhook

	// Identity provider / token verification
	UserPoolID       string
	Region           string
	JWKSURL          string
	Issuer           string
	AppClientID      string
	TokenClockSkew   time.Duration
	GroupsClaim      string // JMESPath over the verified claim set
	PaidGroup        string
	KeyRefreshOnMiss bool
	KeyRefreshEvery  time.Duration

	// Network calls (key set, directory, billing)
	UpstreamTimeout time.Duration

	// Billing provider
	StripeEndpointSecret string
	StripeAPIKey         string
	StripeAPIURL         string
	UsernameMetadataKey  string
	WebhookTolerance     time.Duration

	// Directory
	DirectoryBackend string // cognito | postgres | memory
	DirectoryPoolID  string
	DirectorySeed    string // JSON array of usernames for postgres/memory

	// Redis & Postgres
	RedisURL    string
	DatabaseURL string

	// Observability
	OTelEndpoint     string
	DebugDoubleWrite bool
}

// fileValues holds an optional YAML overlay. Keys are the environment variable names.
var fileValues map[string]string

func Load() Config {
	_ = godotenv.Load()
	if path := os.Getenv("SUBGATE_CONFIG_FILE"); path != "" {
		vals, err := readFile(path)
		if err != nil {
			log.Printf("[WARN] config file %s ignored: %v", path, err)
		}
		fileValues = vals
	}
	cfg := Config{
		Env:                  env("SUBGATE_ENV", "dev"),
		WebhookAddr:          env("WEBHOOK_HTTP_ADDR", ":8080"),
		UserPoolID:           env("USER_POOL_ID", ""),
		Region:               env("REGION", env("AWS_REGION", "")),
		JWKSURL:              env("JWKS_URL", ""),
		Issuer:               env("TOKEN_ISSUER", ""),
		AppClientID:          env("APP_CLIENT_ID", ""),
		TokenClockSkew:       envDur("TOKEN_CLOCK_SKEW_SEC", 0) * time.Second,
		GroupsClaim:          env("GROUPS_CLAIM", `"cognito:groups"`),
		PaidGroup:            env("PAID_GROUP", "paid_subscribers"),
		KeyRefreshOnMiss:     envBool("KEY_REFRESH_ON_MISS", true),
		KeyRefreshEvery:      envDur("KEY_REFRESH_MIN_INTERVAL_SEC", 300) * time.Second,
		UpstreamTimeout:      envDur("UPSTREAM_TIMEOUT_SEC", 5) * time.Second,
		StripeEndpointSecret: env("STRIPE_ENDPOINT", ""),
		StripeAPIKey:         env("STRIPE_API_KEY", ""),
		StripeAPIURL:         env("STRIPE_API_URL", ""),
		UsernameMetadataKey:  env("STRIPE_USERNAME_METADATA_KEY", "cognito_username"),
		WebhookTolerance:     envDur("WEBHOOK_TOLERANCE_SEC", 300) * time.Second,
		DirectoryBackend:     strings.ToLower(env("DIRECTORY_BACKEND", "cognito")),
		DirectoryPoolID:      env("COGNITO_USER_POOL_ID", env("USER_POOL_ID", "")),
		DirectorySeed:        env("DIRECTORY_SEED_JSON", ""),
		RedisURL:             env("REDIS_URL", ""),
		DatabaseURL:          env("DATABASE_URL", ""),
		OTelEndpoint:         env("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", env("OTEL_EXPORTER_OTLP_ENDPOINT", "")),
		DebugDoubleWrite:     envBool("DEBUG_DOUBLE_WRITE", false),
	}
	if cfg.Region != "" && cfg.UserPoolID != "" {
		base := fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", cfg.Region, cfg.UserPoolID)
		if cfg.JWKSURL == "" {
			cfg.JWKSURL = base + "/.well-known/jwks.json"
		}
		if cfg.Issuer == "" {
			cfg.Issuer = base
		}
	}
	if cfg.RedisURL == "" {
		log.Println("[WARN] REDIS_URL not set; webhook event ordering is tracked in process memory only")
	}
	return cfg
}

// ValidateAuthorizer reports the settings the authorizer cannot run without.
func (c Config) ValidateAuthorizer() error {
	var missing []string
	if c.JWKSURL == "" {
		missing = append(missing, "JWKS_URL (or REGION + USER_POOL_ID)")
	}
	if c.AppClientID == "" {
		missing = append(missing, "APP_CLIENT_ID")
	}
	if c.PaidGroup == "" {
		missing = append(missing, "PAID_GROUP")
	}
	return missingErr(missing)
}

// ValidateWebhook reports the settings the billing webhook cannot run without.
func (c Config) ValidateWebhook() error {
	var missing []string
	if c.StripeEndpointSecret == "" {
		missing = append(missing, "STRIPE_ENDPOINT")
	}
	if c.StripeAPIKey == "" {
		missing = append(missing, "STRIPE_API_KEY")
	}
	if c.PaidGroup == "" {
		missing = append(missing, "PAID_GROUP")
	}
	switch c.DirectoryBackend {
	case "cognito":
		if c.DirectoryPoolID == "" {
			missing = append(missing, "COGNITO_USER_POOL_ID")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown DIRECTORY_BACKEND %q", c.DirectoryBackend)
	}
	return missingErr(missing)
}

func missingErr(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return errors.New("missing configuration: " + strings.Join(missing, ", "))
}

func readFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("yaml parse: %w", err)
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return out, nil
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	if v, ok := fileValues[k]; ok && v != "" {
		return v
	}
	return def
}
func envBool(k string, def bool) bool {
	if v := env(k, ""); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return def
		}
		return b
	}
	return def
}
func envDur(k string, def int) time.Duration {
	if v := env(k, ""); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			return time.Duration(def)
		}
		return time.Duration(i)
	}
	return time.Duration(def)
}
