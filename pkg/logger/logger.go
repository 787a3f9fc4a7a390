package logger

import (
	"go.uber.org/zap"
)

type Sugared = *zap.SugaredLogger

// New builds the process logger. Every entry carries the service name so the
// authorizer and webhook logs can share one log group.
func New(env, service string) Sugared {
	var z *zap.Logger
	if env == "prod" {
		z, _ = zap.NewProduction()
	} else {
		z, _ = zap.NewDevelopment()
	}
	return z.Sugar().With("service", service)
}

// Nop discards everything. Used by tests and optional collaborators.
func Nop() Sugared { return zap.NewNop().Sugar() }
