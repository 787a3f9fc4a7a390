// Package directory mutates group membership in the user directory.
package directory

import (
	"context"
)

// Directory is the group-membership store. Add and Remove are idempotent:
// adding an existing member or removing a non-member succeeds.
type Directory interface {
	// FindUsers returns the usernames exactly matching username. Disabled
	// users are only included when includeDisabled is set.
	FindUsers(ctx context.Context, username string, includeDisabled bool) ([]string, error)
	AddUserToGroup(ctx context.Context, username, group string) error
	RemoveUserFromGroup(ctx context.Context, username, group string) error
}
