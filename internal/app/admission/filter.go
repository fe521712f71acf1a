// Package admission provides the filter chain that decides whether an
// uploaded track may join a guild's queue.
package admission

import (
	"context"

	"github.com/ayu3b/beatbox/internal/domain/track"
)

// UploadRequest represents one attachment upload to be validated.
type UploadRequest struct {
	GuildID    string
	UploaderID string
	RoleIDs    []string // Roles held by the uploader
}

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "rate_limited", "blacklisted", "duration_limit_exceeded"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// Settings is the read side of the guild settings store the filters
// consult.
type Settings interface {
	IsUserBlacklisted(guildID, userID string) (bool, error)
	WhitelistedRoles(guildID string) ([]string, error)
}

// RateGuard is the per-guild action rate limiter.
type RateGuard interface {
	AllowAction(guildID string) bool
}

// Deps carries the collaborators a filter may need.
type Deps struct {
	Settings Settings
	Rate     RateGuard
}

// Filter is the interface for upload admission filters.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// ValidateConfig validates and applies the filter configuration.
	ValidateConfig(settings map[string]any) error
	// Check performs the filter check.
	Check(ctx context.Context, req UploadRequest, t *track.Track) Result
}

// registry holds registered filter factories.
var registry = make(map[string]func(Deps) Filter)

// Register registers a filter factory.
func Register(name string, factory func(Deps) Filter) {
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]func(Deps) Filter {
	return registry
}
