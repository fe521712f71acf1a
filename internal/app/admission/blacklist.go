package admission

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/ayu3b/beatbox/internal/domain/track"
)

// BlacklistFilter rejects uploads from blacklisted users, and from
// users missing every whitelisted role when a guild has configured a
// role whitelist.
type BlacklistFilter struct {
	settings Settings
}

// NewBlacklistFilter creates a filter backed by the settings store.
func NewBlacklistFilter(settings Settings) *BlacklistFilter {
	return &BlacklistFilter{settings: settings}
}

func (f *BlacklistFilter) Name() string {
	return "blacklist"
}

func (f *BlacklistFilter) Description() string {
	return "Checks the user blacklist and role whitelist"
}

func (f *BlacklistFilter) ReturnCodes() []string {
	return []string{"blacklisted", "role_not_whitelisted"}
}

func (f *BlacklistFilter) ValidateConfig(settings map[string]any) error {
	return nil
}

func (f *BlacklistFilter) Check(ctx context.Context, req UploadRequest, t *track.Track) Result {
	if f.settings == nil {
		return Accept()
	}

	blacklisted, err := f.settings.IsUserBlacklisted(req.GuildID, req.UploaderID)
	if err != nil {
		// Settings store failures never block uploads.
		zlog.Error().Msgf("admission: blacklist lookup for guild %s: %v", req.GuildID, err)
		return Accept()
	}
	if blacklisted {
		return Reject("blacklisted")
	}

	roles, err := f.settings.WhitelistedRoles(req.GuildID)
	if err != nil {
		zlog.Error().Msgf("admission: role whitelist lookup for guild %s: %v", req.GuildID, err)
		return Accept()
	}
	if len(roles) == 0 {
		// No whitelist configured means everyone may upload.
		return Accept()
	}

	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	for _, r := range req.RoleIDs {
		if _, ok := allowed[r]; ok {
			return Accept()
		}
	}
	return Reject("role_not_whitelisted")
}

func init() {
	Register("blacklist", func(deps Deps) Filter {
		return NewBlacklistFilter(deps.Settings)
	})
}
