package admission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayu3b/beatbox/internal/domain/track"
)

type fakeSettings struct {
	blacklisted map[string]bool
	roles       []string
}

func (f *fakeSettings) IsUserBlacklisted(guildID, userID string) (bool, error) {
	return f.blacklisted[userID], nil
}

func (f *fakeSettings) WhitelistedRoles(guildID string) ([]string, error) {
	return f.roles, nil
}

type fakeRate struct{ allow bool }

func (f *fakeRate) AllowAction(guildID string) bool { return f.allow }

func TestDurationLimitFilter_Check(t *testing.T) {
	tests := []struct {
		name          string
		maxMinutes    float64
		trackDuration time.Duration
		shouldReject  bool
	}{
		{name: "within limit", maxMinutes: 5, trackDuration: 3 * time.Minute, shouldReject: false},
		{name: "exactly at limit", maxMinutes: 5, trackDuration: 5 * time.Minute, shouldReject: false},
		{name: "over limit", maxMinutes: 5, trackDuration: 6 * time.Minute, shouldReject: true},
		{name: "unknown duration passes", maxMinutes: 5, trackDuration: 0, shouldReject: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewDurationLimitFilter()
			require.NoError(t, f.ValidateConfig(map[string]any{"max_minutes": tt.maxMinutes}))

			tr := track.New("url", "a.mp3", "u", 1)
			tr.Duration = tt.trackDuration

			result := f.Check(context.Background(), UploadRequest{GuildID: "g1"}, tr)
			assert.Equal(t, !tt.shouldReject, result.Accepted)
			if tt.shouldReject {
				assert.Equal(t, "duration_limit_exceeded", result.Code)
			}
		})
	}
}

func TestDurationLimitFilter_ValidateConfig(t *testing.T) {
	f := NewDurationLimitFilter()

	// Defaults apply when settings are empty.
	require.NoError(t, f.ValidateConfig(map[string]any{}))
	assert.Equal(t, float64(60), f.config.MaxMinutes)

	assert.Error(t, f.ValidateConfig(map[string]any{"max_minutes": -1}))
}

func TestBlacklistFilter_Check(t *testing.T) {
	tests := []struct {
		name         string
		blacklisted  bool
		whitelist    []string
		uploaderRole []string
		expectedCode string
	}{
		{name: "clean user no whitelist", expectedCode: ""},
		{name: "blacklisted user", blacklisted: true, expectedCode: "blacklisted"},
		{name: "whitelist with matching role", whitelist: []string{"dj"}, uploaderRole: []string{"dj", "mod"}, expectedCode: ""},
		{name: "whitelist without matching role", whitelist: []string{"dj"}, uploaderRole: []string{"mod"}, expectedCode: "role_not_whitelisted"},
		{name: "blacklist beats whitelist", blacklisted: true, whitelist: []string{"dj"}, uploaderRole: []string{"dj"}, expectedCode: "blacklisted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := &fakeSettings{
				blacklisted: map[string]bool{"u1": tt.blacklisted},
				roles:       tt.whitelist,
			}
			f := NewBlacklistFilter(settings)

			result := f.Check(context.Background(), UploadRequest{
				GuildID:    "g1",
				UploaderID: "u1",
				RoleIDs:    tt.uploaderRole,
			}, track.New("url", "a.mp3", "u", 1))

			assert.Equal(t, tt.expectedCode == "", result.Accepted)
			assert.Equal(t, tt.expectedCode, result.Code)
		})
	}
}

func TestChain_StopsAtFirstRejection(t *testing.T) {
	chain := NewChain()

	rate := NewRateLimitFilter(&fakeRate{allow: false})
	require.NoError(t, rate.ValidateConfig(map[string]any{}))
	chain.Add(rate)
	chain.Add(NewBlacklistFilter(&fakeSettings{blacklisted: map[string]bool{"u1": true}}))

	result := chain.Execute(context.Background(), UploadRequest{GuildID: "g1", UploaderID: "u1"},
		track.New("url", "a.mp3", "u", 1))
	assert.False(t, result.Accepted)
	assert.Equal(t, "rate_limited", result.Code)
}

func TestChain_EmptyChainAccepts(t *testing.T) {
	chain := NewChain()
	result := chain.Execute(context.Background(), UploadRequest{}, track.New("url", "a.mp3", "u", 1))
	assert.True(t, result.Accepted)
}

func TestRegistry(t *testing.T) {
	registered := GetRegistered()
	for _, name := range []string{"duration_limit", "blacklist", "rate_limit"} {
		factory, ok := registered[name]
		require.True(t, ok, "filter %s not registered", name)
		f := factory(Deps{})
		assert.Equal(t, name, f.Name())
		assert.NotEmpty(t, f.Description())
		assert.NotEmpty(t, f.ReturnCodes())
	}
}
