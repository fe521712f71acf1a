package admission

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/ayu3b/beatbox/internal/domain/track"
)

// RateLimitConfig represents the configuration for RateLimitFilter.
type RateLimitConfig struct {
	CooldownSeconds int `yaml:"cooldown_seconds" mapstructure:"cooldown_seconds" default:"2" validate:"gte=1"`
}

// RateLimitFilter rejects uploads arriving inside the per-guild
// cooldown window. The window itself is enforced by the guild store's
// rate guard; the filter only consults it.
type RateLimitFilter struct {
	config *RateLimitConfig
	rate   RateGuard
}

// NewRateLimitFilter creates a filter backed by the given rate guard.
func NewRateLimitFilter(rate RateGuard) *RateLimitFilter {
	return &RateLimitFilter{rate: rate}
}

func (f *RateLimitFilter) Name() string {
	return "rate_limit"
}

func (f *RateLimitFilter) Description() string {
	return "Rejects uploads inside the per-guild cooldown window"
}

func (f *RateLimitFilter) ReturnCodes() []string {
	return []string{"rate_limited"}
}

func (f *RateLimitFilter) ValidateConfig(settings map[string]any) error {
	var config RateLimitConfig

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &config,
		TagName: "mapstructure",
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return errors.Wrap(err, "validation failed")
	}

	f.config = &config
	zlog.Info().Msgf("rate limit filter config: %+v", config)
	return nil
}

func (f *RateLimitFilter) Check(ctx context.Context, req UploadRequest, t *track.Track) Result {
	if f.rate == nil {
		return Accept()
	}
	if !f.rate.AllowAction(req.GuildID) {
		return Reject("rate_limited")
	}
	return Accept()
}

func init() {
	Register("rate_limit", func(deps Deps) Filter {
		return NewRateLimitFilter(deps.Rate)
	})
}
