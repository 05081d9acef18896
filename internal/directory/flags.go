package directory

import (
	"github.com/gigmarket/notify-pipeline/internal/config"
	"github.com/gigmarket/notify-pipeline/internal/domain"
)

// FlagResolver decides whether a named feature is enabled. The pipeline
// consults it per channel before touching a provider.
type FlagResolver interface {
	IsEnabled(flag string) bool
}

// ChannelFlag is the flag name consulted for a delivery channel.
func ChannelFlag(ch domain.Channel) string {
	return "notifications." + string(ch)
}

// StaticFlags is a FlagResolver backed by a fixed map, populated from
// config at startup. Unknown flags are disabled.
type StaticFlags struct {
	flags map[string]bool
}

func NewStaticFlags(flags map[string]bool) *StaticFlags {
	return &StaticFlags{flags: flags}
}

// FlagsFromConfig builds the channel flag set from the environment config.
func FlagsFromConfig(cfg *config.Config) *StaticFlags {
	return NewStaticFlags(map[string]bool{
		ChannelFlag(domain.ChannelPush):  cfg.PushEnabled,
		ChannelFlag(domain.ChannelEmail): cfg.EmailEnabled,
		ChannelFlag(domain.ChannelInApp): cfg.InAppEnabled,
		ChannelFlag(domain.ChannelSMS):   cfg.SMSEnabled,
	})
}

func (f *StaticFlags) IsEnabled(flag string) bool {
	return f.flags[flag]
}
