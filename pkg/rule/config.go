package rule

import "time"

// Hard-coded cooldown fallbacks used when neither the rule nor the server
// config specifies one. Deletes are unlimited by default.
const (
	FallbackUserReplyCooldown    = 60 * time.Second
	FallbackChannelReplyCooldown = 30 * time.Second
)

// ServerConfig is the per-guild feature configuration. A missing row means
// all defaults with the feature enabled.
type ServerConfig struct {
	GuildID                string
	Enabled                bool
	AllowThreadOwnerConfig bool

	// AllowedChannels restricts which channels (and their threads) the
	// feature runs in; empty means all.
	AllowedChannels []string

	DefaultUserReplyCooldown    *int
	DefaultChannelReplyCooldown *int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DefaultServerConfig returns the configuration implied by an absent row.
func DefaultServerConfig(guildID string) *ServerConfig {
	return &ServerConfig{GuildID: guildID, Enabled: true}
}

// ChannelAllowed reports whether the feature may run in the given channel.
func (c *ServerConfig) ChannelAllowed(channelID string) bool {
	if len(c.AllowedChannels) == 0 {
		return true
	}
	for _, id := range c.AllowedChannels {
		if id == channelID {
			return true
		}
	}
	return false
}

// TargetKind identifies what a permission grant targets.
type TargetKind string

const (
	TargetUser TargetKind = "user"
	TargetRole TargetKind = "role"
)

// PermissionLevel is what a grant allows.
type PermissionLevel string

const (
	// PermServerConfig allows editing server-scoped rules and config.
	PermServerConfig PermissionLevel = "server_config"
	// PermThreadDelegate allows managing rules inside threads the grantee
	// does not own.
	PermThreadDelegate PermissionLevel = "thread_delegate"
)

// Permission grants a non-administrator the right to edit configuration.
type Permission struct {
	GuildID   string
	TargetID  string
	Kind      TargetKind
	Level     PermissionLevel
	CreatedAt time.Time
}

// ResolveUserReplyCooldown resolves the per-user reply cooldown for a rule:
// rule override, then server default, then the hard-coded fallback.
func ResolveUserReplyCooldown(r *Rule, cfg *ServerConfig) time.Duration {
	if r.Cooldowns.UserReply != nil {
		return time.Duration(*r.Cooldowns.UserReply) * time.Second
	}
	if cfg != nil && cfg.DefaultUserReplyCooldown != nil {
		return time.Duration(*cfg.DefaultUserReplyCooldown) * time.Second
	}
	return FallbackUserReplyCooldown
}

// ResolveChannelReplyCooldown resolves the per-thread/channel reply cooldown.
func ResolveChannelReplyCooldown(r *Rule, cfg *ServerConfig) time.Duration {
	if r.Cooldowns.ChannelReply != nil {
		return time.Duration(*r.Cooldowns.ChannelReply) * time.Second
	}
	if cfg != nil && cfg.DefaultChannelReplyCooldown != nil {
		return time.Duration(*cfg.DefaultChannelReplyCooldown) * time.Second
	}
	return FallbackChannelReplyCooldown
}

// ResolveUserDeleteCooldown resolves the per-user delete cooldown. There is
// no server default or fallback; unset means unlimited.
func ResolveUserDeleteCooldown(r *Rule) time.Duration {
	if r.Cooldowns.UserDelete != nil {
		return time.Duration(*r.Cooldowns.UserDelete) * time.Second
	}
	return 0
}

// ResolveChannelDeleteCooldown resolves the per-channel delete cooldown.
func ResolveChannelDeleteCooldown(r *Rule) time.Duration {
	if r.Cooldowns.ChannelDelete != nil {
		return time.Duration(*r.Cooldowns.ChannelDelete) * time.Second
	}
	return 0
}
