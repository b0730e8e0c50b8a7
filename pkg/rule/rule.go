package rule

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// MatchMode selects how a trigger pattern is compared against message text.
type MatchMode string

const (
	MatchExact    MatchMode = "exact"
	MatchPrefix   MatchMode = "prefix"
	MatchContains MatchMode = "contains"
	MatchRegex    MatchMode = "regex"
)

// ActionType selects what a rule does when one of its triggers matches.
type ActionType string

const (
	ActionReply         ActionType = "reply"
	ActionBumpToTop     ActionType = "bump_to_top"
	ActionReact         ActionType = "react"
	ActionReplyAndReact ActionType = "reply_and_react"
)

// Replies reports whether the action sends a reply message.
func (a ActionType) Replies() bool {
	return a == ActionReply || a == ActionBumpToTop || a == ActionReplyAndReact
}

// Reacts reports whether the action adds a reaction. Bump rules react to
// acknowledge the trigger even when the reply itself is rate limited.
func (a ActionType) Reacts() bool {
	return a == ActionReact || a == ActionReplyAndReact || a == ActionBumpToTop
}

// Scope determines which conversations a rule applies to. Evaluation order
// is thread, channel, category, server; the first matching scope wins.
type Scope string

const (
	ScopeServer   Scope = "server"
	ScopeThread   Scope = "thread"
	ScopeChannel  Scope = "channel"
	ScopeCategory Scope = "category"
)

// Trigger is a single pattern owned by a rule. Regex triggers carry their
// compiled pattern; CompileTrigger rejects invalid patterns so the matcher
// never sees a compile error.
type Trigger struct {
	ID      string
	RuleID  string
	Pattern string
	Mode    MatchMode
	Enabled bool

	re *regexp.Regexp
}

// CompileTrigger builds a trigger, validating the pattern for its mode.
// Regex patterns are compiled once here, case-insensitively.
func CompileTrigger(id, ruleID, pattern string, mode MatchMode, enabled bool) (Trigger, error) {
	t := Trigger{ID: id, RuleID: ruleID, Pattern: pattern, Mode: mode, Enabled: enabled}

	switch mode {
	case MatchExact:
		t.Pattern = strings.TrimSpace(pattern)
	case MatchPrefix, MatchContains:
		// pattern used verbatim
	case MatchRegex:
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return Trigger{}, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
		}
		t.re = re
	default:
		return Trigger{}, fmt.Errorf("unknown match mode %q", mode)
	}

	if t.Pattern == "" {
		return Trigger{}, fmt.Errorf("trigger pattern must not be empty")
	}
	return t, nil
}

// Matches applies the trigger's match mode to already-trimmed content.
func (t *Trigger) Matches(content string) bool {
	switch t.Mode {
	case MatchExact:
		return content == t.Pattern
	case MatchPrefix:
		return strings.HasPrefix(content, t.Pattern)
	case MatchContains:
		return strings.Contains(content, t.Pattern)
	case MatchRegex:
		return t.re != nil && t.re.MatchString(content)
	}
	return false
}

// Cooldowns holds a rule's per-tier cooldown overrides in seconds.
// nil inherits the server default; 0 means unlimited.
type Cooldowns struct {
	UserReply     *int
	ChannelReply  *int
	UserDelete    *int
	ChannelDelete *int
}

// Rule is an ordered set of triggers plus an action specification.
type Rule struct {
	ID      string
	GuildID string
	Scope   Scope

	// Exactly one of these is set for non-server scopes.
	ThreadID   string
	ChannelID  string
	CategoryID string

	Action         ActionType
	ReplyContent   string
	ReplyEmbedJSON string
	Reaction       string

	// Delete delays in seconds for the triggering message and the reply;
	// nil disables the corresponding deletion.
	DeleteTriggerDelay *int
	DeleteReplyDelay   *int

	Cooldowns Cooldowns
	Enabled   bool
	Priority  int

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time

	Triggers []Trigger
}

// Match returns the first enabled trigger that matches content, or nil.
// Content must already be trimmed.
func (r *Rule) Match(content string) *Trigger {
	if !r.Enabled {
		return nil
	}
	for i := range r.Triggers {
		t := &r.Triggers[i]
		if !t.Enabled {
			continue
		}
		if t.Matches(content) {
			return t
		}
	}
	return nil
}

// ScopeTargetID returns the identifier a rule is keyed on within its scope.
func (r *Rule) ScopeTargetID() string {
	switch r.Scope {
	case ScopeThread:
		return r.ThreadID
	case ScopeChannel:
		return r.ChannelID
	case ScopeCategory:
		return r.CategoryID
	}
	return r.GuildID
}

// SortByPriority orders rules highest priority first. Equal priorities
// break on creation time, then ID, so evaluation order is deterministic
// regardless of how the store returned them.
func SortByPriority(rules []*Rule) {
	sort.Slice(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
