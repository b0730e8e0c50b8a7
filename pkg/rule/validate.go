package rule

import (
	"fmt"
	"regexp"
)

// Resource limits enforced at the administrative entry points.
const (
	MaxServerRules     = 50
	MaxThreadRules     = 10
	MaxTriggersPerRule = 10
	MaxTriggerLength   = 100
	MaxReplyLength     = 2000
)

var (
	quantifierSpaceRe      = regexp.MustCompile(`\{(\d+)\s*,\s*(\d+)\}`)
	quantifierTrailSpaceRe = regexp.MustCompile(`\{(\d+),\s+\}`)
)

// ValidatePattern checks a trigger pattern for its match mode. For regex
// mode it reports common quantifier-whitespace mistakes with a targeted
// message before falling back to the compiler's own error.
func ValidatePattern(pattern string, mode MatchMode) error {
	if pattern == "" {
		return fmt.Errorf("pattern must not be empty")
	}
	if len(pattern) > MaxTriggerLength {
		return fmt.Errorf("pattern exceeds %d characters", MaxTriggerLength)
	}
	if mode != MatchRegex {
		return nil
	}

	if m := quantifierSpaceRe.FindString(pattern); m != "" && containsSpace(m) {
		return fmt.Errorf("quantifier %q must not contain spaces; did you mean %q?",
			m, SuggestPatternFix(m))
	}
	if m := quantifierTrailSpaceRe.FindString(pattern); m != "" {
		return fmt.Errorf("quantifier %q must not contain spaces; did you mean %q?",
			m, SuggestPatternFix(m))
	}

	if _, err := regexp.Compile("(?i)" + pattern); err != nil {
		return fmt.Errorf("invalid regex: %w", err)
	}
	return nil
}

// SuggestPatternFix rewrites common regex mistakes, currently whitespace
// inside quantifiers ("{1, 5}" becomes "{1,5}"). The pattern is returned
// unchanged when nothing is recognized.
func SuggestPatternFix(pattern string) string {
	fixed := quantifierSpaceRe.ReplaceAllString(pattern, "{$1,$2}")
	fixed = quantifierTrailSpaceRe.ReplaceAllString(fixed, "{$1,}")
	return fixed
}

// ValidateReply checks reply content length and, when the content is a
// structured payload, leaves JSON validation to the caller.
func ValidateReply(content string) error {
	if len(content) > MaxReplyLength {
		return fmt.Errorf("reply exceeds %d characters", MaxReplyLength)
	}
	return nil
}

// ValidateCooldown rejects negative cooldown overrides.
func ValidateCooldown(seconds *int) error {
	if seconds != nil && *seconds < 0 {
		return fmt.Errorf("cooldown must not be negative")
	}
	return nil
}

func containsSpace(s string) bool {
	for _, r := range s {
		if r == ' ' || r == '\t' {
			return true
		}
	}
	return false
}
