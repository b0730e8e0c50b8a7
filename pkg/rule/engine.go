package rule

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// Engine matches message content against an ordered rule list. At most one
// rule matches: the caller supplies rules in evaluation order (priority
// descending within a scope) and the first rule with any matching enabled
// trigger wins.
type Engine struct{}

// NewEngine creates a match engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Match evaluates content against rules in the supplied order and returns
// the winning rule and the trigger that matched, or nil when nothing does.
func (e *Engine) Match(content string, rules []*Rule) (*Rule, *Trigger) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, nil
	}

	for _, r := range rules {
		if t := r.Match(content); t != nil {
			logrus.Debugf("rule %s matched via trigger %s (%s %q)", r.ID, t.ID, t.Mode, t.Pattern)
			return r, t
		}
	}
	return nil, nil
}
