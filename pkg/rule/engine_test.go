package rule

import "testing"

func TestEngineFirstMatchWins(t *testing.T) {
	high, _ := CompileTrigger("t-high", "high", "bump", MatchExact, true)
	low, _ := CompileTrigger("t-low", "low", "bump", MatchExact, true)
	rules := []*Rule{
		{ID: "high", Enabled: true, Priority: 10, Triggers: []Trigger{high}},
		{ID: "low", Enabled: true, Priority: 1, Triggers: []Trigger{low}},
	}

	e := NewEngine()
	r, trig := e.Match("bump", rules)
	if r == nil || r.ID != "high" {
		t.Fatalf("expected the first rule to win, got %+v", r)
	}
	if trig == nil || trig.ID != "t-high" {
		t.Fatalf("expected the first rule's trigger, got %+v", trig)
	}
}

func TestEngineTrimsContent(t *testing.T) {
	trig, _ := CompileTrigger("t1", "r1", "回顶", MatchExact, true)
	rules := []*Rule{{ID: "r1", Enabled: true, Triggers: []Trigger{trig}}}

	e := NewEngine()
	if r, _ := e.Match("  回顶  ", rules); r == nil {
		t.Error("surrounding whitespace should not prevent an exact match")
	}
}

func TestEngineNoMatch(t *testing.T) {
	e := NewEngine()
	if r, trig := e.Match("hello", nil); r != nil || trig != nil {
		t.Errorf("empty rule set should not match, got %+v %+v", r, trig)
	}
}
