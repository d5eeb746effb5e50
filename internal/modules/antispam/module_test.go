package antispam

import (
	"context"
	"testing"
	"time"

	"spamguard/internal/mitigation"
	"spamguard/internal/modules/audit"
	"spamguard/internal/policy"
	"spamguard/internal/tracker"

	"go.uber.org/zap"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

type fakeSubmitter struct {
	violations []mitigation.Violation
}

func (f *fakeSubmitter) Submit(v mitigation.Violation) bool {
	f.violations = append(f.violations, v)
	return true
}

func newTestModule(t *testing.T) (*Module, *policy.Store, *tracker.Tracker, *fakeSubmitter) {
	t.Helper()
	policies := policy.NewStore()
	windows := tracker.New(100)
	sub := &fakeSubmitter{}
	module := New(policies, windows, sub, audit.NewLogger(nil, zap.NewNop()), zap.NewNop())
	return module, policies, windows, sub
}

func at(sec int) time.Time {
	return time.Unix(0, 0).Add(time.Duration(sec) * time.Second)
}

func TestOneViolationPerBurst(t *testing.T) {
	module, policies, windows, _ := newTestModule(t)
	if _, err := policies.Set("g1", "log", 10, 3, 60); err != nil {
		t.Fatalf("set policy: %v", err)
	}

	var fired []int
	for _, sec := range []int{0, 1, 2, 3} {
		if out := module.Evaluate("g1", "u1", at(sec)); out.Violation {
			fired = append(fired, sec)
		}
	}
	if len(fired) != 1 || fired[0] != 2 {
		t.Fatalf("expected a single violation at t=2, got %v", fired)
	}
	if got := windows.Count("g1", "u1", at(3), 10*time.Second); got != 1 {
		t.Fatalf("window should restart after the violation, got %d", got)
	}
}

func TestEvictionPreventsViolation(t *testing.T) {
	module, policies, _, _ := newTestModule(t)
	if _, err := policies.Set("g1", "log", 5, 5, 60); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	var fired []int
	for _, sec := range []int{0, 1, 2, 3, 4} {
		if module.Evaluate("g1", "u1", at(sec)).Violation {
			fired = append(fired, sec)
		}
	}
	if len(fired) != 1 || fired[0] != 4 {
		t.Fatalf("expected violation at t=4, got %v", fired)
	}

	module, policies, _, _ = newTestModule(t)
	if _, err := policies.Set("g1", "log", 5, 5, 60); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	for _, sec := range []int{0, 1, 2, 3, 10} {
		if out := module.Evaluate("g1", "u1", at(sec)); out.Violation {
			t.Fatalf("unexpected violation at t=%d", sec)
		}
	}
}

func TestThresholdBoundaryIsInclusive(t *testing.T) {
	module, policies, _, _ := newTestModule(t)
	if _, err := policies.Set("g1", "log", 10, 2, 60); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	module.Evaluate("g1", "u1", at(0))
	out := module.Evaluate("g1", "u1", at(10))
	if !out.Violation || out.Count != 2 {
		t.Fatalf("exactly threshold messages within exactly the window should violate, got %+v", out)
	}
	if out.Policy.Threshold != 2 || out.Policy.WindowSeconds != 10 {
		t.Fatalf("outcome should carry the policy snapshot, got %+v", out.Policy)
	}
}

func TestDisabledGuildCreatesNoWindow(t *testing.T) {
	module, policies, windows, _ := newTestModule(t)
	if _, err := policies.Set("g1", "log", 10, 2, 60); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	if _, err := module.Disable("g1"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	for i := 0; i < 50; i++ {
		if module.Evaluate("g1", "u1", at(0)).Violation {
			t.Fatalf("disabled guild must not violate")
		}
	}
	if module.Evaluate("g2", "u1", at(0)).Violation {
		t.Fatalf("unconfigured guild must not violate")
	}
	if windows.Len() != 0 {
		t.Fatalf("expected no windows, got %d", windows.Len())
	}
}

func TestDisableReleasesWindows(t *testing.T) {
	module, policies, windows, _ := newTestModule(t)
	if _, err := policies.Set("g1", "log", 10, 5, 60); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	module.Evaluate("g1", "u1", at(0))
	module.Evaluate("g1", "u2", at(0))
	if _, err := module.Disable("g1"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if windows.Len() != 0 {
		t.Fatalf("expected windows released, got %d", windows.Len())
	}
	if _, err := module.Disable("missing"); err == nil {
		t.Fatalf("expected not configured error")
	}
}

func TestPolicyChangeAppliesToNextMessage(t *testing.T) {
	module, policies, _, _ := newTestModule(t)
	if _, err := policies.Set("g1", "log", 60, 10, 60); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	for _, sec := range []int{0, 1, 2} {
		module.Evaluate("g1", "u1", at(sec))
	}
	if _, err := policies.Set("g1", "log", 60, 4, 60); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	if out := module.Evaluate("g1", "u1", at(3)); !out.Violation {
		t.Fatalf("lowered threshold should apply to the next message, got %+v", out)
	}
}

func TestHandleMessageFiltersAndDispatches(t *testing.T) {
	module, policies, windows, sub := newTestModule(t)
	clock := &fakeClock{now: at(0)}
	module.WithClock(clock)
	if _, err := policies.Set("g1", "log", 10, 2, 60); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	ctx := context.Background()

	module.HandleMessage(ctx, Message{GuildID: "g1", ChannelID: "c1", MessageID: "b1", UserID: "bot", Bot: true})
	module.HandleMessage(ctx, Message{ChannelID: "dm", MessageID: "d1", UserID: "u1"})
	if windows.Len() != 0 {
		t.Fatalf("bot and direct messages must not be tracked")
	}

	module.HandleMessage(ctx, Message{GuildID: "g1", ChannelID: "c1", MessageID: "m1", UserID: "u1"})
	clock.now = at(1)
	out := module.HandleMessage(ctx, Message{GuildID: "g1", ChannelID: "c1", MessageID: "m2", UserID: "u1"})
	if !out.Violation {
		t.Fatalf("expected violation")
	}
	if len(sub.violations) != 1 {
		t.Fatalf("expected one dispatched violation, got %d", len(sub.violations))
	}
	v := sub.violations[0]
	if v.ChannelID != "c1" || v.MessageID != "m2" || v.Count != 2 || !v.DetectedAt.Equal(at(1)) || v.Policy.LogChannelID != "log" {
		t.Fatalf("unexpected violation %+v", v)
	}
}
