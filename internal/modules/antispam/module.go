package antispam

import (
	"context"
	"fmt"
	"sync"
	"time"

	"spamguard/internal/mitigation"
	"spamguard/internal/modules/audit"
	"spamguard/internal/policy"
	"spamguard/internal/tracker"

	"go.uber.org/zap"
)

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Submitter receives violations for asynchronous mitigation.
type Submitter interface {
	Submit(v mitigation.Violation) bool
}

// Message is an inbound chat message as seen by the evaluator.
type Message struct {
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string
	Bot       bool
	SentAt    time.Time
}

// Outcome of evaluating one message. Policy is the snapshot the decision was
// made with and is only set when Violation is true.
type Outcome struct {
	Violation bool
	Count     int
	Policy    policy.Policy
	At        time.Time
}

type Module struct {
	mu         sync.Mutex
	policies   *policy.Store
	tracker    *tracker.Tracker
	dispatcher Submitter
	audit      *audit.Logger
	logger     *zap.Logger
	clock      Clock
}

func New(policies *policy.Store, windows *tracker.Tracker, dispatcher Submitter, auditLogger *audit.Logger, logger *zap.Logger) *Module {
	return &Module{
		policies:   policies,
		tracker:    windows,
		dispatcher: dispatcher,
		audit:      auditLogger,
		logger:     logger,
		clock:      realClock{},
	}
}

func (m *Module) WithClock(clock Clock) {
	m.clock = clock
}

// Evaluate records a message from userID at now and decides whether the user
// reached the guild's threshold. On a violation the user's window is cleared,
// so one burst triggers at most one mitigation. Guilds without an enabled
// policy are ignored and get no window.
func (m *Module) Evaluate(guildID, userID string, now time.Time) Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.policies.Get(guildID)
	if !ok || !p.Enabled {
		return Outcome{At: now}
	}

	count := m.tracker.Record(guildID, userID, now, p.Window())
	if count < p.Threshold {
		return Outcome{Count: count, At: now}
	}
	m.tracker.Reset(guildID, userID)
	return Outcome{Violation: true, Count: count, Policy: p, At: now}
}

// HandleMessage filters out bot and direct messages, evaluates the rest and
// hands violations to the dispatcher.
func (m *Module) HandleMessage(ctx context.Context, msg Message) Outcome {
	if msg.Bot || msg.GuildID == "" || msg.UserID == "" {
		messagesSkipped.Inc()
		return Outcome{}
	}

	start := time.Now()
	outcome := m.Evaluate(msg.GuildID, msg.UserID, m.clock.Now())
	evaluateDuration.Observe(time.Since(start).Seconds())
	messagesEvaluated.Inc()
	if !outcome.Violation {
		return outcome
	}

	violations.Inc()
	p := outcome.Policy
	m.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.UserID, "anti_spam",
		fmt.Sprintf("type=FLOOD rule=%dmsgs/%ds value=%d channel=%s", p.Threshold, p.WindowSeconds, outcome.Count, msg.ChannelID))

	violation := mitigation.Violation{
		GuildID:    msg.GuildID,
		UserID:     msg.UserID,
		ChannelID:  msg.ChannelID,
		MessageID:  msg.MessageID,
		Count:      outcome.Count,
		Policy:     p,
		DetectedAt: outcome.At,
	}
	if m.dispatcher != nil && !m.dispatcher.Submit(violation) {
		m.logger.Warn("violation not dispatched", zap.String("guild_id", msg.GuildID), zap.String("user_id", msg.UserID))
	}
	return outcome
}

// Disable turns off detection for guildID and releases its windows.
func (m *Module) Disable(guildID string) (policy.Policy, error) {
	p, err := m.policies.Disable(guildID)
	if err != nil {
		return policy.Policy{}, err
	}
	m.mu.Lock()
	dropped := m.tracker.DropGuild(guildID)
	m.mu.Unlock()
	m.logger.Debug("guild windows released", zap.String("guild_id", guildID), zap.Int("windows", dropped))
	return p, nil
}
