// Package policy holds the per-guild flood detection settings.
package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

var (
	// ErrNotConfigured is returned when a guild has no policy. Callers report it
	// to the operator as a notice.
	ErrNotConfigured = errors.New("policy not configured")
	// ErrInvalidPolicy wraps every validation failure.
	ErrInvalidPolicy = errors.New("invalid policy")
)

// Upper bounds keep a policy usable: the window must fit a time.Duration,
// windows hold at most MaxThreshold entries, and Discord caps member
// timeouts at 28 days.
const (
	MaxWindowSeconds  = 24 * 60 * 60
	MaxThreshold      = 1000
	MaxTimeoutSeconds = 28 * 24 * 60 * 60
)

// Policy is one guild's flood rule. UpdatedAt is bookkeeping only: it moves
// when a configured field changes, not on every Set.
type Policy struct {
	GuildID        string
	LogChannelID   string
	WindowSeconds  int
	Threshold      int
	TimeoutSeconds int
	Enabled        bool
	UpdatedAt      time.Time
}

func (p Policy) Window() time.Duration {
	return time.Duration(p.WindowSeconds) * time.Second
}

func (p Policy) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Validate checks the fields an operator supplies.
func Validate(p Policy) error {
	switch {
	case p.GuildID == "":
		return fmt.Errorf("%w: guild is required", ErrInvalidPolicy)
	case p.LogChannelID == "":
		return fmt.Errorf("%w: log channel is required", ErrInvalidPolicy)
	case p.WindowSeconds <= 0 || p.WindowSeconds > MaxWindowSeconds:
		return fmt.Errorf("%w: window seconds must be between 1 and %d, got %d", ErrInvalidPolicy, MaxWindowSeconds, p.WindowSeconds)
	case p.Threshold <= 0 || p.Threshold > MaxThreshold:
		return fmt.Errorf("%w: threshold must be between 1 and %d, got %d", ErrInvalidPolicy, MaxThreshold, p.Threshold)
	case p.TimeoutSeconds <= 0 || p.TimeoutSeconds > MaxTimeoutSeconds:
		return fmt.Errorf("%w: timeout seconds must be between 1 and %d, got %d", ErrInvalidPolicy, MaxTimeoutSeconds, p.TimeoutSeconds)
	}
	return nil
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store keeps one policy per guild for the lifetime of the process.
type Store struct {
	policies *xsync.Map[string, Policy]
	clock    Clock
}

func NewStore() *Store {
	return &Store{
		policies: xsync.NewMap[string, Policy](),
		clock:    realClock{},
	}
}

func (s *Store) WithClock(clock Clock) {
	s.clock = clock
}

// Set replaces the guild's policy wholesale and enables it.
func (s *Store) Set(guildID, logChannelID string, windowSeconds, threshold, timeoutSeconds int) (Policy, error) {
	p := Policy{
		GuildID:        guildID,
		LogChannelID:   logChannelID,
		WindowSeconds:  windowSeconds,
		Threshold:      threshold,
		TimeoutSeconds: timeoutSeconds,
		Enabled:        true,
	}
	if err := Validate(p); err != nil {
		return Policy{}, err
	}
	now := s.clock.Now()
	stored, _ := s.policies.Compute(guildID, func(old Policy, loaded bool) (Policy, xsync.ComputeOp) {
		if loaded && sameRule(old, p) {
			return old, xsync.CancelOp
		}
		p.UpdatedAt = now
		return p, xsync.UpdateOp
	})
	return stored, nil
}

// sameRule compares the configured fields, ignoring UpdatedAt.
func sameRule(a, b Policy) bool {
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	return a == b
}

// Disable turns detection off but keeps the rest of the record.
func (s *Store) Disable(guildID string) (Policy, error) {
	now := s.clock.Now()
	p, ok := s.policies.Compute(guildID, func(old Policy, loaded bool) (Policy, xsync.ComputeOp) {
		if !loaded {
			return old, xsync.CancelOp
		}
		old.Enabled = false
		old.UpdatedAt = now
		return old, xsync.UpdateOp
	})
	if !ok {
		return Policy{}, ErrNotConfigured
	}
	return p, nil
}

func (s *Store) Get(guildID string) (Policy, bool) {
	return s.policies.Load(guildID)
}

func (s *Store) Len() int {
	return s.policies.Size()
}
