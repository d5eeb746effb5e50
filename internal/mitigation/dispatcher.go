// Package mitigation carries out the actions taken against a flooding user.
package mitigation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"spamguard/internal/policy"
	"spamguard/internal/storage"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// clockSkew tolerates Discord message timestamps slightly ahead of the local clock.
const clockSkew = 2 * time.Second

// MessageRef is the part of a channel message the purge predicate needs.
type MessageRef struct {
	ID       string
	AuthorID string
	SentAt   time.Time
}

type Moderator interface {
	TimeoutUser(ctx context.Context, guildID, userID string, until time.Time) error
	// PurgeMessages scans at most limit recent messages of the channel and
	// deletes those accepted by match, returning how many were deleted.
	PurgeMessages(ctx context.Context, channelID string, match func(MessageRef) bool, limit int) (int, error)
}

type LogSink interface {
	PostIncident(ctx context.Context, channelID string, incident Incident) error
}

type Recorder interface {
	RecordIncident(ctx context.Context, inc storage.Incident)
}

// Violation is what the evaluator hands over once a user trips the threshold.
// Policy is the snapshot used for the decision.
type Violation struct {
	GuildID    string
	UserID     string
	ChannelID  string
	MessageID  string
	Count      int
	Policy     policy.Policy
	DetectedAt time.Time
}

// Incident is the outcome of a dispatched violation. Each action reports its
// own error; none of them prevents the others.
type Incident struct {
	Violation
	TimeoutUntil time.Time
	Deleted      int
	TimeoutErr   error
	PurgeErr     error
	LogErr       error
}

func (i Incident) Failed() bool {
	return i.TimeoutErr != nil || i.PurgeErr != nil || i.LogErr != nil
}

func (i Incident) Record() storage.Incident {
	return storage.Incident{
		GuildID:        i.GuildID,
		UserID:         i.UserID,
		ChannelID:      i.ChannelID,
		LogChannelID:   i.Policy.LogChannelID,
		MessageCount:   i.Count,
		DeletedCount:   i.Deleted,
		WindowSeconds:  i.Policy.WindowSeconds,
		Threshold:      i.Policy.Threshold,
		TimeoutSeconds: i.Policy.TimeoutSeconds,
		TimeoutFailed:  i.TimeoutErr != nil,
		PurgeFailed:    i.PurgeErr != nil,
		LogFailed:      i.LogErr != nil,
		CreatedAt:      i.DetectedAt,
	}
}

type Config struct {
	Workers        int
	QueueSize      int
	ActionTimeout  time.Duration
	PurgeScanLimit int
	LogRate        rate.Limit
	LogBurst       int
}

type Dispatcher struct {
	cfg       Config
	moderator Moderator
	sink      LogSink
	recorder  Recorder
	logger    *zap.Logger
	limiters  *xsync.Map[string, *rate.Limiter]

	jobs      chan Violation
	quit      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds a dispatcher; recorder may be nil.
func New(cfg Config, moderator Moderator, sink LogSink, recorder Recorder, logger *zap.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 10 * time.Second
	}
	if cfg.PurgeScanLimit <= 0 {
		cfg.PurgeScanLimit = 100
	}
	if cfg.LogRate <= 0 {
		cfg.LogRate = rate.Inf
	}
	if cfg.LogBurst <= 0 {
		cfg.LogBurst = 1
	}
	return &Dispatcher{
		cfg:       cfg,
		moderator: moderator,
		sink:      sink,
		recorder:  recorder,
		logger:    logger,
		limiters:  xsync.NewMap[string, *rate.Limiter](),
		jobs:      make(chan Violation, cfg.QueueSize),
		quit:      make(chan struct{}),
	}
}

// Start launches the worker pool. Workers exit when ctx is done or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.run(ctx)
		}
	})
}

// Stop drains queued violations and waits for the workers.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.quit)
	})
	d.wg.Wait()
}

// Submit queues a violation without blocking. It returns false when the queue
// is full or the dispatcher is stopped.
func (d *Dispatcher) Submit(v Violation) bool {
	select {
	case <-d.quit:
		return false
	default:
	}
	select {
	case d.jobs <- v:
		queueDepth.Inc()
		return true
	default:
		violationsDropped.Inc()
		d.logger.Warn("mitigation queue full, violation dropped", zap.String("guild_id", v.GuildID), zap.String("user_id", v.UserID))
		return false
	}
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.quit:
			d.drain(ctx)
			return
		case v := <-d.jobs:
			queueDepth.Dec()
			d.safeDispatch(ctx, v)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case v := <-d.jobs:
			queueDepth.Dec()
			d.safeDispatch(ctx, v)
		default:
			return
		}
	}
}

func (d *Dispatcher) safeDispatch(ctx context.Context, v Violation) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("mitigation panicked", zap.String("guild_id", v.GuildID), zap.String("user_id", v.UserID), zap.Any("panic", r))
		}
	}()
	d.Dispatch(ctx, v)
}

// Dispatch runs the timeout and the purge concurrently, then posts the
// incident with the purge result. Failures are logged and returned in the
// Incident, never as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, v Violation) Incident {
	incident := Incident{
		Violation:    v,
		TimeoutUntil: v.DetectedAt.Add(v.Policy.Timeout()),
	}

	var g errgroup.Group
	g.Go(func() error {
		defer recoverAction("timeout", &incident.TimeoutErr)
		incident.TimeoutErr = d.timeoutUser(ctx, v, incident.TimeoutUntil)
		return nil
	})
	g.Go(func() error {
		defer recoverAction("purge", &incident.PurgeErr)
		incident.Deleted, incident.PurgeErr = d.purge(ctx, v)
		return nil
	})
	_ = g.Wait()

	func() {
		defer recoverAction("log", &incident.LogErr)
		incident.LogErr = d.postIncident(ctx, incident)
	}()

	if d.recorder != nil {
		d.recorder.RecordIncident(ctx, incident.Record())
	}
	return incident
}

// recoverAction turns a panic inside one action into that action's error.
func recoverAction(action string, errp *error) {
	if r := recover(); r != nil {
		actionResults.WithLabelValues(action, "panic").Inc()
		*errp = fmt.Errorf("%s panicked: %v", action, r)
	}
}

func (d *Dispatcher) timeoutUser(ctx context.Context, v Violation, until time.Time) error {
	actx, cancel := context.WithTimeout(ctx, d.cfg.ActionTimeout)
	defer cancel()

	start := time.Now()
	err := d.moderator.TimeoutUser(actx, v.GuildID, v.UserID, until)
	d.observe("timeout", start, err, v)
	return err
}

func (d *Dispatcher) purge(ctx context.Context, v Violation) (int, error) {
	actx, cancel := context.WithTimeout(ctx, d.cfg.ActionTimeout)
	defer cancel()

	start := time.Now()
	deleted, err := d.moderator.PurgeMessages(actx, v.ChannelID, PurgeFilter(v), d.cfg.PurgeScanLimit)
	d.observe("purge", start, err, v)
	if err == nil {
		messagesPurged.Add(float64(deleted))
	}
	return deleted, err
}

func (d *Dispatcher) postIncident(ctx context.Context, incident Incident) error {
	channelID := incident.Policy.LogChannelID
	if channelID == "" {
		return nil
	}

	actx, cancel := context.WithTimeout(ctx, d.cfg.ActionTimeout)
	defer cancel()

	start := time.Now()
	err := d.limiter(incident.GuildID).Wait(actx)
	if err != nil {
		err = fmt.Errorf("log rate limit: %w", err)
	} else {
		err = d.sink.PostIncident(actx, channelID, incident)
	}
	d.observe("log", start, err, incident.Violation)
	return err
}

func (d *Dispatcher) limiter(guildID string) *rate.Limiter {
	lim, _ := d.limiters.LoadOrCompute(guildID, func() (*rate.Limiter, bool) {
		return rate.NewLimiter(d.cfg.LogRate, d.cfg.LogBurst), false
	})
	return lim
}

func (d *Dispatcher) observe(action string, start time.Time, err error, v Violation) {
	actionDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())
	if err != nil {
		actionResults.WithLabelValues(action, "error").Inc()
		d.logger.Warn("mitigation action failed",
			zap.String("action", action),
			zap.String("guild_id", v.GuildID),
			zap.String("user_id", v.UserID),
			zap.String("channel_id", v.ChannelID),
			zap.Error(err))
		return
	}
	actionResults.WithLabelValues(action, "ok").Inc()
}

// PurgeFilter selects the offender's messages sent within
// [DetectedAt - window, DetectedAt].
func PurgeFilter(v Violation) func(MessageRef) bool {
	from := v.DetectedAt.Add(-v.Policy.Window())
	to := v.DetectedAt.Add(clockSkew)
	return func(ref MessageRef) bool {
		if ref.AuthorID != v.UserID {
			return false
		}
		return !ref.SentAt.Before(from) && !ref.SentAt.After(to)
	}
}
