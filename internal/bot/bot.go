package bot

import (
	"context"
	"time"

	"spamguard/internal/analytics"
	"spamguard/internal/config"
	"spamguard/internal/mitigation"
	"spamguard/internal/modules/antispam"
	"spamguard/internal/modules/audit"
	"spamguard/internal/policy"
	"spamguard/internal/storage"
	"spamguard/internal/tracker"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Bot struct {
	cfg        config.Config
	logger     *zap.Logger
	store      *storage.Store
	policies   *policy.Store
	audit      *audit.Logger
	analytics  *analytics.Service
	session    *discordgo.Session
	antispam   *antispam.Module
	dispatcher *mitigation.Dispatcher
	cancel     context.CancelFunc

	// commandTimeout bounds a slash command, archive reads and reply included.
	commandTimeout time.Duration
}

// New wires the gateway session to the detection pipeline. store may be nil
// when no incident archive is configured.
func New(cfg config.Config, logger *zap.Logger, store *storage.Store, policies *policy.Store, windows *tracker.Tracker, auditLogger *audit.Logger, analyticsEngine *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages
	// Handlers run in arrival order on the gateway goroutine; per-user
	// windows rely on it. Mitigation I/O is moved off it by the dispatcher.
	session.SyncEvents = true

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		policies:  policies,
		audit:     auditLogger,
		analytics: analyticsEngine,
		session:   session,

		commandTimeout: time.Duration(cfg.Mitigation.ActionTimeoutSeconds) * time.Second,
	}

	b.dispatcher = mitigation.New(mitigation.Config{
		Workers:        cfg.Mitigation.Workers,
		QueueSize:      cfg.Mitigation.QueueSize,
		ActionTimeout:  time.Duration(cfg.Mitigation.ActionTimeoutSeconds) * time.Second,
		PurgeScanLimit: cfg.Mitigation.PurgeScanLimit,
		LogRate:        rate.Limit(cfg.Mitigation.LogRatePerSecond),
		LogBurst:       cfg.Mitigation.LogBurst,
	}, &moderator{session: session}, &logSink{session: session, color: cfg.Notifications.EmbedColor}, auditLogger, logger.Named("mitigation"))
	b.antispam = antispam.New(policies, windows, b.dispatcher, auditLogger, logger.Named("antispam"))

	return b, nil
}

func (b *Bot) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.dispatcher.Start(ctx)

	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	b.startRetention(ctx)

	return nil
}

// Close stops the gateway, then lets queued mitigations finish until ctx expires.
func (b *Bot) Close(ctx context.Context) {
	if b.session != nil {
		_ = b.session.Close()
	}

	done := make(chan struct{})
	go func() {
		b.dispatcher.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("mitigation queue not drained before shutdown")
	}
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message handler panicked, event dropped",
				zap.String("guild_id", msg.GuildID),
				zap.String("message_id", msg.ID),
				zap.Any("panic", r))
		}
	}()

	b.antispam.HandleMessage(context.Background(), antispam.Message{
		GuildID:   msg.GuildID,
		ChannelID: msg.ChannelID,
		MessageID: msg.ID,
		UserID:    msg.Author.ID,
		Bot:       msg.Author.Bot || msg.WebhookID != "",
		SentAt:    msg.Timestamp,
	})
}

func (b *Bot) startRetention(ctx context.Context) {
	if b.store == nil || b.cfg.RetentionDays <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			b.cleanupIncidents(ctx)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (b *Bot) cleanupIncidents(ctx context.Context) {
	removed, err := b.store.CleanupIncidents(ctx, b.cfg.RetentionDays)
	if err != nil {
		b.logger.Warn("incident retention cleanup failed", zap.Error(err))
		return
	}
	if removed > 0 {
		b.logger.Info("incident retention cleanup", zap.Int64("removed", removed), zap.Int("retention_days", b.cfg.RetentionDays))
	}
}

func (b *Bot) respond(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	}, discordgo.WithContext(ctx)); err != nil {
		b.logger.Warn("interaction response failed", zap.Error(err))
	}
}

func (b *Bot) respondEmbed(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if embed == nil {
		b.respond(ctx, session, interaction, "No response available.", ephemeral)
		return
	}
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	}, discordgo.WithContext(ctx)); err != nil {
		b.logger.Warn("interaction response failed", zap.Error(err))
	}
}
