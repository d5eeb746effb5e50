package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spamguard/internal/analytics"
	"spamguard/internal/modules/audit"
	"spamguard/internal/policy"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	commandSet     = "antispam"
	commandDisable = "antispam-off"
	commandStatus  = "antispam-status"
	commandReport  = "antispam-report"

	defaultCommandTimeout = 10 * time.Second
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := interaction.ApplicationCommandData()
	if data.Name == commandReport {
		// Reports read the archive and need no ordering against message events.
		go b.answerInteraction(session, interaction, data)
		return
	}
	b.answerInteraction(session, interaction, data)
}

// answerInteraction handles one command under commandTimeout, reply included.
func (b *Bot) answerInteraction(session *discordgo.Session, interaction *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("interaction handler panicked", zap.String("guild_id", interaction.GuildID), zap.String("command", data.Name), zap.Any("panic", r))
		}
	}()

	ctx, cancel := b.commandContext()
	defer cancel()
	embed := b.handleCommand(ctx, interaction.GuildID, invokerID(interaction), data)
	b.respondEmbed(ctx, session, interaction, embed, true)
}

func (b *Bot) commandContext() (context.Context, context.CancelFunc) {
	timeout := b.commandTimeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}

// handleCommand applies an operator command and returns the acknowledgement.
// Every reply is ephemeral, visible to the invoking operator only.
func (b *Bot) handleCommand(ctx context.Context, guildID, operatorID string, data discordgo.ApplicationCommandInteractionData) *discordgo.MessageEmbed {
	colors := b.cfg.Notifications
	if guildID == "" {
		return commandEmbed("Flood protection", "This command can only be used in a server.", colors.ErrorColor, nil)
	}

	switch data.Name {
	case commandSet:
		return b.handleSetCommand(ctx, guildID, operatorID, data.Options)
	case commandDisable:
		p, err := b.antispam.Disable(guildID)
		if errors.Is(err, policy.ErrNotConfigured) {
			return commandEmbed("Flood protection", "Flood protection is not configured for this server.", colors.ErrorColor, nil)
		}
		if err != nil {
			b.logger.Warn("disable policy failed", zap.String("guild_id", guildID), zap.Error(err))
			return commandEmbed("Flood protection", "The command failed.", colors.ErrorColor, nil)
		}
		b.audit.Log(ctx, audit.LevelInfo, guildID, operatorID, "policy_disabled", ruleText(p))
		return commandEmbed("Flood protection", "Flood protection is now off.", colors.SuccessColor, policyFields(p))
	case commandStatus:
		p, ok := b.policies.Get(guildID)
		if !ok {
			return commandEmbed("Flood protection", "Flood protection is not configured for this server.", colors.ErrorColor, nil)
		}
		return commandEmbed("Flood protection", "Current settings.", colors.SuccessColor, policyFields(p))
	case commandReport:
		return b.handleReportCommand(ctx, guildID, data.Options)
	default:
		return commandEmbed("Flood protection", "Unknown command.", colors.ErrorColor, nil)
	}
}

func (b *Bot) handleSetCommand(ctx context.Context, guildID, operatorID string, options []*discordgo.ApplicationCommandInteractionDataOption) *discordgo.MessageEmbed {
	colors := b.cfg.Notifications
	opts := optionMap(options)

	channelID := ""
	if opt := opts["channel"]; opt != nil && opt.Type == discordgo.ApplicationCommandOptionChannel {
		channelID, _ = opt.Value.(string)
	}
	candidate := policy.Policy{
		GuildID:        guildID,
		LogChannelID:   channelID,
		WindowSeconds:  intOption(opts, "seconds"),
		Threshold:      intOption(opts, "count"),
		TimeoutSeconds: intOption(opts, "timeout"),
	}
	if err := policy.Validate(candidate); err != nil {
		return commandEmbed("Flood protection", invalidInputText(err), colors.ErrorColor, nil)
	}

	p, err := b.policies.Set(guildID, candidate.LogChannelID, candidate.WindowSeconds, candidate.Threshold, candidate.TimeoutSeconds)
	if err != nil {
		return commandEmbed("Flood protection", invalidInputText(err), colors.ErrorColor, nil)
	}
	b.audit.Log(ctx, audit.LevelInfo, guildID, operatorID, "policy_set",
		fmt.Sprintf("rule=%dmsgs/%ds timeout=%ds log_channel=%s", p.Threshold, p.WindowSeconds, p.TimeoutSeconds, p.LogChannelID))

	description := fmt.Sprintf("Flood protection enabled in all channels.\nLog: <#%s>\n%d+ messages within %d seconds → %d second timeout.",
		p.LogChannelID, p.Threshold, p.WindowSeconds, p.TimeoutSeconds)
	return commandEmbed("Flood protection", description, colors.SuccessColor, nil)
}

func (b *Bot) handleReportCommand(ctx context.Context, guildID string, options []*discordgo.ApplicationCommandInteractionDataOption) *discordgo.MessageEmbed {
	colors := b.cfg.Notifications
	period := "day"
	if opt := optionMap(options)["period"]; opt != nil {
		if value, ok := opt.Value.(string); ok && value != "" {
			period = value
		}
	}
	since := time.Now().Add(-24 * time.Hour)
	if period == "week" {
		since = time.Now().Add(-7 * 24 * time.Hour)
	}

	report, err := b.analytics.Report(ctx, guildID, since)
	if errors.Is(err, analytics.ErrUnavailable) {
		return commandEmbed("Flood report", "Incident history is not enabled on this bot.", colors.ErrorColor, nil)
	}
	if err != nil {
		b.logger.Warn("flood report failed", zap.String("guild_id", guildID), zap.Error(err))
		return commandEmbed("Flood report", "The report could not be built.", colors.ErrorColor, nil)
	}
	return commandEmbed("Flood report", "Incidents over the last "+period+".", colors.SuccessColor, reportFields(report))
}

func invalidInputText(err error) string {
	if errors.Is(err, policy.ErrInvalidPolicy) {
		return "Invalid settings: " + err.Error() + "."
	}
	return "The command failed."
}

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		if opt != nil {
			out[opt.Name] = opt
		}
	}
	return out
}

// intOption reads an integer option; a missing option reads as 0 and fails validation.
func intOption(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) int {
	opt := opts[name]
	if opt == nil || opt.Type != discordgo.ApplicationCommandOptionInteger {
		return 0
	}
	return int(opt.IntValue())
}

func invokerID(interaction *discordgo.InteractionCreate) string {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.ID
	}
	if interaction.User != nil {
		return interaction.User.ID
	}
	return ""
}
