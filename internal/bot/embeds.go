package bot

import (
	"fmt"
	"time"

	"spamguard/internal/analytics"
	"spamguard/internal/mitigation"
	"spamguard/internal/policy"

	"github.com/bwmarrin/discordgo"
)

func incidentEmbed(incident mitigation.Incident, color int) *discordgo.MessageEmbed {
	p := incident.Policy
	description := fmt.Sprintf("<@%s> was timed out for %d seconds for flooding.", incident.UserID, p.TimeoutSeconds)
	if incident.TimeoutErr != nil {
		description = fmt.Sprintf("<@%s> was flagged for flooding but could not be timed out.", incident.UserID)
	}

	deleted := fmt.Sprintf("%d", incident.Deleted)
	if incident.PurgeErr != nil {
		deleted = "purge failed"
	}

	return &discordgo.MessageEmbed{
		Title:       "Flood detected",
		Description: description,
		Color:       color,
		Timestamp:   incident.DetectedAt.Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: "Handled automatically"},
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Rule", Value: ruleText(p), Inline: true},
			{Name: "Channel", Value: "<#" + incident.ChannelID + ">", Inline: true},
			{Name: "Messages deleted", Value: deleted, Inline: true},
			{Name: "Messages in window", Value: fmt.Sprintf("%d", incident.Count), Inline: true},
			{Name: "Timeout ends", Value: fmt.Sprintf("<t:%d:R>", incident.TimeoutUntil.Unix()), Inline: true},
			{Name: "User", Value: "<@" + incident.UserID + "> (" + incident.UserID + ")", Inline: false},
		},
	}
}

func policyFields(p policy.Policy) []*discordgo.MessageEmbedField {
	state := "enabled"
	if !p.Enabled {
		state = "disabled"
	}
	return []*discordgo.MessageEmbedField{
		{Name: "State", Value: state, Inline: true},
		{Name: "Rule", Value: ruleText(p), Inline: true},
		{Name: "Timeout", Value: fmt.Sprintf("%d seconds", p.TimeoutSeconds), Inline: true},
		{Name: "Log channel", Value: "<#" + p.LogChannelID + ">", Inline: true},
	}
}

func reportFields(report analytics.Report) []*discordgo.MessageEmbedField {
	top := "none"
	if report.TopUserID != "" {
		top = fmt.Sprintf("<@%s> (%d)", report.TopUserID, report.TopCount)
	}
	return []*discordgo.MessageEmbedField{
		{Name: "Incidents", Value: fmt.Sprintf("%d", report.Total), Inline: true},
		{Name: "Offenders", Value: fmt.Sprintf("%d", report.Offenders), Inline: true},
		{Name: "Messages deleted", Value: fmt.Sprintf("%d", report.Deleted), Inline: true},
		{Name: "Failed actions", Value: fmt.Sprintf("%d", report.Failed), Inline: true},
		{Name: "Top offender", Value: top, Inline: true},
	}
}

func ruleText(p policy.Policy) string {
	return fmt.Sprintf("%d+ messages in %ds", p.Threshold, p.WindowSeconds)
}

func commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}
