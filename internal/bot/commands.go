package bot

import (
	"fmt"

	"spamguard/internal/config"
	"spamguard/internal/policy"

	"github.com/bwmarrin/discordgo"
)

// commandDefinitions builds the slash commands. defaults only feed the option hints.
func commandDefinitions(defaults config.PolicyDefaults) []*discordgo.ApplicationCommand {
	manageGuild := int64(discordgo.PermissionManageServer)
	noDM := false
	minOne := 1.0

	return []*discordgo.ApplicationCommand{
		{
			Name:                     commandSet,
			Description:              "Enable flood protection in every channel",
			DefaultMemberPermissions: &manageGuild,
			DMPermission:             &noDM,
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.EnglishUS: "Enable flood protection in every channel",
				discordgo.Korean:    "도배 방지를 설정합니다.",
			},
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "channel that receives flood logs",
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
					DescriptionLocalizations: map[discordgo.Locale]string{
						discordgo.EnglishUS: "channel that receives flood logs",
						discordgo.Korean:    "도배 로그를 보낼 채널",
					},
					Required: true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "seconds",
					Description: fmt.Sprintf("detection window in seconds (e.g. %d)", defaults.WindowSeconds),
					MinValue:    &minOne,
					MaxValue:    policy.MaxWindowSeconds,
					DescriptionLocalizations: map[discordgo.Locale]string{
						discordgo.EnglishUS: "detection window in seconds",
						discordgo.Korean:    "N초 안에",
					},
					Required: true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "count",
					Description: fmt.Sprintf("messages within the window that trigger a timeout (e.g. %d)", defaults.Threshold),
					MinValue:    &minOne,
					MaxValue:    policy.MaxThreshold,
					DescriptionLocalizations: map[discordgo.Locale]string{
						discordgo.EnglishUS: "messages within the window that trigger a timeout",
						discordgo.Korean:    "N회 이상",
					},
					Required: true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "timeout",
					Description: fmt.Sprintf("timeout length in seconds (e.g. %d)", defaults.TimeoutSeconds),
					MinValue:    &minOne,
					MaxValue:    policy.MaxTimeoutSeconds,
					DescriptionLocalizations: map[discordgo.Locale]string{
						discordgo.EnglishUS: "timeout length in seconds",
						discordgo.Korean:    "타임아웃 시간 (초)",
					},
					Required: true,
				},
			},
		},
		{
			Name:                     commandDisable,
			Description:              "Turn flood protection off",
			DefaultMemberPermissions: &manageGuild,
			DMPermission:             &noDM,
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.EnglishUS: "Turn flood protection off",
				discordgo.Korean:    "도배 방지를 끕니다.",
			},
		},
		{
			Name:                     commandStatus,
			Description:              "Show flood protection settings",
			DefaultMemberPermissions: &manageGuild,
			DMPermission:             &noDM,
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.EnglishUS: "Show flood protection settings",
				discordgo.Korean:    "도배 방지 설정을 확인합니다.",
			},
		},
		{
			Name:                     commandReport,
			Description:              "Flood incident report",
			DefaultMemberPermissions: &manageGuild,
			DMPermission:             &noDM,
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.EnglishUS: "Flood incident report",
				discordgo.Korean:    "도배 처리 기록",
			},
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "period",
					Description: "day or week",
					DescriptionLocalizations: map[discordgo.Locale]string{
						discordgo.EnglishUS: "day or week",
						discordgo.Korean:    "하루 또는 일주일",
					},
					Required: false,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "day", Value: "day"},
						{Name: "week", Value: "week"},
					},
				},
			},
		},
	}
}

func (b *Bot) registerCommands() error {
	commands := commandDefinitions(b.cfg.Defaults)

	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}
	return nil
}
