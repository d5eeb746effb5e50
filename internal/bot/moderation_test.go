package bot

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"spamguard/internal/config"
	"spamguard/internal/mitigation"
	"spamguard/internal/policy"

	"github.com/bwmarrin/discordgo"
)

func TestSelectPurgeIDs(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	detected := now.Add(-time.Second)
	v := mitigation.Violation{
		UserID:     "u1",
		Policy:     policy.Policy{WindowSeconds: 10},
		DetectedAt: detected,
	}
	messages := []*discordgo.Message{
		{ID: "m1", Author: &discordgo.User{ID: "u1"}, Timestamp: detected.Add(-2 * time.Second)},
		{ID: "m2", Author: &discordgo.User{ID: "u2"}, Timestamp: detected.Add(-2 * time.Second)},
		{ID: "m3", Author: &discordgo.User{ID: "u1"}, Timestamp: detected.Add(-30 * time.Second)},
		{ID: "m4", Author: nil, Timestamp: detected},
		nil,
		{ID: "m5", Author: &discordgo.User{ID: "u1"}, Timestamp: detected},
	}

	ids := selectPurgeIDs(messages, mitigation.PurgeFilter(v), now)
	if len(ids) != 2 || ids[0] != "m1" || ids[1] != "m5" {
		t.Fatalf("unexpected purge selection: %v", ids)
	}
}

func TestSelectPurgeIDsSkipsBulkDeleteAge(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	old := &discordgo.Message{ID: "old", Author: &discordgo.User{ID: "u1"}, Timestamp: now.Add(-15 * 24 * time.Hour)}
	all := func(mitigation.MessageRef) bool { return true }
	if ids := selectPurgeIDs([]*discordgo.Message{old}, all, now); len(ids) != 0 {
		t.Fatalf("messages past the bulk delete age must be skipped, got %v", ids)
	}
}

// hangingTransport holds every request until its context ends.
type hangingTransport struct {
	cancelled chan string
}

func (h *hangingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	<-req.Context().Done()
	h.cancelled <- req.Method + " " + req.URL.Path
	return nil, req.Context().Err()
}

func TestModerationCallsCancelTheRequest(t *testing.T) {
	session, err := discordgo.New("Bot test")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	transport := &hangingTransport{cancelled: make(chan string, 4)}
	session.Client = &http.Client{Transport: transport}
	mod := &moderator{session: session}
	sink := &logSink{session: session}

	calls := map[string]func(ctx context.Context) error{
		"timeout": func(ctx context.Context) error {
			return mod.TimeoutUser(ctx, "1", "2", time.Now().Add(time.Minute))
		},
		"purge": func(ctx context.Context) error {
			_, err := mod.PurgeMessages(ctx, "3", func(mitigation.MessageRef) bool { return true }, 100)
			return err
		},
		"log": func(ctx context.Context) error {
			return sink.PostIncident(ctx, "4", mitigation.Incident{})
		},
	}
	for name, call := range calls {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		start := time.Now()
		err := call(ctx)
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("%s: expected deadline exceeded, got %v", name, err)
		}
		if time.Since(start) > 2*time.Second {
			t.Fatalf("%s: call outlived its context", name)
		}
		select {
		case <-transport.cancelled:
		default:
			t.Fatalf("%s: the HTTP request itself was not cancelled", name)
		}
	}
}

func TestIncidentEmbed(t *testing.T) {
	incident := mitigation.Incident{
		Violation: mitigation.Violation{
			GuildID:    "g1",
			UserID:     "u1",
			ChannelID:  "c1",
			Count:      5,
			Policy:     policy.Policy{WindowSeconds: 5, Threshold: 5, TimeoutSeconds: 60},
			DetectedAt: time.Unix(1_700_000_000, 0),
		},
		TimeoutUntil: time.Unix(1_700_000_060, 0),
		Deleted:      5,
	}

	embed := incidentEmbed(incident, 0xEF4444)
	if !strings.Contains(embed.Description, "<@u1>") || !strings.Contains(embed.Description, "60 seconds") {
		t.Fatalf("unexpected description: %s", embed.Description)
	}
	fields := map[string]string{}
	for _, f := range embed.Fields {
		fields[f.Name] = f.Value
	}
	if fields["Messages deleted"] != "5" || fields["Channel"] != "<#c1>" || fields["Rule"] != "5+ messages in 5s" {
		t.Fatalf("unexpected fields: %v", fields)
	}

	incident.TimeoutErr = errors.New("missing permissions")
	incident.PurgeErr = errors.New("missing permissions")
	embed = incidentEmbed(incident, 0xEF4444)
	if !strings.Contains(embed.Description, "could not be timed out") {
		t.Fatalf("timeout failure should be reported, got %s", embed.Description)
	}
	for _, f := range embed.Fields {
		if f.Name == "Messages deleted" && f.Value != "purge failed" {
			t.Fatalf("purge failure should be reported, got %s", f.Value)
		}
	}
}

func TestCommandDefinitions(t *testing.T) {
	commands := commandDefinitions(config.DefaultConfig().Defaults)
	names := map[string]*discordgo.ApplicationCommand{}
	for _, cmd := range commands {
		names[cmd.Name] = cmd
		if cmd.DefaultMemberPermissions == nil || *cmd.DefaultMemberPermissions != int64(discordgo.PermissionManageServer) {
			t.Fatalf("%s must require manage guild", cmd.Name)
		}
		if cmd.DMPermission == nil || *cmd.DMPermission {
			t.Fatalf("%s must be guild only", cmd.Name)
		}
	}
	for _, name := range []string{commandSet, commandDisable, commandStatus, commandReport} {
		if names[name] == nil {
			t.Fatalf("missing command %s", name)
		}
	}

	set := names[commandSet]
	if len(set.Options) != 4 {
		t.Fatalf("expected 4 options, got %d", len(set.Options))
	}
	for _, opt := range set.Options[1:] {
		if !opt.Required || opt.MinValue == nil || *opt.MinValue != 1 || opt.MaxValue <= 1 {
			t.Fatalf("option %s must be a required bounded positive integer", opt.Name)
		}
	}
	if set.Options[1].MaxValue != policy.MaxWindowSeconds || set.Options[3].MaxValue != policy.MaxTimeoutSeconds {
		t.Fatalf("option bounds must match policy validation, got %v and %v", set.Options[1].MaxValue, set.Options[3].MaxValue)
	}
	if !strings.Contains(set.Options[1].Description, "5") {
		t.Fatalf("window option should hint the default, got %q", set.Options[1].Description)
	}
}
