package audit

import (
	"context"
	"errors"
	"testing"

	"spamguard/internal/storage"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeArchive struct {
	incidents []storage.Incident
	err       error
}

func (f *fakeArchive) AddIncident(ctx context.Context, inc storage.Incident) error {
	f.incidents = append(f.incidents, inc)
	return f.err
}

func TestRecordIncidentArchives(t *testing.T) {
	archive := &fakeArchive{}
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewLogger(archive, zap.New(core))

	logger.RecordIncident(context.Background(), storage.Incident{GuildID: "g1", UserID: "u1", MessageCount: 3})
	if len(archive.incidents) != 1 {
		t.Fatalf("expected archived incident")
	}
	entries := logs.FilterMessage("audit").All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn audit entry, got %+v", entries)
	}
}

func TestRecordIncidentFailureEscalates(t *testing.T) {
	archive := &fakeArchive{err: errors.New("db down")}
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewLogger(archive, zap.New(core))

	logger.RecordIncident(context.Background(), storage.Incident{GuildID: "g1", UserID: "u1", TimeoutFailed: true})
	if logs.FilterMessage("audit").FilterLevelExact(zapcore.ErrorLevel).Len() != 1 {
		t.Fatalf("failed mitigation should log at error level")
	}
	if logs.FilterMessage("incident archive failed").Len() != 1 {
		t.Fatalf("archive failure should be logged")
	}
}

func TestRecordIncidentWithoutArchive(t *testing.T) {
	logger := NewLogger(nil, zap.NewNop())
	logger.RecordIncident(context.Background(), storage.Incident{GuildID: "g1"})
}

func TestLogWritesAfterContextEnds(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewLogger(nil, zap.New(core))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	logger.Log(ctx, LevelInfo, "g1", "op", "policy_set", "rule=5msgs/5s")

	entries := logs.FilterMessage("audit").All()
	if len(entries) != 1 || entries[0].ContextMap()["event"] != "policy_set" {
		t.Fatalf("audit line should not depend on the command context, got %+v", entries)
	}
}
