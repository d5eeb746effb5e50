package analytics

import (
	"context"
	"errors"
	"time"

	"spamguard/internal/storage"
)

// ErrUnavailable is returned when no incident archive is configured.
var ErrUnavailable = errors.New("incident archive unavailable")

type Source interface {
	ListIncidents(ctx context.Context, guildID string, since time.Time) ([]storage.Incident, error)
}

type Service struct {
	source Source
}

// New accepts a nil source; Report then returns ErrUnavailable.
func New(source Source) *Service {
	return &Service{source: source}
}

type Report struct {
	Total     int
	Offenders int
	Deleted   int
	Failed    int
	TopUserID string
	TopCount  int
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	if s == nil || s.source == nil {
		return Report{}, ErrUnavailable
	}
	incidents, err := s.source.ListIncidents(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}
	return summarize(incidents), nil
}

func summarize(incidents []storage.Incident) Report {
	report := Report{}
	perUser := make(map[string]int)
	for _, inc := range incidents {
		report.Total++
		report.Deleted += inc.DeletedCount
		if inc.Failed() {
			report.Failed++
		}
		perUser[inc.UserID]++
	}
	report.Offenders = len(perUser)
	for userID, count := range perUser {
		if count > report.TopCount || (count == report.TopCount && userID < report.TopUserID) {
			report.TopUserID = userID
			report.TopCount = count
		}
	}
	return report
}
