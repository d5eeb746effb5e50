package storage

import (
	"context"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store archives mitigated incidents. Detection state never goes through it.
type Store struct {
	pool *pgxpool.Pool
}

type Incident struct {
	ID             int64
	GuildID        string
	UserID         string
	ChannelID      string
	LogChannelID   string
	MessageCount   int
	DeletedCount   int
	WindowSeconds  int
	Threshold      int
	TimeoutSeconds int
	TimeoutFailed  bool
	PurgeFailed    bool
	LogFailed      bool
	CreatedAt      time.Time
}

// Failed reports whether any mitigation action failed for the incident.
func (i Incident) Failed() bool {
	return i.TimeoutFailed || i.PurgeFailed || i.LogFailed
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		for _, stmt := range strings.Split(string(content), ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := s.pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migration %s failed: %w", file, err)
			}
		}
	}
	return nil
}

func (s *Store) AddIncident(ctx context.Context, inc Incident) error {
	createdAt := inc.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO spam_incidents (
			guild_id, user_id, channel_id, log_channel_id, message_count, deleted_count,
			window_seconds, threshold, timeout_seconds,
			timeout_failed, purge_failed, log_failed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		inc.GuildID,
		inc.UserID,
		inc.ChannelID,
		inc.LogChannelID,
		inc.MessageCount,
		inc.DeletedCount,
		inc.WindowSeconds,
		inc.Threshold,
		inc.TimeoutSeconds,
		inc.TimeoutFailed,
		inc.PurgeFailed,
		inc.LogFailed,
		createdAt.UTC(),
	)
	return err
}

func (s *Store) ListIncidents(ctx context.Context, guildID string, since time.Time) ([]Incident, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, guild_id, user_id, channel_id, log_channel_id, message_count, deleted_count,
		window_seconds, threshold, timeout_seconds, timeout_failed, purge_failed, log_failed, created_at
		FROM spam_incidents
		WHERE guild_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`, guildID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incidents []Incident
	for rows.Next() {
		var inc Incident
		if err := rows.Scan(
			&inc.ID,
			&inc.GuildID,
			&inc.UserID,
			&inc.ChannelID,
			&inc.LogChannelID,
			&inc.MessageCount,
			&inc.DeletedCount,
			&inc.WindowSeconds,
			&inc.Threshold,
			&inc.TimeoutSeconds,
			&inc.TimeoutFailed,
			&inc.PurgeFailed,
			&inc.LogFailed,
			&inc.CreatedAt,
		); err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// CleanupIncidents deletes incidents older than retentionDays and returns the
// number of rows removed. A non-positive retention keeps everything.
func (s *Store) CleanupIncidents(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UTC()
	tag, err := s.pool.Exec(ctx, `DELETE FROM spam_incidents WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
