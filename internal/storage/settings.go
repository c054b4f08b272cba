package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GetSettings returns the user's settings, falling back to defaults when the
// user never saved any.
func (s *Store) GetSettings(userID string) (UserSettings, error) {
	if err := s.ready(); err != nil {
		return UserSettings{}, err
	}
	if userID == "" {
		return UserSettings{}, ErrNotAuthenticated
	}

	var (
		st          UserSettings
		syncEnabled int
		updatedAt   string
	)
	err := s.db.QueryRow(`SELECT id, user_id, sync_enabled, sync_interval_seconds, theme, default_model, updated_at
		FROM user_settings WHERE user_id = ?`, userID).
		Scan(&st.ID, &st.UserID, &syncEnabled, &st.SyncIntervalSeconds, &st.Theme, &st.DefaultModel, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(userID), nil
	}
	if err != nil {
		return UserSettings{}, fmt.Errorf("loading settings for %s: %w", userID, err)
	}

	st.SyncEnabled = syncEnabled != 0
	if st.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return UserSettings{}, fmt.Errorf("parsing settings updated_at: %w", err)
	}
	return st, nil
}

// SaveSettings upserts the user's settings row, keyed by user. A zero or
// negative sync interval is normalized to the default and an empty theme to
// "system".
func (s *Store) SaveSettings(st UserSettings) error {
	if err := s.ready(); err != nil {
		return err
	}
	if st.UserID == "" {
		return ErrNotAuthenticated
	}

	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.SyncIntervalSeconds <= 0 {
		st.SyncIntervalSeconds = DefaultSettings(st.UserID).SyncIntervalSeconds
	}
	if st.Theme == "" {
		st.Theme = "system"
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`INSERT INTO user_settings
		(id, user_id, sync_enabled, sync_interval_seconds, theme, default_model, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			sync_enabled = excluded.sync_enabled,
			sync_interval_seconds = excluded.sync_interval_seconds,
			theme = excluded.theme,
			default_model = excluded.default_model,
			updated_at = excluded.updated_at`,
		st.ID, st.UserID, st.SyncEnabled, st.SyncIntervalSeconds, st.Theme, st.DefaultModel, now)
	if err != nil {
		return fmt.Errorf("saving settings for %s: %w", st.UserID, err)
	}
	return nil
}
