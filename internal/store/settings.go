package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("not found")

// KeyLastClick holds the last pinch time in milliseconds since the epoch.
const KeyLastClick = "lastClick"

// SettingsRepository provides access to the settings table.
type SettingsRepository struct {
	db *sql.DB
}

// Settings returns the settings repository for this store.
func (s *Store) Settings() *SettingsRepository {
	return &SettingsRepository{db: s.db}
}

// Get returns the value stored under key.
func (r *SettingsRepository) Get(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

// Set stores value under key, replacing any previous value.
func (r *SettingsRepository) Set(key, value string) error {
	_, err := r.db.Exec(
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now(),
	)
	return err
}

// Cooldown adapts a settings key holding a millisecond timestamp to the
// interaction cooldown store.
type Cooldown struct {
	repo *SettingsRepository
	key  string
}

// Cooldown returns the pinch cooldown persisted under KeyLastClick.
func (s *Store) Cooldown() *Cooldown {
	return &Cooldown{repo: s.Settings(), key: KeyLastClick}
}

// LastTrigger returns the stored time, or ok=false when nothing was stored.
func (c *Cooldown) LastTrigger() (time.Time, bool, error) {
	v, err := c.repo.Get(c.key)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}

	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse %s: %w", c.key, err)
	}
	return time.UnixMilli(ms), true, nil
}

// SetLastTrigger overwrites the stored time.
func (c *Cooldown) SetLastTrigger(t time.Time) error {
	return c.repo.Set(c.key, strconv.FormatInt(t.UnixMilli(), 10))
}
