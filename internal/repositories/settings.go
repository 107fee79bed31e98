package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Setting keys.
const (
	KeyAccessToken = "access_token"
	KeyUsername    = "username"
)

// SettingsRepository stores string values by key.
type SettingsRepository struct {
	db *sql.DB
}

// NewSettingsRepository creates a new [SettingsRepository] with the given database connection
func NewSettingsRepository(db *sql.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// Get returns the value for key and whether it was set.
func (r *SettingsRepository) Get(key string) (string, bool, error) {
	var value string
	err := r.db.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query setting %s: %w", key, err)
	}
	return value, true, nil
}

// Set inserts or replaces the value for key.
func (r *SettingsRepository) Set(key, value string) error {
	query := `
		INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := r.db.Exec(query, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to store setting %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (r *SettingsRepository) Delete(key string) error {
	if _, err := r.db.Exec("DELETE FROM settings WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete setting %s: %w", key, err)
	}
	return nil
}

// All returns every stored setting.
func (r *SettingsRepository) All() (map[string]string, error) {
	rows, err := r.db.Query("SELECT key, value FROM settings ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// TokenStore keeps the session credential in the access_token slot.
//
// An override (from CRAWLCTL_ACCESS_TOKEN) takes precedence until the next login, logout or rejection.
type TokenStore struct {
	settings *SettingsRepository

	mu       sync.Mutex
	override string
}

// NewTokenStore creates a [TokenStore]. override may be empty.
func NewTokenStore(settings *SettingsRepository, override string) *TokenStore {
	return &TokenStore{settings: settings, override: override}
}

func (s *TokenStore) Token() (string, error) {
	s.mu.Lock()
	override := s.override
	s.mu.Unlock()
	if override != "" {
		return override, nil
	}

	tok, _, err := s.settings.Get(KeyAccessToken)
	return tok, err
}

func (s *TokenStore) SetToken(token string) error {
	s.mu.Lock()
	s.override = ""
	s.mu.Unlock()
	return s.settings.Set(KeyAccessToken, token)
}

func (s *TokenStore) ClearToken() error {
	s.mu.Lock()
	s.override = ""
	s.mu.Unlock()
	return s.settings.Delete(KeyAccessToken)
}
