package pg

import (
	"database/sql"
	"errors"
)

// Settings implements config.SettingsStore on the settings table, so
// the directory registry and rotation counters survive restarts and
// are shared between processes.

func (s *Storage) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Storage) Set(key, value string) error {
	_, err := s.db.Exec(`
	INSERT INTO settings(key, value) VALUES($1, $2)
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}

func (s *Storage) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM settings WHERE key = $1`, key)
	return err
}
