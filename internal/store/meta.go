package store

import (
	"database/sql"

	"github.com/google/uuid"
)

// SetMeta upserts a key-value pair in the client_meta table.
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO client_meta (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, value, value,
	)
	return err
}

// GetMeta returns the value for a meta key.
// Returns empty string and nil error if the key is missing.
func (s *Store) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM client_meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

const anonymousUserKey = "anonymous_user_id"

// AnonymousUserID returns the stable user id for unauthenticated use,
// minting and persisting one on first call. Unauthenticated sessions get
// their own namespace so signing in never exposes another account's state.
func (s *Store) AnonymousUserID() (string, error) {
	id, err := s.GetMeta(anonymousUserKey)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	id = "anon-" + uuid.NewString()
	if err := s.SetMeta(anonymousUserKey, id); err != nil {
		return "", err
	}
	return id, nil
}
