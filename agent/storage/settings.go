package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// KeyOpenID is the settings key of the bound account.
const KeyOpenID = "openid"

// SetValue stores any JSON-serializable value under key.
func (s *Store) SetValue(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_config (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, string(data))
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	return nil
}

// GetValue decodes the value stored under key into dest. It reports false
// when the key is absent.
func (s *Store) GetValue(ctx context.Context, key string, dest interface{}) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM agent_config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(value), dest); err != nil {
		return true, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// DeleteValue removes key.
func (s *Store) DeleteValue(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM agent_config WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// OpenID returns the bound account id, or "".
func (s *Store) OpenID(ctx context.Context) (string, error) {
	var id string
	if _, err := s.GetValue(ctx, KeyOpenID, &id); err != nil {
		return "", err
	}
	return id, nil
}

// SetOpenID binds the device to an account. An empty id unbinds it.
func (s *Store) SetOpenID(ctx context.Context, id string) error {
	if id == "" {
		return s.DeleteValue(ctx, KeyOpenID)
	}
	return s.SetValue(ctx, KeyOpenID, id)
}
