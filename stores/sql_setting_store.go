package stores

import (
	"context"
	"fmt"

	"github.com/hrkit/access"
	"github.com/oarkflow/squealx"
)

// SQLSettingStore persists system settings in SQL.
type SQLSettingStore struct {
	db *squealx.DB
}

func NewSQLSettingStore(db *squealx.DB) *SQLSettingStore {
	return &SQLSettingStore{db: db}
}

func (s *SQLSettingStore) GetSetting(ctx context.Context, key string) (*access.Setting, error) {
	q := `SELECT key, value, description, is_active, updated_at FROM system_settings WHERE key = :key AND is_active = 1`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"key": key})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("setting %s: %w", key, access.ErrNotFound)
	}
	var k, value, description string
	var activeInt int
	var updatedRaw interface{}
	if err := r.Scan(&k, &value, &description, &activeInt, &updatedRaw); err != nil {
		return nil, err
	}
	return &access.Setting{
		Key:         k,
		Value:       value,
		Description: description,
		IsActive:    activeInt != 0,
		UpdatedAt:   scanTime(updatedRaw),
	}, nil
}

// PutSetting upserts a setting by key.
func (s *SQLSettingStore) PutSetting(ctx context.Context, setting *access.Setting) error {
	q := `INSERT INTO system_settings(key, value, description, is_active, updated_at)
	      VALUES(:key, :value, :description, :is_active, :updated_at)
	      ON CONFLICT(key) DO UPDATE SET value = :value, description = :description, is_active = :is_active, updated_at = :updated_at`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"key":         setting.Key,
		"value":       setting.Value,
		"description": setting.Description,
		"is_active":   boolToInt(setting.IsActive),
		"updated_at":  setting.UpdatedAt,
	})
	return err
}
