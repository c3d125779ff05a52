package access

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hrkit/access/logger"
)

// DefaultSettingTTL is how long a looked-up setting stays memoized. Settings
// change rarely; writes through this service invalidate their key
// immediately, so the TTL only bounds staleness for out-of-band edits.
const DefaultSettingTTL = 3600 * time.Second

// Settings reads and writes system-wide configuration with a per-key
// memoization layer in front of the SettingStore.
type Settings struct {
	store  SettingStore
	logger logger.Logger
	ttl    time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]settingEntry
}

type settingEntry struct {
	value     string
	expiresAt time.Time
}

// SettingsOption configures a Settings service.
type SettingsOption func(*Settings)

func WithSettingTTL(ttl time.Duration) SettingsOption {
	return func(s *Settings) { s.ttl = ttl }
}

func WithSettingsLogger(l logger.Logger) SettingsOption {
	return func(s *Settings) { s.logger = l }
}

func WithSettingsClock(now func() time.Time) SettingsOption {
	return func(s *Settings) { s.now = now }
}

func NewSettings(store SettingStore, opts ...SettingsOption) *Settings {
	s := &Settings{
		store:  store,
		logger: logger.NewNull(),
		ttl:    DefaultSettingTTL,
		now:    time.Now,
		cache:  make(map[string]settingEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Value returns the setting for key, or def when no active setting exists.
// Found values are memoized for the TTL; misses are not, so a freshly created
// setting is visible on the next read.
func (s *Settings) Value(ctx context.Context, key, def string) (string, error) {
	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && s.now().Before(entry.expiresAt) {
		return entry.value, nil
	}
	setting, err := s.store.GetSetting(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return def, nil
		}
		return "", fmt.Errorf("load setting %s: %w", key, err)
	}
	s.mu.Lock()
	s.cache[key] = settingEntry{value: setting.Value, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	return setting.Value, nil
}

// IntValue returns the setting parsed as an integer, or def when the setting
// is absent or unparseable.
func (s *Settings) IntValue(ctx context.Context, key string, def int) (int, error) {
	raw, err := s.Value(ctx, key, "")
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return def, nil
	}
	n, perr := strconv.Atoi(raw)
	if perr != nil {
		s.logger.Error("setting is not an integer", "key", key, "value", raw)
		return def, nil
	}
	return n, nil
}

// BoolValue returns the setting parsed as a boolean, or def when the setting
// is absent or unparseable.
func (s *Settings) BoolValue(ctx context.Context, key string, def bool) (bool, error) {
	raw, err := s.Value(ctx, key, "")
	if err != nil {
		return false, err
	}
	if raw == "" {
		return def, nil
	}
	b, perr := strconv.ParseBool(raw)
	if perr != nil {
		s.logger.Error("setting is not a boolean", "key", key, "value", raw)
		return def, nil
	}
	return b, nil
}

// Set writes a setting through to the store and replaces the memoized entry
// for that key. Only the written key is invalidated.
func (s *Settings) Set(ctx context.Context, key, value, description string) error {
	setting := &Setting{
		Key:         key,
		Value:       value,
		Description: description,
		IsActive:    true,
		UpdatedAt:   s.now(),
	}
	if err := s.store.PutSetting(ctx, setting); err != nil {
		return fmt.Errorf("store setting %s: %w", key, err)
	}
	s.mu.Lock()
	s.cache[key] = settingEntry{value: value, expiresAt: s.now().Add(s.ttl)}
	s.mu.Unlock()
	s.logger.Info("setting updated", "key", key)
	return nil
}

// Invalidate drops the memoized entry for one key.
func (s *Settings) Invalidate(key string) {
	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
}
