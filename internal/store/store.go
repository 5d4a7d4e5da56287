package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
	"github.com/xkilldash9x/domrelay/api/schemas"
	"github.com/xkilldash9x/domrelay/internal/config"
	"go.uber.org/zap"
)

// Record keys. Every backend stores exactly these two values.
const (
	KeyState  = "state"
	KeyAPIKey = "apiKey"
)

var (
	// ErrNotFound is returned by a KV backend for a missing key.
	ErrNotFound = errors.New("store: key not found")
	// ErrAPIKeyNotSet is returned when no API key has been stored.
	ErrAPIKeyNotSet = errors.New("store: api key not set")
)

// KV is the minimal durable key-value surface each backend provides.
// Values are whole JSON documents; there are no partial updates.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Store persists the action loop state and the API key.
type Store interface {
	LoadState(ctx context.Context) (schemas.ActionLoopState, error)
	SaveState(ctx context.Context, state schemas.ActionLoopState) error
	ClearState(ctx context.Context) error
	APIKey(ctx context.Context) (string, error)
	SetAPIKey(ctx context.Context, key string) error
	Close() error
}

var codec = json.ConfigCompatibleWithStandardLibrary

// Records implements Store over any KV backend.
type Records struct {
	kv  KV
	log *zap.Logger
}

// NewRecords wraps kv.
func NewRecords(kv KV, logger *zap.Logger) *Records {
	return &Records{kv: kv, log: logger.Named("store")}
}

// LoadState returns the persisted state, or the idle default when none exists.
func (r *Records) LoadState(ctx context.Context) (schemas.ActionLoopState, error) {
	data, err := r.kv.Get(ctx, KeyState)
	if errors.Is(err, ErrNotFound) {
		return schemas.DefaultState(), nil
	}
	if err != nil {
		return schemas.ActionLoopState{}, fmt.Errorf("failed to load state: %w", err)
	}

	var state schemas.ActionLoopState
	if err := codec.Unmarshal(data, &state); err != nil {
		return schemas.ActionLoopState{}, fmt.Errorf("failed to decode state: %w", err)
	}
	if !state.Consistent() {
		r.log.Warn("Persisted state has uneven logs; truncating to the shortest.",
			zap.Int("descriptions", len(state.DescriptionHistory)),
			zap.Int("code", len(state.PreviousCode)),
			zap.Int("transcript", len(state.Transcript)))
	}
	state.Normalize()
	return state, nil
}

// SaveState overwrites the persisted state as a whole.
func (r *Records) SaveState(ctx context.Context, state schemas.ActionLoopState) error {
	state.Normalize()
	data, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	if err := r.kv.Put(ctx, KeyState, data); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// ClearState removes the persisted state; the next load yields the default.
func (r *Records) ClearState(ctx context.Context) error {
	if err := r.kv.Delete(ctx, KeyState); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to clear state: %w", err)
	}
	return nil
}

// APIKey returns the stored key or ErrAPIKeyNotSet.
func (r *Records) APIKey(ctx context.Context) (string, error) {
	data, err := r.kv.Get(ctx, KeyAPIKey)
	if errors.Is(err, ErrNotFound) {
		return "", ErrAPIKeyNotSet
	}
	if err != nil {
		return "", fmt.Errorf("failed to load api key: %w", err)
	}
	var key string
	if err := codec.Unmarshal(data, &key); err != nil {
		return "", fmt.Errorf("failed to decode api key: %w", err)
	}
	if key == "" {
		return "", ErrAPIKeyNotSet
	}
	return key, nil
}

// SetAPIKey stores key. An empty key removes it.
func (r *Records) SetAPIKey(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		if err := r.kv.Delete(ctx, KeyAPIKey); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("failed to remove api key: %w", err)
		}
		return nil
	}
	data, err := codec.Marshal(key)
	if err != nil {
		return fmt.Errorf("failed to encode api key: %w", err)
	}
	if err := r.kv.Put(ctx, KeyAPIKey, data); err != nil {
		return fmt.Errorf("failed to save api key: %w", err)
	}
	return nil
}

// Close releases the backend.
func (r *Records) Close() error { return r.kv.Close() }

// New opens the backend selected by cfg.
func New(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	var (
		kv  KV
		err error
	)
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		kv = NewMemoryKV()
	case "file", "":
		var f *FileKV
		if f, err = NewFileKV(cfg.Path); err == nil {
			logger.Debug("Using file store.", zap.String("path", f.Path()))
			kv = f
		}
	case "redis":
		kv, err = NewRedisKV(ctx, cfg.RedisURL, cfg.KeyPrefix)
	case "postgres":
		kv, err = OpenPostgresKV(ctx, cfg.PostgresURL, logger)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	logger.Debug("Opened state store.", zap.String("backend", cfg.Backend))
	return NewRecords(kv, logger), nil
}
