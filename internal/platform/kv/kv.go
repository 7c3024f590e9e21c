// Package kv is the key-value storage abstraction injected into every domain
// component. Components own a key namespace ("identity:", "vault:", ...) and
// serialize their records; the store only sees opaque bytes.
//
// Implementations must keep keys in first-insertion order: Keys returns
// matches in the order they were first written, and overwriting a key keeps
// its original position.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"agentpass/pkg/platform/sentinel"
)

// Store is a namespaced byte store.
type Store interface {
	// Get returns sentinel.ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	// PutIfAbsent writes only when the key does not exist yet and reports
	// whether it did.
	PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// GetJSON decodes the value stored at key into v. It reports false when the
// key is absent.
func GetJSON(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// PutJSON encodes v and stores it at key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, raw)
}

// PutJSONIfAbsent encodes v and stores it only when key is free.
func PutJSONIfAbsent(ctx context.Context, s Store, key string, v any) (bool, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", key, err)
	}
	return s.PutIfAbsent(ctx, key, raw)
}
