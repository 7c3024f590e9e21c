package identity

import (
	"context"
	"errors"
	"fmt"

	"agentpass/internal/platform/kv"
	"agentpass/pkg/platform/sentinel"
)

const keyPrefix = "identity:passport:"

// KVStore keeps passports in a kv.Store under the "identity:" namespace.
type KVStore struct {
	kv kv.Store
}

func NewKVStore(store kv.Store) *KVStore {
	return &KVStore{kv: store}
}

func passportKey(id string) string {
	return keyPrefix + id
}

// CreateIfAbsent stores p unless its id is taken and reports whether it did.
func (s *KVStore) CreateIfAbsent(ctx context.Context, p *Passport) (bool, error) {
	return kv.PutJSONIfAbsent(ctx, s.kv, passportKey(p.ID()), p)
}

// FindByID returns sentinel.ErrNotFound when no passport has id.
func (s *KVStore) FindByID(ctx context.Context, id string) (*Passport, error) {
	var p Passport
	found, err := kv.GetJSON(ctx, s.kv, passportKey(id), &p)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("passport %s: %w", id, sentinel.ErrNotFound)
	}
	return &p, nil
}

// List returns every passport in creation order.
func (s *KVStore) List(ctx context.Context) ([]*Passport, error) {
	keys, err := s.kv.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]*Passport, 0, len(keys))
	for _, key := range keys {
		var p Passport
		found, err := kv.GetJSON(ctx, s.kv, key, &p)
		if err != nil {
			return nil, err
		}
		// Deleted between Keys and Get.
		if !found {
			continue
		}
		out = append(out, &p)
	}
	return out, nil
}

// Update overwrites an existing passport.
func (s *KVStore) Update(ctx context.Context, p *Passport) error {
	if _, err := s.kv.Get(ctx, passportKey(p.ID())); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return fmt.Errorf("passport %s: %w", p.ID(), sentinel.ErrNotFound)
		}
		return err
	}
	return kv.PutJSON(ctx, s.kv, passportKey(p.ID()), p)
}

func (s *KVStore) Delete(ctx context.Context, id string) (bool, error) {
	return s.kv.Delete(ctx, passportKey(id))
}
