package approval

import (
	"context"
	"fmt"
	"sync"

	"agentpass/internal/platform/kv"
	"agentpass/pkg/domain"
	"agentpass/pkg/email"
	"agentpass/pkg/platform/sentinel"
)

const keyPrefix = "approval:"

// KVStore keeps approvals in a kv.Store. Execute is serialized with a mutex,
// so it is only atomic within one process.
type KVStore struct {
	kv kv.Store
	mu sync.Mutex
}

func NewKVStore(store kv.Store) *KVStore {
	return &KVStore{kv: store}
}

func approvalKey(id domain.ApprovalID) string {
	return keyPrefix + id.String()
}

func (s *KVStore) Create(ctx context.Context, a *Approval) error {
	created, err := kv.PutJSONIfAbsent(ctx, s.kv, approvalKey(a.ID), a)
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("approval %s: %w", a.ID, sentinel.ErrAlreadyUsed)
	}
	return nil
}

func (s *KVStore) FindByID(ctx context.Context, id domain.ApprovalID) (*Approval, error) {
	var a Approval
	found, err := kv.GetJSON(ctx, s.kv, approvalKey(id), &a)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("approval %s: %w", id, sentinel.ErrNotFound)
	}
	return &a, nil
}

// ListByOwner returns the owner's approvals in creation order.
func (s *KVStore) ListByOwner(ctx context.Context, ownerEmail string) ([]*Approval, error) {
	keys, err := s.kv.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	var out []*Approval
	for _, key := range keys {
		var a Approval
		found, err := kv.GetJSON(ctx, s.kv, key, &a)
		if err != nil {
			return nil, err
		}
		if found && email.SameOwner(a.OwnerEmail, ownerEmail) {
			out = append(out, &a)
		}
	}
	return out, nil
}

// Execute loads the approval, runs validate and, when it passes, applies
// mutate and persists the result. The lock is held throughout.
func (s *KVStore) Execute(ctx context.Context, id domain.ApprovalID, validate func(*Approval) error, mutate func(*Approval)) (*Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := validate(a); err != nil {
		return nil, err
	}
	mutate(a)
	if err := kv.PutJSON(ctx, s.kv, approvalKey(id), a); err != nil {
		return nil, err
	}
	return a, nil
}
