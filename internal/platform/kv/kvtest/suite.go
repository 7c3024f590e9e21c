// Package kvtest holds the behavioral suite every kv.Store implementation
// must pass.
package kvtest

import (
	"context"

	"github.com/stretchr/testify/suite"

	"agentpass/internal/platform/kv"
	"agentpass/pkg/platform/sentinel"
)

// StoreSuite runs against the store returned by NewStore, which must be
// empty for every test.
type StoreSuite struct {
	suite.Suite
	NewStore func() kv.Store

	store kv.Store
	ctx   context.Context
}

func (s *StoreSuite) SetupTest() {
	s.store = s.NewStore()
	s.ctx = context.Background()
}

func (s *StoreSuite) TestGetPut() {
	s.Run("absent key is ErrNotFound", func() {
		_, err := s.store.Get(s.ctx, "missing")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("put then get returns the value", func() {
		s.Require().NoError(s.store.Put(s.ctx, "a:1", []byte("one")))
		got, err := s.store.Get(s.ctx, "a:1")
		s.Require().NoError(err)
		s.Equal([]byte("one"), got)
	})

	s.Run("put overwrites", func() {
		s.Require().NoError(s.store.Put(s.ctx, "a:1", []byte("uno")))
		got, err := s.store.Get(s.ctx, "a:1")
		s.Require().NoError(err)
		s.Equal([]byte("uno"), got)
	})
}

func (s *StoreSuite) TestPutIfAbsent() {
	stored, err := s.store.PutIfAbsent(s.ctx, "id:x", []byte("first"))
	s.Require().NoError(err)
	s.True(stored)

	stored, err = s.store.PutIfAbsent(s.ctx, "id:x", []byte("second"))
	s.Require().NoError(err)
	s.False(stored)

	got, err := s.store.Get(s.ctx, "id:x")
	s.Require().NoError(err)
	s.Equal([]byte("first"), got)
}

func (s *StoreSuite) TestDelete() {
	s.Require().NoError(s.store.Put(s.ctx, "d:1", []byte("v")))

	existed, err := s.store.Delete(s.ctx, "d:1")
	s.Require().NoError(err)
	s.True(existed)

	existed, err = s.store.Delete(s.ctx, "d:1")
	s.Require().NoError(err)
	s.False(existed)

	keys, err := s.store.Keys(s.ctx, "d:")
	s.Require().NoError(err)
	s.Empty(keys)
}

func (s *StoreSuite) TestKeysKeepInsertionOrder() {
	for _, key := range []string{"p:c", "p:a", "q:z", "p:b"} {
		s.Require().NoError(s.store.Put(s.ctx, key, []byte(key)))
	}
	// Overwriting keeps the original position.
	s.Require().NoError(s.store.Put(s.ctx, "p:c", []byte("updated")))

	keys, err := s.store.Keys(s.ctx, "p:")
	s.Require().NoError(err)
	s.Equal([]string{"p:c", "p:a", "p:b"}, keys)
}

func (s *StoreSuite) TestKeysTreatsPrefixLiterally() {
	s.Require().NoError(s.store.Put(s.ctx, "a_b:1", []byte("x")))
	s.Require().NoError(s.store.Put(s.ctx, "axb:1", []byte("y")))

	keys, err := s.store.Keys(s.ctx, "a_b:")
	s.Require().NoError(err)
	s.Equal([]string{"a_b:1"}, keys)
}
