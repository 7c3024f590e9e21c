//go:build integration

package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"agentpass/pkg/domain"
	dErrors "agentpass/pkg/domain-errors"
	"agentpass/pkg/platform/sentinel"
	"agentpass/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = NewPostgresStore(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(context.Background(), "approvals"))
}

func (s *PostgresStoreSuite) newApproval(owner string, created time.Time) *Approval {
	return &Approval{
		ID:         domain.NewApprovalID(),
		PassportID: "ap_aaaaaaaaaaaa",
		OwnerEmail: owner,
		Action:     "login",
		Service:    "github",
		Status:     StatusPending,
		CreatedAt:  created,
	}
}

func (s *PostgresStoreSuite) TestCreateAndFind() {
	ctx := context.Background()
	a := s.newApproval("owner@x.com", time.Now().UTC().Truncate(time.Microsecond))
	s.Require().NoError(s.store.Create(ctx, a))

	got, err := s.store.FindByID(ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(a.PassportID, got.PassportID)
	s.Equal(a.CreatedAt, got.CreatedAt)
	s.Nil(got.RespondedAt)

	err = s.store.Create(ctx, a)
	s.True(errors.Is(err, sentinel.ErrAlreadyUsed))

	_, err = s.store.FindByID(ctx, domain.NewApprovalID())
	s.True(errors.Is(err, sentinel.ErrNotFound))
}

func (s *PostgresStoreSuite) TestListByOwnerInsertionOrder() {
	ctx := context.Background()
	now := time.Now().UTC()
	first := s.newApproval("owner@x.com", now)
	second := s.newApproval("owner@x.com", now)
	other := s.newApproval("else@x.com", now)
	for _, a := range []*Approval{first, other, second} {
		s.Require().NoError(s.store.Create(ctx, a))
	}

	list, err := s.store.ListByOwner(ctx, "owner@x.com")
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal(first.ID, list[0].ID)
	s.Equal(second.ID, list[1].ID)
}

func (s *PostgresStoreSuite) TestExecuteResolvesOnce() {
	ctx := context.Background()
	a := s.newApproval("owner@x.com", time.Now().UTC())
	s.Require().NoError(s.store.Create(ctx, a))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(ctx, a.ID,
				func(a *Approval) error {
					if err := a.CanRespond(); err != nil {
						return dErrors.New(dErrors.CodeAlreadyResponded, "already responded")
					}
					return nil
				},
				func(a *Approval) { a.ApplyResponse(true, time.Now().UTC()) },
			)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	s.Equal(1, succeeded)

	got, err := s.store.FindByID(ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(StatusApproved, got.Status)
	s.NotNil(got.RespondedAt)
}

func (s *PostgresStoreSuite) TestExecuteValidationRollback() {
	ctx := context.Background()
	a := s.newApproval("owner@x.com", time.Now().UTC())
	s.Require().NoError(s.store.Create(ctx, a))

	_, err := s.store.Execute(ctx, a.ID,
		func(*Approval) error { return dErrors.New(dErrors.CodeForbidden, "nope") },
		func(a *Approval) { a.ApplyResponse(true, time.Now()) },
	)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	got, err := s.store.FindByID(ctx, a.ID)
	s.Require().NoError(err)
	s.Equal(StatusPending, got.Status)
}
