package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"agentpass/internal/identity"
	"agentpass/internal/messaging"
	"agentpass/internal/platform/kv"
	"agentpass/internal/platform/middleware"
	dErrors "agentpass/pkg/domain-errors"
	"agentpass/pkg/testutil"
)

// staticTokens maps bearer tokens to owner emails.
type staticTokens map[string]string

func (t staticTokens) ValidateToken(token string) (*middleware.OwnerClaims, error) {
	email, ok := t[token]
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return &middleware.OwnerClaims{Email: email}, nil
}

type HandlerSuite struct {
	suite.Suite
	router chi.Router
	alice  string
	bob    string
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := kv.NewMemory()
	registry := identity.New(identity.NewKVStore(store))
	tokens := staticTokens{"alice-token": "alice@example.com", "bob-token": "bob@example.com"}

	s.router = chi.NewRouter()
	New(messaging.New(store, registry), tokens, logger).Register(s.router)

	for _, p := range []struct {
		owner string
		id    *string
	}{{"alice@example.com", &s.alice}, {"bob@example.com", &s.bob}} {
		res, err := registry.CreateIdentity(context.Background(), identity.CreateInput{Name: "bot", OwnerEmail: p.owner})
		s.Require().NoError(err)
		*p.id = res.Passport.ID()
	}
}

func (s *HandlerSuite) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *HandlerSuite) TestSendAndRead() {
	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/messages",
		sendRequest{From: s.alice, To: s.bob, Subject: "hi", Body: "ready to sync?"}), "alice-token")
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	sent := testutil.UnmarshalResponse[messaging.Message](s.T(), rr)
	s.NotEmpty(sent.ID)
	s.Equal(s.alice, sent.From)

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/passports/"+s.bob+"/messages"), "bob-token")
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	inbox := *testutil.UnmarshalResponse[[]messaging.Message](s.T(), rr)
	s.Require().Len(inbox, 1)
	s.Equal(sent.ID, inbox[0].ID)
	s.Equal("ready to sync?", inbox[0].Body)
}

func (s *HandlerSuite) TestEmptyInboxIsAnArray() {
	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/passports/"+s.alice+"/messages"), "alice-token")
	s.Require().Equal(http.StatusOK, rr.Code)
	s.JSONEq("[]", rr.Body.String())
}

func (s *HandlerSuite) TestAccessControl() {
	s.Run("owner token is required", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/passports/"+s.bob+"/messages"), "")
		s.Equal(http.StatusUnauthorized, rr.Code)
	})

	s.Run("another owner's inbox is forbidden", func() {
		rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/passports/"+s.bob+"/messages"), "alice-token")
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "FORBIDDEN")
	})

	s.Run("cannot send as another owner's passport", func() {
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/messages",
			sendRequest{From: s.bob, To: s.alice, Body: "spoofed"}), "alice-token")
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "FORBIDDEN")
	})

	s.Run("unknown recipient", func() {
		rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/messages",
			sendRequest{From: s.alice, To: "ap_000000000000", Body: "hello?"}), "alice-token")
		testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "NOT_FOUND")
	})

	s.Run("malformed body", func() {
		rr := s.do(testutil.NewRequestWithBody(s.T(), http.MethodPost, "/messages", "{"), "alice-token")
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "BAD_REQUEST")
	})
}
