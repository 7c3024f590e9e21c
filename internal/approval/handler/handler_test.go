package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"agentpass/internal/approval"
	"agentpass/internal/approval/handler/mocks"
	"agentpass/internal/platform/middleware"
	"agentpass/pkg/domain"
	dErrors "agentpass/pkg/domain-errors"
	"agentpass/pkg/testutil"
)

const ownerEmail = "owner@example.com"

type ownerTokens struct{}

func (ownerTokens) ValidateToken(token string) (*middleware.OwnerClaims, error) {
	if token != "owner-token" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return &middleware.OwnerClaims{Email: ownerEmail}, nil
}

// linkTokens accepts tokens of the form "email|approval id|decision".
type linkTokens struct{}

func (linkTokens) VerifyApprovalLink(token string) (string, string, bool, error) {
	parts := strings.Split(token, "|")
	if len(parts) != 3 {
		return "", "", false, dErrors.New(dErrors.CodeUnauthorized, "invalid approval link")
	}
	return parts[0], parts[1], parts[2] == "true", nil
}

type ApprovalHandlerSuite struct {
	suite.Suite
	ctx context.Context
}

func TestApprovalHandlerSuite(t *testing.T) {
	suite.Run(t, new(ApprovalHandlerSuite))
}

func (s *ApprovalHandlerSuite) SetupSuite() {
	s.ctx = context.Background()
}

func newTestRouter(t *testing.T) (chi.Router, *mocks.MockService) {
	t.Helper()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)
	mockService := mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := chi.NewRouter()
	New(mockService, ownerTokens{}, linkTokens{}, logger).Register(r)
	return r, mockService
}

func serve(r chi.Router, req *http.Request) *httptest.ResponseRecorder {
	req.Header.Set("Authorization", "Bearer owner-token")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func sampleApproval(status approval.Status) *approval.Approval {
	return &approval.Approval{
		ID:         domain.NewApprovalID(),
		PassportID: "ap_0123456789ab",
		OwnerEmail: ownerEmail,
		Action:     "login",
		Service:    "github",
		Status:     status,
		CreatedAt:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (s *ApprovalHandlerSuite) TestRequiresOwnerToken() {
	r, _ := newTestRouter(s.T())
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, testutil.NewRequest(s.T(), http.MethodGet, "/approvals"))
	assert.Equal(s.T(), http.StatusUnauthorized, rr.Code)
}

func (s *ApprovalHandlerSuite) TestHandleList() {
	s.T().Run("passes the status filter", func(t *testing.T) {
		r, mockService := newTestRouter(t)
		pending := sampleApproval(approval.StatusPending)
		mockService.EXPECT().List(gomock.Any(), ownerEmail, approval.StatusPending).
			Return([]*approval.Approval{pending}, nil)

		rr := serve(r, testutil.NewRequest(t, http.MethodGet, "/approvals?status=pending"))
		require.Equal(t, http.StatusOK, rr.Code)
		resp := testutil.UnmarshalResponse[struct {
			Approvals []approvalResponse `json:"approvals"`
		}](t, rr)
		require.Len(t, resp.Approvals, 1)
		assert.Equal(t, pending.ID.String(), resp.Approvals[0].ID)
		assert.NotContains(t, rr.Body.String(), "owner_email")
	})

	s.T().Run("no filter lists every status", func(t *testing.T) {
		r, mockService := newTestRouter(t)
		mockService.EXPECT().List(gomock.Any(), ownerEmail, approval.Status("")).Return(nil, nil)

		rr := serve(r, testutil.NewRequest(t, http.MethodGet, "/approvals"))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"approvals":[]}`, rr.Body.String())
	})

	s.T().Run("rejects an unknown status", func(t *testing.T) {
		r, _ := newTestRouter(t)
		rr := serve(r, testutil.NewRequest(t, http.MethodGet, "/approvals?status=maybe"))
		testutil.AssertStatusAndError(t, rr, http.StatusBadRequest, "BAD_REQUEST")
	})
}

func (s *ApprovalHandlerSuite) TestHandleGet() {
	s.T().Run("returns the approval", func(t *testing.T) {
		r, mockService := newTestRouter(t)
		a := sampleApproval(approval.StatusPending)
		mockService.EXPECT().Get(gomock.Any(), ownerEmail, a.ID).Return(a, nil)

		rr := serve(r, testutil.NewRequest(t, http.MethodGet, "/approvals/"+a.ID.String()))
		require.Equal(t, http.StatusOK, rr.Code)
		testutil.AssertJSONContains(t, rr, "status", "pending")
	})

	s.T().Run("malformed id", func(t *testing.T) {
		r, _ := newTestRouter(t)
		rr := serve(r, testutil.NewRequest(t, http.MethodGet, "/approvals/not-a-uuid"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	s.T().Run("foreign approval", func(t *testing.T) {
		r, mockService := newTestRouter(t)
		id := domain.NewApprovalID()
		mockService.EXPECT().Get(gomock.Any(), ownerEmail, id).
			Return(nil, dErrors.New(dErrors.CodeForbidden, "approval belongs to another owner"))

		rr := serve(r, testutil.NewRequest(t, http.MethodGet, "/approvals/"+id.String()))
		testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "FORBIDDEN")
	})
}

func (s *ApprovalHandlerSuite) TestHandleCreate() {
	s.T().Run("creates a pending approval", func(t *testing.T) {
		r, mockService := newTestRouter(t)
		created := &approval.Created{ID: domain.NewApprovalID(), CreatedAt: time.Now().UTC()}
		mockService.EXPECT().Create(gomock.Any(), ownerEmail, approval.CreateInput{
			PassportID: "ap_0123456789ab",
			Action:     "login",
			Service:    "github",
		}).Return(created, nil)

		body := createRequest{PassportID: "ap_0123456789ab", Action: "login", Service: "github"}
		rr := serve(r, testutil.NewJSONRequest(t, http.MethodPost, "/approvals", body))
		require.Equal(t, http.StatusCreated, rr.Code)
		testutil.AssertJSONContains(t, rr, "id", created.ID.String())
	})

	s.T().Run("malformed body", func(t *testing.T) {
		r, _ := newTestRouter(t)
		rr := serve(r, testutil.NewRequestWithBody(t, http.MethodPost, "/approvals", "not json"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	s.T().Run("internal errors are not leaked", func(t *testing.T) {
		r, mockService := newTestRouter(t)
		mockService.EXPECT().Create(gomock.Any(), ownerEmail, gomock.Any()).
			Return(nil, dErrors.Wrap(assert.AnError, dErrors.CodeInternal, "failed to store approval"))

		rr := serve(r, testutil.NewJSONRequest(t, http.MethodPost, "/approvals", createRequest{Action: "login"}))
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.NotContains(t, rr.Body.String(), "failed to store approval")
	})
}

func (s *ApprovalHandlerSuite) TestHandleRespond() {
	s.T().Run("approves from the request body", func(t *testing.T) {
		r, mockService := newTestRouter(t)
		a := sampleApproval(approval.StatusApproved)
		mockService.EXPECT().Respond(gomock.Any(), ownerEmail, a.ID, true).Return(a, nil)

		rr := serve(r, testutil.NewRequestWithBody(t, http.MethodPost, "/approvals/"+a.ID.String()+"/respond", `{"approved":true}`))
		require.Equal(t, http.StatusOK, rr.Code)
		testutil.AssertJSONContains(t, rr, "status", "approved")
	})

	s.T().Run("denies from the action link query", func(t *testing.T) {
		r, mockService := newTestRouter(t)
		a := sampleApproval(approval.StatusDenied)
		mockService.EXPECT().Respond(gomock.Any(), ownerEmail, a.ID, false).Return(a, nil)

		rr := serve(r, testutil.NewRequest(t, http.MethodGet, "/approvals/"+a.ID.String()+"/respond?approved=false"))
		require.Equal(t, http.StatusOK, rr.Code)
		testutil.AssertJSONContains(t, rr, "status", "denied")
	})

	s.T().Run("missing decision", func(t *testing.T) {
		r, _ := newTestRouter(t)
		rr := serve(r, testutil.NewRequestWithBody(t, http.MethodPost, "/approvals/"+domain.NewApprovalID().String()+"/respond", `{}`))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	s.T().Run("second response conflicts", func(t *testing.T) {
		r, mockService := newTestRouter(t)
		id := domain.NewApprovalID()
		mockService.EXPECT().Respond(gomock.Any(), ownerEmail, id, true).
			Return(nil, dErrors.New(dErrors.CodeAlreadyResponded, "already responded"))

		rr := serve(r, testutil.NewRequest(t, http.MethodPost, "/approvals/"+id.String()+"/respond?approved=true"))
		testutil.AssertStatusAndError(t, rr, http.StatusConflict, "ALREADY_RESPONDED")
	})

	s.T().Run("unknown approval", func(t *testing.T) {
		r, mockService := newTestRouter(t)
		id := domain.NewApprovalID()
		mockService.EXPECT().Respond(gomock.Any(), ownerEmail, id, true).
			Return(nil, dErrors.New(dErrors.CodeNotFound, "approval not found"))

		rr := serve(r, testutil.NewRequest(t, http.MethodPost, "/approvals/"+id.String()+"/respond?approved=true"))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func (s *ApprovalHandlerSuite) TestHandleRespondLink() {
	anonymous := func(r chi.Router, req *http.Request) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr
	}
	linkPath := func(id domain.ApprovalID, approved, token string) string {
		return "/approvals/" + id.String() + "/respond?approved=" + approved + "&token=" + url.QueryEscape(token)
	}

	s.T().Run("signed link responds without an owner token", func(t *testing.T) {
		r, mockService := newTestRouter(t)
		a := sampleApproval(approval.StatusApproved)
		mockService.EXPECT().Respond(gomock.Any(), ownerEmail, a.ID, true).Return(a, nil)

		rr := anonymous(r, testutil.NewRequest(t, http.MethodGet, linkPath(a.ID, "true", ownerEmail+"|"+a.ID.String()+"|true")))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		testutil.AssertJSONContains(t, rr, "status", "approved")
	})

	s.T().Run("decision comes from the token, not the query", func(t *testing.T) {
		r, mockService := newTestRouter(t)
		a := sampleApproval(approval.StatusDenied)
		mockService.EXPECT().Respond(gomock.Any(), ownerEmail, a.ID, false).Return(a, nil)

		rr := anonymous(r, testutil.NewRequest(t, http.MethodGet, linkPath(a.ID, "true", ownerEmail+"|"+a.ID.String()+"|false")))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	})

	s.T().Run("token for another approval is rejected", func(t *testing.T) {
		r, _ := newTestRouter(t)
		id := domain.NewApprovalID()
		rr := anonymous(r, testutil.NewRequest(t, http.MethodGet, linkPath(id, "true", ownerEmail+"|"+domain.NewApprovalID().String()+"|true")))
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
	})

	s.T().Run("malformed token is rejected", func(t *testing.T) {
		r, _ := newTestRouter(t)
		rr := anonymous(r, testutil.NewRequest(t, http.MethodGet, linkPath(domain.NewApprovalID(), "true", "garbage")))
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
	})

	s.T().Run("unsigned link still needs the owner token", func(t *testing.T) {
		r, _ := newTestRouter(t)
		rr := anonymous(r, testutil.NewRequest(t, http.MethodGet, "/approvals/"+domain.NewApprovalID().String()+"/respond?approved=true"))
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	s.T().Run("links are refused when no verifier is configured", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		r := chi.NewRouter()
		New(mocks.NewMockService(ctrl), ownerTokens{}, nil, slog.New(slog.DiscardHandler)).Register(r)
		id := domain.NewApprovalID()
		rr := anonymous(r, testutil.NewRequest(t, http.MethodGet, linkPath(id, "true", ownerEmail+"|"+id.String()+"|true")))
		testutil.AssertStatusAndError(t, rr, http.StatusUnauthorized, "UNAUTHORIZED")
	})
}
