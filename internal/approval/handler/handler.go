package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"agentpass/internal/approval"
	"agentpass/internal/platform/middleware"
	"agentpass/pkg/domain"
	dErrors "agentpass/pkg/domain-errors"
	"agentpass/pkg/platform/httputil"
	"agentpass/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// Service defines the interface for approval operations.
type Service interface {
	List(ctx context.Context, ownerEmail string, filter approval.Status) ([]*approval.Approval, error)
	Get(ctx context.Context, ownerEmail string, id domain.ApprovalID) (*approval.Approval, error)
	Create(ctx context.Context, ownerEmail string, in approval.CreateInput) (*approval.Created, error)
	Respond(ctx context.Context, ownerEmail string, id domain.ApprovalID, approved bool) (*approval.Approval, error)
}

// LinkVerifier checks the token carried by a notification action link.
type LinkVerifier interface {
	VerifyApprovalLink(token string) (ownerEmail, approvalID string, approved bool, err error)
}

// Handler serves the approval gate to passport owners.
type Handler struct {
	service   Service
	validator middleware.TokenValidator
	links     LinkVerifier
	logger    *slog.Logger
}

// New builds the handler. A nil links verifier rejects every link token.
func New(service Service, validator middleware.TokenValidator, links LinkVerifier, logger *slog.Logger) *Handler {
	return &Handler{service: service, validator: validator, links: links, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	requireOwner := middleware.RequireOwner(h.validator, h.logger)
	r.Route("/approvals", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(requireOwner)
			r.Get("/", h.handleList)
			r.Post("/", h.handleCreate)
			r.Get("/{id}", h.handleGet)
			r.Post("/{id}/respond", h.handleRespond)
		})
		// Action links in notifications are plain GETs. A signed link stands
		// in for the owner token; without one the owner token is required.
		r.Get("/{id}/respond", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("token") != "" {
				h.handleRespondLink(w, r)
				return
			}
			requireOwner(http.HandlerFunc(h.handleRespond)).ServeHTTP(w, r)
		})
	})
}

type createRequest struct {
	PassportID string `json:"passport_id"`
	Action     string `json:"action"`
	Service    string `json:"service"`
	Details    string `json:"details"`
}

type respondRequest struct {
	Approved *bool `json:"approved"`
}

type approvalResponse struct {
	ID          string          `json:"id"`
	PassportID  string          `json:"passport_id"`
	Action      string          `json:"action"`
	Service     string          `json:"service"`
	Details     string          `json:"details"`
	Status      approval.Status `json:"status"`
	RespondedAt *time.Time      `json:"responded_at"`
	CreatedAt   time.Time       `json:"created_at"`
}

func toResponse(a *approval.Approval) approvalResponse {
	return approvalResponse{
		ID:          a.ID.String(),
		PassportID:  a.PassportID,
		Action:      a.Action,
		Service:     a.Service,
		Details:     a.Details,
		Status:      a.Status,
		RespondedAt: a.RespondedAt,
		CreatedAt:   a.CreatedAt,
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var filter approval.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := approval.ParseStatus(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter = parsed
	}

	list, err := h.service.List(ctx, requestcontext.OwnerEmail(ctx), filter)
	if err != nil {
		h.writeError(ctx, w, "failed to list approvals", err)
		return
	}
	out := make([]approvalResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toResponse(a))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"approvals": out})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseApprovalID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	a, err := h.service.Get(ctx, requestcontext.OwnerEmail(ctx), id)
	if err != nil {
		h.writeError(ctx, w, "failed to load approval", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(a))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid approval request",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	created, err := h.service.Create(ctx, requestcontext.OwnerEmail(ctx), approval.CreateInput{
		PassportID: req.PassportID,
		Action:     req.Action,
		Service:    req.Service,
		Details:    req.Details,
	})
	if err != nil {
		h.writeError(ctx, w, "failed to create approval", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{
		"id":         created.ID.String(),
		"status":     approval.StatusPending,
		"created_at": created.CreatedAt,
	})
}

func (h *Handler) handleRespond(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseApprovalID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	approved, err := decision(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	a, err := h.service.Respond(ctx, requestcontext.OwnerEmail(ctx), id, approved)
	if err != nil {
		h.writeError(ctx, w, "failed to respond to approval", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(a))
}

func (h *Handler) handleRespondLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseApprovalID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if h.links == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "approval links are not enabled"))
		return
	}
	ownerEmail, linkID, approved, err := h.links.VerifyApprovalLink(r.URL.Query().Get("token"))
	if err == nil && linkID != id.String() {
		err = dErrors.New(dErrors.CodeUnauthorized, "approval link is for another approval")
	}
	if err != nil {
		h.logger.WarnContext(ctx, "approval link rejected",
			"approval_id", id.String(),
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}

	// The decision is the one the link was signed for, whatever the query says.
	a, err := h.service.Respond(ctx, ownerEmail, id, approved)
	if err != nil {
		h.writeError(ctx, w, "failed to respond to approval", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(a))
}

// decision reads the approved flag from the query string, else from a JSON body.
func decision(r *http.Request) (bool, error) {
	if raw := r.URL.Query().Get("approved"); raw != "" {
		approved, err := strconv.ParseBool(raw)
		if err != nil {
			return false, dErrors.New(dErrors.CodeBadRequest, "approved must be true or false")
		}
		return approved, nil
	}
	var req respondRequest
	if r.Body == nil || json.NewDecoder(r.Body).Decode(&req) != nil || req.Approved == nil {
		return false, dErrors.New(dErrors.CodeBadRequest, "approved is required")
	}
	return *req.Approved, nil
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}
