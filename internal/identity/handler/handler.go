package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"agentpass/internal/identity"
	"agentpass/internal/platform/middleware"
	dErrors "agentpass/pkg/domain-errors"
	"agentpass/pkg/email"
	"agentpass/pkg/platform/httputil"
	"agentpass/pkg/requestcontext"
)

// Service is the registry as seen by the HTTP layer.
type Service interface {
	CreateIdentity(ctx context.Context, in identity.CreateInput) (*identity.CreateResult, error)
	GetIdentity(ctx context.Context, id string) (*identity.Passport, error)
	ListOwned(ctx context.Context, ownerEmail string) ([]identity.Summary, error)
	RevokeIdentity(ctx context.Context, id string) (bool, error)
	DeleteIdentity(ctx context.Context, id string) (bool, error)
	VerifySignature(ctx context.Context, id string, challenge, signature []byte) (bool, error)
}

// Purger releases what another component keeps for a passport.
type Purger interface {
	PurgePassport(ctx context.Context, passportID string) error
}

// Handler serves the passport endpoints.
type Handler struct {
	service   Service
	teardown  []Purger
	validator middleware.TokenValidator
	logger    *slog.Logger
}

// New creates a Handler. teardown runs, in order, after a passport is deleted.
func New(service Service, validator middleware.TokenValidator, logger *slog.Logger, teardown ...Purger) *Handler {
	return &Handler{
		service:   service,
		teardown:  teardown,
		validator: validator,
		logger:    logger,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/passports/{id}/public", h.handleGetPublic)
	r.Get("/passports/{id}/trust", h.handleGetTrust)
	r.Post("/passports/{id}/verify", h.handleVerify)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireOwner(h.validator, h.logger))
		r.Post("/passports", h.handleCreate)
		r.Get("/passports", h.handleList)
		r.Get("/passports/{id}", h.handleGet)
		r.Post("/passports/{id}/revoke", h.handleRevoke)
		r.Delete("/passports/{id}", h.handleDelete)
	})
}

type createRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createResponse struct {
	Passport   identity.Passport `json:"passport"`
	PublicKey  string            `json:"public_key"`
	PrivateKey string            `json:"private_key"`
}

type verifyRequest struct {
	Challenge string `json:"challenge"`
	Signature string `json:"signature"`
}

type verifyResponse struct {
	PassportID string `json:"passport_id"`
	Valid      bool   `json:"valid"`
}

type trustResponse struct {
	PassportID string `json:"passport_id"`
	Level      string `json:"level"`
	Score      int    `json:"score"`
}

type statusResponse struct {
	PassportID string          `json:"passport_id"`
	Status     identity.Status `json:"status"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid create passport request",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	res, err := h.service.CreateIdentity(ctx, identity.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		OwnerEmail:  requestcontext.OwnerEmail(ctx),
	})
	if err != nil {
		h.writeError(ctx, w, "failed to create passport", err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, createResponse{
		Passport:   res.Passport,
		PublicKey:  res.PublicKey,
		PrivateKey: identity.EncodePrivateKey(res.PrivateKey),
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	summaries, err := h.service.ListOwned(ctx, requestcontext.OwnerEmail(ctx))
	if err != nil {
		h.writeError(ctx, w, "failed to list passports", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"passports": summaries})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.owned(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(ctx, w, "failed to load passport", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) handleGetPublic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.service.GetIdentity(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(ctx, w, "failed to load passport", err)
		return
	}
	if p == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "passport not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p.PublicView())
}

func (h *Handler) handleGetTrust(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, err := h.service.GetIdentity(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(ctx, w, "failed to load passport", err)
		return
	}
	if p == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "passport not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, trustResponse{
		PassportID: p.PassportID,
		Level:      p.Trust.Level,
		Score:      p.Trust.Score,
	})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, err := h.owned(ctx, id); err != nil {
		h.writeError(ctx, w, "failed to revoke passport", err)
		return
	}
	revoked, err := h.service.RevokeIdentity(ctx, id)
	if err != nil {
		h.writeError(ctx, w, "failed to revoke passport", err)
		return
	}
	if !revoked {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "passport not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, statusResponse{PassportID: id, Status: identity.StatusRevoked})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if _, err := h.owned(ctx, id); err != nil {
		h.writeError(ctx, w, "failed to delete passport", err)
		return
	}
	deleted, err := h.service.DeleteIdentity(ctx, id)
	if err != nil {
		h.writeError(ctx, w, "failed to delete passport", err)
		return
	}
	if !deleted {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "passport not found"))
		return
	}

	for _, purger := range h.teardown {
		if err := purger.PurgePassport(ctx, id); err != nil {
			h.logger.ErrorContext(ctx, "passport teardown incomplete",
				"passport_id", id,
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	signature, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil || req.Challenge == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "challenge and base64 signature are required"))
		return
	}

	p, err := h.service.GetIdentity(ctx, id)
	if err != nil {
		h.writeError(ctx, w, "failed to verify signature", err)
		return
	}
	if p == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "passport not found"))
		return
	}
	valid, err := h.service.VerifySignature(ctx, id, []byte(req.Challenge), signature)
	if err != nil {
		h.writeError(ctx, w, "failed to verify signature", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, verifyResponse{PassportID: id, Valid: valid})
}

// owned loads a passport the caller owns.
func (h *Handler) owned(ctx context.Context, id string) (*identity.Passport, error) {
	p, err := h.service.GetIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "passport not found")
	}
	if !email.SameOwner(p.Owner.Email, requestcontext.OwnerEmail(ctx)) {
		return nil, dErrors.New(dErrors.CodeForbidden, "passport belongs to another owner")
	}
	return p, nil
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
