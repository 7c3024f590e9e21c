package handler

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"agentpass/internal/identity"
	"agentpass/internal/vault"
	dErrors "agentpass/pkg/domain-errors"
	"agentpass/pkg/platform/httputil"
	"agentpass/pkg/requestcontext"
)

// Authenticator checks the passport key header of a request.
type Authenticator interface {
	AuthenticateHeader(ctx context.Context, id, header string) (ed25519.PrivateKey, error)
}

// Opener opens a passport's vault with its private key.
type Opener interface {
	Open(passportID string, privateKey ed25519.PrivateKey) (*vault.Box, error)
}

type Handler struct {
	vault  Opener
	auth   Authenticator
	logger *slog.Logger
}

func New(v Opener, auth Authenticator, logger *slog.Logger) *Handler {
	return &Handler{vault: v, auth: auth, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/passports/{id}/credentials", func(r chi.Router) {
		r.Post("/", h.handleStore)
		r.Get("/", h.handleList)
		r.Get("/{service}", h.handleGet)
		r.Delete("/{service}", h.handleDelete)
	})
}

type storeRequest struct {
	Service  string `json:"service"`
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

// open authenticates the request and returns the caller's vault.
func (h *Handler) open(r *http.Request) (*vault.Box, error) {
	id := chi.URLParam(r, "id")
	key, err := h.auth.AuthenticateHeader(r.Context(), id, r.Header.Get(identity.PrivateKeyHeader))
	if err != nil {
		return nil, err
	}
	return h.vault.Open(id, key)
}

func serviceParam(r *http.Request) string {
	raw := chi.URLParam(r, "service")
	if s, err := url.PathUnescape(raw); err == nil {
		return s
	}
	return raw
}

func (h *Handler) handleStore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	box, err := h.open(r)
	if err != nil {
		h.writeError(ctx, w, "failed to open vault", err)
		return
	}
	defer box.Close()

	cred, err := box.StoreCredential(ctx, vault.StoreInput{
		Service:  req.Service,
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
	})
	if err != nil {
		h.writeError(ctx, w, "failed to store credential", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, cred.Summarize())
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	box, err := h.open(r)
	if err != nil {
		h.writeError(ctx, w, "failed to open vault", err)
		return
	}
	defer box.Close()

	creds, err := box.ListCredentials(ctx)
	if err != nil {
		h.writeError(ctx, w, "failed to list credentials", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"credentials": creds})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	box, err := h.open(r)
	if err != nil {
		h.writeError(ctx, w, "failed to open vault", err)
		return
	}
	defer box.Close()

	cred, err := box.GetCredential(ctx, serviceParam(r))
	if err != nil {
		h.writeError(ctx, w, "failed to read credential", err)
		return
	}
	if cred == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "credential not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cred)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	box, err := h.open(r)
	if err != nil {
		h.writeError(ctx, w, "failed to open vault", err)
		return
	}
	defer box.Close()

	deleted, err := box.DeleteCredential(ctx, serviceParam(r))
	if err != nil {
		h.writeError(ctx, w, "failed to delete credential", err)
		return
	}
	if !deleted {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "credential not found"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeInternal:
		h.logger.ErrorContext(ctx, msg, "error", err, "request_id", requestcontext.RequestID(ctx))
	case dErrors.CodeForbidden, dErrors.CodeUnauthorized:
		h.logger.WarnContext(ctx, msg, "error", err, "request_id", requestcontext.RequestID(ctx))
	}
	httputil.WriteError(w, err)
}
