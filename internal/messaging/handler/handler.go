package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"agentpass/internal/messaging"
	"agentpass/internal/platform/middleware"
	dErrors "agentpass/pkg/domain-errors"
	"agentpass/pkg/platform/httputil"
	"agentpass/pkg/requestcontext"
)

type Service interface {
	Send(ctx context.Context, ownerEmail string, in messaging.SendInput) (*messaging.Message, error)
	Inbox(ctx context.Context, ownerEmail, passportID string) ([]messaging.Message, error)
}

// Handler serves passport-to-passport messages to owners.
type Handler struct {
	service   Service
	validator middleware.TokenValidator
	logger    *slog.Logger
}

func New(service Service, validator middleware.TokenValidator, logger *slog.Logger) *Handler {
	return &Handler{service: service, validator: validator, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireOwner(h.validator, h.logger))
		r.Post("/messages", h.handleSend)
		r.Get("/passports/{id}/messages", h.handleInbox)
	})
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid message request",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	msg, err := h.service.Send(ctx, requestcontext.OwnerEmail(ctx), messaging.SendInput{
		From:    req.From,
		To:      req.To,
		Subject: req.Subject,
		Body:    req.Body,
	})
	if err != nil {
		h.writeError(ctx, w, "failed to send message", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, msg)
}

// handleInbox answers with a bare JSON array.
func (h *Handler) handleInbox(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	messages, err := h.service.Inbox(ctx, requestcontext.OwnerEmail(ctx), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(ctx, w, "failed to list messages", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, messages)
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
