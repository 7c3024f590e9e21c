package handler

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"agentpass/internal/identity"
	"agentpass/internal/mailbox"
	"agentpass/internal/platform/middleware"
	dErrors "agentpass/pkg/domain-errors"
	"agentpass/pkg/platform/httputil"
	"agentpass/pkg/requestcontext"
)

// InboundSecretHeader authenticates the SMS gateway on POST /sms/inbound.
const InboundSecretHeader = "X-AgentPass-Inbound-Secret"

// MaxWait bounds the timeout a caller may ask for.
const MaxWait = 2 * time.Minute

type Service interface {
	GetPhoneNumber(ctx context.Context, passportID string) (string, error)
	PassportFor(ctx context.Context, number string) (string, bool, error)
	AddSMS(ctx context.Context, msg mailbox.Message) (*mailbox.Message, error)
	WaitForSMS(ctx context.Context, number string, timeout time.Duration) (*mailbox.Message, error)
	ListSMS(ctx context.Context, number string) ([]mailbox.Message, error)
	GetMessage(ctx context.Context, id string) (*mailbox.Message, error)
	ExtractOTP(ctx context.Context, messageID string) (string, bool, error)
}

// Authenticator checks the passport key header of a request.
type Authenticator interface {
	AuthenticateHeader(ctx context.Context, id, header string) (ed25519.PrivateKey, error)
}

type Handler struct {
	service       Service
	auth          Authenticator
	inboundSecret string
	logger        *slog.Logger
}

func New(service Service, auth Authenticator, inboundSecret string, logger *slog.Logger) *Handler {
	return &Handler{
		service:       service,
		auth:          auth,
		inboundSecret: inboundSecret,
		logger:        logger,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/passports/{id}/phone", h.handleGetPhone)
	r.Get("/phones/{number}/messages", h.handleListMessages)
	r.Get("/phones/{number}/wait", h.handleWait)
	r.Get("/messages/{id}/otp", h.handleExtractOTP)

	r.With(middleware.RequireSharedSecret(InboundSecretHeader, h.inboundSecret, h.logger)).
		Post("/sms/inbound", h.handleInbound)
}

type phoneResponse struct {
	PassportID  string `json:"passport_id"`
	PhoneNumber string `json:"phone_number"`
}

type inboundRequest struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

type otpResponse struct {
	MessageID string `json:"message_id"`
	Code      string `json:"code,omitempty"`
	Found     bool   `json:"found"`
}

func (h *Handler) authenticate(r *http.Request, passportID string) error {
	_, err := h.auth.AuthenticateHeader(r.Context(), passportID, r.Header.Get(identity.PrivateKeyHeader))
	return err
}

// authenticateNumber authenticates the caller as the holder of number.
func (h *Handler) authenticateNumber(r *http.Request, number string) error {
	passportID, found, err := h.service.PassportFor(r.Context(), number)
	if err != nil {
		return err
	}
	if !found {
		return dErrors.New(dErrors.CodeNotFound, "phone number not assigned")
	}
	return h.authenticate(r, passportID)
}

func (h *Handler) handleGetPhone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := h.authenticate(r, id); err != nil {
		h.writeError(ctx, w, "phone lookup rejected", err)
		return
	}
	number, err := h.service.GetPhoneNumber(ctx, id)
	if err != nil {
		h.writeError(ctx, w, "failed to provision phone number", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, phoneResponse{PassportID: id, PhoneNumber: number})
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	number := chi.URLParam(r, "number")
	if err := h.authenticateNumber(r, number); err != nil {
		h.writeError(ctx, w, "inbox access rejected", err)
		return
	}
	messages, err := h.service.ListSMS(ctx, number)
	if err != nil {
		h.writeError(ctx, w, "failed to list messages", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (h *Handler) handleWait(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	number := chi.URLParam(r, "number")

	timeout, err := parseTimeout(r.URL.Query().Get("timeout_ms"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.authenticateNumber(r, number); err != nil {
		h.writeError(ctx, w, "inbox access rejected", err)
		return
	}

	msg, err := h.service.WaitForSMS(ctx, number, timeout)
	if err != nil {
		h.writeError(ctx, w, "wait for sms failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, msg)
}

// parseTimeout returns zero, meaning the service default, for an empty value.
func parseTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "timeout_ms must be a positive integer")
	}
	return min(time.Duration(ms)*time.Millisecond, MaxWait), nil
}

func (h *Handler) handleExtractOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	// A missing key is rejected before the lookup. Messages held by another
	// passport read as missing.
	if _, err := identity.ParsePrivateKey(r.Header.Get(identity.PrivateKeyHeader)); err != nil {
		h.writeError(ctx, w, "message access rejected", err)
		return
	}
	msg, err := h.service.GetMessage(ctx, id)
	if err != nil {
		h.writeError(ctx, w, "failed to load message", err)
		return
	}
	if msg == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "message not found"))
		return
	}
	if err := h.authenticateNumber(r, msg.To); err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.writeError(ctx, w, "failed to authenticate message access", err)
			return
		}
		h.logger.WarnContext(ctx, "message access rejected", "error", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "message not found"))
		return
	}

	code, found, err := h.service.ExtractOTP(ctx, id)
	if err != nil {
		h.writeError(ctx, w, "failed to extract code", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, otpResponse{MessageID: id, Code: code, Found: found})
}

func (h *Handler) handleInbound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	msg, err := h.service.AddSMS(ctx, mailbox.Message{
		ID:   req.ID,
		From: req.From,
		To:   req.To,
		Body: req.Body,
	})
	if err != nil {
		h.writeError(ctx, w, "failed to accept inbound sms", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, msg)
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
