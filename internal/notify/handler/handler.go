package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi/v5"

	"agentpass/internal/notify"
	"agentpass/internal/platform/middleware"
	dErrors "agentpass/pkg/domain-errors"
	"agentpass/pkg/platform/httputil"
	"agentpass/pkg/requestcontext"
)

// AdminTokenHeader guards webhook management and the event logs.
const AdminTokenHeader = "X-Admin-Token"

type Registry interface {
	AddWebhook(config notify.WebhookConfig)
	RemoveWebhook(url string) bool
	ListWebhooks() []notify.WebhookConfig
	AuditLog() []notify.Event
	DeliveryLog() []notify.DeliveryRecord
}

type Handler struct {
	registry   Registry
	adminToken string
	logger     *slog.Logger
}

func New(registry Registry, adminToken string, logger *slog.Logger) *Handler {
	return &Handler{registry: registry, adminToken: adminToken, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSharedSecret(AdminTokenHeader, h.adminToken, h.logger))
		r.Get("/webhooks", h.handleList)
		r.Post("/webhooks", h.handleAdd)
		r.Delete("/webhooks", h.handleRemove)
		r.Get("/events", h.handleEvents)
		r.Get("/deliveries", h.handleDeliveries)
	})
}

type webhookRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret"`
	Events []string `json:"events"`
}

// webhookView never includes the secret itself.
type webhookView struct {
	URL       string             `json:"url"`
	Events    []notify.EventType `json:"events,omitempty"`
	HasSecret bool               `json:"has_secret"`
}

func (req webhookRequest) toConfig() (notify.WebhookConfig, error) {
	if !govalidator.IsRequestURL(req.URL) {
		return notify.WebhookConfig{}, dErrors.New(dErrors.CodeValidation, "url must be absolute")
	}
	cfg := notify.WebhookConfig{URL: req.URL, Secret: req.Secret}
	if req.Events != nil {
		cfg.Events = make([]notify.EventType, 0, len(req.Events))
		for _, e := range req.Events {
			t := notify.EventType(e)
			if !t.IsKnown() {
				return notify.WebhookConfig{}, dErrors.New(dErrors.CodeValidation, "unknown event type "+strconv.Quote(e))
			}
			cfg.Events = append(cfg.Events, t)
		}
	}
	return cfg, nil
}

func (h *Handler) handleList(w http.ResponseWriter, _ *http.Request) {
	hooks := h.registry.ListWebhooks()
	out := make([]webhookView, 0, len(hooks))
	for _, c := range hooks {
		out = append(out, webhookView{URL: c.URL, Events: c.Events, HasSecret: c.Secret != ""})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"webhooks": out})
}

func (h *Handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	cfg, err := req.toConfig()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.registry.AddWebhook(cfg)
	h.logger.InfoContext(ctx, "webhook added",
		"events", len(cfg.Events),
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteJSON(w, http.StatusCreated, webhookView{URL: cfg.URL, Events: cfg.Events, HasSecret: cfg.Secret != ""})
}

func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	url := r.URL.Query().Get("url")
	if url == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "url query parameter is required"))
		return
	}
	if !h.registry.RemoveWebhook(url) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "webhook not found"))
		return
	}
	h.logger.InfoContext(ctx, "webhook removed", "request_id", requestcontext.RequestID(ctx))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := tail(h.registry.AuditLog(), r.URL.Query().Get("limit"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	records, err := tail(h.registry.DeliveryLog(), r.URL.Query().Get("limit"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"deliveries": records})
}

// tail keeps the newest limit entries. An empty limit keeps everything.
func tail[T any](items []T, limit string) ([]T, error) {
	if items == nil {
		items = []T{}
	}
	if limit == "" {
		return items, nil
	}
	n, err := strconv.Atoi(limit)
	if err != nil || n < 0 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "limit must be a non-negative integer")
	}
	if n < len(items) {
		items = items[len(items)-n:]
	}
	return items, nil
}
