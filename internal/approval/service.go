// Package approval gates sensitive agent actions on the owner's explicit
// consent. Each request is pending until the owner approves or denies it,
// exactly once.
package approval

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"agentpass/internal/notify"
	"agentpass/pkg/domain"
	dErrors "agentpass/pkg/domain-errors"
	"agentpass/pkg/email"
	"agentpass/pkg/platform/sentinel"
	"agentpass/pkg/requestcontext"
)

// Store persists approvals. Execute must hold a lock (mutex or FOR UPDATE)
// across validate and mutate.
type Store interface {
	Create(ctx context.Context, a *Approval) error
	FindByID(ctx context.Context, id domain.ApprovalID) (*Approval, error)
	ListByOwner(ctx context.Context, ownerEmail string) ([]*Approval, error)
	Execute(ctx context.Context, id domain.ApprovalID, validate func(*Approval) error, mutate func(*Approval)) (*Approval, error)
}

// Passports resolves the owner and agent name of a passport.
type Passports interface {
	Lookup(ctx context.Context, passportID string) (owner, name string, found bool, err error)
}

// LinkSigner issues the token that lets an action link act for the owner
// without a bearer token.
type LinkSigner interface {
	SignApprovalLink(ownerEmail, approvalID string, approved bool) (string, error)
}

// Service is the approval gate.
type Service struct {
	store     Store
	passports Passports
	publisher notify.Publisher
	links     LinkSigner
	publicURL string
	logger    *slog.Logger
	metrics   *Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithPublisher(publisher notify.Publisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPublicURL sets the base used for approve/deny links in events.
func WithPublicURL(url string) Option {
	return func(s *Service) {
		s.publicURL = strings.TrimRight(url, "/")
	}
}

// WithLinkSigner signs approve/deny links. Without one the links need the
// owner's bearer token like any other API call.
func WithLinkSigner(links LinkSigner) Option {
	return func(s *Service) {
		s.links = links
	}
}

func New(store Store, passports Passports, opts ...Option) *Service {
	s := &Service{
		store:     store,
		passports: passports,
		publisher: notify.Discard{},
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the owner's approvals: pending before resolved, newest first
// within each group, creation order for equal timestamps. An empty filter
// returns every status.
func (s *Service) List(ctx context.Context, ownerEmail string, filter Status) ([]*Approval, error) {
	all, err := s.store.ListByOwner(ctx, email.Normalize(ownerEmail))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list approvals")
	}
	out := make([]*Approval, 0, len(all))
	for _, a := range all {
		if filter == "" || a.Status == filter {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Status == StatusPending, out[j].Status == StatusPending
		if pi != pj {
			return pi
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Get returns one approval owned by ownerEmail.
func (s *Service) Get(ctx context.Context, ownerEmail string, id domain.ApprovalID) (*Approval, error) {
	a, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	if !email.SameOwner(a.OwnerEmail, ownerEmail) {
		return nil, dErrors.New(dErrors.CodeForbidden, "approval belongs to another owner")
	}
	return a, nil
}

// Create records a pending approval for a passport owned by ownerEmail.
func (s *Service) Create(ctx context.Context, ownerEmail string, in CreateInput) (*Created, error) {
	if strings.TrimSpace(in.Action) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "action is required")
	}
	owner, name, found, err := s.passports.Lookup(ctx, in.PassportID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve passport")
	}
	if !found {
		return nil, dErrors.New(dErrors.CodeNotFound, "passport not found")
	}
	if !email.SameOwner(owner, ownerEmail) {
		return nil, dErrors.New(dErrors.CodeForbidden, "passport belongs to another owner")
	}

	a := &Approval{
		ID:         domain.NewApprovalID(),
		PassportID: in.PassportID,
		OwnerEmail: email.Normalize(owner),
		Action:     strings.TrimSpace(in.Action),
		Service:    in.Service,
		Details:    in.Details,
		Status:     StatusPending,
		CreatedAt:  requestcontext.Now(ctx).UTC(),
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store approval")
	}

	s.logger.InfoContext(ctx, "approval requested",
		"approval_id", a.ID.String(),
		"passport_id", a.PassportID,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.metrics.observeCreated()
	s.publisher.Publish(ctx, notify.NewEvent(notify.EventApprovalNeeded,
		notify.Agent{PassportID: a.PassportID, Name: name},
		map[string]any{
			"approval_id": a.ID.String(),
			"action":      a.Action,
			"service":     a.Service,
			"details":     a.Details,
		},
		s.actions(ctx, a)...,
	))

	return &Created{ID: a.ID, CreatedAt: a.CreatedAt}, nil
}

func (s *Service) actions(ctx context.Context, a *Approval) []notify.Action {
	return []notify.Action{
		{Type: "approve", Label: "Approve", URL: s.link(ctx, a, true)},
		{Type: "deny", Label: "Deny", URL: s.link(ctx, a, false)},
	}
}

func (s *Service) link(ctx context.Context, a *Approval, approved bool) string {
	query := url.Values{}
	query.Set("approved", strconv.FormatBool(approved))
	if s.links != nil {
		token, err := s.links.SignApprovalLink(a.OwnerEmail, a.ID.String(), approved)
		if err != nil {
			s.logger.WarnContext(ctx, "approval link left unsigned",
				"approval_id", a.ID.String(),
				"error", err,
			)
		} else {
			query.Set("token", token)
		}
	}
	return s.publicURL + "/approvals/" + a.ID.String() + "/respond?" + query.Encode()
}

// Respond resolves a pending approval exactly once. Any later call fails
// with ALREADY_RESPONDED.
func (s *Service) Respond(ctx context.Context, ownerEmail string, id domain.ApprovalID, approved bool) (*Approval, error) {
	now := requestcontext.Now(ctx).UTC()
	a, err := s.store.Execute(ctx, id,
		func(a *Approval) error {
			if !email.SameOwner(a.OwnerEmail, ownerEmail) {
				return dErrors.New(dErrors.CodeForbidden, "approval belongs to another owner")
			}
			if err := a.CanRespond(); err != nil {
				if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
					return dErrors.New(dErrors.CodeAlreadyResponded, "already responded")
				}
				return err
			}
			return nil
		},
		func(a *Approval) {
			a.ApplyResponse(approved, now)
		},
	)
	if err != nil {
		return nil, wrapStoreErr(err)
	}

	s.logger.InfoContext(ctx, "approval resolved",
		"approval_id", a.ID.String(),
		"passport_id", a.PassportID,
		"status", a.Status,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.metrics.observeResolved(a.Status)
	s.publisher.Publish(ctx, notify.NewEvent(notify.EventApprovalResolved,
		s.agent(ctx, a.PassportID),
		map[string]any{
			"approval_id": a.ID.String(),
			"action":      a.Action,
			"status":      string(a.Status),
		},
	))
	return a, nil
}

// agent names the passport for an event. A passport deleted since the
// approval was created keeps only its id.
func (s *Service) agent(ctx context.Context, passportID string) notify.Agent {
	_, name, _, err := s.passports.Lookup(ctx, passportID)
	if err != nil {
		s.logger.WarnContext(ctx, "agent name unavailable",
			"passport_id", passportID,
			"error", err,
		)
	}
	return notify.Agent{PassportID: passportID, Name: name}
}

func wrapStoreErr(err error) error {
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "approval not found")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "approval store failure")
	}
}
