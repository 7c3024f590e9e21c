// Package messaging lets the owner of one passport leave messages in the
// inbox of another passport.
package messaging

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/google/uuid"

	"agentpass/internal/platform/kv"
	dErrors "agentpass/pkg/domain-errors"
	"agentpass/pkg/email"
	"agentpass/pkg/requestcontext"
)

const (
	inboxKeyPrefix   = "messaging:inbox:"
	messageKeyPrefix = "messaging:message:"
)

// Passports resolves the owner and agent name of a passport.
type Passports interface {
	Lookup(ctx context.Context, passportID string) (owner, name string, found bool, err error)
}

// Service stores passport inboxes in a kv.Store.
type Service struct {
	store     kv.Store
	passports Passports
	logger    *slog.Logger
	metrics   *Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store kv.Store, passports Passports, opts ...Option) *Service {
	s := &Service{
		store:     store,
		passports: passports,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func inboxPrefix(passportID string) string {
	return inboxKeyPrefix + passportID + ":"
}

// Send delivers a message from a passport ownerEmail owns to any existing
// passport.
func (s *Service) Send(ctx context.Context, ownerEmail string, in SendInput) (*Message, error) {
	in.From = strings.TrimSpace(in.From)
	in.To = strings.TrimSpace(in.To)
	in.Subject = strings.TrimSpace(in.Subject)
	if in.From == "" || in.To == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "from and to are required")
	}
	if !govalidator.RuneLength(in.Subject, "0", strconv.Itoa(MaxSubjectLength)) {
		return nil, dErrors.New(dErrors.CodeValidation, "subject is too long")
	}
	if strings.TrimSpace(in.Body) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "body is required")
	}
	if len(in.Body) > MaxBodyLength {
		return nil, dErrors.New(dErrors.CodeValidation, "body is too long")
	}

	if err := s.authorize(ctx, ownerEmail, in.From); err != nil {
		return nil, err
	}
	_, _, found, err := s.passports.Lookup(ctx, in.To)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve recipient")
	}
	if !found {
		return nil, dErrors.New(dErrors.CodeNotFound, "recipient passport not found")
	}

	msg := Message{
		ID:        uuid.NewString(),
		From:      in.From,
		To:        in.To,
		Subject:   in.Subject,
		Body:      in.Body,
		CreatedAt: requestcontext.Now(ctx).UTC(),
	}
	if err := kv.PutJSON(ctx, s.store, messageKeyPrefix+msg.ID, msg); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store message")
	}
	if err := kv.PutJSON(ctx, s.store, inboxPrefix(msg.To)+msg.ID, msg); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store message")
	}

	s.metrics.observeSent()
	s.logger.InfoContext(ctx, "passport message sent",
		"message_id", msg.ID,
		"from", msg.From,
		"to", msg.To,
		"request_id", requestcontext.RequestID(ctx),
	)
	return &msg, nil
}

// Inbox returns the messages addressed to passportID, oldest first.
func (s *Service) Inbox(ctx context.Context, ownerEmail, passportID string) ([]Message, error) {
	if err := s.authorize(ctx, ownerEmail, passportID); err != nil {
		return nil, err
	}
	keys, err := s.store.Keys(ctx, inboxPrefix(passportID))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read inbox")
	}
	out := make([]Message, 0, len(keys))
	for _, key := range keys {
		var msg Message
		found, err := kv.GetJSON(ctx, s.store, key, &msg)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read inbox")
		}
		if found {
			out = append(out, msg)
		}
	}
	return out, nil
}

// PurgePassport drops the passport's inbox. Messages it sent stay with
// their recipients.
func (s *Service) PurgePassport(ctx context.Context, passportID string) error {
	keys, err := s.store.Keys(ctx, inboxPrefix(passportID))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read inbox")
	}
	for _, key := range keys {
		id := strings.TrimPrefix(key, inboxPrefix(passportID))
		for _, k := range []string{messageKeyPrefix + id, key} {
			if _, err := s.store.Delete(ctx, k); err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete message")
			}
		}
	}
	return nil
}

// authorize checks that passportID exists and belongs to ownerEmail.
func (s *Service) authorize(ctx context.Context, ownerEmail, passportID string) error {
	owner, _, found, err := s.passports.Lookup(ctx, passportID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve passport")
	}
	if !found {
		return dErrors.New(dErrors.CodeNotFound, "passport not found")
	}
	if !email.SameOwner(owner, ownerEmail) {
		return dErrors.New(dErrors.CodeForbidden, "passport belongs to another owner")
	}
	return nil
}
