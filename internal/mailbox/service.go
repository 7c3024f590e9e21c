// Package mailbox gives each passport a virtual phone number and an inbox
// for verification SMS. Agents can block until the next message arrives.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agentpass/internal/mailbox/waitq"
	"agentpass/internal/notify"
	"agentpass/internal/platform/kv"
	dErrors "agentpass/pkg/domain-errors"
	"agentpass/pkg/platform/clock"
	"agentpass/pkg/platform/sentinel"
	"agentpass/pkg/requestcontext"
)

const (
	// DefaultPhoneBase is the first number handed out.
	DefaultPhoneBase int64 = 2025550100
	// DefaultWaitTimeout applies when WaitForSMS gets no timeout.
	DefaultWaitTimeout = 30 * time.Second

	passportKeyPrefix = "mailbox:passport:"
	numberKeyPrefix   = "mailbox:number:"
	inboxKeyPrefix    = "mailbox:inbox:"
	messageKeyPrefix  = "mailbox:message:"
)

// Directory names the passport a number belongs to.
type Directory interface {
	Lookup(ctx context.Context, passportID string) (owner, name string, found bool, err error)
}

// Service owns phone numbers, inboxes and waiters.
type Service struct {
	store          kv.Store
	directory      Directory
	clock          clock.Clock
	waiters        *waitq.Queue[Message]
	publisher      notify.Publisher
	logger         *slog.Logger
	metrics        *Metrics
	defaultTimeout time.Duration

	// mu serializes inbox appends against waiter registration so a message
	// can never slip between the empty-inbox check and Enqueue.
	mu         sync.Mutex
	nextNumber int64
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

// WithDirectory fills agent names into sms.received events.
func WithDirectory(d Directory) Option {
	return func(s *Service) {
		s.directory = d
	}
}

func WithClock(clk clock.Clock) Option {
	return func(s *Service) {
		s.clock = clk
	}
}

// WithPhoneBase sets the first number of this instance's counter.
func WithPhoneBase(base int64) Option {
	return func(s *Service) {
		if base > 0 {
			s.nextNumber = base
		}
	}
}

func WithDefaultTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.defaultTimeout = d
		}
	}
}

func New(store kv.Store, opts ...Option) *Service {
	s := &Service{
		store:          store,
		clock:          clock.Real(),
		publisher:      notify.Discard{},
		logger:         slog.New(slog.DiscardHandler),
		defaultTimeout: DefaultWaitTimeout,
		nextNumber:     DefaultPhoneBase,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.waiters = waitq.New[Message](s.clock)
	return s
}

// FormatNumber renders a counter value as "+1" followed by ten digits.
func FormatNumber(n int64) string {
	return fmt.Sprintf("+1%010d", n)
}

func inboxPrefix(number string) string {
	return inboxKeyPrefix + number + ":"
}

// GetPhoneNumber returns the passport's number, assigning the next free one
// on first use.
func (s *Service) GetPhoneNumber(ctx context.Context, passportID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	number, found, err := s.numberFor(ctx, passportID)
	if err != nil {
		return "", err
	}
	if found {
		return number, nil
	}

	for {
		candidate := FormatNumber(s.nextNumber)
		s.nextNumber++
		// Numbers can already be taken when the store outlives the process.
		claimed, err := s.store.PutIfAbsent(ctx, numberKeyPrefix+candidate, []byte(passportID))
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim phone number")
		}
		if !claimed {
			continue
		}
		if err := s.store.Put(ctx, passportKeyPrefix+passportID, []byte(candidate)); err != nil {
			if _, releaseErr := s.store.Delete(ctx, numberKeyPrefix+candidate); releaseErr != nil {
				s.logger.ErrorContext(ctx, "phone number claim orphaned",
					"number", candidate,
					"error", releaseErr,
				)
			}
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to assign phone number")
		}
		s.metrics.observeProvisioned()
		s.logger.InfoContext(ctx, "phone number provisioned",
			"passport_id", passportID,
			"request_id", requestcontext.RequestID(ctx),
		)
		return candidate, nil
	}
}

func (s *Service) numberFor(ctx context.Context, passportID string) (string, bool, error) {
	raw, err := s.store.Get(ctx, passportKeyPrefix+passportID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", false, nil
		}
		return "", false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load phone number")
	}
	return string(raw), true, nil
}

// PassportFor returns the passport a number is assigned to.
func (s *Service) PassportFor(ctx context.Context, number string) (string, bool, error) {
	raw, err := s.store.Get(ctx, numberKeyPrefix+number)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", false, nil
		}
		return "", false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve phone number")
	}
	return string(raw), true, nil
}

// AddSMS appends msg to the inbox of msg.To and hands it to the earliest
// waiter on that number, if any.
func (s *Service) AddSMS(ctx context.Context, msg Message) (*Message, error) {
	msg.To = strings.TrimSpace(msg.To)
	if msg.To == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "destination number is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = s.clock.Now().UTC()
	}

	s.mu.Lock()
	if err := s.append(ctx, msg); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	delivered := s.waiters.Fulfill(msg.To, msg)
	s.mu.Unlock()

	s.metrics.observeReceived()
	s.logger.InfoContext(ctx, "sms received",
		"message_id", msg.ID,
		"delivered_to_waiter", delivered,
		"request_id", requestcontext.RequestID(ctx),
	)

	s.publisher.Publish(ctx, notify.NewEvent(notify.EventSMSReceived,
		s.agentFor(ctx, msg.To),
		map[string]any{
			"message_id": msg.ID,
			"from":       msg.From,
			"to":         msg.To,
		},
	))
	return &msg, nil
}

func (s *Service) agentFor(ctx context.Context, number string) notify.Agent {
	passportID, found, err := s.PassportFor(ctx, number)
	if err != nil || !found {
		if err != nil {
			s.logger.WarnContext(ctx, "sms event without passport", "error", err)
		}
		return notify.Agent{}
	}
	agent := notify.Agent{PassportID: passportID}
	if s.directory == nil {
		return agent
	}
	_, name, _, err := s.directory.Lookup(ctx, passportID)
	if err != nil {
		s.logger.WarnContext(ctx, "agent name unavailable",
			"passport_id", passportID,
			"error", err,
		)
	}
	agent.Name = name
	return agent
}

func (s *Service) append(ctx context.Context, msg Message) error {
	created, err := kv.PutJSONIfAbsent(ctx, s.store, messageKeyPrefix+msg.ID, msg)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store message")
	}
	if !created {
		return dErrors.New(dErrors.CodeConflict, "message id already exists")
	}
	if err := kv.PutJSON(ctx, s.store, inboxPrefix(msg.To)+msg.ID, msg); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store message")
	}
	return nil
}

// WaitForSMS returns the latest message when the inbox is non-empty without
// consuming it. Otherwise it queues behind earlier waiters until a message
// arrives or timeout elapses. A non-positive timeout uses the default.
func (s *Service) WaitForSMS(ctx context.Context, number string, timeout time.Duration) (*Message, error) {
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}

	s.mu.Lock()
	latest, err := s.latest(ctx, number)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if latest != nil {
		s.mu.Unlock()
		s.metrics.observeWait(waitImmediate)
		return latest, nil
	}
	waiter := s.waiters.Enqueue(number, timeout)
	s.mu.Unlock()

	msg, err := waiter.Wait(ctx)
	switch {
	case err == nil:
		s.metrics.observeWait(waitDelivered)
		return &msg, nil
	case errors.Is(err, waitq.ErrTimeout):
		s.metrics.observeWait(waitTimeout)
		return nil, dErrors.New(dErrors.CodeTimeout, "no sms received before timeout")
	default:
		s.metrics.observeWait(waitCancelled)
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "wait for sms cancelled")
	}
}

// Waiting returns the number of queued waiters on number.
func (s *Service) Waiting(number string) int {
	return s.waiters.Len(number)
}

func (s *Service) latest(ctx context.Context, number string) (*Message, error) {
	keys, err := s.store.Keys(ctx, inboxPrefix(number))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read inbox")
	}
	for i := len(keys) - 1; i >= 0; i-- {
		var msg Message
		found, err := kv.GetJSON(ctx, s.store, keys[i], &msg)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read inbox")
		}
		if found {
			return &msg, nil
		}
	}
	return nil, nil
}

// ListSMS returns the inbox of number in arrival order.
func (s *Service) ListSMS(ctx context.Context, number string) ([]Message, error) {
	keys, err := s.store.Keys(ctx, inboxPrefix(number))
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

// GetMessage returns nil when no message has id.
func (s *Service) GetMessage(ctx context.Context, id string) (*Message, error) {
	var msg Message
	found, err := kv.GetJSON(ctx, s.store, messageKeyPrefix+id, &msg)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load message")
	}
	if !found {
		return nil, nil
	}
	return &msg, nil
}

// ExtractOTP finds a one-time code in a stored message. An unknown message
// or a body without a code reports found=false.
func (s *Service) ExtractOTP(ctx context.Context, messageID string) (string, bool, error) {
	msg, err := s.GetMessage(ctx, messageID)
	if err != nil || msg == nil {
		return "", false, err
	}
	code, found := ExtractCode(msg.Body)
	return code, found, nil
}

// PurgePassport releases the passport's number and drops its inbox.
func (s *Service) PurgePassport(ctx context.Context, passportID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	number, found, err := s.numberFor(ctx, passportID)
	if err != nil || !found {
		return err
	}
	keys, err := s.store.Keys(ctx, inboxPrefix(number))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to read inbox")
	}
	for _, key := range keys {
		id := strings.TrimPrefix(key, inboxPrefix(number))
		if _, err := s.store.Delete(ctx, messageKeyPrefix+id); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete message")
		}
		if _, err := s.store.Delete(ctx, key); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete message")
		}
	}
	for _, key := range []string{numberKeyPrefix + number, passportKeyPrefix + passportID} {
		if _, err := s.store.Delete(ctx, key); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to release phone number")
		}
	}
	s.logger.InfoContext(ctx, "mailbox purged",
		"passport_id", passportID,
		"messages", len(keys),
	)
	return nil
}
