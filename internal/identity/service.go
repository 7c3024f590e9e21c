// Package identity issues and manages agent passports: Ed25519 keypairs
// bound to a human owner's email.
package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/asaskevich/govalidator"

	"agentpass/internal/notify"
	"agentpass/pkg/domain"
	dErrors "agentpass/pkg/domain-errors"
	"agentpass/pkg/email"
	"agentpass/pkg/platform/sentinel"
	"agentpass/pkg/requestcontext"
)

// maxIDAttempts only guards against a broken id source; with 36^12 ids a
// second draw is already rare.
const maxIDAttempts = 32

// Store persists passports.
type Store interface {
	CreateIfAbsent(ctx context.Context, p *Passport) (bool, error)
	FindByID(ctx context.Context, id string) (*Passport, error)
	List(ctx context.Context) ([]*Passport, error)
	Update(ctx context.Context, p *Passport) error
	Delete(ctx context.Context, id string) (bool, error)
}

// Registry is the identity service.
type Registry struct {
	store     Store
	publisher notify.Publisher
	logger    *slog.Logger
	metrics   *Metrics
	newID     func() (domain.PassportID, error)

	// serializes read-modify-write transitions
	mu sync.Mutex
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func WithPublisher(publisher notify.Publisher) Option {
	return func(r *Registry) {
		r.publisher = publisher
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithIDGenerator replaces the random passport id source.
func WithIDGenerator(gen func() (domain.PassportID, error)) Option {
	return func(r *Registry) {
		r.newID = gen
	}
}

func New(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:     store,
		publisher: notify.Discard{},
		logger:    slog.New(slog.DiscardHandler),
		newID:     domain.NewPassportID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateIdentity issues a new passport with a fresh keypair. The private key
// is returned to the caller and not retained.
func (r *Registry) CreateIdentity(ctx context.Context, in CreateInput) (*CreateResult, error) {
	name := strings.TrimSpace(in.Name)
	if !govalidator.RuneLength(name, "1", strconv.Itoa(MaxNameLength)) {
		return nil, dErrors.New(dErrors.CodeValidation, "name must be between 1 and 64 characters")
	}
	if len([]rune(in.Description)) > MaxDescriptionLength {
		return nil, dErrors.New(dErrors.CodeValidation, "description is too long")
	}
	ownerEmail := email.Normalize(in.OwnerEmail)
	if !email.IsValid(ownerEmail) {
		return nil, dErrors.New(dErrors.CodeValidation, "owner email is invalid")
	}

	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate keypair")
	}
	encodedKey := base64.StdEncoding.EncodeToString(publicKey)

	passport := &Passport{
		Identity: Info{
			Name:        name,
			Description: in.Description,
			PublicKey:   encodedKey,
		},
		Owner:     Owner{Email: ownerEmail},
		Trust:     Trust{Level: TrustLevelUnverified, Score: 0},
		Status:    StatusActive,
		CreatedAt: requestcontext.Now(ctx).UTC(),
	}

	if err := r.allocate(ctx, passport); err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "passport created",
		"passport_id", passport.ID(),
		"request_id", requestcontext.RequestID(ctx),
	)
	if r.metrics != nil {
		r.metrics.Created.Inc()
	}
	r.publish(ctx, notify.EventAgentRegistered, passport, map[string]any{
		"owner_email": passport.Owner.Email,
	})

	return &CreateResult{
		Passport:   *passport,
		PublicKey:  encodedKey,
		PrivateKey: privateKey,
	}, nil
}

func (r *Registry) allocate(ctx context.Context, passport *Passport) error {
	for range maxIDAttempts {
		id, err := r.newID()
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate passport id")
		}
		passport.PassportID = id.String()
		created, err := r.store.CreateIfAbsent(ctx, passport)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to store passport")
		}
		if created {
			return nil
		}
		if r.metrics != nil {
			r.metrics.IDCollisions.Inc()
		}
	}
	return dErrors.New(dErrors.CodeInternal, "could not allocate a unique passport id")
}

// GetIdentity returns nil when no passport has id. Malformed ids are simply
// absent.
func (r *Registry) GetIdentity(ctx context.Context, id string) (*Passport, error) {
	if !domain.IsValidPassportID(id) {
		return nil, nil
	}
	p, err := r.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load passport")
	}
	return p, nil
}

// ListIdentities returns summaries of every passport in creation order.
func (r *Registry) ListIdentities(ctx context.Context) ([]Summary, error) {
	return r.summaries(ctx, func(*Passport) bool { return true })
}

// ListOwned returns summaries of the passports owned by ownerEmail.
func (r *Registry) ListOwned(ctx context.Context, ownerEmail string) ([]Summary, error) {
	return r.summaries(ctx, func(p *Passport) bool {
		return email.SameOwner(p.Owner.Email, ownerEmail)
	})
}

func (r *Registry) summaries(ctx context.Context, keep func(*Passport) bool) ([]Summary, error) {
	passports, err := r.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list passports")
	}
	out := make([]Summary, 0, len(passports))
	for _, p := range passports {
		if keep(p) {
			out = append(out, p.Summarize())
		}
	}
	return out, nil
}

// DeleteIdentity removes the registry record and reports whether it existed.
// Vault records and the phone number are released separately by the caller.
func (r *Registry) DeleteIdentity(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.GetIdentity(ctx, id)
	if err != nil || p == nil {
		return false, err
	}
	deleted, err := r.store.Delete(ctx, id)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete passport")
	}
	if !deleted {
		return false, nil
	}

	r.logger.InfoContext(ctx, "passport deleted",
		"passport_id", id,
		"request_id", requestcontext.RequestID(ctx),
	)
	if r.metrics != nil {
		r.metrics.Deleted.Inc()
	}
	r.publish(ctx, notify.EventAgentDeleted, p, nil)
	return true, nil
}

// RevokeIdentity marks the passport revoked. Revoking twice is a no-op that
// still reports true; only unknown ids report false.
func (r *Registry) RevokeIdentity(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.GetIdentity(ctx, id)
	if err != nil || p == nil {
		return false, err
	}
	if p.Status == StatusRevoked {
		return true, nil
	}
	p.Status = StatusRevoked
	if err := r.store.Update(ctx, p); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke passport")
	}

	r.logger.InfoContext(ctx, "passport revoked",
		"passport_id", id,
		"request_id", requestcontext.RequestID(ctx),
	)
	if r.metrics != nil {
		r.metrics.Revoked.Inc()
	}
	r.publish(ctx, notify.EventAgentRevoked, p, nil)
	return true, nil
}

// Lookup returns the owner email and agent name of a passport.
func (r *Registry) Lookup(ctx context.Context, id string) (owner, name string, found bool, err error) {
	p, err := r.GetIdentity(ctx, id)
	if err != nil || p == nil {
		return "", "", false, err
	}
	return p.Owner.Email, p.Identity.Name, true, nil
}

// VerifySignature checks an Ed25519 signature over challenge against the
// passport's public key. Unknown and revoked passports never verify.
func (r *Registry) VerifySignature(ctx context.Context, id string, challenge, signature []byte) (bool, error) {
	p, err := r.GetIdentity(ctx, id)
	if err != nil || p == nil || !p.IsActive() {
		return false, err
	}
	publicKey, err := decodePublicKey(p.Identity.PublicKey)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(publicKey, challenge, signature), nil
}

// MatchesKey reports whether privateKey is the key issued for passport id.
func (r *Registry) MatchesKey(ctx context.Context, id string, privateKey ed25519.PrivateKey) (bool, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return false, nil
	}
	p, err := r.GetIdentity(ctx, id)
	if err != nil || p == nil {
		return false, err
	}
	publicKey, err := decodePublicKey(p.Identity.PublicKey)
	if err != nil {
		return false, err
	}
	derived, ok := privateKey.Public().(ed25519.PublicKey)
	return ok && derived.Equal(publicKey), nil
}

func decodePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, dErrors.New(dErrors.CodeInternal, "stored public key is corrupt")
	}
	return ed25519.PublicKey(raw), nil
}

func (r *Registry) publish(ctx context.Context, eventType notify.EventType, p *Passport, data map[string]any) {
	r.publisher.Publish(ctx, notify.NewEvent(eventType, notify.Agent{
		PassportID: p.ID(),
		Name:       p.Identity.Name,
	}, data))
}
