// Package vault stores per-agent service credentials encrypted under keys
// derived from the agent's Ed25519 private key. The server never keeps that
// key: callers present it to Open, and records stay unreadable otherwise.
package vault

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"agentpass/internal/platform/kv"
	"agentpass/pkg/domain"
	dErrors "agentpass/pkg/domain-errors"
	"agentpass/pkg/platform/sentinel"
	"agentpass/pkg/requestcontext"
)

const (
	keyPrefix        = "vault:"
	maxServiceLength = 256
)

// Vault is the credential store shared by every passport.
type Vault struct {
	store   kv.Store
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

type Option func(*Vault)

func WithLogger(logger *slog.Logger) Option {
	return func(v *Vault) {
		v.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(v *Vault) {
		v.metrics = m
	}
}

func New(store kv.Store, opts ...Option) *Vault {
	v := &Vault{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
		tracer: otel.Tracer("agentpass/vault"),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func passportPrefix(passportID string) string {
	return keyPrefix + passportID + ":"
}

// Open derives the passport's subkeys from privateKey. Opening never touches
// the store; a key that does not belong to the passport is only detected
// when an existing record fails to authenticate.
func (v *Vault) Open(passportID string, privateKey ed25519.PrivateKey) (*Box, error) {
	if !domain.IsValidPassportID(passportID) {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid passport id format")
	}
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid private key")
	}
	k, err := deriveKeys(passportID, privateKey)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to derive vault keys")
	}
	return &Box{vault: v, passportID: passportID, keys: k}, nil
}

// PurgePassport deletes every record of a passport. It needs no key: records
// are removed, never read.
func (v *Vault) PurgePassport(ctx context.Context, passportID string) error {
	keys, err := v.store.Keys(ctx, passportPrefix(passportID))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to list vault records")
	}
	for _, key := range keys {
		if _, err := v.store.Delete(ctx, key); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete vault record")
		}
	}
	if len(keys) > 0 {
		v.logger.InfoContext(ctx, "vault purged",
			"passport_id", passportID,
			"records", len(keys),
		)
	}
	return nil
}

// Box is one passport's vault opened with its private key.
type Box struct {
	vault      *Vault
	passportID string
	keys       *keys
}

// PassportID returns the passport the box was opened for.
func (b *Box) PassportID() string { return b.passportID }

// Close wipes the derived keys. Every later call on the box fails.
func (b *Box) Close() {
	b.keys.wipe()
}

func (b *Box) checkOpen() error {
	if b.keys.wiped() {
		return dErrors.New(dErrors.CodeInternal, "vault box is closed")
	}
	return nil
}

func (b *Box) recordKey(service string) (string, string) {
	slot := b.keys.slot(service)
	return passportPrefix(b.passportID) + slot, slot
}

func normalizeService(service string) (string, error) {
	service = strings.TrimSpace(service)
	if service == "" {
		return "", dErrors.New(dErrors.CodeValidation, "service is required")
	}
	if len(service) > maxServiceLength {
		return "", dErrors.New(dErrors.CodeValidation, "service name is too long")
	}
	return service, nil
}

// StoreCredential saves or replaces the credential for in.Service.
func (b *Box) StoreCredential(ctx context.Context, in StoreInput) (*Credential, error) {
	ctx, span := b.vault.tracer.Start(ctx, "vault.store", trace.WithAttributes(
		attribute.String("passport.id", b.passportID),
	))
	defer span.End()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	service, err := normalizeService(in.Service)
	if err != nil {
		return nil, err
	}
	cred := &Credential{
		Service:  service,
		Username: in.Username,
		Password: in.Password,
		Email:    in.Email,
		StoredAt: requestcontext.Now(ctx).UTC(),
	}
	plaintext, err := json.Marshal(cred)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode credential")
	}
	defer zeroBytes(plaintext)

	key, slot := b.recordKey(service)
	sealed, err := b.keys.seal(b.passportID, slot, plaintext)
	if err != nil {
		span.SetStatus(codes.Error, "seal failed")
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to seal credential")
	}
	if err := b.vault.store.Put(ctx, key, sealed); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to store credential")
	}

	b.vault.metrics.observe("store")
	b.vault.logger.InfoContext(ctx, "credential stored",
		"passport_id", b.passportID,
		"request_id", requestcontext.RequestID(ctx),
	)
	return cred, nil
}

// GetCredential returns nil when nothing is stored for service.
func (b *Box) GetCredential(ctx context.Context, service string) (*Credential, error) {
	ctx, span := b.vault.tracer.Start(ctx, "vault.get", trace.WithAttributes(
		attribute.String("passport.id", b.passportID),
	))
	defer span.End()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	service = strings.TrimSpace(service)
	if service == "" {
		return nil, nil
	}
	key, slot := b.recordKey(service)
	raw, err := b.vault.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credential")
	}
	cred, err := b.decode(ctx, slot, raw)
	if err != nil {
		span.SetStatus(codes.Error, "open failed")
		return nil, err
	}
	b.vault.metrics.observe("get")
	return cred, nil
}

// ListCredentials returns a summary of every stored credential. Order is
// unspecified.
func (b *Box) ListCredentials(ctx context.Context) ([]Summary, error) {
	ctx, span := b.vault.tracer.Start(ctx, "vault.list", trace.WithAttributes(
		attribute.String("passport.id", b.passportID),
	))
	defer span.End()

	if err := b.checkOpen(); err != nil {
		return nil, err
	}
	prefix := passportPrefix(b.passportID)
	keys, err := b.vault.store.Keys(ctx, prefix)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list credentials")
	}
	out := make([]Summary, 0, len(keys))
	for _, key := range keys {
		raw, err := b.vault.store.Get(ctx, key)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				continue
			}
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credential")
		}
		cred, err := b.decode(ctx, strings.TrimPrefix(key, prefix), raw)
		if err != nil {
			span.SetStatus(codes.Error, "open failed")
			return nil, err
		}
		out = append(out, cred.Summarize())
	}
	b.vault.metrics.observe("list")
	return out, nil
}

// DeleteCredential reports whether a credential for service existed.
func (b *Box) DeleteCredential(ctx context.Context, service string) (bool, error) {
	if err := b.checkOpen(); err != nil {
		return false, err
	}
	service = strings.TrimSpace(service)
	if service == "" {
		return false, nil
	}
	key, _ := b.recordKey(service)
	deleted, err := b.vault.store.Delete(ctx, key)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete credential")
	}
	if deleted {
		b.vault.metrics.observe("delete")
		b.vault.logger.InfoContext(ctx, "credential deleted",
			"passport_id", b.passportID,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return deleted, nil
}

func (b *Box) decode(ctx context.Context, slot string, raw []byte) (*Credential, error) {
	plaintext, err := b.keys.open(b.passportID, slot, raw)
	if err != nil {
		if errors.Is(err, errAuthFailed) {
			b.vault.metrics.observeAuthFailure()
			b.vault.logger.WarnContext(ctx, "vault key mismatch",
				"passport_id", b.passportID,
				"request_id", requestcontext.RequestID(ctx),
			)
			return nil, dErrors.New(dErrors.CodeForbidden, "vault key mismatch")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "corrupt vault record")
	}
	defer zeroBytes(plaintext)

	var cred Credential
	if err := json.Unmarshal(plaintext, &cred); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "corrupt vault record")
	}
	return &cred, nil
}
