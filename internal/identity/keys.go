package identity

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"strings"

	dErrors "agentpass/pkg/domain-errors"
)

// PrivateKeyHeader carries an agent's base64 private key on key-authenticated routes.
const PrivateKeyHeader = "X-Passport-Key"

// EncodePrivateKey renders a private key the way PrivateKeyHeader expects it.
func EncodePrivateKey(key ed25519.PrivateKey) string {
	return base64.StdEncoding.EncodeToString(key)
}

// ParsePrivateKey accepts a base64 encoded 64-byte private key or 32-byte seed.
func ParsePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "passport key is required")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "passport key is not valid base64")
	}
	switch len(raw) {
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	}
	return nil, dErrors.New(dErrors.CodeBadRequest, "passport key has the wrong length")
}

// AuthenticateKey proves that privateKey belongs to the active passport id.
func (r *Registry) AuthenticateKey(ctx context.Context, id string, privateKey ed25519.PrivateKey) (*Passport, error) {
	p, err := r.GetIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "passport not found")
	}
	match, err := r.MatchesKey(ctx, id, privateKey)
	if err != nil {
		return nil, err
	}
	if !match {
		return nil, dErrors.New(dErrors.CodeForbidden, "passport key does not match")
	}
	if !p.IsActive() {
		return nil, dErrors.New(dErrors.CodeForbidden, "passport is revoked")
	}
	return p, nil
}

// AuthenticateHeader parses the PrivateKeyHeader value and authenticates it
// against passport id. The parsed key is returned for vault access.
func (r *Registry) AuthenticateHeader(ctx context.Context, id, header string) (ed25519.PrivateKey, error) {
	key, err := ParsePrivateKey(header)
	if err != nil {
		return nil, err
	}
	if _, err := r.AuthenticateKey(ctx, id, key); err != nil {
		return nil, err
	}
	return key, nil
}
