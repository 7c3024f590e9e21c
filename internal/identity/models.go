package identity

import (
	"crypto/ed25519"
	"time"
)

// Status of a passport. Revocation is one-way.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// TrustLevelUnverified is the level of every newly issued passport.
const TrustLevelUnverified = "unverified"

const (
	MaxNameLength        = 64
	MaxDescriptionLength = 1024
)

// Info is the public identity of an agent.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PublicKey   string `json:"public_key"`
}

// Owner is the human responsible for the agent.
type Owner struct {
	Email string `json:"email"`
}

// Trust is the reputation carried by a passport.
type Trust struct {
	Level string `json:"level"`
	Score int    `json:"score"`
}

// Passport is the stored registry record. It never holds private key material.
type Passport struct {
	PassportID string    `json:"passport_id"`
	Identity   Info      `json:"identity"`
	Owner      Owner     `json:"owner"`
	Trust      Trust     `json:"trust"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// ID returns the passport identifier.
func (p Passport) ID() string { return p.PassportID }

// IsActive reports whether the passport has not been revoked.
func (p Passport) IsActive() bool { return p.Status == StatusActive }

// Summary is the listing projection of a passport.
type Summary struct {
	PassportID string    `json:"passport_id"`
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Summarize projects p for listings.
func (p Passport) Summarize() Summary {
	return Summary{
		PassportID: p.PassportID,
		Name:       p.Identity.Name,
		Status:     p.Status,
		CreatedAt:  p.CreatedAt,
	}
}

// PublicView is what unauthenticated callers may learn about a passport.
type PublicView struct {
	PassportID string `json:"passport_id"`
	Name       string `json:"name"`
	PublicKey  string `json:"public_key"`
	Trust      Trust  `json:"trust"`
	Status     Status `json:"status"`
}

// PublicView projects p for unauthenticated lookup.
func (p Passport) PublicView() PublicView {
	return PublicView{
		PassportID: p.PassportID,
		Name:       p.Identity.Name,
		PublicKey:  p.Identity.PublicKey,
		Trust:      p.Trust,
		Status:     p.Status,
	}
}

// CreateInput is the request to issue a passport.
type CreateInput struct {
	Name        string
	Description string
	OwnerEmail  string
}

// CreateResult is returned exactly once, at creation. PrivateKey is never
// stored by the registry; the caller owns it from here on.
type CreateResult struct {
	Passport   Passport
	PublicKey  string
	PrivateKey ed25519.PrivateKey
}
