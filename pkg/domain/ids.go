package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"

	"github.com/google/uuid"

	dErrors "agentpass/pkg/domain-errors"
)

// PassportIDPrefix starts every passport identifier.
const PassportIDPrefix = "ap_"

const (
	passportIDRandLen  = 12
	passportIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

var passportIDPattern = regexp.MustCompile(`^ap_[a-z0-9]{12}$`)

// PassportID identifies an agent passport: "ap_" followed by 12 lowercase
// base-36 characters.
type PassportID string

// NewPassportID draws a fresh random passport identifier. Uniqueness is the
// caller's concern; the registry retries on collision.
func NewPassportID() (PassportID, error) {
	buf := make([]byte, passportIDRandLen)
	limit := big.NewInt(int64(len(passportIDAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("could not generate passport id: %w", err)
		}
		buf[i] = passportIDAlphabet[n.Int64()]
	}
	return PassportID(PassportIDPrefix + string(buf)), nil
}

// ParsePassportID validates the identifier format.
func ParsePassportID(s string) (PassportID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeBadRequest, "passport id is required")
	}
	if !passportIDPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeBadRequest, "invalid passport id format")
	}
	return PassportID(s), nil
}

// IsValidPassportID reports whether s is a well-formed passport identifier.
func IsValidPassportID(s string) bool {
	return passportIDPattern.MatchString(s)
}

func (id PassportID) String() string {
	return string(id)
}

// ApprovalID identifies an approval request.
type ApprovalID uuid.UUID

// NewApprovalID returns a random approval identifier.
func NewApprovalID() ApprovalID {
	return ApprovalID(uuid.New())
}

// ParseApprovalID parses a UUID string into an ApprovalID.
func ParseApprovalID(s string) (ApprovalID, error) {
	if s == "" {
		return ApprovalID{}, dErrors.New(dErrors.CodeBadRequest, "approval id is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil || parsed == uuid.Nil {
		return ApprovalID{}, dErrors.New(dErrors.CodeBadRequest, "invalid approval id")
	}
	return ApprovalID(parsed), nil
}

func (id ApprovalID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether the identifier is the zero UUID.
func (id ApprovalID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

// MarshalText encodes the identifier as its UUID string.
func (id ApprovalID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes a UUID string.
func (id *ApprovalID) UnmarshalText(data []byte) error {
	parsed, err := uuid.ParseBytes(data)
	if err != nil {
		return err
	}
	*id = ApprovalID(parsed)
	return nil
}
