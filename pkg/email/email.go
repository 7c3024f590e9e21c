// Package email normalizes and validates owner email addresses. Ownership
// checks compare normalized forms so casing and surrounding whitespace never
// decide access.
package email

import (
	"strings"

	"github.com/asaskevich/govalidator"
)

// MaxLength bounds stored addresses (RFC 5321 path limit).
const MaxLength = 254

// Normalize trims whitespace and lowercases the address.
func Normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// IsValid reports whether address is a syntactically valid email.
func IsValid(address string) bool {
	address = strings.TrimSpace(address)
	if address == "" || len(address) > MaxLength {
		return false
	}
	return govalidator.IsEmail(address)
}

// SameOwner reports whether two addresses name the same owner.
func SameOwner(a, b string) bool {
	a, b = Normalize(a), Normalize(b)
	return a != "" && a == b
}
