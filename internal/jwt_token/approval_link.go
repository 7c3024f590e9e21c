package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "agentpass/pkg/domain-errors"
	"agentpass/pkg/email"
)

const (
	// ApprovalLinkAudience keeps link tokens and owner tokens apart.
	ApprovalLinkAudience = "agentpass-approval-links"
	// ApprovalLinkTTL is how long an approve/deny link stays valid.
	ApprovalLinkTTL = 24 * time.Hour
)

// ApprovalLinkClaims authorize exactly one decision on one approval.
type ApprovalLinkClaims struct {
	Email      string `json:"email"`
	ApprovalID string `json:"approval_id"`
	Approved   bool   `json:"approved"`
	jwt.RegisteredClaims
}

// SignApprovalLink issues the token embedded in a notification action link.
func (s *JWTService) SignApprovalLink(ownerEmail, approvalID string, approved bool) (string, error) {
	if !email.IsValid(ownerEmail) {
		return "", dErrors.New(dErrors.CodeValidation, "owner email is invalid")
	}
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ApprovalLinkClaims{
		Email:      email.Normalize(ownerEmail),
		ApprovalID: approvalID,
		Approved:   approved,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   approvalID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ApprovalLinkTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{ApprovalLinkAudience},
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// VerifyApprovalLink returns the owner, approval and decision a link token
// was issued for.
func (s *JWTService) VerifyApprovalLink(tokenString string) (ownerEmail, approvalID string, approved bool, err error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &ApprovalLinkClaims{}, func(token *jwt.Token) (any, error) {
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(ApprovalLinkAudience),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", "", false, dErrors.New(dErrors.CodeUnauthorized, "approval link has expired")
		}
		return "", "", false, dErrors.New(dErrors.CodeUnauthorized, "invalid approval link")
	}
	claims, ok := parsed.Claims.(*ApprovalLinkClaims)
	if !ok || !parsed.Valid || claims.ApprovalID == "" || !email.IsValid(claims.Email) {
		return "", "", false, dErrors.New(dErrors.CodeUnauthorized, "invalid approval link claims")
	}
	return email.Normalize(claims.Email), claims.ApprovalID, claims.Approved, nil
}
