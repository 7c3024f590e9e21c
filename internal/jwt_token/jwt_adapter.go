package jwttoken

import (
	"agentpass/internal/platform/middleware"
)

func ToMiddlewareClaims(claims *Claims) *middleware.OwnerClaims {
	return &middleware.OwnerClaims{
		Email: claims.Email,
		JTI:   claims.ID,
	}
}

// JWTServiceAdapter satisfies middleware.TokenValidator.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*middleware.OwnerClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return ToMiddlewareClaims(claims), nil
}
