package authbridge

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/greenharvest/storefront/internal/models"
)

type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// UserFromToken decodes the access token's claims into a User. The
// token is issued and signed by the auth backend; the storefront only
// reads identity out of it, verification stays with the services that
// accept it.
func UserFromToken(token string) (*models.User, error) {
	var claims accessClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("parse subject: %w", err)
	}
	return &models.User{ID: id, Email: claims.Email}, nil
}

// TokenExpiry reports the token's exp claim, zero time when absent.
func TokenExpiry(token string) time.Time {
	var claims jwt.RegisteredClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
