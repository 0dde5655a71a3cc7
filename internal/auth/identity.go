package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apperrors "ticketing/internal/errors"
	"ticketing/internal/models"
)

// Config holds the bearer token verification settings
type Config struct {
	JWTSecret string
	Issuer    string
}

// Principal is the caller resolved from a bearer credential
type Principal struct {
	UserID int64
	Role   models.Role
	Email  string
}

// Identity resolves a bearer credential into a principal.
type Identity interface {
	Resolve(ctx context.Context, credential string) (*Principal, error)
}

// Claims is the token payload issued by the identity provider.
type Claims struct {
	ID    int64  `json:"id"`
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTIdentity verifies HS256 tokens signed with a shared secret.
type JWTIdentity struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTIdentity(cfg Config) (*JWTIdentity, error) {
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is not configured")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	return &JWTIdentity{
		secret: []byte(cfg.JWTSecret),
		parser: jwt.NewParser(opts...),
	}, nil
}

func (j *JWTIdentity) Resolve(_ context.Context, credential string) (*Principal, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, apperrors.ErrUnauthorized
	}

	claims := &Claims{}
	_, err := j.parser.ParseWithClaims(credential, claims, func(*jwt.Token) (interface{}, error) {
		return j.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}

	role := models.Role(claims.Role)
	if claims.ID <= 0 || !ValidRole(role) {
		return nil, apperrors.ErrUnauthorized
	}

	return &Principal{UserID: claims.ID, Role: role, Email: claims.Email}, nil
}

// Sign issues a token for p. It is used by the seeding tool and tests;
// production tokens come from the identity provider.
func (j *JWTIdentity) Sign(p Principal, claims jwt.RegisteredClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:               p.UserID,
		Role:             string(p.Role),
		Email:            p.Email,
		RegisteredClaims: claims,
	})
	return token.SignedString(j.secret)
}
