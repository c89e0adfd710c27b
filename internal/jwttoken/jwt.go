package jwttoken

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	id "namereg/pkg/domain"
	dErrors "namereg/pkg/domain-errors"
)

// Claims are the JWT claims carried by registry access tokens. The host
// boundary authenticates callers; the registry only needs the identity.
type Claims struct {
	Identity string `json:"identity"`
	jwt.RegisteredClaims
}

// Service mints and validates HS256 access tokens.
type Service struct {
	signingKey []byte
	issuer     string
}

func NewService(signingKey, issuer string) *Service {
	return &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
	}
}

// GenerateToken mints a signed token for the given caller identity.
func (s *Service) GenerateToken(caller id.Identity, expiresIn time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Identity: caller.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})
	return token.SignedString(s.signingKey)
}

// ValidateToken verifies the signature and expiry, then returns the caller
// identity the token asserts.
func (s *Service) ValidateToken(tokenString string) (id.Identity, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return id.Identity{}, dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return id.Identity{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return id.Identity{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return id.Identity{}, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	caller, err := id.ParseIdentity(claims.Identity)
	if err != nil || caller.IsNil() {
		return id.Identity{}, dErrors.New(dErrors.CodeUnauthorized, "token carries no caller identity")
	}
	return caller, nil
}
