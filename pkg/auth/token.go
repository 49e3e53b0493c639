package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-payments/pkg/config"
)

// clockSkew tolerates small drift between the issuer and this service.
const clockSkew = 30 * time.Second

var signingMethod = jwt.SigningMethodHS256

// AccessTokenPayload is the operator identity encoded into a token.
type AccessTokenPayload struct {
	UserID      uuid.UUID
	Role        Role
	Permissions []Permission
	JTI         string
}

// AccessTokenClaims is the verified JWT body.
type AccessTokenClaims struct {
	UserID      uuid.UUID    `json:"user_id"`
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

func (p AccessTokenPayload) validate() error {
	if p.UserID == uuid.Nil {
		return errors.New("jwt: user id required")
	}
	if !p.Role.IsValid() {
		return fmt.Errorf("jwt: invalid role %q", p.Role)
	}
	for _, perm := range p.Permissions {
		if !perm.IsValid() {
			return fmt.Errorf("jwt: invalid permission %q", perm)
		}
	}
	return nil
}

func ttl(cfg config.JWTConfig) (time.Duration, error) {
	switch {
	case cfg.Secret == "":
		return 0, errors.New("jwt: secret required")
	case cfg.Issuer == "":
		return 0, errors.New("jwt: issuer required")
	case cfg.ExpirationMinutes <= 0:
		return 0, errors.New("jwt: expiration must be positive")
	}
	return time.Duration(cfg.ExpirationMinutes) * time.Minute, nil
}

// MintAccessToken signs payload with HS256. Tokens expire after the
// configured number of minutes from now.
func MintAccessToken(cfg config.JWTConfig, now time.Time, payload AccessTokenPayload) (string, error) {
	lifetime, err := ttl(cfg)
	if err != nil {
		return "", err
	}
	if err := payload.validate(); err != nil {
		return "", err
	}
	jti := payload.JTI
	if jti == "" {
		jti = uuid.NewString()
	}
	claims := AccessTokenClaims{
		UserID:      payload.UserID,
		Role:        payload.Role,
		Permissions: payload.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Issuer:    cfg.Issuer,
			Subject:   payload.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("jwt: sign: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies signature, issuer and expiry.
func ParseAccessToken(cfg config.JWTConfig, raw string) (*AccessTokenClaims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt: secret required")
	}
	claims := new(AccessTokenClaims)
	key := func(*jwt.Token) (any, error) { return []byte(cfg.Secret), nil }
	_, err := jwt.ParseWithClaims(raw, claims, key,
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
