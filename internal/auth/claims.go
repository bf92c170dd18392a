package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DeviceClaims is the payload of a display credential.
// The subject is the display ID.
type DeviceClaims struct {
	jwt.RegisteredClaims
	DeviceIdentifier string `json:"deviceIdentifier"`
	OrganizationID   string `json:"organizationId"`
	Type             string `json:"type"`
}

// UserClaims is the payload of a dashboard bearer token.
// The subject is the user ID.
type UserClaims struct {
	jwt.RegisteredClaims
	OrganizationID string `json:"organizationId"`
	Role           Role   `json:"role"`
}

// GenerateDeviceToken signs a long-lived credential for a paired display.
func GenerateDeviceToken(id DeviceIdentity, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := DeviceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.DisplayID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		DeviceIdentifier: id.DeviceIdentifier,
		OrganizationID:   id.OrganizationID,
		Type:             TokenTypeDevice,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing device token: %w", err)
	}
	return signed, nil
}

// ParseDeviceToken verifies a display credential and returns its identity.
// Tokens whose type claim is not "device" are rejected with ErrTokenWrongType.
func ParseDeviceToken(tokenString, secret string) (*DeviceIdentity, error) {
	claims := &DeviceClaims{}
	if err := parse(tokenString, secret, claims); err != nil {
		return nil, err
	}

	if claims.Type != TokenTypeDevice {
		return nil, ErrTokenWrongType
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	return &DeviceIdentity{
		DisplayID:        claims.Subject,
		DeviceIdentifier: claims.DeviceIdentifier,
		OrganizationID:   claims.OrganizationID,
	}, nil
}

// GenerateUserToken signs a dashboard token. fleetd only verifies these;
// signing exists for tooling and tests.
func GenerateUserToken(p Principal, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := UserClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		OrganizationID: p.OrganizationID,
		Role:           p.Role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing user token: %w", err)
	}
	return signed, nil
}

// ParseUserToken verifies a dashboard token and returns the principal.
// Organisation and role claims are required.
func ParseUserToken(tokenString, secret string) (*Principal, error) {
	claims := &UserClaims{}
	if err := parse(tokenString, secret, claims); err != nil {
		return nil, err
	}

	switch {
	case claims.Subject == "":
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	case claims.OrganizationID == "":
		return nil, fmt.Errorf("%w: missing organizationId", ErrTokenInvalid)
	case claims.Role == "":
		return nil, fmt.Errorf("%w: missing role", ErrTokenInvalid)
	}

	return &Principal{
		UserID:         claims.Subject,
		OrganizationID: claims.OrganizationID,
		Role:           claims.Role,
	}, nil
}

func parse(tokenString, secret string, claims jwt.Claims) error {
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return ErrTokenInvalid
	}
	return nil
}
