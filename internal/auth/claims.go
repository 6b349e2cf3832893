package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenKind distinguishes user tokens from device tokens.
type TokenKind string

const (
	KindUser   TokenKind = "user"
	KindDevice TokenKind = "device"
)

// defaultAccessTTL applies when the configured access TTL is not positive.
const defaultAccessTTL = 15 * time.Minute

// Claims extends JWT standard claims with RelayHub fields.
// Role is empty for device tokens.
type Claims struct {
	jwt.RegisteredClaims
	Kind TokenKind `json:"kind"`
	Role Role      `json:"role,omitempty"`
}

// UserID returns the numeric user ID of a user token's subject.
func (c *Claims) UserID() (int64, error) {
	if c.Kind != KindUser {
		return 0, ErrTokenKind
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: subject is not a user id", ErrTokenInvalid)
	}
	return id, nil
}

// Tokens issues and verifies HS256 tokens with one signing secret.
type Tokens struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	deviceTTL time.Duration
	now       func() time.Time
}

// NewTokens creates a token issuer. A zero deviceTTL issues device tokens
// without expiry.
func NewTokens(secret, issuer string, accessTTL, deviceTTL time.Duration) *Tokens {
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	return &Tokens{
		secret:    []byte(secret),
		issuer:    issuer,
		accessTTL: accessTTL,
		deviceTTL: deviceTTL,
		now:       time.Now,
	}
}

// AccessTTL returns the lifetime of user access tokens.
func (t *Tokens) AccessTTL() time.Duration {
	return t.accessTTL
}

// IssueAccessToken creates a signed access token for a user.
func (t *Tokens) IssueAccessToken(user *User) (string, error) {
	now := t.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
			ID:        uuid.NewString(),
		},
		Kind: KindUser,
		Role: user.Role,
	}
	return t.sign(claims)
}

// IssueDeviceToken creates a signed token an agent uses to authenticate
// as deviceID.
func (t *Tokens) IssueDeviceToken(deviceID string) (string, error) {
	now := t.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   t.issuer,
			Subject:  deviceID,
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
		Kind: KindDevice,
	}
	if t.deviceTTL > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(t.deviceTTL))
	}
	return t.sign(claims)
}

func (t *Tokens) sign(claims Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Parse validates signature, expiry and issuer and returns the claims.
func (t *Tokens) Parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
	}
	if t.issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(_ *jwt.Token) (any, error) {
		return t.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}

// ParseUser parses a user access token.
func (t *Tokens) ParseUser(tokenString string) (*Claims, error) {
	claims, err := t.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Kind != KindUser {
		return nil, ErrTokenKind
	}
	if !IsValidRole(claims.Role) {
		return nil, fmt.Errorf("%w: missing role", ErrTokenInvalid)
	}
	return claims, nil
}

// VerifyDevice checks that tokenString is a valid device token for deviceID.
func (t *Tokens) VerifyDevice(tokenString, deviceID string) error {
	claims, err := t.Parse(tokenString)
	if err != nil {
		return err
	}
	if claims.Kind != KindDevice {
		return ErrTokenKind
	}
	if claims.Subject != deviceID {
		return ErrTokenSubject
	}
	return nil
}

// IsAuthError reports whether err came from token validation.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrTokenInvalid) || errors.Is(err, ErrTokenKind) || errors.Is(err, ErrTokenSubject)
}
