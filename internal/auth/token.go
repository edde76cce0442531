// Package auth reads the doctor identifier carried by a bearer token.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrEmptyToken  = errors.New("token cannot be empty")
	ErrNoDoctorID  = errors.New("token does not carry a doctor id")
	ErrNoSecret    = errors.New("a signing secret is required")
	ErrInvalidTTL  = errors.New("token lifetime must be positive")
	ErrInvalidUser = errors.New("doctor id must be positive")
)

// Claims are the token claims the pipeline reads. doctorId may be a JSON
// number or a numeric string.
type Claims struct {
	DoctorID json.Number `json:"doctorId,omitempty"`
	Role     string      `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Doctor returns the doctor id from doctorId, falling back to a numeric subject.
func (c *Claims) Doctor() (int64, error) {
	if c.DoctorID != "" {
		id, err := c.DoctorID.Int64()
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("%w: doctorId %q", ErrNoDoctorID, c.DoctorID)
		}
		return id, nil
	}
	if id, err := strconv.ParseInt(c.Subject, 10, 64); err == nil && id > 0 {
		return id, nil
	}
	return 0, ErrNoDoctorID
}

// Authenticator extracts and issues doctor tokens. Without a secret, tokens
// are parsed without verifying their signature.
type Authenticator struct {
	secretKey []byte
}

// New creates an Authenticator. An empty secret disables verification.
func New(secretKey string) *Authenticator {
	return &Authenticator{secretKey: []byte(secretKey)}
}

// Verifies reports whether signatures are checked.
func (a *Authenticator) Verifies() bool {
	return len(a.secretKey) > 0
}

// Parse returns the claims of a token, with or without a "Bearer " prefix.
func (a *Authenticator) Parse(tokenString string) (*Claims, error) {
	tokenString = stripBearer(tokenString)
	if tokenString == "" {
		return nil, ErrEmptyToken
	}

	claims := &Claims{}
	if !a.Verifies() {
		if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
			return nil, fmt.Errorf("invalid token: %w", err)
		}
		return claims, nil
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secretKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("token is not valid")
	}
	return claims, nil
}

func stripBearer(s string) string {
	s = strings.TrimSpace(s)
	if s == "Bearer" {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(s, "Bearer "))
}

// DoctorID returns the doctor id carried by a token.
func (a *Authenticator) DoctorID(tokenString string) (int64, error) {
	claims, err := a.Parse(tokenString)
	if err != nil {
		return 0, err
	}
	return claims.Doctor()
}

// IssueToken signs a token for doctorID, valid for ttl. Used by development
// tooling; production tokens come from the clinic's login service.
func (a *Authenticator) IssueToken(doctorID int64, ttl time.Duration) (string, time.Time, error) {
	if !a.Verifies() {
		return "", time.Time{}, ErrNoSecret
	}
	if doctorID <= 0 {
		return "", time.Time{}, ErrInvalidUser
	}
	if ttl <= 0 {
		return "", time.Time{}, ErrInvalidTTL
	}

	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := Claims{
		DoctorID: json.Number(strconv.FormatInt(doctorID, 10)),
		Role:     "DOCTOR",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(doctorID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(a.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token: %w", err)
	}
	return tokenString, expiresAt, nil
}
