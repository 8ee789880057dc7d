package delivery

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token verification failures, in the order they are checked.
var (
	ErrInvalidFormat    = errors.New("token is malformed")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrExpired          = errors.New("token has expired")

	ErrMissingSecret = errors.New("delivery token secret is not configured")
)

// minSecretLen is the shortest HMAC key accepted.
const minSecretLen = 32

// Claims is the signed payload of a delivery token.
type Claims struct {
	OrderID string `json:"oid"`
	Email   string `json:"email"`
	jwt.RegisteredClaims
}

// Verified is a token whose signature and expiry checked out.
type Verified struct {
	OrderID   string
	Email     string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Signer issues and parses HS256 delivery tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a signer. It fails fast when the secret is missing or short.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("%w: secret must be at least %d bytes", ErrMissingSecret, minSecretLen)
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue mints a token for the order's buyer.
func (s *Signer) Issue(orderID, email string) (string, error) {
	now := s.now()
	claims := Claims{
		OrderID: orderID,
		Email:   email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign delivery token: %w", err)
	}
	return signed, nil
}

// Parse checks structure, then signature, then expiry. It does not consult
// the used marker.
func (s *Signer) Parse(token string) (*Verified, error) {
	if strings.Count(token, ".") != 2 {
		return nil, ErrInvalidFormat
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, classify(err)
	}
	if claims.OrderID == "" || claims.Email == "" {
		return nil, ErrInvalidFormat
	}

	v := &Verified{
		OrderID: claims.OrderID,
		Email:   claims.Email,
		TokenID: TokenID(token),
	}
	if claims.IssuedAt != nil {
		v.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		v.ExpiresAt = claims.ExpiresAt.Time
	}
	return v, nil
}

// classify maps jwt errors onto the verification taxonomy. jwt checks the
// signature before any claim, so an expired token with a bad signature is
// reported as a bad signature.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	}
	return fmt.Errorf("%w: %v", ErrInvalidFormat, err)
}

// TokenID is the stable identity of a token: the hex SHA-256 of its
// signature segment.
func TokenID(token string) string {
	sig := token
	if i := strings.LastIndex(token, "."); i >= 0 {
		sig = token[i+1:]
	}
	sum := sha256.Sum256([]byte(sig))
	return hex.EncodeToString(sum[:])
}

// OrderIDHint extracts the order id from an unverified token, for access-log
// attribution only. It returns "" when the payload cannot be read.
func OrderIDHint(token string) string {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return ""
	}
	return claims.OrderID
}
