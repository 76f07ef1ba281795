package auth

import (
	"errors"
	"fmt"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrMissingSecret = errors.New("jwt signing secret is required")
)

// Claims is the session payload carried by a token.
type Claims struct {
	Username string `json:"username"`
	ID       string `json:"id"`
	jwt.RegisteredClaims
}

// Credentials signs and verifies session tokens and checks login passwords.
//
// Every account shares one login password. It is kept only as a bcrypt
// hash after construction.
type Credentials struct {
	secret       []byte
	passwordHash []byte
}

// NewCredentials builds the credential service. secret must be non-empty;
// there is no built-in fallback key.
func NewCredentials(secret, sharedPassword string) (*Credentials, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	if sharedPassword == "" {
		return nil, errors.New("shared login password is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(sharedPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash shared password: %w", err)
	}
	return &Credentials{secret: []byte(secret), passwordHash: hash}, nil
}

// CheckPassword reports whether password is the shared login password.
func (c *Credentials) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword(c.passwordHash, []byte(password)) == nil
}

// Sign issues an HS256 token for the user. Tokens carry no expiry, so the
// same claims always yield the same token.
func (c *Credentials) Sign(username, userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		Username: username,
		ID:       userID,
	})
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a token signed by Sign. Any failure is reported as
// ErrInvalidToken wrapping the parser's reason.
func (c *Credentials) Verify(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.ID) == "" {
		return nil, fmt.Errorf("%w: token id missing", ErrInvalidToken)
	}
	return claims, nil
}
