package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"chirpchat/internal/apperr"
	"chirpchat/internal/models"
)

// Session is the identity resolved from a bearer token.
type Session struct {
	UserID string
	Email  string
	Name   string
	Image  string
}

// SessionClaims are the JWT claims carried by chat session tokens. The
// subject is the user id.
type SessionClaims struct {
	Email   string `json:"email"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

var ErrMissingToken = errors.New("missing token")

// Verifier validates and issues HS256 session tokens.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses token and returns its session. Tokens without an email or
// whose subject is not a user id are rejected.
func (v *Verifier) Verify(token string) (Session, error) {
	if token == "" {
		return Session{}, fmt.Errorf("%w: %w", apperr.ErrAuth, ErrMissingToken)
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", apperr.ErrAuth, err)
	}
	if !parsed.Valid {
		return Session{}, fmt.Errorf("%w: invalid token", apperr.ErrAuth)
	}
	if claims.Subject == "" || claims.Email == "" {
		return Session{}, fmt.Errorf("%w: token lacks user id or email", apperr.ErrAuth)
	}
	if !models.ValidID(claims.Subject) {
		return Session{}, fmt.Errorf("%w: malformed user id", apperr.ErrAuth)
	}

	return Session{
		UserID: claims.Subject,
		Email:  claims.Email,
		Name:   claims.Name,
		Image:  claims.Picture,
	}, nil
}

// Issue signs a token for s that expires after ttl.
func (v *Verifier) Issue(s Session, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		Email:   s.Email,
		Name:    s.Name,
		Picture: s.Image,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(v.secret)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
