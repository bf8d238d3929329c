// Package auth resolves who is behind a request. Identities are trusted as
// presented; there are no accounts or passwords.
package auth

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type ContextKey string

const IdentityKey ContextKey = "identity"

var (
	ErrNoIdentity   = errors.New("internal/auth: no identity in context")
	ErrInvalidToken = errors.New("internal/auth: invalid bearer token")
)

// Identity is the user a request or connection acts as.
type Identity struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Anonymous bool   `json:"anonymous"`
}

// Claims carries the username next to the registered claims. The subject
// holds the user id.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func MakeJWT(userID, username, tokenSecret string, expiresIn time.Duration) (string, error) {
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Name: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	})

	return token.SignedString([]byte(tokenSecret))
}

func ValidateJWT(tokenString, tokenSecret string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (any, error) { return []byte(tokenSecret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: subject claim is missing", ErrInvalidToken)
	}

	return Identity{
		UserID:   claims.Subject,
		Username: cmp.Or(claims.Name, claims.Subject),
	}, nil
}

// Resolve works out the identity of a request. A bearer token is honoured
// when tokenSecret is set; otherwise the X-User-Id and X-Username headers
// are taken at face value. Requests carrying neither get an anonymous
// identity.
func Resolve(r *http.Request, tokenSecret string) (Identity, error) {
	if bearer, ok := BearerToken(r.Header); ok && tokenSecret != "" {
		return ValidateJWT(bearer, tokenSecret)
	}

	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	username := strings.TrimSpace(r.Header.Get("X-Username"))
	if userID != "" || username != "" {
		return Identity{
			UserID:   cmp.Or(userID, username),
			Username: cmp.Or(username, userID),
		}, nil
	}

	return Anonymous(time.Now()), nil
}

// BearerToken extracts the token of an "Authorization: Bearer" header.
func BearerToken(h http.Header) (string, bool) {
	scheme, token, ok := strings.Cut(h.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Anonymous returns a throwaway identity for callers that did not present one.
func Anonymous(now time.Time) Identity {
	return Identity{
		UserID:    fmt.Sprintf("anon_%d", now.UnixMilli()),
		Username:  fmt.Sprintf("User%d", rand.IntN(1000)),
		Anonymous: true,
	}
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, IdentityKey, id)
}

func IdentityFromContext(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(IdentityKey).(Identity)
	if !ok || id.UserID == "" {
		return Identity{}, ErrNoIdentity
	}

	return id, nil
}
