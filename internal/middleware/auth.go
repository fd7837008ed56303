package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Authenticator verifies HS256 bearer tokens
type Authenticator struct {
	secret []byte
	logger *zap.Logger
}

// NewAuthenticator creates an authenticator for tokens signed with secret
func NewAuthenticator(secret string, logger *zap.Logger) *Authenticator {
	return &Authenticator{secret: []byte(secret), logger: logger.Named("auth")}
}

// Verify parses a token and returns its subject
func (a *Authenticator) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}

	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if subject == "" {
		return "", errors.New("token has no subject")
	}
	return subject, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// token subject in the request context
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := a.logger.With(zap.String("path", r.URL.Path))

		header := r.Header.Get("Authorization")
		if header == "" {
			log.Warn("Authorization header missing")
			writeMessage(w, http.StatusUnauthorized, "Unauthorized: missing token")
			return
		}

		scheme, tokenString, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") || tokenString == "" {
			log.Warn("Malformed Authorization header")
			writeMessage(w, http.StatusUnauthorized, "Unauthorized: malformed token header")
			return
		}

		subject, err := a.Verify(tokenString)
		if err != nil {
			msg := "Unauthorized: invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "Unauthorized: token expired"
			}
			log.Warn("Token verification failed", zap.Error(err))
			writeMessage(w, http.StatusUnauthorized, msg)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), subject)))
	})
}

// WithUserID returns a context carrying the authenticated user id
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the authenticated user id, or "" when there is none
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}
