package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/phrazzld/quill/internal/api/shared"
	"github.com/phrazzld/quill/internal/platform/logger"
	"github.com/phrazzld/quill/internal/redact"
)

// AuthMiddleware validates HS256 bearer tokens issued by the agent host.
type AuthMiddleware struct {
	secret []byte
}

// NewAuthMiddleware creates an AuthMiddleware verifying tokens with secret.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

// Authenticate rejects requests without a valid token and stores the token
// subject in the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header required")
			return
		}

		raw, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || raw == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid authorization format")
			return
		}

		subject, err := m.subject(raw)
		if err != nil {
			logger.FromContextOrDefault(r.Context()).Debug("rejected bearer token", "error", redact.Error(err))
			message := "Invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				message = "Token expired"
			}
			shared.RespondWithError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", message)
			return
		}

		next.ServeHTTP(w, r.WithContext(shared.SetSubject(r.Context(), subject)))
	})
}

func (m *AuthMiddleware) subject(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
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
