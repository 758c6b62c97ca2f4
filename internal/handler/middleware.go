package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/boddenberg/phase-lifecycle-go/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const coachIDKey contextKey = "coachID"

// Roles allowed on the admin surface.
const (
	RoleCoach = "coach"
	RoleAdmin = "admin"
)

// CoachClaims is the JWT payload expected on admin routes.
type CoachClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

var errNoSecret = errors.New("admin authentication is not configured")

// parseCoachToken validates an HS256 token signed with secret.
func parseCoachToken(tokenString string, secret []byte) (*CoachClaims, error) {
	if len(secret) == 0 {
		return nil, errNoSecret
	}
	token, err := jwt.ParseWithClaims(tokenString, &CoachClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*CoachClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// CoachAuthMiddleware validates Bearer tokens on admin routes and injects
// the coach subject into the request context. Tokens must carry the coach or
// admin role. An empty secret rejects every request.
func CoachAuthMiddleware(secret string, logger *zap.Logger) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				handleServiceError(w, &domain.ErrUnauthorized{Message: "missing bearer token"}, logger)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				handleServiceError(w, &domain.ErrUnauthorized{Message: "invalid authorization header"}, logger)
				return
			}

			claims, err := parseCoachToken(parts[1], key)
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				handleServiceError(w, &domain.ErrUnauthorized{Message: "invalid or expired token"}, logger)
				return
			}
			if claims.Role != RoleCoach && claims.Role != RoleAdmin {
				logger.Warn("auth: role not allowed",
					zap.String("path", r.URL.Path),
					zap.String("role", claims.Role),
				)
				handleServiceError(w, &domain.ErrForbidden{Action: "coach role required"}, logger)
				return
			}

			ctx := context.WithValue(r.Context(), coachIDKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CoachIDFromContext extracts the authenticated coach ID from context.
func CoachIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(coachIDKey).(string)
	return v
}
