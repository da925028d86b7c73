package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/eduard256/mapkit/internal/api/response"
)

type claimsKey struct{}

// Middleware returns HTTP middleware that validates bearer tokens.
func Middleware(jwtAuth *JWTAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				response.Unauthorized(w, "missing token")
				return
			}

			claims, err := jwtAuth.ValidateToken(token)
			if err != nil {
				if errors.Is(err, ErrExpiredToken) {
					response.Unauthorized(w, "token expired")
				} else {
					response.Unauthorized(w, "invalid token")
				}
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Optional returns Middleware when jwtAuth is set and a pass-through otherwise.
func Optional(jwtAuth *JWTAuth) func(http.Handler) http.Handler {
	if jwtAuth == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return Middleware(jwtAuth)
}

// extractToken reads the Bearer token from the Authorization header.
func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// GetClaims returns the JWT claims from context.
func GetClaims(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(claimsKey{}).(*Claims); ok {
		return claims
	}
	return nil
}
