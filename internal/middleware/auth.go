// Package middleware hosts authentication, replay protection, logging, and rate limiting middleware.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"paycore/pkg/errors"
)

// contextKey avoids collisions when storing values in request contexts.
type contextKey string

const (
	ctxCallerKey         contextKey = "caller"
	ctxIdempotencyKeyKey contextKey = "idempotency_key"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Caller is the identity asserted by a verified bearer token. Tokens are
// issued by the external identity provider.
type Caller struct {
	AccountID uuid.UUID
	Email     string
	Role      Role
}

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

// Claims is the token payload: the subject is the caller's account id.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware validates bearer JWTs and injects the caller into the context.
type AuthMiddleware struct {
	jwtSecret []byte
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: []byte(secret)}
}

// Authenticate enforces bearer auth and populates the caller on the request context.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if strings.TrimSpace(authHeader) == "" {
			jsonError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header required")
			return
		}

		parts := strings.Fields(authHeader)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			jsonError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid authorization format")
			return
		}

		caller, err := m.Parse(parts[1])
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// Parse verifies an HS256 token and returns the caller it names.
func (m *AuthMiddleware) Parse(tokenString string) (Caller, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return m.jwtSecret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return Caller{}, err
	}

	accountID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Caller{}, errors.Wrap(err, "invalid subject")
	}
	role := claims.Role
	if role != RoleAdmin {
		role = RoleUser
	}
	return Caller{AccountID: accountID, Email: claims.Email, Role: role}, nil
}

// Sign issues a token for the caller. Production tokens come from the
// identity provider; this exists for local tooling and tests.
func (m *AuthMiddleware) Sign(c Caller, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Email: c.Email,
		Role:  c.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.AccountID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.jwtSecret)
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok || !caller.IsAdmin() {
			code, message := errors.Public(errors.ErrForbidden)
			jsonError(w, http.StatusForbidden, code, message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, ctxCallerKey, c)
}

func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(ctxCallerKey).(Caller)
	return c, ok
}

// IdempotencyKeyFromContext returns the Idempotency-Key header of the request
// as admitted by the idempotency middleware.
func IdempotencyKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(ctxIdempotencyKeyKey).(string)
	return key
}

func jsonError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed := os.Getenv("CORS_ALLOWED_ORIGINS")
		origin := r.Header.Get("Origin")
		if strings.TrimSpace(allowed) != "" {
			for _, o := range strings.Split(allowed, ",") {
				if strings.EqualFold(strings.TrimSpace(o), origin) {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Vary", "Origin")
					break
				}
			}
		}

		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, Idempotency-Key")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
