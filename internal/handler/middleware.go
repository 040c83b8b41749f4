// internal/handler/middleware.go
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const (
	ContextUserID  contextKey = "userID"
	ContextRole    contextKey = "role"
	ContextPurpose contextKey = "purpose"
)

// PurposePinSetup marks a session whose holder re-verified their identity
// and may set or change the transaction PIN.
const PurposePinSetup = "pin_setup"

var ErrInvalidToken = errors.New("invalid token")

// Claims are the bearer token claims issued by the identity service.
type Claims struct {
	UserID         string `json:"uid"`
	Role           string `json:"role,omitempty"`
	SessionPurpose string `json:"purpose,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware verifies HS256 bearer tokens and puts the caller's
// identity in the request context.
type AuthMiddleware struct {
	secret []byte
	issuer string
	logger *zap.Logger
}

func NewAuthMiddleware(secret, issuer string, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		secret: []byte(secret),
		issuer: issuer,
		logger: logger,
	}
}

func (am *AuthMiddleware) parse(tokenStr string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if am.issuer != "" {
		opts = append(opts, jwt.WithIssuer(am.issuer))
	}

	claims := new(Claims)
	token, err := jwt.NewParser(opts...).ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return am.secret, nil
	})
	if err != nil || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Require rejects requests without a valid bearer token.
func (am *AuthMiddleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			writeErrorMessage(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims, err := am.parse(strings.TrimSpace(tokenStr))
		if err != nil {
			am.logger.Debug("token rejected", zap.String("path", r.URL.Path), zap.Error(err))
			writeErrorMessage(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ContextUserID, claims.UserID)
		ctx = context.WithValue(ctx, ContextRole, claims.Role)
		ctx = context.WithValue(ctx, ContextPurpose, claims.SessionPurpose)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole must run after Require.
func (am *AuthMiddleware) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got, _ := r.Context().Value(ContextRole).(string); got != role {
				writeErrorMessage(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func GetUserID(ctx context.Context) (string, bool) {
	val, ok := ctx.Value(ContextUserID).(string)
	return val, ok && val != ""
}

func getPurpose(ctx context.Context) string {
	val, _ := ctx.Value(ContextPurpose).(string)
	return val
}

func mustUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := GetUserID(r.Context())
	if !ok {
		writeErrorMessage(w, http.StatusUnauthorized, "unauthenticated")
	}
	return userID, ok
}
