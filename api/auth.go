package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/niuyj2008/performance-commission-system/commission"
	"github.com/niuyj2008/performance-commission-system/logger"
)

// Claims are the JWT claims the API trusts.
type Claims struct {
	UserID     string `json:"user_id"`
	Role       string `json:"role"`
	Department string `json:"department,omitempty"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller.
type Principal struct {
	UserID     string
	Role       commission.Role
	Department commission.DepartmentID
}

type principalKey struct{}

// developer is the principal of every request when auth is disabled.
var developer = Principal{UserID: "dev", Role: commission.RoleAdmin}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	ctx = context.WithValue(ctx, principalKey{}, p)
	return logger.WithUser(ctx, p.UserID, string(p.Role))
}

// PrincipalFrom returns the caller stored by Authenticator.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Authenticator verifies HS256 bearer tokens issued with the shared Secret.
// An empty Secret disables verification and every request runs as an admin.
type Authenticator struct {
	Secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{Secret: []byte(secret)}
}

// Enabled reports whether tokens are verified.
func (a *Authenticator) Enabled() bool {
	return a != nil && len(a.Secret) > 0
}

// Middleware rejects requests without a valid bearer token and stores the
// caller in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), developer)))
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			writeStatus(w, http.StatusUnauthorized, "unauthorized", "Authorization header required")
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			writeStatus(w, http.StatusUnauthorized, "unauthorized", "Invalid authorization header format")
			return
		}

		claims := &Claims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return a.Secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !parsed.Valid {
			writeStatus(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
			return
		}

		p := Principal{
			UserID:     claims.UserID,
			Role:       commission.Role(claims.Role),
			Department: commission.DepartmentID(claims.Department),
		}
		if p.UserID == "" {
			p.UserID = claims.Subject
		}
		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), p)))
	})
}

// RequireRole admits callers holding one of roles.
func RequireRole(roles ...commission.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFrom(r.Context())
			if !ok || !hasRole(p, roles) {
				writeStatus(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasRole(p Principal, roles []commission.Role) bool {
	for _, role := range roles {
		if p.Role == role {
			return true
		}
	}
	return false
}

// canManageDepartment reports whether the caller may change distributions
// of dept. Managers are limited to their own department.
func canManageDepartment(ctx context.Context, dept commission.DepartmentID) bool {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return false
	}
	switch p.Role {
	case commission.RoleAdmin, commission.RoleFinance:
		return true
	case commission.RoleManager:
		return p.Department != "" && p.Department == dept
	}
	return false
}
