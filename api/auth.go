package api

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/relaydesk/relaydesk/internal/engine"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

// Principal claim headers. Authentication itself happens upstream (gateway or
// identity proxy); this layer trusts the forwarded claims and only validates
// their shape.
const (
	headerTenantID = "X-Tenant-ID"
	headerRole     = "X-Role"
)

// principalFrom builds a tenant principal from forwarded claim headers.
// The role defaults to owner when absent.
func principalFrom(r *http.Request) (tenant.Principal, error) {
	tenantID := strings.TrimSpace(r.Header.Get(headerTenantID))

	roleStr := strings.TrimSpace(r.Header.Get(headerRole))
	if roleStr == "" {
		roleStr = string(tenant.RoleOwner)
	}
	role, err := tenant.ParseRole(roleStr)
	if err != nil {
		return tenant.Principal{}, err
	}

	if role != tenant.RoleSuperAdmin && tenantID == "" {
		return tenant.Principal{}, fmt.Errorf("%w: missing %s header", engine.ErrInvalidInput, headerTenantID)
	}

	return tenant.Principal{TenantID: tenantID, Role: role}, nil
}

// serviceAuthMiddleware gates the inbound channel behind a shared bearer
// token. Comparison is constant time.
func serviceAuthMiddleware(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			presented, ok := strings.CutPrefix(auth, "Bearer ")
			if token == "" || !ok ||
				subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				logger.Warn("rejected inbound call with bad service token", "path", r.URL.Path)
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
