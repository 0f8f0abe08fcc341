// internal/middleware/auth.go
package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dangerclosesec/strategist/internal/audit"
	"github.com/dangerclosesec/strategist/internal/auth"
	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/repository"
	"github.com/dangerclosesec/strategist/internal/tenant"
	chmw "github.com/go-chi/chi/v5/middleware"
)

// TenantAuth validates the bearer token, resolves the tenant context once and
// stores it on the request context for handlers. A token naming a missing or
// disabled organization is rejected with 403 and recorded as a security
// event; a token for a deactivated user is rejected with 401.
func TenantAuth(
	tokenManager *auth.TokenManager,
	dir repository.DirectoryIface,
	store *repository.Store,
	auditLogger audit.Logger,
	logger *slog.Logger,
) func(http.Handler) http.Handler {
	if auditLogger == nil {
		auditLogger = &audit.NoOpLogger{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// Extract token from Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondWithError(w, http.StatusUnauthorized, "No authorization header")
				return
			}

			// Check Bearer prefix
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondWithError(w, http.StatusUnauthorized, "Invalid authorization header")
				return
			}

			claims, err := tokenManager.Validate(parts[1])
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			cred, err := claims.Credential()
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "Invalid token")
				return
			}

			var org *model.Organization
			org, err = dir.FindOrganization(ctx, cred.OrgID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				logger.ErrorContext(ctx, "loading organization", "error", err, "requestID", chmw.GetReqID(ctx))
				respondWithError(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			tc, err := tenant.Resolve(cred, org)
			if err != nil {
				switch {
				case errors.Is(err, domain.ErrTenantMismatch):
					if lerr := auditLogger.LogTenantMismatch(ctx, cred.OrgID, cred.UserID, "organization missing or disabled", r); lerr != nil {
						logger.ErrorContext(ctx, "recording tenant mismatch", "error", lerr, "requestID", chmw.GetReqID(ctx))
					}
					respondWithError(w, http.StatusForbidden, "Organization is not available")
				case errors.Is(err, domain.ErrUnauthenticated):
					respondWithError(w, http.StatusUnauthorized, "Invalid token")
				default:
					logger.ErrorContext(ctx, "resolving tenant", "error", err, "requestID", chmw.GetReqID(ctx))
					respondWithError(w, http.StatusInternalServerError, "Internal server error")
				}
				return
			}

			if !userActive(w, r, store, tc, auditLogger, logger) {
				return
			}

			next.ServeHTTP(w, r.WithContext(tenant.NewContext(ctx, tc)))
		})
	}
}

// userActive checks, through a session bound to the resolved tenant, that
// the token's user still exists there and is active.
func userActive(w http.ResponseWriter, r *http.Request, store *repository.Store, tc tenant.Context, auditLogger audit.Logger, logger *slog.Logger) bool {
	ctx := r.Context()

	sess, err := store.Acquire(tc)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "Invalid token")
		return false
	}
	defer sess.Release()

	user, err := sess.FindUser(ctx, tc.UserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		logger.ErrorContext(ctx, "loading user", "error", err, "requestID", chmw.GetReqID(ctx))
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return false
	}
	if user == nil || !user.Active() {
		if lerr := auditLogger.LogInactiveUser(ctx, tc.OrgID, tc.UserID, r); lerr != nil {
			logger.ErrorContext(ctx, "recording inactive user", "error", lerr, "requestID", chmw.GetReqID(ctx))
		}
		respondWithError(w, http.StatusUnauthorized, "Invalid token")
		return false
	}
	return true
}

// RequireManager rejects principals that are not owners or admins.
func RequireManager(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tc, ok := tenant.FromContext(r.Context())
		if !ok || !tc.CanManage() {
			respondWithError(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}
