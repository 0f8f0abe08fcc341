package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dangerclosesec/strategist/internal/domain"
	"github.com/dangerclosesec/strategist/internal/tenant"
	"github.com/go-chi/chi/v5"
	chmw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type ErrorResponse struct { // TypeGen: ErrorResponse
	BaseResponse
	Error   string    `json:"error"`
	Details *[]string `json:"details,omitempty"`
	Code    *string   `json:"error_code,omitempty"`
	Link    *string   `json:"error_link,omitempty"`
}

type BaseResponse struct { // TypeGen: DefaultResponse
	Ok bool `json:"ok"`
}

// EntitlementResponse is returned when the plan denies an operation.
type EntitlementResponse struct {
	ErrorResponse
	Plan     string `json:"plan"`
	Limit    int    `json:"limit,omitempty"`
	Used     int    `json:"used,omitempty"`
	Guidance string `json:"upgrade_guidance"`
}

// respondWithError sends an error response with a message
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithCode(w http.ResponseWriter, status int, code, message string) {
	respondWithJSON(w, status, ErrorResponse{Error: message, Code: &code})
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	// Sets content type header
	w.Header().Set("Content-Type", "application/json")

	// Sets the HTTP status code
	w.WriteHeader(code)

	// Encodes the response
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// If encoding fails, logs the error and sends a plain text response
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
		return
	}
}

// respondWithDomainError maps service errors onto HTTP responses. NotFound
// never says whether the resource exists in another tenant.
func respondWithDomainError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var denial *domain.EntitlementError
	if errors.As(err, &denial) {
		slog.InfoContext(r.Context(), msg, "error", err, "requestID", chmw.GetReqID(r.Context()))
		code := "entitlement_denied"
		switch {
		case errors.Is(err, domain.ErrQuotaExceeded):
			code = "quota_exceeded"
		case errors.Is(err, domain.ErrAgentLimitExceeded):
			code = "agent_limit_exceeded"
		case errors.Is(err, domain.ErrFeatureNotEntitled):
			code = "feature_not_entitled"
		}
		status := http.StatusForbidden
		if errors.Is(err, domain.ErrQuotaExceeded) {
			status = http.StatusTooManyRequests
		}
		respondWithJSON(w, status, EntitlementResponse{
			ErrorResponse: ErrorResponse{Error: denial.Error(), Code: &code},
			Plan:          denial.Plan,
			Limit:         denial.Limit,
			Used:          denial.Used,
			Guidance:      denial.Guidance,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		respondWithCode(w, http.StatusNotFound, "not_found", "Not found")
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrUnknownAgent):
		respondWithCode(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, domain.ErrUnauthenticated), errors.Is(err, domain.ErrInvalidCredentials):
		respondWithCode(w, http.StatusUnauthorized, "unauthenticated", "Invalid credentials")
	case errors.Is(err, domain.ErrTenantMismatch):
		respondWithCode(w, http.StatusForbidden, "tenant_mismatch", "Organization is not available")
	case errors.Is(err, domain.ErrForbidden):
		respondWithCode(w, http.StatusForbidden, "forbidden", "Forbidden")
	case errors.Is(err, domain.ErrEmailAlreadyExists):
		respondWithCode(w, http.StatusConflict, "email_exists", "Email already exists")
	case errors.Is(err, domain.ErrNotCancellable):
		respondWithCode(w, http.StatusConflict, "not_cancellable", "Analysis can no longer be cancelled")
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrInvalidTransition):
		respondWithCode(w, http.StatusConflict, "conflict", err.Error())
	default:
		slog.ErrorContext(r.Context(), msg, "error", err, "requestID", chmw.GetReqID(r.Context()))
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// requireTenant returns the tenant context installed by the auth middleware.
func requireTenant(w http.ResponseWriter, r *http.Request) (tenant.Context, bool) {
	tc, ok := tenant.FromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthenticated")
	}
	return tc, ok
}

func idParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		// A malformed id cannot name a visible resource.
		respondWithCode(w, http.StatusNotFound, "not_found", "Not found")
		return uuid.Nil, false
	}
	return id, true
}

func pagination(r *http.Request) (offset, limit int) {
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return offset, limit
}
