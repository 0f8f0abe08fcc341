// internal/handler/organization.go
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/service"
)

type OrganizationHandler struct {
	orgService *service.OrganizationService
}

func NewOrganizationHandler(orgService *service.OrganizationService) *OrganizationHandler {
	return &OrganizationHandler{orgService: orgService}
}

type AuthResponse struct {
	BaseResponse
	*service.AuthOutput
}

type OrganizationResponse struct {
	BaseResponse
	Organization *model.Organization `json:"organization"`
}

type UserResponse struct {
	BaseResponse
	User *model.User `json:"user"`
}

type UserListResponse struct {
	BaseResponse
	*service.UserPage
}

// Register creates an organization and its owner and signs the owner in.
func (h *OrganizationHandler) Register(w http.ResponseWriter, r *http.Request) {
	var input service.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	output, err := h.orgService.Register(r.Context(), input)
	if err != nil {
		respondWithDomainError(w, r, "Organization registration error", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, AuthResponse{BaseResponse: BaseResponse{Ok: true}, AuthOutput: output})
}

func (h *OrganizationHandler) Login(w http.ResponseWriter, r *http.Request) {
	var input service.LoginInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	output, err := h.orgService.Login(r.Context(), input)
	if err != nil {
		respondWithDomainError(w, r, "User login error", err)
		return
	}
	respondWithJSON(w, http.StatusOK, AuthResponse{BaseResponse: BaseResponse{Ok: true}, AuthOutput: output})
}

func (h *OrganizationHandler) Current(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	org, err := h.orgService.Organization(r.Context(), tc)
	if err != nil {
		respondWithDomainError(w, r, "Organization lookup error", err)
		return
	}
	respondWithJSON(w, http.StatusOK, OrganizationResponse{BaseResponse: BaseResponse{Ok: true}, Organization: org})
}

func (h *OrganizationHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	offset, limit := pagination(r)

	page, err := h.orgService.ListUsers(r.Context(), tc, offset, limit)
	if err != nil {
		respondWithDomainError(w, r, "User list error", err)
		return
	}
	respondWithJSON(w, http.StatusOK, UserListResponse{BaseResponse: BaseResponse{Ok: true}, UserPage: page})
}

func (h *OrganizationHandler) AddUser(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var input service.AddUserInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	user, err := h.orgService.AddUser(r.Context(), tc, input)
	if err != nil {
		respondWithDomainError(w, r, "User creation error", err)
		return
	}
	respondWithJSON(w, http.StatusCreated, UserResponse{BaseResponse: BaseResponse{Ok: true}, User: user})
}

func (h *OrganizationHandler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	if err := h.orgService.DeactivateUser(r.Context(), tc, id); err != nil {
		respondWithDomainError(w, r, "User deactivation error", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
