// internal/handler/analysis.go
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dangerclosesec/strategist/internal/agent"
	"github.com/dangerclosesec/strategist/internal/model"
	"github.com/dangerclosesec/strategist/internal/serializer"
	"github.com/dangerclosesec/strategist/internal/service"
)

type AnalysisHandler struct {
	analysisService *service.AnalysisService
}

func NewAnalysisHandler(analysisService *service.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{analysisService: analysisService}
}

type SubmitAnalysisResponse struct {
	BaseResponse
	ID     string               `json:"id"`
	Status model.AnalysisStatus `json:"status"`
}

type AnalysisResponse struct {
	BaseResponse
	Analysis *model.Analysis `json:"analysis"`
}

type AnalysisListResponse struct {
	BaseResponse
	*service.AnalysisPage
}

type AgentOutputsResponse struct {
	BaseResponse
	Outputs []*model.AgentOutput `json:"outputs"`
}

type AgentsResponse struct {
	BaseResponse
	Agents []agent.Definition `json:"agents"`
}

type ExportResponse struct {
	BaseResponse
	Format string `json:"format"`
}

type UsageResponse struct {
	BaseResponse
	*service.UsageReport
}

// Submit accepts an analysis and returns its id immediately. Execution
// continues in the background.
func (h *AnalysisHandler) Submit(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	var input service.SubmitAnalysisInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	analysis, err := h.analysisService.Submit(r.Context(), tc, input)
	if err != nil {
		respondWithDomainError(w, r, "Analysis submission error", err)
		return
	}

	w.Header().Set("Location", "/api/analyses/"+analysis.ID.String())
	respondWithJSON(w, http.StatusAccepted, SubmitAnalysisResponse{
		BaseResponse: BaseResponse{Ok: true},
		ID:           analysis.ID.String(),
		Status:       analysis.Status,
	})
}

func (h *AnalysisHandler) Get(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	analysis, err := h.analysisService.Get(r.Context(), tc, id)
	if err != nil {
		respondWithDomainError(w, r, "Analysis lookup error", err)
		return
	}
	respondWithJSON(w, http.StatusOK, AnalysisResponse{BaseResponse: BaseResponse{Ok: true}, Analysis: analysis})
}

func (h *AnalysisHandler) List(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	offset, limit := pagination(r)

	page, err := h.analysisService.List(r.Context(), tc, service.ListAnalysesInput{
		Offset: offset,
		Limit:  limit,
		Status: model.AnalysisStatus(r.URL.Query().Get("status")),
	})
	if err != nil {
		respondWithDomainError(w, r, "Analysis list error", err)
		return
	}
	respondWithJSON(w, http.StatusOK, AnalysisListResponse{BaseResponse: BaseResponse{Ok: true}, AnalysisPage: page})
}

func (h *AnalysisHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	analysis, err := h.analysisService.Cancel(r.Context(), tc, id)
	if err != nil {
		respondWithDomainError(w, r, "Analysis cancel error", err)
		return
	}
	respondWithJSON(w, http.StatusOK, AnalysisResponse{BaseResponse: BaseResponse{Ok: true}, Analysis: analysis})
}

func (h *AnalysisHandler) Delete(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	if err := h.analysisService.Delete(r.Context(), tc, id); err != nil {
		respondWithDomainError(w, r, "Analysis delete error", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AnalysisHandler) Outputs(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}

	outputs, err := h.analysisService.ListOutputs(r.Context(), tc, id)
	if err != nil {
		respondWithDomainError(w, r, "Agent output list error", err)
		return
	}
	respondWithJSON(w, http.StatusOK, AgentOutputsResponse{BaseResponse: BaseResponse{Ok: true}, Outputs: outputs})
}

// Export serves ?format= directly when a serializer is registered for it and
// otherwise answers whether the export is allowed.
func (h *AnalysisHandler) Export(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		respondWithError(w, http.StatusBadRequest, "format is required")
		return
	}

	enc, ok := serializer.Lookup(format)
	if !ok {
		// Rendered by an external service; only the entitlement is answered here.
		if err := h.analysisService.AuthorizeExport(r.Context(), tc, id, format); err != nil {
			respondWithDomainError(w, r, "Export authorization error", err)
			return
		}
		respondWithJSON(w, http.StatusOK, ExportResponse{BaseResponse: BaseResponse{Ok: true}, Format: format})
		return
	}

	doc, err := h.analysisService.Export(r.Context(), tc, id, format)
	if err != nil {
		respondWithDomainError(w, r, "Export error", err)
		return
	}
	w.Header().Set("Content-Type", enc.ContentType())
	w.WriteHeader(http.StatusOK)
	if err := enc.Encode(doc, w); err != nil {
		slog.Error("failed to write export", "analysis_id", id, "format", format, "error", err)
	}
}

func (h *AnalysisHandler) Usage(w http.ResponseWriter, r *http.Request) {
	tc, ok := requireTenant(w, r)
	if !ok {
		return
	}

	report, err := h.analysisService.Usage(r.Context(), tc)
	if err != nil {
		respondWithDomainError(w, r, "Usage lookup error", err)
		return
	}
	respondWithJSON(w, http.StatusOK, UsageResponse{BaseResponse: BaseResponse{Ok: true}, UsageReport: report})
}

func (h *AnalysisHandler) Agents(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, AgentsResponse{BaseResponse: BaseResponse{Ok: true}, Agents: h.analysisService.Agents()})
}
