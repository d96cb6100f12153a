package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/quill/internal/api/shared"
	"github.com/phrazzld/quill/internal/generation"
	"github.com/phrazzld/quill/internal/pipeline"
	"github.com/phrazzld/quill/internal/platform/logger"
	"github.com/phrazzld/quill/internal/redact"
)

// MaxBatchRequests bounds the number of requests in one batch call.
const MaxBatchRequests = 100

// Pipeline is the part of the generation pipeline served over HTTP.
type Pipeline interface {
	Generate(ctx context.Context, req *generation.Request) generation.Result
	GenerateBatch(ctx context.Context, reqs []*generation.Request) []generation.Result
	Cancel(requestID string) bool
	Health(ctx context.Context) []generation.GeneratorHealthSnapshot
	Stats() pipeline.Stats
	Running() bool
}

// BatchRequest is the body of POST /api/generate/batch.
type BatchRequest struct {
	Requests []*generation.Request `json:"requests" validate:"required,min=1,max=100,dive,required"`
}

// BatchResponse holds one result per submitted request, in order.
type BatchResponse struct {
	Results []generation.Result `json:"results"`
}

// CancelResponse reports whether an in-flight request was found.
type CancelResponse struct {
	RequestID string `json:"request_id"`
	Cancelled bool   `json:"cancelled"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string         `json:"status"`
	Stats  pipeline.Stats `json:"stats"`
}

// GenerationHandler serves the synchronous generation endpoints.
type GenerationHandler struct {
	pipeline Pipeline
}

// NewGenerationHandler creates a handler delegating to p.
func NewGenerationHandler(p Pipeline) *GenerationHandler {
	return &GenerationHandler{pipeline: p}
}

// Generate handles POST /api/generate. The response body is always a Result;
// the status code reflects the failure kind.
func (h *GenerationHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generation.Request
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, CodeBadRequest, "Invalid request format", err)
		return
	}

	res := sanitizeResult(h.pipeline.Generate(r.Context(), &req))

	status := http.StatusOK
	if res.Failure != nil {
		status = StatusForKind(res.Failure.Code)
		logger.FromContextOrDefault(r.Context()).Info("generation request failed",
			"request_id", req.ID,
			"error_code", res.Failure.Code,
			"status_code", status)
	}
	shared.RespondWithJSON(w, r, status, res)
}

// GenerateBatch handles POST /api/generate/batch. Individual failures are
// reported per result, so the call itself succeeds once the body is valid.
func (h *GenerationHandler) GenerateBatch(w http.ResponseWriter, r *http.Request) {
	var body BatchRequest
	if err := shared.DecodeJSON(w, r, &body); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, CodeBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(body); err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	results := h.pipeline.GenerateBatch(r.Context(), body.Requests)
	for i := range results {
		results[i] = sanitizeResult(results[i])
	}
	shared.RespondWithJSON(w, r, http.StatusOK, BatchResponse{Results: results})
}

// Cancel handles DELETE /api/requests/{id}.
func (h *GenerationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, CodeBadRequest, "Request ID is required")
		return
	}

	if !h.pipeline.Cancel(id) {
		shared.RespondWithError(w, r, http.StatusNotFound, CodeNotFound, "No in-flight request with that ID")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, CancelResponse{RequestID: id, Cancelled: true})
}

// GeneratorHealth handles GET /api/generators/health.
func (h *GenerationHandler) GeneratorHealth(w http.ResponseWriter, r *http.Request) {
	snapshots := h.pipeline.Health(r.Context())
	for i := range snapshots {
		snapshots[i].Message = redact.String(snapshots[i].Message)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, snapshots)
}

// Health handles GET /health. It reports 503 while the pipeline is stopped.
func (h *GenerationHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Stats: h.pipeline.Stats()}
	status := http.StatusOK
	if !h.pipeline.Running() {
		resp.Status = "stopped"
		status = http.StatusServiceUnavailable
	}
	shared.RespondWithJSON(w, r, status, resp)
}
