package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apimw "github.com/verifyhub/otp-delivery/internal/api/middleware"
	"github.com/verifyhub/otp-delivery/internal/domain"
	"github.com/verifyhub/otp-delivery/internal/escalation"
	"github.com/verifyhub/otp-delivery/internal/executor"
	"github.com/verifyhub/otp-delivery/internal/repository"
)

// DeliveryHandler exposes the delivery execution and attempt-log endpoints.
type DeliveryHandler struct {
	exec     *executor.Executor
	attempts repository.AttemptRepository
	esc      *escalation.Service
	logger   *zap.Logger
}

func NewDeliveryHandler(exec *executor.Executor, attempts repository.AttemptRepository, esc *escalation.Service, logger *zap.Logger) *DeliveryHandler {
	return &DeliveryHandler{exec: exec, attempts: attempts, esc: esc, logger: logger}
}

// Execute handles POST /api/v1/deliveries
//
// @Summary     Execute an OTP delivery with fallback
// @Tags        deliveries
// @Accept      json
// @Produce     json
// @Param       body  body      domain.DeliveryRequest  true  "Delivery request"
// @Success     200   {object}  domain.DeliveryResult
// @Failure     422   {object}  map[string]string
// @Failure     502   {object}  domain.DeliveryResult  "All providers exhausted"
// @Failure     503   {object}  map[string]string      "No eligible provider"
// @Router      /api/v1/deliveries [post]
func (h *DeliveryHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req domain.DeliveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := req.Validate(); err != nil {
		mapError(w, err)
		return
	}

	result := h.exec.ExecuteDelivery(r.Context(), &req)
	if result.Success {
		respondJSON(w, http.StatusOK, result)
		return
	}

	h.logger.Warn("delivery failed",
		zap.String("trace_id", apimw.TraceID(r.Context())),
		zap.String("delivery_id", result.DeliveryID),
		zap.String("last_error", result.LastError),
	)

	if len(result.Attempts) == 0 {
		respondError(w, http.StatusServiceUnavailable, result.LastError)
		return
	}
	respondJSON(w, http.StatusBadGateway, result)
}

// ListAttempts handles GET /api/v1/deliveries/{id}/attempts
//
// @Summary  Attempt trail for one delivery
// @Tags     deliveries
// @Produce  json
// @Param    id   path      string  true  "Delivery ID"
// @Success  200  {object}  map[string]any
// @Router   /api/v1/deliveries/{id}/attempts [get]
func (h *DeliveryHandler) ListAttempts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	attempts, err := h.attempts.ListByDelivery(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list attempts")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"delivery_id": id,
		"attempts":    attempts,
		"total":       len(attempts),
	})
}

// AnalyzeUser handles GET /api/v1/users/{id}/analysis
//
// @Summary  Delivery-pattern analysis for one user
// @Tags     escalation
// @Produce  json
// @Param    id     path      string  true   "User ID"
// @Param    hours  query     int     false  "Lookback window in hours (default 24)"
// @Success  200    {object}  domain.UserPatternAnalysis
// @Router   /api/v1/users/{id}/analysis [get]
func (h *DeliveryHandler) AnalyzeUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	hours := 24
	if v, err := strconv.Atoi(r.URL.Query().Get("hours")); err == nil && v > 0 {
		hours = v
	}

	analysis, err := h.esc.AnalyzeUserPatterns(r.Context(), id, hours)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "analysis failed")
		return
	}
	respondJSON(w, http.StatusOK, analysis)
}
