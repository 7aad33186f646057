package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/semopic/director-api/internal/ledger"
	"github.com/semopic/director-api/internal/orchestrator"
	"github.com/semopic/director-api/internal/pipeline"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	orch      *orchestrator.Orchestrator
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(orch *orchestrator.Orchestrator, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		orch:      orch,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateSession handles POST /sessions requests.
func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	snap := h.orch.StartSession(req.UserID, pipeline.Upload{
		ImageURLs:        req.ImageURLs,
		UsageDescription: req.UsageDescription,
	})

	writeJSON(w, http.StatusCreated, newSessionResponse(snap))
}

// ListSessions handles GET /sessions requests.
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required", "MISSING_USER_ID")
		return
	}

	snaps := h.orch.Sessions(userID)
	out := make([]SessionResponse, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, newSessionResponse(snap))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSession handles GET /sessions/{id} requests.
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.orch.Session(r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(snap))
}

// Generate handles POST /sessions/{id}/generate requests.
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	snap, err := h.orch.Generate(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(snap))
}

// Regenerate handles POST /sessions/{id}/regenerate requests.
func (h *Handlers) Regenerate(w http.ResponseWriter, r *http.Request) {
	snap, err := h.orch.Regenerate(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(snap))
}

// EditDraft handles PATCH /sessions/{id}/draft requests.
func (h *Handlers) EditDraft(w http.ResponseWriter, r *http.Request) {
	var req EditDraftRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	snap, err := h.orch.EditDraft(r.PathValue("id"), req.Patch)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(snap))
}

// EditScript handles PATCH /sessions/{id}/scripts/{index} requests.
func (h *Handlers) EditScript(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "script index must be an integer", "INVALID_SCRIPT_INDEX")
		return
	}

	var req EditDraftRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	snap, derr := h.orch.EditScript(r.PathValue("id"), index, req.Patch)
	if derr != nil {
		h.writeDomainError(w, derr)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(snap))
}

// Confirm handles POST /sessions/{id}/confirm requests. At the
// script-selection stage the body must carry script_index.
func (h *Handlers) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.logger.Warn("failed to decode request body", slog.String("error", err.Error()))
			writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
			return
		}
	}

	sessionID := r.PathValue("id")
	var (
		snap pipeline.Snapshot
		err  error
	)
	if req.ScriptIndex != nil {
		snap, err = h.orch.ConfirmScript(sessionID, *req.ScriptIndex)
	} else {
		snap, err = h.orch.Confirm(sessionID)
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(snap))
}

// StartRender handles POST /sessions/{id}/render requests.
func (h *Handlers) StartRender(w http.ResponseWriter, r *http.Request) {
	snap, err := h.orch.StartRender(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, newTaskResponse(snap))
}

// AbandonSession handles DELETE /sessions/{id} requests.
func (h *Handlers) AbandonSession(w http.ResponseWriter, r *http.Request) {
	var req AbandonRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "abandoned by user"
	}

	snap, err := h.orch.AbandonSession(r.PathValue("id"), req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(snap))
}

// GetTask handles GET /tasks/{id} requests for render jobs and payment
// orders alike.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	snap, err := h.orch.Task(r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newTaskResponse(snap))
}

// CreateOrder handles POST /payments/orders requests.
func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !h.decodeAndValidate(w, r, &req) {
		return
	}

	order, err := h.orch.CreatePaymentOrder(r.Context(), req.UserID, req.PackageID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, OrderResponse{
		OrderID:   order.OrderID,
		QRPayload: order.QRPayload,
		Credits:   order.Credits,
		ExpiresAt: order.ExpiresAt,
	})
}

// SignupBonus handles POST /users/{id}/bonus requests. Granting is
// idempotent per user.
func (h *Handlers) SignupBonus(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	tx, err := h.orch.GrantSignupBonus(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// GetBalance handles GET /users/{id}/balance requests.
func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	balance, err := h.orch.Balance(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{UserID: userID, Balance: balance})
}

// GetTransactions handles GET /users/{id}/transactions requests.
func (h *Handlers) GetTransactions(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	txs, err := h.orch.Transactions(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionsResponse{UserID: userID, Transactions: txs})
}

// decodeAndValidate decodes the JSON body into dst and validates it,
// writing the error response itself when either step fails.
func (h *Handlers) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.logger.Warn("failed to decode request body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		h.logger.Warn("request validation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return false
	}
	return true
}

// writeDomainError maps domain sentinel errors onto HTTP responses.
func (h *Handlers) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found", "SESSION_NOT_FOUND")
	case errors.Is(err, orchestrator.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task not found", "TASK_NOT_FOUND")
	case errors.Is(err, pipeline.ErrIncompleteDraft):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "INCOMPLETE_DRAFT")
	case errors.Is(err, pipeline.ErrSelectionRequired):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "SELECTION_REQUIRED")
	case errors.Is(err, pipeline.ErrInvalidSelection):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "INVALID_SELECTION")
	case errors.Is(err, pipeline.ErrMalformedPatch):
		writeError(w, http.StatusBadRequest, err.Error(), "MALFORMED_PATCH")
	case errors.Is(err, pipeline.ErrInvalidTransition), errors.Is(err, pipeline.ErrNotGenerative):
		writeError(w, http.StatusConflict, err.Error(), "STAGE_CONFLICT")
	case errors.Is(err, pipeline.ErrGenerationFailed):
		writeError(w, http.StatusBadGateway, err.Error(), "GENERATION_FAILED")
	case errors.Is(err, ledger.ErrInsufficientBalance):
		writeError(w, http.StatusPaymentRequired, err.Error(), "INSUFFICIENT_CREDITS")
	default:
		h.logger.Error("internal error", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
