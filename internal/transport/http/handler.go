package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"vowsuite/internal/model"
	"vowsuite/internal/service"
)

type Handler struct {
	credits   service.CreditOperations
	lifecycle service.LifecycleOperations
}

func NewHandler(credits service.CreditOperations, lifecycle service.LifecycleOperations) *Handler {
	return &Handler{credits: credits, lifecycle: lifecycle}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)

	mux.HandleFunc("POST /credits/add", h.AddCredits)
	mux.HandleFunc("POST /credits/deduct", h.DeductCredits)
	mux.HandleFunc("POST /credits/use", h.UseCredits)
	mux.HandleFunc("POST /credits/adjust", h.AdjustCredits)
	mux.HandleFunc("GET /credits/balance", h.GetBalance)
	mux.HandleFunc("GET /credits/ledger", h.GetLedger)

	mux.HandleFunc("GET /weddings/cost", h.CalculateCost)
	mux.HandleFunc("POST /weddings/publish", h.PublishWedding)
	mux.HandleFunc("POST /weddings/upgrade", h.UpgradeWedding)
	mux.HandleFunc("POST /weddings/archive", h.ArchiveWedding)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (h *Handler) AddCredits(w http.ResponseWriter, r *http.Request) {
	var req model.AddCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	bal, err := h.credits.AddCredits(r.Context(), req)
	if err != nil {
		h.respondBusinessError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, bal)
}

func (h *Handler) DeductCredits(w http.ResponseWriter, r *http.Request) {
	var req model.DeductCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	bal, err := h.credits.DeductCredits(r.Context(), req)
	if err != nil {
		h.respondBusinessError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, bal)
}

func (h *Handler) UseCredits(w http.ResponseWriter, r *http.Request) {
	var req model.UseCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	bal, err := h.credits.UseCredits(r.Context(), req)
	if err != nil {
		h.respondBusinessError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, bal)
}

func (h *Handler) AdjustCredits(w http.ResponseWriter, r *http.Request) {
	var req model.AdjustCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	bal, err := h.credits.AdjustCredits(r.Context(), req)
	if err != nil {
		h.respondBusinessError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, bal)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	adminID := r.URL.Query().Get("admin_id")
	if adminID == "" {
		h.respondError(w, http.StatusBadRequest, "missing_params", nil)
		return
	}
	bal, err := h.credits.GetCreditBalance(r.Context(), adminID)
	if err != nil {
		h.respondBusinessError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, bal)
}

func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	adminID := r.URL.Query().Get("admin_id")
	if adminID == "" {
		h.respondError(w, http.StatusBadRequest, "missing_params", nil)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))

	page, err := h.credits.GetCreditLedger(r.Context(), adminID, limit, skip)
	if err != nil {
		h.respondBusinessError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, page)
}

func (h *Handler) CalculateCost(w http.ResponseWriter, r *http.Request) {
	designKey := r.URL.Query().Get("design_key")
	var features []string
	if raw := r.URL.Query().Get("features"); raw != "" {
		features = strings.Split(raw, ",")
	}
	bd, err := h.lifecycle.CalculateCreditCost(r.Context(), designKey, features)
	if err != nil {
		h.respondBusinessError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, bd)
}

func (h *Handler) PublishWedding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WeddingID string `json:"wedding_id"`
		AdminID   string `json:"admin_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	res, err := h.lifecycle.PublishWedding(r.Context(), req.WeddingID, req.AdminID)
	if err != nil {
		h.respondBusinessError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *Handler) UpgradeWedding(w http.ResponseWriter, r *http.Request) {
	var req model.UpgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	res, err := h.lifecycle.UpgradeWeddingFeatures(r.Context(), req)
	if err != nil {
		h.respondBusinessError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, res)
}

func (h *Handler) ArchiveWedding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WeddingID string `json:"wedding_id"`
		AdminID   string `json:"admin_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}
	wedding, err := h.lifecycle.ArchiveWedding(r.Context(), req.WeddingID, req.AdminID)
	if err != nil {
		h.respondBusinessError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, wedding)
}

// respondBusinessError maps the service error taxonomy to HTTP status codes
// and keeps the structured detail (shortfall amounts, missing fields) so the
// frontend can render a precise message.
func (h *Handler) respondBusinessError(w http.ResponseWriter, err error) {
	var insufficient *service.InsufficientCreditsError
	var notReady *service.NotReadyError
	var negative *service.NegativeBalanceError

	switch {
	case errors.Is(err, service.ErrAccountNotFound),
		errors.Is(err, service.ErrWeddingNotFound):
		h.respondError(w, http.StatusNotFound, err.Error(), nil)
	case errors.As(err, &insufficient):
		h.respondError(w, http.StatusPaymentRequired, err.Error(), map[string]any{
			"required_credits":  insufficient.Required,
			"available_credits": insufficient.Available,
		})
	case errors.Is(err, service.ErrAlreadyPublished),
		errors.Is(err, service.ErrAlreadyArchived),
		errors.Is(err, service.ErrNotPublished),
		errors.Is(err, service.ErrDuplicateRequest):
		h.respondError(w, http.StatusConflict, err.Error(), nil)
	case errors.As(err, &notReady):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error(), map[string]any{
			"missing_fields": notReady.Missing,
		})
	case errors.As(err, &negative):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error(), map[string]any{
			"resulting_balance": negative.Resulting,
		})
	case errors.Is(err, service.ErrInvalidAmount):
		h.respondError(w, http.StatusBadRequest, err.Error(), nil)
	default:
		h.respondError(w, http.StatusInternalServerError, "internal_error", nil)
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string, detail map[string]any) {
	body := map[string]any{"error": message}
	for k, v := range detail {
		body[k] = v
	}
	h.respondJSON(w, status, body)
}
