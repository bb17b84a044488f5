package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/vendasys/pos-service/internal/service"
	"github.com/vendasys/pos-service/pkg/httputil"
	"github.com/vendasys/pos-service/pkg/validator"
)

// SessionHandler handles HTTP requests for sale session endpoints.
type SessionHandler struct {
	service *service.SessionService
	logger  *slog.Logger
}

// NewSessionHandler creates a new sale session HTTP handler.
func NewSessionHandler(svc *service.SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// ResolveCustomerRequest is the JSON body for attaching a customer.
type ResolveCustomerRequest struct {
	TaxID string `json:"tax_id" validate:"required"`
}

// ResolveProductRequest is the JSON body for staging a product.
type ResolveProductRequest struct {
	Code string `json:"code" validate:"required"`
}

// AddItemRequest is the JSON body for adding the staged product. A missing
// quantity keeps the staged default.
type AddItemRequest struct {
	Quantity *int `json:"quantity"`
}

// FinalizeRequest is the JSON body for the finalize endpoint. An unconfirmed
// request returns the summary preview instead of submitting.
type FinalizeRequest struct {
	Confirmed bool `json:"confirmed"`
}

// SetSaleDateRequest is the JSON body for editing the sale date.
type SetSaleDateRequest struct {
	SaleDate string `json:"sale_date" validate:"required,datetime=2006-01-02"`
}

// --- Handlers ---

// GetSession handles GET /api/v1/pos/session
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	terminalID, _ := terminalIDFromContext(r.Context())

	session, err := h.service.GetSession(r.Context(), terminalID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: session})
}

// ResolveCustomer handles POST /api/v1/pos/session/customer
func (h *SessionHandler) ResolveCustomer(w http.ResponseWriter, r *http.Request) {
	terminalID, _ := terminalIDFromContext(r.Context())

	var req ResolveCustomerRequest
	if err := h.decode(w, r, &req); err != nil {
		return
	}

	session, err := h.service.ResolveCustomer(r.Context(), terminalID, req.TaxID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: session})
}

// ResolveProduct handles POST /api/v1/pos/session/product
func (h *SessionHandler) ResolveProduct(w http.ResponseWriter, r *http.Request) {
	terminalID, _ := terminalIDFromContext(r.Context())

	var req ResolveProductRequest
	if err := h.decode(w, r, &req); err != nil {
		return
	}

	session, err := h.service.ResolveProduct(r.Context(), terminalID, req.Code)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: session})
}

// AddItem handles POST /api/v1/pos/session/items
func (h *SessionHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	terminalID, _ := terminalIDFromContext(r.Context())

	var req AddItemRequest
	if err := h.decode(w, r, &req); err != nil {
		return
	}

	session, err := h.service.AddItem(r.Context(), terminalID, req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: session})
}

// RemoveItem handles DELETE /api/v1/pos/session/items/{index}
func (h *SessionHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	terminalID, _ := terminalIDFromContext(r.Context())

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "index must be an integer"},
		})
		return
	}

	session, err := h.service.RemoveItem(r.Context(), terminalID, index, confirmedQuery(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: session})
}

// CancelSession handles DELETE /api/v1/pos/session
func (h *SessionHandler) CancelSession(w http.ResponseWriter, r *http.Request) {
	terminalID, _ := terminalIDFromContext(r.Context())

	session, err := h.service.Cancel(r.Context(), terminalID, confirmedQuery(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: session})
}

// Finalize handles POST /api/v1/pos/session/finalize. Without confirmation
// it returns the summary preview (total, item count, customer); with
// confirmation it submits the sale.
func (h *SessionHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	terminalID, _ := terminalIDFromContext(r.Context())

	var req FinalizeRequest
	if err := h.decode(w, r, &req); err != nil {
		return
	}

	if !req.Confirmed {
		summary, err := h.service.FinalizeSummary(r.Context(), terminalID)
		if err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: summary})
		return
	}

	result, err := h.service.Finalize(r.Context(), terminalID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: result})
}

// SetSaleDate handles PUT /api/v1/pos/session/sale-date
func (h *SessionHandler) SetSaleDate(w http.ResponseWriter, r *http.Request) {
	terminalID, _ := terminalIDFromContext(r.Context())

	var req SetSaleDateRequest
	if err := h.decode(w, r, &req); err != nil {
		return
	}

	session, err := h.service.SetSaleDate(r.Context(), terminalID, req.SaleDate)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: session})
}

// --- Helpers ---

// decode unmarshals and validates the request body, writing the error
// response itself. Returns a non-nil error when the caller should stop.
func (h *SessionHandler) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return err
	}
	if err := validator.Validate(dst); err != nil {
		httputil.WriteValidationError(w, err)
		return err
	}
	return nil
}

// confirmedQuery reads the interactive-confirmation flag from the query
// string on bodyless endpoints.
func confirmedQuery(r *http.Request) bool {
	return r.URL.Query().Get("confirmed") == "true"
}
