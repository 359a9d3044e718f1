package sales

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ledgerdesk/ledgerdesk/internal/platform/httpx"
	"github.com/ledgerdesk/ledgerdesk/internal/shared"
)

// IdempotencyHeader carries an optional client key on sale creation.
const IdempotencyHeader = "Idempotency-Key"

// Handler manages sales endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *httpx.Validator
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers /sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listSales)
	r.Post("/", h.createSale)
	r.Get("/{id}", h.showSale)
	r.Put("/{id}", h.updateSale)
	r.Delete("/{id}", h.deleteSale)
	r.Post("/{id}/complete", h.transition(h.service.Complete))
	r.Post("/{id}/receive", h.transition(h.service.Receive))
	r.Post("/{id}/cancel", h.transition(h.service.Cancel))
	r.Put("/{id}/status", h.setStatus)
	r.Post("/{id}/payment", h.recordPayment)
	r.Get("/{id}/verify-access", h.verifyAccess)
}

// MountCustomerRoutes registers /customers routes.
func (h *Handler) MountCustomerRoutes(r chi.Router) {
	r.Get("/", h.listCustomers)
	r.Post("/", h.createCustomer)
	r.Get("/{id}", h.showCustomer)
}

// MountInvoiceLinkRoutes registers /invoice routes that convert between
// sales and invoices.
func (h *Handler) MountInvoiceLinkRoutes(r chi.Router) {
	r.Post("/from-sale", h.invoiceFromSale)
	r.Post("/to-sale", h.saleFromInvoice)
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

type saleList struct {
	Items      []Sale            `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

type customerList struct {
	Items      []Customer        `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	httpx.RespondError(w, r, h.logger, err)
}

// ============================================================================
// SALES
// ============================================================================

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, perPage := shared.PageFromRequest(r)
	filter := ListFilter{Limit: perPage, Offset: (page - 1) * perPage}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := ParseStatus(raw)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		filter.Status = status
	}
	if r.URL.Query().Get("customerId") != "" {
		id, err := httpx.UUIDQuery(r, "customerId")
		if err != nil {
			h.fail(w, r, err)
			return
		}
		filter.CustomerID = &id
	}
	items, total, err := h.service.List(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []Sale{}
	}
	httpx.JSON(w, http.StatusOK, saleList{Items: items, Pagination: shared.NewPagination(page, perPage, total)})
}

func (h *Handler) createSale(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input CreateInput
	if err := httpx.DecodeJSON(w, r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validator.Struct(input); err != nil {
		h.fail(w, r, err)
		return
	}
	input.IdempotencyKey = r.Header.Get(IdempotencyHeader)
	sale, err := h.service.Create(r.Context(), actor, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sale)
}

func (h *Handler) showSale(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	sale, err := h.service.Get(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) updateSale(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var input UpdateInput
	if err := httpx.DecodeJSON(w, r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validator.Struct(input); err != nil {
		h.fail(w, r, err)
		return
	}
	sale, err := h.service.Update(r.Context(), actor, id, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) deleteSale(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), actor, id); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) transition(fn func(context.Context, int64, uuid.UUID) (TransitionResult, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, id, ok := h.actorAndID(w, r)
		if !ok {
			return
		}
		res, err := fn(r.Context(), actor, id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, res)
	}
}

func (h *Handler) setStatus(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.fail(w, r, err)
		return
	}
	status, err := ParseStatus(req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.service.SetStatus(r.Context(), actor, id, status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	sale, err := h.service.RecordPayment(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sale)
}

func (h *Handler) verifyAccess(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	if err := h.service.VerifyAccess(r.Context(), actor, id); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]bool{"access": true})
}

// ============================================================================
// CUSTOMERS
// ============================================================================

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, perPage := shared.PageFromRequest(r)
	filter := CustomerFilter{Search: r.URL.Query().Get("q"), Limit: perPage, Offset: (page - 1) * perPage}
	items, total, err := h.service.ListCustomers(r.Context(), actor, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []Customer{}
	}
	httpx.JSON(w, http.StatusOK, customerList{Items: items, Pagination: shared.NewPagination(page, perPage, total)})
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var input CustomerInput
	if err := httpx.DecodeJSON(w, r, &input); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.validator.Struct(input); err != nil {
		h.fail(w, r, err)
		return
	}
	customer, err := h.service.CreateCustomer(r.Context(), actor, input)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, customer)
}

func (h *Handler) showCustomer(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	customer, err := h.service.GetCustomer(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, customer)
}

// ============================================================================
// INVOICE LINKAGE
// ============================================================================

func (h *Handler) invoiceFromSale(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	saleID, err := httpx.UUIDQuery(r, "saleId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	regenerate := false
	if raw := r.URL.Query().Get("regenerate"); raw != "" {
		regenerate, err = strconv.ParseBool(raw)
		if err != nil {
			h.fail(w, r, shared.NewValidationError("regenerate", "must be a boolean"))
			return
		}
	}
	inv, created, err := h.service.CreateInvoiceFromSale(r.Context(), actor, saleID, regenerate)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, inv)
}

func (h *Handler) saleFromInvoice(w http.ResponseWriter, r *http.Request) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	invoiceID, err := httpx.UUIDQuery(r, "invoiceId")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	sale, created, err := h.service.CreateFromInvoice(r.Context(), actor, invoiceID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, sale)
}

func (h *Handler) actorAndID(w http.ResponseWriter, r *http.Request) (int64, uuid.UUID, bool) {
	actor, err := httpx.Actor(r)
	if err != nil {
		h.fail(w, r, err)
		return 0, uuid.Nil, false
	}
	id, err := httpx.UUIDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return 0, uuid.Nil, false
	}
	return actor, id, true
}
