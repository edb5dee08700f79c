// Package http exposes the pricing engine over REST.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-pricing/internal/platform/clock"
	"github.com/odyssey-erp/odyssey-pricing/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-pricing/internal/pricing"
	"github.com/odyssey-erp/odyssey-pricing/internal/tenant"
)

// ActorHeader names the caller recorded as the quote creator.
const ActorHeader = "X-Actor-ID"

// DefaultRateLimit is the per-tenant request budget per minute.
const DefaultRateLimit = 600

// QuoteService is the engine surface the handler depends on.
type QuoteService interface {
	Calculate(ctx context.Context, req pricing.Request) (pricing.Quote, error)
	Get(ctx context.Context, tenantID string, id uuid.UUID) (pricing.Quote, error)
	Verify(q pricing.Quote) bool
}

// Options tune the handler.
type Options struct {
	RateLimitPerMin int
	Tenants         tenant.Validator
	Clock           clock.Clock
}

// Handler wires the quote endpoints.
type Handler struct {
	logger    *slog.Logger
	service   QuoteService
	validate  *validator.Validate
	tenants   tenant.Validator
	clock     clock.Clock
	rateLimit func(http.Handler) http.Handler
}

// NewHandler constructs the pricing handler.
func NewHandler(logger *slog.Logger, service QuoteService, opts Options) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RateLimitPerMin <= 0 {
		opts.RateLimitPerMin = DefaultRateLimit
	}
	if opts.Clock == nil {
		opts.Clock = clock.System{}
	}
	return &Handler{
		logger:    logger,
		service:   service,
		validate:  validator.New(),
		tenants:   opts.Tenants,
		clock:     opts.Clock,
		rateLimit: httprate.Limit(opts.RateLimitPerMin, time.Minute, httprate.WithKeyFuncs(tenant.KeyByTenant)),
	}
}

// MountRoutes registers the quote routes under r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/api/v1/pricing", func(r chi.Router) {
		r.Use(tenant.Middleware(h.tenants))
		r.Use(h.rateLimit)
		r.Post("/quotes", h.handleCalculate)
		r.Get("/quotes/{id}", h.handleGet)
	})
}

type quoteRequest struct {
	SKU        string          `json:"sku" validate:"required,max=128"`
	Qty        decimal.Decimal `json:"qty"`
	CustomerID string          `json:"customer_id" validate:"max=64"`
	Channel    string          `json:"channel" validate:"max=32"`
	Context    map[string]any  `json:"context"`
}

type quoteResponse struct {
	pricing.Quote
	Status         pricing.QuoteStatus `json:"status"`
	SignatureValid *bool               `json:"signature_valid,omitempty"`
}

var calculateErrors = httpx.ErrorMapper{
	{Err: pricing.ErrInvalidRequest, Status: http.StatusBadRequest, Title: "Invalid Request"},
	{Err: pricing.ErrRuleNotFound, Status: http.StatusUnprocessableEntity, Title: "No Applicable Price"},
	{Err: pricing.ErrRuleLookup, Status: http.StatusServiceUnavailable, Title: "Rules Unavailable", Hide: true},
	{Err: pricing.ErrPersistenceFailure, Status: http.StatusServiceUnavailable, Title: "Quote Not Persisted", Hide: true},
}

var getErrors = httpx.ErrorMapper{
	{Err: pricing.ErrInvalidRequest, Status: http.StatusBadRequest, Title: "Invalid Request"},
	{Err: pricing.ErrQuoteNotFound, Status: http.StatusNotFound, Title: "Quote Not Found"},
}

func (h *Handler) handleCalculate(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenant.FromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", err.Error())
		return
	}
	var body quoteRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}
	if err := h.validate.Struct(body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Request", err.Error())
		return
	}

	ctx := r.Context()
	if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
		ctx = pricing.ContextWithActor(ctx, actor)
	}
	quote, err := h.service.Calculate(ctx, pricing.Request{
		TenantID:   tenantID,
		SKU:        strings.TrimSpace(body.SKU),
		Qty:        body.Qty,
		CustomerID: strings.TrimSpace(body.CustomerID),
		Channel:    strings.TrimSpace(body.Channel),
		Context:    body.Context,
	})
	if err != nil {
		h.fail(w, r, calculateErrors, err)
		return
	}
	w.Header().Set("Location", r.URL.Path+"/"+quote.ID.String())
	httpx.JSON(w, http.StatusCreated, h.present(quote))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenant.FromContext(r.Context())
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Tenant Required", err.Error())
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusNotFound, "Quote Not Found", "")
		return
	}
	quote, err := h.service.Get(r.Context(), tenantID, id)
	if err != nil {
		h.fail(w, r, getErrors, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.present(quote))
}

func (h *Handler) present(q pricing.Quote) quoteResponse {
	resp := quoteResponse{Quote: q, Status: q.Status(h.clock.Now())}
	if q.Signature != "" {
		valid := h.service.Verify(q)
		resp.SignatureValid = &valid
	}
	return resp
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, mapper httpx.ErrorMapper, err error) {
	status := mapper.Respond(w, err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("pricing request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Any("error", err))
	}
}
