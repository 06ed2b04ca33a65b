// Package handler serves the storefront's local HTTP surface: health, the
// cart snapshot, and an MCP endpoint through which agents drive the cart and
// checkout on the shopper's behalf.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/model"
)

// Cart is the subset of cart.Store the handlers use.
type Cart interface {
	Snapshot() model.CartSnapshot
	Loaded() bool
	IsLoading() bool
	Load(ctx context.Context) error
	AddItem(ctx context.Context, productID string, qty int) error
	UpdateQuantity(ctx context.Context, ref string, qty int) error
	RemoveItem(ctx context.Context, ref string) error
	Clear(ctx context.Context) error
	SetContents(ctx context.Context, desired []cart.Desired) error
}

// Accounts exchanges credentials for an account token.
type Accounts interface {
	Login(ctx context.Context, email, password string) (*model.AuthSession, error)
}

// Sessions owns the active identity. Implemented by identity.Resolver.
type Sessions interface {
	Current(ctx context.Context) model.Identity
	Login(ctx context.Context, token string)
	Logout(ctx context.Context)
}

// Compatibility reports the backend API version. Implemented by commerce.Client.
type Compatibility interface {
	CheckCompatibility(ctx context.Context, minVersion string) (string, error)
}

// Deps are the collaborators of a Handler. Backend may be nil, in which case
// /health does not probe the commerce backend.
type Deps struct {
	Cart          Cart
	Accounts      Accounts
	Sessions      Sessions
	Backend       Compatibility
	MinAPIVersion string
	// NewCheckout returns a fresh orchestrator for each order attempt.
	NewCheckout func() *checkout.Orchestrator
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps   Deps
	logger *slog.Logger
}

// New creates a Handler.
func New(deps Deps, logger *slog.Logger) *Handler {
	return &Handler{deps: deps, logger: logger}
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleLiveness)
	mux.HandleFunc("GET /cart", h.handleCart)
	mux.Handle("/mcp", h.NewMCPHandler())
}

type healthResponse struct {
	Status     string `json:"status"`
	APIVersion string `json:"api_version,omitempty"`
	Backend    string `json:"backend,omitempty"`
}

// handleHealth reports whether the commerce backend is reachable and compatible.
// GET /health
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.deps.Backend == nil {
		h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}

	version, err := h.deps.Backend.CheckCompatibility(r.Context(), h.deps.MinAPIVersion)
	if err != nil {
		h.logger.WarnContext(r.Context(), "backend health check failed", slog.String("error", err.Error()))
		h.writeJSON(w, http.StatusServiceUnavailable, healthResponse{
			Status:  "degraded",
			Backend: model.UserMessage(err),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", APIVersion: version})
}

// handleLiveness never touches the backend.
// GET /healthz
func (h *Handler) handleLiveness(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

// handleCart returns the current snapshot, loading it on first use.
// GET /cart
func (h *Handler) handleCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.cartView(r.Context(), r.URL.Query().Get("refresh") == "true")
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// cartView loads the cart when it has never been loaded (or refresh is set)
// and renders the snapshot.
func (h *Handler) cartView(ctx context.Context, refresh bool) (*CartView, error) {
	if refresh || !h.deps.Cart.Loaded() {
		if err := h.deps.Cart.Load(ctx); err != nil {
			return nil, err
		}
	}
	id := h.deps.Sessions.Current(ctx)
	return newCartView(h.deps.Cart.Snapshot(), id, h.deps.Cart.IsLoading()), nil
}

// === Response Helpers ===

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends {"error": {...}} with a status derived from the error kind.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	body := errorBody{Code: "INTERNAL_ERROR", Message: model.UserMessage(err)}

	var verrs model.ValidationErrors
	var apiErr *model.APIError
	switch {
	case errors.As(err, &verrs) && len(verrs) > 0:
		body.Code = verrs[0].Code
		for _, e := range verrs {
			body.Fields = append(body.Fields, e.Field)
		}
	case errors.As(err, &apiErr):
		body.Code = apiErr.Code
		if apiErr.Field != "" {
			body.Fields = []string{apiErr.Field}
		}
	default:
		h.logger.Error("internal error", slog.String("error", err.Error()))
	}

	h.writeJSON(w, statusFor(err), errorResponse{Error: body})
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
}

// statusFor maps the error taxonomy onto local HTTP statuses. Backend 5xx
// and unreadable payloads surface as 502 since this process is a client.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrServerRejection):
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			return apiErr.StatusCode
		}
		return http.StatusBadGateway
	case errors.Is(err, model.ErrTransport), errors.Is(err, model.ErrInvalidPayload),
		errors.Is(err, model.ErrVerificationFailed):
		return http.StatusBadGateway
	case errors.Is(err, model.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrPaymentRejected):
		return http.StatusPaymentRequired
	case errors.Is(err, model.ErrPaymentCancelled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
