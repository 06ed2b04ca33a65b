// Package commerce is the single point of network I/O for the cart subsystem.
//
// Every cart and order operation reads the active identity and routes to one
// of two endpoint families:
//
//	session family  /cart/session/{sessionId}/...   no credentials
//	account family  /cart/...                       Authorization: Bearer <token>
//
// Both families return structurally equivalent payloads that differ in field
// names; normalize.go maps them onto model.CartSnapshot. Non-2xx responses and
// transport failures are converted to *model.APIError so callers never branch
// on error shape. The client performs no retries and no caching.
package commerce

import (
	"context"

	"storefront/internal/model"
)

// IdentitySource exposes the active identity. Implemented by identity.Resolver.
type IdentitySource interface {
	Current(ctx context.Context) model.Identity
}

// API is the full set of backend operations consumed by the subsystem.
// Narrower interfaces in cart, checkout, and payment are subsets of it.
type API interface {
	// FetchCartSummary returns the authoritative cart for the active identity.
	FetchCartSummary(ctx context.Context) (*model.CartSnapshot, error)

	// AddItem adds qty of productID to the active cart.
	AddItem(ctx context.Context, productID string, qty int) error

	// UpdateItem sets the quantity of a line. lineRef is the cart line id for
	// account carts and the product id for session carts.
	UpdateItem(ctx context.Context, lineRef string, qty int) error

	// RemoveItem deletes a line, addressed like UpdateItem.
	RemoveItem(ctx context.Context, lineRef string) error

	// ClearCart removes every line.
	ClearCart(ctx context.Context) error

	// SubmitCheckout places a pay-on-delivery order.
	SubmitCheckout(ctx context.Context, draft *model.OrderDraft) (*model.PlacedOrder, error)

	// CreatePaymentIntent asks the backend for a single-use gateway order.
	CreatePaymentIntent(ctx context.Context, draft *model.OrderDraft) (*model.PaymentIntent, error)

	// VerifyPayment forwards the gateway receipt; on success the backend
	// creates the order of record.
	VerifyPayment(ctx context.Context, receipt model.PaymentReceipt, draft *model.OrderDraft) (*model.PlacedOrder, error)

	// Login exchanges credentials for a bearer token.
	Login(ctx context.Context, email, password string) (*model.AuthSession, error)

	// CurrentUser returns the account behind the active bearer token.
	CurrentUser(ctx context.Context) (*model.Account, error)
}
