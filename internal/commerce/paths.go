package commerce

import (
	"net/url"

	"storefront/internal/model"
)

// Endpoint paths, relative to the API base URL.
const (
	pathSessionCart    = "/cart/session/"
	pathAccountCart    = "/cart"
	pathGuestCheckout  = "/orders/guest-checkout"
	pathAccountOrder   = "/orders/checkout"
	pathPaymentCreate  = "/payments/create-order"
	pathPaymentVerify  = "/payments/verify"
	pathLogin          = "/auth/login"
	pathCurrentUser    = "/auth/me"
	pathHealth         = "/health"
	familySession      = "session"
	familyAccount      = "account"
	familyIdentityFree = "shared"
)

// cartBase returns the cart root for the identity's endpoint family.
func cartBase(id model.Identity) string {
	if id.IsAuthenticated() {
		return pathAccountCart
	}
	return pathSessionCart + url.PathEscape(id.SessionID)
}

func cartSummaryPath(id model.Identity) string {
	return cartBase(id) + "/summary"
}

func cartItemsPath(id model.Identity) string {
	return cartBase(id) + "/items"
}

func cartItemPath(id model.Identity, lineRef string) string {
	return cartItemsPath(id) + "/" + url.PathEscape(lineRef)
}

func cartClearPath(id model.Identity) string {
	return cartBase(id) + "/clear"
}

func checkoutPath(id model.Identity) string {
	if id.IsAuthenticated() {
		return pathAccountOrder
	}
	return pathGuestCheckout
}

func family(id model.Identity) string {
	if id.IsAuthenticated() {
		return familyAccount
	}
	return familySession
}
