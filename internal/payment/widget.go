package payment

import (
	"context"

	"storefront/internal/model"
)

// Prefill is the customer contact shown in the gateway's checkout form.
type Prefill struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Contact string `json:"contact,omitempty"`
}

// Session seeds one hosted checkout.
type Session struct {
	Intent      model.PaymentIntent
	StoreName   string
	Description string
	Prefill     Prefill
}

// Callbacks are the three outcomes a hosted checkout reports.
// A widget may invoke them more than once or from any goroutine; the
// adapter acts only on the first.
type Callbacks struct {
	OnSuccess func(model.PaymentReceipt)
	OnFailure func(reason string)
	OnDismiss func()
}

// Widget is a gateway's hosted checkout UI.
type Widget interface {
	// Load makes the gateway client library available.
	Load(ctx context.Context) error

	// Open shows the checkout and returns without waiting for an outcome.
	Open(ctx context.Context, s Session, cb Callbacks) error
}
