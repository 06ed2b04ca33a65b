// Package checkout drives one checkout attempt from form submission to a
// placed order.
//
//	Idle → Validating → Submitting → Succeeded
//	            ↓            ↓
//	          Failed ←───────┘
//
// Validation failures never reach the network. Succeeded is terminal: the
// cart is cleared once and a new Orchestrator is needed for another order.
package checkout

import (
	"context"
	"log/slog"
	"sync"

	"storefront/internal/model"
	"storefront/internal/payment"
)

// State is the orchestrator's position in the checkout state machine.
type State int

const (
	Idle State = iota
	Validating
	Submitting
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Validating:
		return "validating"
	case Submitting:
		return "submitting"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Backend places pay-on-delivery orders.
type Backend interface {
	SubmitCheckout(ctx context.Context, draft *model.OrderDraft) (*model.PlacedOrder, error)
}

// Payer runs an online payment. Implemented by payment.Adapter.
type Payer interface {
	Pay(ctx context.Context, draft *model.OrderDraft, customer payment.Prefill) (*model.PlacedOrder, error)
}

// Cart is the subset of cart.Store the orchestrator needs.
type Cart interface {
	Loaded() bool
	Load(ctx context.Context) error
	IsEmpty() bool
	Clear(ctx context.Context) error
}

// IdentitySource reports the active identity.
type IdentitySource interface {
	Current(ctx context.Context) model.Identity
}

// Input is the checkout form as submitted.
type Input struct {
	Contact               model.ContactInfo
	Shipping              model.Address
	Billing               model.Address
	BillingSameAsShipping bool
	PaymentMethod         model.PaymentMethod
	Notes                 string
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Backend  Backend
	Payer    Payer
	Cart     Cart
	Identity IdentitySource
}

// Orchestrator runs a single checkout.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	order   *model.PlacedOrder
	err     error
	cleared bool
}

// New creates an orchestrator in the Idle state.
func New(deps Deps, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{deps: deps, logger: logger}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Order returns the placed order once Succeeded.
func (o *Orchestrator) Order() *model.PlacedOrder {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.order
}

// Err returns the failure reason once Failed.
func (o *Orchestrator) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Submit validates the form, places the order, and clears the cart on success.
// It may be called again after a failure, but not after success or while a
// submission is in flight.
func (o *Orchestrator) Submit(ctx context.Context, in Input) (*model.PlacedOrder, error) {
	o.mu.Lock()
	switch o.state {
	case Validating, Submitting:
		o.mu.Unlock()
		return nil, model.NewValidationError("checkout", "checkout is already in progress")
	case Succeeded:
		o.mu.Unlock()
		return nil, model.NewValidationError("checkout", "this order has already been placed")
	}
	o.state = Validating
	o.order = nil
	o.err = nil
	o.mu.Unlock()

	id := o.deps.Identity.Current(ctx)
	if verrs := Validate(in, id.IsAuthenticated()); verrs != nil {
		return nil, o.fail(ctx, verrs)
	}
	if err := o.checkCart(ctx); err != nil {
		return nil, o.fail(ctx, err)
	}

	draft := buildDraft(in, id)

	o.mu.Lock()
	o.state = Submitting
	o.mu.Unlock()

	var (
		order *model.PlacedOrder
		err   error
	)
	switch draft.PaymentMethod {
	case model.OnlinePayment:
		order, err = o.deps.Payer.Pay(ctx, draft, payment.Prefill{
			Name:    draft.ShippingAddress.FullName,
			Email:   in.Contact.Email,
			Contact: firstNonEmpty(in.Contact.Phone, draft.ShippingAddress.Phone),
		})
	default:
		order, err = o.deps.Backend.SubmitCheckout(ctx, draft)
	}
	if err != nil {
		return nil, o.fail(ctx, err)
	}

	o.succeed(ctx, order)
	return order, nil
}

// checkCart rejects checkout of an empty cart, loading it first if needed.
func (o *Orchestrator) checkCart(ctx context.Context) error {
	if !o.deps.Cart.Loaded() {
		if err := o.deps.Cart.Load(ctx); err != nil {
			return err
		}
	}
	if o.deps.Cart.IsEmpty() {
		return model.NewValidationError("cart", "your cart is empty")
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, err error) error {
	o.mu.Lock()
	o.state = Failed
	o.err = err
	o.mu.Unlock()

	o.logger.InfoContext(ctx, "checkout failed", slog.String("error", err.Error()))
	return err
}

func (o *Orchestrator) succeed(ctx context.Context, order *model.PlacedOrder) {
	o.mu.Lock()
	o.state = Succeeded
	o.order = order
	shouldClear := !o.cleared
	o.cleared = true
	o.mu.Unlock()

	o.logger.InfoContext(ctx, "order placed",
		slog.String("order_number", order.OrderNumber),
		slog.String("payment_method", string(order.PaymentMethod)),
	)

	if !shouldClear {
		return
	}
	// The order exists; a failed clear only leaves a stale cart view.
	if err := o.deps.Cart.Clear(context.WithoutCancel(ctx)); err != nil {
		o.logger.WarnContext(ctx, "clearing cart after order failed",
			slog.String("order_number", order.OrderNumber),
			slog.String("error", err.Error()),
		)
	}
}

// buildDraft assembles the order, copying shipping into billing when asked.
// Contact details are sent for anonymous checkout only.
func buildDraft(in Input, id model.Identity) *model.OrderDraft {
	draft := &model.OrderDraft{
		ShippingAddress: in.Shipping,
		BillingAddress:  in.Billing,
		PaymentMethod:   in.PaymentMethod,
		Notes:           in.Notes,
	}
	if in.BillingSameAsShipping {
		draft.BillingAddress = in.Shipping
	}
	if !id.IsAuthenticated() {
		contact := in.Contact
		draft.Contact = &contact
	}
	return draft
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
