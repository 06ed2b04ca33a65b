// Package payment runs an online payment against a third-party gateway.
//
// The gateway's own success callback is not proof of payment. Only the
// backend's verification of the signed receipt creates the order of record.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"storefront/internal/commerce"
	"storefront/internal/model"
)

// Backend is the subset of commerce.API the adapter drives.
type Backend interface {
	CreatePaymentIntent(ctx context.Context, draft *model.OrderDraft) (*model.PaymentIntent, error)
	VerifyPayment(ctx context.Context, receipt model.PaymentReceipt, draft *model.OrderDraft) (*model.PlacedOrder, error)
}

// Options tunes the adapter.
type Options struct {
	StoreName string

	// VerifyAttempts bounds verification retries after gateway success.
	// Only transport failures are retried.
	VerifyAttempts int
	VerifyBackoff  time.Duration
}

// Adapter wraps the callback-driven widget in a single blocking Pay call.
type Adapter struct {
	backend Backend
	widget  Widget
	loader  *Loader
	logger  *slog.Logger
	opts    Options

	mu       sync.Mutex
	consumed map[string]struct{}
}

// NewAdapter creates an adapter. The widget library is loaded lazily on first Pay.
func NewAdapter(backend Backend, widget Widget, opts Options, logger *slog.Logger) *Adapter {
	if opts.VerifyAttempts < 1 {
		opts.VerifyAttempts = 3
	}
	if opts.VerifyBackoff == 0 {
		opts.VerifyBackoff = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		backend:  backend,
		widget:   widget,
		loader:   NewLoader(widget.Load),
		logger:   logger,
		opts:     opts,
		consumed: make(map[string]struct{}),
	}
}

// Preload starts loading the gateway library ahead of checkout.
func (a *Adapter) Preload(ctx context.Context) error {
	if err := a.loader.Ensure(ctx); err != nil {
		return model.NewGatewayUnavailableError(err)
	}
	return nil
}

// outcome is the first callback a widget reported.
type outcome struct {
	receipt   *model.PaymentReceipt
	reason    string
	dismissed bool
}

// Pay runs one payment attempt: fresh intent, hosted checkout, then
// verification. It fails with ErrGatewayUnavailable, ErrPaymentCancelled,
// ErrPaymentRejected, ErrVerificationFailed, or a commerce error from
// intent creation. No order exists unless Pay returns one.
func (a *Adapter) Pay(ctx context.Context, draft *model.OrderDraft, customer Prefill) (*model.PlacedOrder, error) {
	if err := a.loader.Ensure(ctx); err != nil {
		return nil, model.NewGatewayUnavailableError(err)
	}

	intent, err := a.backend.CreatePaymentIntent(ctx, draft)
	if err != nil {
		return nil, err
	}
	if !a.consume(intent.GatewayOrderID) {
		return nil, model.NewPaymentRejectedError("this payment session was already used, please try again")
	}

	logger := a.logger.With(slog.String("gateway_order_id", intent.GatewayOrderID))

	var (
		once     sync.Once
		resolved = make(chan outcome, 1)
		returned = make(chan struct{})
	)
	resolve := func(o outcome) {
		first := false
		once.Do(func() {
			first = true
			resolved <- o
		})
		if !first {
			logger.Debug("ignoring repeated gateway callback")
		}
	}

	cb := Callbacks{
		OnSuccess: func(r model.PaymentReceipt) {
			select {
			case <-returned:
				// A charge may exist with nobody waiting to verify it.
				logger.Error("gateway reported success after checkout was abandoned",
					slog.String("gateway_payment_id", r.GatewayPaymentID))
			default:
			}
			resolve(outcome{receipt: &r})
		},
		OnFailure: func(reason string) { resolve(outcome{reason: reason}) },
		OnDismiss: func() { resolve(outcome{dismissed: true}) },
	}

	session := Session{
		Intent:      *intent,
		StoreName:   a.opts.StoreName,
		Description: "Order payment",
		Prefill:     customer,
	}
	if err := a.widget.Open(ctx, session, cb); err != nil {
		close(returned)
		return nil, model.NewGatewayUnavailableError(err)
	}

	var o outcome
	select {
	case o = <-resolved:
	case <-ctx.Done():
		// An outcome that landed before the cancellation still wins; a
		// captured charge must reach verification.
		select {
		case o = <-resolved:
		default:
			close(returned)
			return nil, model.NewPaymentCancelledError("checkout was abandoned")
		}
	}
	defer close(returned)

	switch {
	case o.dismissed:
		logger.Info("payment dismissed")
		return nil, model.NewPaymentCancelledError("")
	case o.receipt == nil:
		logger.Info("payment failed at gateway", slog.String("reason", o.reason))
		return nil, model.NewPaymentRejectedError(o.reason)
	}

	receipt := *o.receipt
	if receipt.GatewayOrderID != intent.GatewayOrderID {
		logger.Error("receipt does not match payment intent",
			slog.String("receipt_order_id", receipt.GatewayOrderID),
			slog.String("gateway_payment_id", receipt.GatewayPaymentID),
		)
		return nil, model.NewPaymentRejectedError("payment confirmation did not match this order")
	}

	return a.verify(ctx, receipt, draft, logger)
}

// verify forwards the receipt, retrying transport failures. It keeps going
// if ctx is cancelled because the shopper may already have been charged.
func (a *Adapter) verify(ctx context.Context, receipt model.PaymentReceipt, draft *model.OrderDraft, logger *slog.Logger) (*model.PlacedOrder, error) {
	ctx = context.WithoutCancel(ctx)

	var lastErr error
	for attempt := 1; attempt <= a.opts.VerifyAttempts; attempt++ {
		order, err := a.backend.VerifyPayment(ctx, receipt, draft)
		if err == nil {
			logger.Info("payment verified",
				slog.String("order_number", order.OrderNumber),
				slog.Int("attempt", attempt),
			)
			return order, nil
		}
		lastErr = err
		if !commerce.IsRetryable(err) {
			break
		}
		if attempt < a.opts.VerifyAttempts {
			logger.Warn("payment verification attempt failed, retrying",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			time.Sleep(a.opts.VerifyBackoff * time.Duration(attempt))
		}
	}

	logger.Error("payment verification failed, manual reconciliation required",
		slog.String("gateway_payment_id", receipt.GatewayPaymentID),
		slog.String("error", lastErr.Error()),
	)
	return nil, model.NewVerificationError(receipt.GatewayOrderID, receipt.GatewayPaymentID,
		fmt.Errorf("verifying payment: %w", lastErr))
}

// consume marks an intent id as used. It reports false if it was seen before.
func (a *Adapter) consume(gatewayOrderID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, seen := a.consumed[gatewayOrderID]; seen {
		return false
	}
	a.consumed[gatewayOrderID] = struct{}{}
	return true
}
