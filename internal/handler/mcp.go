// MCP tool server for the storefront, using the official MCP Go SDK.
// Agents drive the same cart and checkout the CLI does.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/model"
)

// === MCP Tool Input Types ===

// GetCartInput is the input schema for get_cart.
type GetCartInput struct {
	Refresh bool `json:"refresh,omitempty" jsonschema:"re-fetch the cart from the store first"`
}

// AddToCartInput is the input schema for add_to_cart.
type AddToCartInput struct {
	ProductID string `json:"product_id" jsonschema:"product to add"`
	Quantity  int    `json:"quantity" jsonschema:"units to add, at least 1"`
}

// UpdateCartItemInput is the input schema for update_cart_item.
type UpdateCartItemInput struct {
	Item     string `json:"item" jsonschema:"line_ref or product_id of the cart line"`
	Quantity int    `json:"quantity" jsonschema:"new quantity; 0 removes the line"`
}

// RemoveCartItemInput is the input schema for remove_cart_item.
type RemoveCartItemInput struct {
	Item string `json:"item" jsonschema:"line_ref or product_id of the cart line"`
}

// SetCartInput is the input schema for set_cart.
type SetCartInput struct {
	Items []cart.Desired `json:"items" jsonschema:"the complete cart; products left out are removed"`
}

// LoginInput is the input schema for login.
type LoginInput struct {
	Email    string `json:"email" jsonschema:"account email"`
	Password string `json:"password" jsonschema:"account password"`
}

// PlaceOrderInput is the input schema for place_order.
type PlaceOrderInput struct {
	Contact       *model.ContactInfo `json:"contact,omitempty" jsonschema:"email and phone, required when not signed in"`
	Shipping      model.Address      `json:"shipping_address" jsonschema:"delivery address"`
	Billing       *model.Address     `json:"billing_address,omitempty" jsonschema:"billing address; defaults to the shipping address"`
	PaymentMethod string             `json:"payment_method" jsonschema:"pay_on_delivery or online_payment"`
	Notes         string             `json:"notes,omitempty" jsonschema:"delivery notes"`
}

type emptyInput struct{}

// NewMCPServer creates an MCP server with the cart and checkout tools registered.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "storefront",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Storefront cart and checkout. Amounts are shown formatted and in minor units. " +
				"Cart lines are addressed by the line_ref returned with the cart.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_cart",
		Description: "Show the shopper's current cart with server-computed totals.",
	}, h.mcpGetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_to_cart",
		Description: "Add units of a product to the cart.",
	}, h.mcpAddToCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_cart_item",
		Description: "Set the quantity of a cart line. A quantity of 0 removes it.",
	}, h.mcpUpdateCartItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_cart_item",
		Description: "Remove a line from the cart.",
	}, h.mcpRemoveCartItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "clear_cart",
		Description: "Remove every line from the cart.",
	}, h.mcpClearCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_cart",
		Description: "Replace the cart contents with the given products and quantities in one call.",
	}, h.mcpSetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "login",
		Description: "Sign in to the shopper's account. The cart switches to the account cart.",
	}, h.mcpLogin)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "logout",
		Description: "Sign out. The cart switches back to the guest cart.",
	}, h.mcpLogout)

	mcp.AddTool(server, &mcp.Tool{
		Name: "place_order",
		Description: "Place an order for the current cart. Online payment opens the payment page " +
			"for the shopper and waits until they finish or close it.",
	}, h.mcpPlaceOrder)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpGetCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	view, err := h.cartView(ctx, input.Refresh)
	if err != nil {
		return nil, nil, h.mcpError(ctx, err)
	}
	return nil, view, nil
}

func (h *Handler) mcpAddToCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddToCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	if err := h.deps.Cart.AddItem(ctx, strings.TrimSpace(input.ProductID), input.Quantity); err != nil {
		return nil, nil, h.mcpError(ctx, err)
	}
	return h.afterCartWrite(ctx)
}

func (h *Handler) mcpUpdateCartItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input UpdateCartItemInput,
) (*mcp.CallToolResult, *CartView, error) {
	if input.Item == "" {
		return nil, nil, h.mcpError(ctx, model.NewValidationError("item", "item is required"))
	}
	if err := h.deps.Cart.UpdateQuantity(ctx, input.Item, input.Quantity); err != nil {
		return nil, nil, h.mcpError(ctx, err)
	}
	return h.afterCartWrite(ctx)
}

func (h *Handler) mcpRemoveCartItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input RemoveCartItemInput,
) (*mcp.CallToolResult, *CartView, error) {
	if input.Item == "" {
		return nil, nil, h.mcpError(ctx, model.NewValidationError("item", "item is required"))
	}
	if err := h.deps.Cart.RemoveItem(ctx, input.Item); err != nil {
		return nil, nil, h.mcpError(ctx, err)
	}
	return h.afterCartWrite(ctx)
}

func (h *Handler) mcpClearCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input emptyInput,
) (*mcp.CallToolResult, *CartView, error) {
	if err := h.deps.Cart.Clear(ctx); err != nil {
		return nil, nil, h.mcpError(ctx, err)
	}
	return h.afterCartWrite(ctx)
}

func (h *Handler) mcpSetCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SetCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	for i := range input.Items {
		input.Items[i].ProductID = strings.TrimSpace(input.Items[i].ProductID)
	}
	if err := h.deps.Cart.SetContents(ctx, input.Items); err != nil {
		return nil, nil, h.mcpError(ctx, err)
	}
	return h.afterCartWrite(ctx)
}

// afterCartWrite renders the snapshot the store re-fetched after the write.
func (h *Handler) afterCartWrite(ctx context.Context) (*mcp.CallToolResult, *CartView, error) {
	id := h.deps.Sessions.Current(ctx)
	return nil, newCartView(h.deps.Cart.Snapshot(), id, h.deps.Cart.IsLoading()), nil
}

func (h *Handler) mcpLogin(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input LoginInput,
) (*mcp.CallToolResult, *SessionView, error) {
	session, err := h.deps.Accounts.Login(ctx, input.Email, input.Password)
	if err != nil {
		return nil, nil, h.mcpError(ctx, err)
	}
	h.deps.Sessions.Login(ctx, session.Token)

	h.logger.InfoContext(ctx, "shopper signed in", slog.String("account_id", session.Account.ID))
	return nil, &SessionView{
		Identity: h.deps.Sessions.Current(ctx).Kind.String(),
		Email:    session.Account.Email,
		Name:     strings.TrimSpace(session.Account.FirstName + " " + session.Account.LastName),
	}, nil
}

func (h *Handler) mcpLogout(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input emptyInput,
) (*mcp.CallToolResult, *SessionView, error) {
	h.deps.Sessions.Logout(ctx)
	return nil, &SessionView{Identity: h.deps.Sessions.Current(ctx).Kind.String()}, nil
}

func (h *Handler) mcpPlaceOrder(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input PlaceOrderInput,
) (*mcp.CallToolResult, *OrderView, error) {
	in := checkout.Input{
		Shipping:              input.Shipping,
		BillingSameAsShipping: input.Billing == nil,
		PaymentMethod:         model.PaymentMethod(input.PaymentMethod),
		Notes:                 input.Notes,
	}
	if input.Contact != nil {
		in.Contact = *input.Contact
	}
	if input.Billing != nil {
		in.Billing = *input.Billing
	}

	// Totals are read before submission since a placed order clears the cart.
	currency := h.deps.Cart.Snapshot().Totals.Currency

	order, err := h.deps.NewCheckout().Submit(ctx, in)
	if err != nil {
		return nil, nil, h.mcpError(ctx, err)
	}
	return nil, newOrderView(order, currency), nil
}

// mcpError converts errors into messages safe to hand to an agent.
func (h *Handler) mcpError(ctx context.Context, err error) error {
	var verrs model.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		msgs := make([]string, len(verrs))
		for i, e := range verrs {
			msgs[i] = e.Field + ": " + e.Message
		}
		return fmt.Errorf("%s: %s", verrs[0].Code, strings.Join(msgs, "; "))
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	h.logger.ErrorContext(ctx, "mcp internal error", slog.String("error", err.Error()))
	return fmt.Errorf("internal error")
}
