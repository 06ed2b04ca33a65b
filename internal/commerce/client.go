package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"storefront/internal/model"
	"storefront/internal/transport"
)

// serviceName labels transport errors shown to the shopper.
const serviceName = "the store"

// userAgent identifies this client to the backend.
const userAgent = "storefront-go/1.0"

// Config holds commerce client configuration.
type Config struct {
	BaseURL  string
	APIKey   string // optional, sent as X-API-Key
	Identity IdentitySource

	// Transport overrides the outbound stack. Nil builds transport.New with Timeout.
	Transport http.RoundTripper
	Timeout   time.Duration

	// ClientName and ClientVersion populate the Storefront-Client header.
	ClientName    string
	ClientVersion string

	Logger *slog.Logger
}

// Client talks to the storefront backend on behalf of the active identity.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKey       string
	identity     IdentitySource
	clientHeader string
	logger       *slog.Logger
}

var _ API = (*Client)(nil)

// New creates a commerce client with the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Identity == nil {
		return nil, fmt.Errorf("identity source is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	rt := cfg.Transport
	if rt == nil {
		rt = transport.New(transport.Options{Timeout: cfg.Timeout})
	}

	header, err := clientHeader(cfg.ClientName, cfg.ClientVersion)
	if err != nil {
		return nil, fmt.Errorf("building client header: %w", err)
	}

	return &Client{
		httpClient:   &http.Client{Timeout: cfg.Timeout, Transport: rt},
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		identity:     cfg.Identity,
		clientHeader: header,
		logger:       cfg.Logger,
	}, nil
}

// FetchCartSummary returns the normalized cart for the active identity.
func (c *Client) FetchCartSummary(ctx context.Context) (*model.CartSnapshot, error) {
	id := c.identity.Current(ctx)

	body, err := c.do(ctx, http.MethodGet, cartSummaryPath(id), id, nil)
	if err != nil {
		return nil, err
	}

	snap, err := normalizeCart(body, id)
	if err != nil {
		c.logger.WarnContext(ctx, "cart payload rejected",
			slog.String("family", family(id)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return snap, nil
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// AddItem adds qty of productID to the active cart.
func (c *Client) AddItem(ctx context.Context, productID string, qty int) error {
	if productID == "" {
		return model.NewValidationError("product_id", "product is required")
	}
	if qty < 1 {
		return model.NewValidationError("quantity", "quantity must be at least 1")
	}

	id := c.identity.Current(ctx)
	_, err := c.do(ctx, http.MethodPost, cartItemsPath(id), id, addItemRequest{
		ProductID: productID,
		Quantity:  qty,
	})
	return err
}

type updateItemRequest struct {
	Quantity int `json:"quantity"`
}

// UpdateItem sets the quantity of the line addressed by lineRef.
func (c *Client) UpdateItem(ctx context.Context, lineRef string, qty int) error {
	if lineRef == "" {
		return model.NewValidationError("line", "cart line is required")
	}
	if qty < 1 {
		return model.NewValidationError("quantity", "quantity must be at least 1")
	}

	id := c.identity.Current(ctx)
	_, err := c.do(ctx, http.MethodPut, cartItemPath(id, lineRef), id, updateItemRequest{Quantity: qty})
	return err
}

// RemoveItem deletes the line addressed by lineRef.
func (c *Client) RemoveItem(ctx context.Context, lineRef string) error {
	if lineRef == "" {
		return model.NewValidationError("line", "cart line is required")
	}

	id := c.identity.Current(ctx)
	_, err := c.do(ctx, http.MethodDelete, cartItemPath(id, lineRef), id, nil)
	return err
}

// ClearCart removes every line from the active cart.
func (c *Client) ClearCart(ctx context.Context) error {
	id := c.identity.Current(ctx)
	_, err := c.do(ctx, http.MethodDelete, cartClearPath(id), id, nil)
	return err
}

// SubmitCheckout places a pay-on-delivery order through the identity's checkout endpoint.
func (c *Client) SubmitCheckout(ctx context.Context, draft *model.OrderDraft) (*model.PlacedOrder, error) {
	id := c.identity.Current(ctx)

	body, err := c.do(ctx, http.MethodPost, checkoutPath(id), id, toWireOrder(draft, id))
	if err != nil {
		return nil, err
	}
	return normalizeOrder(body, draft.PaymentMethod)
}

// CreatePaymentIntent requests a single-use gateway order for the active cart.
func (c *Client) CreatePaymentIntent(ctx context.Context, draft *model.OrderDraft) (*model.PaymentIntent, error) {
	id := c.identity.Current(ctx)

	body, err := c.do(ctx, http.MethodPost, pathPaymentCreate, id, toWireOrder(draft, id))
	if err != nil {
		return nil, err
	}
	return normalizeIntent(body)
}

type verifyRequest struct {
	GatewayOrderID   string    `json:"razorpay_order_id"`
	GatewayPaymentID string    `json:"razorpay_payment_id"`
	Signature        string    `json:"razorpay_signature"`
	OrderData        wireOrder `json:"order_data"`
}

// VerifyPayment forwards the gateway receipt with the order data it pays for.
func (c *Client) VerifyPayment(ctx context.Context, receipt model.PaymentReceipt, draft *model.OrderDraft) (*model.PlacedOrder, error) {
	id := c.identity.Current(ctx)

	body, err := c.do(ctx, http.MethodPost, pathPaymentVerify, id, verifyRequest{
		GatewayOrderID:   receipt.GatewayOrderID,
		GatewayPaymentID: receipt.GatewayPaymentID,
		Signature:        receipt.Signature,
		OrderData:        toWireOrder(draft, id),
	})
	if err != nil {
		return nil, err
	}
	return normalizeOrder(body, model.OnlinePayment)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges credentials for a bearer token. It does not change the
// active identity; callers pass the token to the identity resolver.
func (c *Client) Login(ctx context.Context, email, password string) (*model.AuthSession, error) {
	if email == "" || password == "" {
		return nil, model.NewValidationError("email", "email and password are required")
	}

	body, err := c.do(ctx, http.MethodPost, pathLogin, model.Identity{}, loginRequest{
		Email:    email,
		Password: password,
	})
	if err != nil {
		return nil, err
	}
	return normalizeAuthSession(body)
}

// CurrentUser returns the account for the active bearer token.
func (c *Client) CurrentUser(ctx context.Context) (*model.Account, error) {
	id := c.identity.Current(ctx)
	if !id.IsAuthenticated() {
		return nil, model.NewUnauthorizedError("not signed in")
	}

	body, err := c.do(ctx, http.MethodGet, pathCurrentUser, id, nil)
	if err != nil {
		return nil, err
	}
	return normalizeAccount(body)
}

// do sends one request and returns the 2xx body.
// Non-2xx responses become typed errors via parseErrorResponse.
func (c *Client) do(ctx context.Context, method, path string, id model.Identity, payload any) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, id)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, model.NewTransportError(serviceName, ctxErr)
		}
		return nil, model.NewTransportError(serviceName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.NewTransportError(serviceName, fmt.Errorf("reading response: %w", err))
	}

	c.logger.DebugContext(ctx, "backend request",
		slog.String("method", method),
		slog.String("path", path),
		slog.String("family", family(id)),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, parseErrorResponse(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// setHeaders applies common headers and the bearer token for authenticated identities.
func (c *Client) setHeaders(req *http.Request, id model.Identity) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(clientHeaderName, c.clientHeader)

	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if id.IsAuthenticated() {
		req.Header.Set("Authorization", "Bearer "+id.AccountToken)
	}
}

// errorResponse is the backend's error body. Different endpoints populate
// different fields; the first non-empty of message, error, detail wins.
type errorResponse struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Detail  string          `json:"detail"`
	Code    string          `json:"code"`
}

func (e errorResponse) text() string {
	if e.Message != "" {
		return e.Message
	}
	if len(e.Error) > 0 {
		var s string
		if json.Unmarshal(e.Error, &s) == nil && s != "" {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(e.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
	}
	return e.Detail
}

// parseErrorResponse converts a non-2xx backend response to *model.APIError.
func parseErrorResponse(statusCode int, body []byte) error {
	var errResp errorResponse
	json.Unmarshal(body, &errResp) // Best effort parse
	msg := errResp.text()

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		if msg == "" {
			msg = "please sign in again"
		}
		e := model.NewUnauthorizedError(msg)
		e.StatusCode = statusCode
		return e
	case http.StatusNotFound:
		e := model.NewNotFoundError("resource")
		if msg != "" {
			e.Message = msg
		}
		if errResp.Code != "" {
			e.Code = errResp.Code
		}
		return e
	default:
		return model.NewServerRejection(statusCode, errResp.Code, msg)
	}
}

// IsRetryable reports whether err is a transport failure that may succeed on retry.
// Server rejections are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, model.ErrTransport)
}
