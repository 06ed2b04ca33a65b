package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// jsonrpcRequest is a JSON-RPC 2.0 request structure for testing.
type jsonrpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// jsonrpcResponse is a JSON-RPC 2.0 response structure for testing.
type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type toolCallParams struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments,omitempty"`
}

type callToolResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"content"`
	IsError bool `json:"isError,omitempty"`
}

func (r callToolResult) text() string {
	if len(r.Content) == 0 {
		return ""
	}
	return r.Content[0].Text
}

func setMCPHeaders(req *http.Request, sessionID string) {
	req.Header.Set("Content-Type", "application/json")
	// Streamable HTTP requires both json and event-stream
	req.Header.Set("Accept", "application/json, text/event-stream")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
}

// parseSSEResponse extracts the JSON payload from "event: message\ndata: {json}".
func parseSSEResponse(body string) []byte {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "data: ") {
			return []byte(strings.TrimPrefix(line, "data: "))
		}
	}
	return []byte(body)
}

func postMCP(t *testing.T, mux *http.ServeMux, sessionID string, req jsonrpcRequest) (*httptest.ResponseRecorder, jsonrpcResponse) {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/mcp", bytes.NewReader(body))
	setMCPHeaders(httpReq, sessionID)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httpReq)

	if w.Code != http.StatusOK {
		t.Fatalf("%s: status = %d\nBody: %s", req.Method, w.Code, w.Body.String())
	}
	var resp jsonrpcResponse
	if err := json.Unmarshal(parseSSEResponse(w.Body.String()), &resp); err != nil {
		t.Fatalf("%s: decode response: %v\nBody: %s", req.Method, err, w.Body.String())
	}
	if resp.Error != nil {
		t.Fatalf("%s: unexpected JSON-RPC error: %+v", req.Method, resp.Error)
	}
	return w, resp
}

func initMCPSession(t *testing.T, mux *http.ServeMux) string {
	t.Helper()
	w, _ := postMCP(t, mux, "", jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "initialize",
		Params: map[string]any{
			"protocolVersion": "2025-06-18",
			"clientInfo":      map[string]string{"name": "test", "version": "1.0"},
			"capabilities":    map[string]any{},
		},
	})
	return w.Header().Get("Mcp-Session-Id")
}

func callTool(t *testing.T, mux *http.ServeMux, sessionID, name string, args any) callToolResult {
	t.Helper()
	_, resp := postMCP(t, mux, sessionID, jsonrpcRequest{
		JSONRPC: "2.0",
		ID:      2,
		Method:  "tools/call",
		Params:  toolCallParams{Name: name, Arguments: args},
	})
	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("%s: decode result: %v", name, err)
	}
	return result
}

func decodeResult[T any](t *testing.T, r callToolResult) T {
	t.Helper()
	var v T
	if r.IsError {
		t.Fatalf("expected success, got tool error: %s", r.text())
	}
	if err := json.Unmarshal([]byte(r.text()), &v); err != nil {
		t.Fatalf("decode tool output: %v\nText: %s", err, r.text())
	}
	return v
}

func TestMCPToolsList(t *testing.T) {
	f := newFixture(t, nil)
	sessionID := initMCPSession(t, f.mux)

	_, resp := postMCP(t, f.mux, sessionID, jsonrpcRequest{JSONRPC: "2.0", ID: 2, Method: "tools/list"})

	var tools struct {
		Tools []struct {
			Name string `json:"name"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &tools); err != nil {
		t.Fatalf("decode tools: %v", err)
	}

	want := map[string]bool{
		"get_cart": false, "add_to_cart": false, "update_cart_item": false, "remove_cart_item": false,
		"clear_cart": false, "set_cart": false, "login": false, "logout": false, "place_order": false,
	}
	for _, tool := range tools.Tools {
		if _, ok := want[tool.Name]; ok {
			want[tool.Name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("tool %q not registered", name)
		}
	}
}

func TestMCPCartLifecycle(t *testing.T) {
	f := newFixture(t, nil)
	sessionID := initMCPSession(t, f.mux)

	view := decodeResult[CartView](t, callTool(t, f.mux, sessionID, "add_to_cart",
		map[string]any{"product_id": "P1", "quantity": 2}))
	if len(view.Items) != 1 || view.Items[0].Quantity != 2 {
		t.Fatalf("after add: %+v", view.Items)
	}
	if view.Totals.TotalAmount != 20500 {
		t.Errorf("TotalAmount = %d, want 20500", view.Totals.TotalAmount)
	}

	view = decodeResult[CartView](t, callTool(t, f.mux, sessionID, "add_to_cart",
		map[string]any{"product_id": "P2", "quantity": 1}))
	if len(view.Items) != 2 {
		t.Fatalf("after second add: %+v", view.Items)
	}

	view = decodeResult[CartView](t, callTool(t, f.mux, sessionID, "update_cart_item",
		map[string]any{"item": "P1", "quantity": 5}))
	if view.Items[0].Quantity != 5 {
		t.Errorf("P1 quantity = %d, want 5", view.Items[0].Quantity)
	}

	// Quantity 0 removes the line
	view = decodeResult[CartView](t, callTool(t, f.mux, sessionID, "update_cart_item",
		map[string]any{"item": "P1", "quantity": 0}))
	if len(view.Items) != 1 || view.Items[0].ProductID != "P2" {
		t.Errorf("after zero update: %+v", view.Items)
	}

	view = decodeResult[CartView](t, callTool(t, f.mux, sessionID, "remove_cart_item",
		map[string]any{"item": "P2"}))
	if len(view.Items) != 0 {
		t.Errorf("after remove: %+v", view.Items)
	}

	f.seed(map[string]int{"P1": 1})
	view = decodeResult[CartView](t, callTool(t, f.mux, sessionID, "get_cart", map[string]any{"refresh": true}))
	if len(view.Items) != 1 {
		t.Fatalf("after refresh: %+v", view.Items)
	}

	view = decodeResult[CartView](t, callTool(t, f.mux, sessionID, "clear_cart", map[string]any{}))
	if len(view.Items) != 0 || view.Totals.TotalAmount != 0 {
		t.Errorf("after clear: %+v", view)
	}
}

func TestMCPSetCart(t *testing.T) {
	f := newFixture(t, nil)
	sessionID := initMCPSession(t, f.mux)

	callTool(t, f.mux, sessionID, "add_to_cart", map[string]any{"product_id": "P1", "quantity": 1})

	view := decodeResult[CartView](t, callTool(t, f.mux, sessionID, "set_cart", map[string]any{
		"items": []map[string]any{
			{"product_id": "P2", "quantity": 3},
			{"product_id": "P1", "quantity": 2},
		},
	}))
	if len(view.Items) != 2 {
		t.Fatalf("after set_cart: %+v", view.Items)
	}
	if view.Items[0].ProductID != "P1" || view.Items[0].Quantity != 2 {
		t.Errorf("P1 line = %+v", view.Items[0])
	}
	if view.Items[1].ProductID != "P2" || view.Items[1].Quantity != 3 {
		t.Errorf("P2 line = %+v", view.Items[1])
	}
	if view.Totals.TotalAmount != 28000 {
		t.Errorf("TotalAmount = %d, want 28000", view.Totals.TotalAmount)
	}

	result := callTool(t, f.mux, sessionID, "set_cart", map[string]any{
		"items": []map[string]any{{"product_id": "P1", "quantity": -1}},
	})
	if !result.IsError || !strings.Contains(result.text(), "VALIDATION_ERROR") {
		t.Errorf("negative quantity: %s", result.text())
	}

	view = decodeResult[CartView](t, callTool(t, f.mux, sessionID, "set_cart",
		map[string]any{"items": []map[string]any{}}))
	if len(view.Items) != 0 {
		t.Errorf("after emptying: %+v", view.Items)
	}
}

func TestMCPAddToCart_Errors(t *testing.T) {
	f := newFixture(t, nil)
	sessionID := initMCPSession(t, f.mux)

	tests := []struct {
		name     string
		args     map[string]any
		wantCode string
	}{
		{"zero quantity", map[string]any{"product_id": "P1", "quantity": 0}, "VALIDATION_ERROR"},
		{"unknown product", map[string]any{"product_id": "nope", "quantity": 1}, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := callTool(t, f.mux, sessionID, "add_to_cart", tt.args)
			if !result.IsError {
				t.Fatalf("expected tool error, got %s", result.text())
			}
			if !strings.Contains(result.text(), tt.wantCode) {
				t.Errorf("error = %q, want code %s", result.text(), tt.wantCode)
			}
		})
	}
}

func TestMCPLoginLogout(t *testing.T) {
	f := newFixture(t, nil)
	sessionID := initMCPSession(t, f.mux)
	anon := f.ids.Current(t.Context())

	result := callTool(t, f.mux, sessionID, "login", map[string]any{"email": "asha@example.com", "password": "wrong"})
	if !result.IsError || !strings.Contains(result.text(), "UNAUTHORIZED") {
		t.Fatalf("bad password: %s", result.text())
	}
	if f.ids.Current(t.Context()).IsAuthenticated() {
		t.Fatal("identity changed after a failed login")
	}

	session := decodeResult[SessionView](t, callTool(t, f.mux, sessionID, "login",
		map[string]any{"email": "asha@example.com", "password": "secret"}))
	if session.Identity != "authenticated" || session.Name != "Asha Rao" {
		t.Errorf("session = %+v", session)
	}
	if got := f.ids.Current(t.Context()).AccountToken; got != "tok-1" {
		t.Errorf("AccountToken = %q, want tok-1", got)
	}

	// The store reloads the account cart in the background
	deadline := time.Now().Add(time.Second)
	for !f.store.Loaded() || f.store.IsLoading() {
		if time.Now().After(deadline) {
			t.Fatal("cart was not reloaded after login")
		}
		time.Sleep(time.Millisecond)
	}

	session = decodeResult[SessionView](t, callTool(t, f.mux, sessionID, "logout", map[string]any{}))
	if session.Identity != "anonymous" {
		t.Errorf("after logout identity = %q", session.Identity)
	}
	if got := f.ids.Current(t.Context()).SessionID; got != anon.SessionID {
		t.Errorf("session id changed across login/logout: %q != %q", got, anon.SessionID)
	}
}

var orderArgs = map[string]any{
	"contact": map[string]any{"email": "asha@example.com", "phone": "+91 98765 43210"},
	"shipping_address": map[string]any{
		"full_name":     "Asha Rao",
		"phone":         "+91 98765 43210",
		"address_line1": "12 MG Road",
		"city":          "Bengaluru",
		"state":         "KA",
		"postal_code":   "560001",
	},
	"payment_method": "pay_on_delivery",
}

func TestMCPPlaceOrder_PayOnDelivery(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(map[string]int{"P1": 1})
	sessionID := initMCPSession(t, f.mux)

	order := decodeResult[OrderView](t, callTool(t, f.mux, sessionID, "place_order", orderArgs))
	if order.OrderNumber != "ORD-1001" {
		t.Errorf("OrderNumber = %q", order.OrderNumber)
	}
	if order.TotalAmount != 10500 {
		t.Errorf("TotalAmount = %d, want 10500", order.TotalAmount)
	}
	if order.CustomerEmail != "asha@example.com" {
		t.Errorf("CustomerEmail = %q", order.CustomerEmail)
	}
	if !f.store.IsEmpty() {
		t.Error("cart should be cleared after the order is placed")
	}
	if f.api.Calls("ClearCart") != 1 {
		t.Errorf("ClearCart calls = %d, want 1", f.api.Calls("ClearCart"))
	}
}

func TestMCPPlaceOrder_ValidationMakesNoCalls(t *testing.T) {
	f := newFixture(t, nil)
	sessionID := initMCPSession(t, f.mux)

	args := map[string]any{
		"shipping_address": map[string]any{
			"full_name": "", "phone": "", "address_line1": "", "city": "", "state": "", "postal_code": "",
		},
		"payment_method": "pay_on_delivery",
	}
	result := callTool(t, f.mux, sessionID, "place_order", args)
	if !result.IsError {
		t.Fatalf("expected validation error, got %s", result.text())
	}
	for _, field := range []string{"contact.email", "shipping.full_name", "shipping.postal_code"} {
		if !strings.Contains(result.text(), field) {
			t.Errorf("error %q does not name %s", result.text(), field)
		}
	}
	if f.api.TotalCalls() != 0 {
		t.Errorf("backend calls = %d, want 0", f.api.TotalCalls())
	}
}

func TestMCPPlaceOrder_OnlinePaymentDismissed(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(map[string]int{"P1": 1})
	sessionID := initMCPSession(t, f.mux)

	args := map[string]any{}
	for k, v := range orderArgs {
		args[k] = v
	}
	args["payment_method"] = "online_payment"

	result := callTool(t, f.mux, sessionID, "place_order", args)
	if !result.IsError || !strings.Contains(result.text(), "PAYMENT_CANCELLED") {
		t.Fatalf("expected PAYMENT_CANCELLED, got %s", result.text())
	}
	if f.store.IsEmpty() {
		t.Error("cart must be kept when payment is cancelled")
	}
	if f.api.Calls("SubmitCheckout") != 0 {
		t.Error("online payment must not use the pay-on-delivery endpoint")
	}
}
