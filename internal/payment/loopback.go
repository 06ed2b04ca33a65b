package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront/internal/model"
)

// LoopbackConfig configures a LoopbackWidget.
type LoopbackConfig struct {
	// ScriptURL is the gateway's checkout library, e.g. https://checkout.razorpay.com/v1/checkout.js.
	ScriptURL string

	// Constructor is the global the library defines. Defaults to "Razorpay".
	Constructor string

	// Opener presents the checkout URL to the shopper, typically by
	// launching a browser or printing it.
	Opener func(url string) error

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// LoopbackWidget serves the gateway's hosted checkout from a one-shot
// 127.0.0.1 listener. The shopper's browser runs the gateway library and
// posts the outcome back to the listener.
type LoopbackWidget struct {
	cfg LoopbackConfig
}

var _ Widget = (*LoopbackWidget)(nil)

// NewLoopbackWidget creates the widget.
func NewLoopbackWidget(cfg LoopbackConfig) *LoopbackWidget {
	if cfg.Constructor == "" {
		cfg.Constructor = "Razorpay"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &LoopbackWidget{cfg: cfg}
}

// Load checks the gateway library is reachable and non-empty.
func (w *LoopbackWidget) Load(ctx context.Context) error {
	if w.cfg.ScriptURL == "" {
		return errors.New("gateway script URL is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.cfg.ScriptURL, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := w.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching gateway script: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway script returned status %d", resp.StatusCode)
	}
	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("reading gateway script: %w", err)
	}
	if n == 0 {
		return errors.New("gateway script is empty")
	}
	return nil
}

// checkoutOptions is handed to the gateway library constructor.
type checkoutOptions struct {
	Key         string  `json:"key"`
	Amount      int64   `json:"amount"`
	Currency    string  `json:"currency"`
	Name        string  `json:"name,omitempty"`
	Description string  `json:"description,omitempty"`
	OrderID     string  `json:"order_id"`
	Prefill     Prefill `json:"prefill"`
}

type pageData struct {
	StoreName    string
	ScriptURL    string
	Constructor  string
	CallbackPath string
	Options      checkoutOptions
}

// callbackRequest is posted by the checkout page.
type callbackRequest struct {
	Status    string `json:"status"` // success, failed, dismissed
	PaymentID string `json:"razorpay_payment_id"`
	OrderID   string `json:"razorpay_order_id"`
	Signature string `json:"razorpay_signature"`
	Reason    string `json:"reason"`
}

// Open starts the listener and hands its URL to the opener. The listener
// stops after the first outcome or when ctx ends.
func (w *LoopbackWidget) Open(ctx context.Context, s Session, cb Callbacks) error {
	if w.cfg.Opener == nil {
		return errors.New("no opener configured")
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("starting checkout listener: %w", err)
	}

	base := "/checkout/" + uuid.NewString()
	data := pageData{
		StoreName:    s.StoreName,
		ScriptURL:    w.cfg.ScriptURL,
		Constructor:  w.cfg.Constructor,
		CallbackPath: base + "/callback",
		Options: checkoutOptions{
			Key:         s.Intent.GatewayAccountKey,
			Amount:      s.Intent.Amount,
			Currency:    s.Intent.Currency,
			Name:        s.StoreName,
			Description: s.Description,
			OrderID:     s.Intent.GatewayOrderID,
			Prefill:     s.Prefill,
		},
	}

	done := make(chan struct{})
	var finish sync.Once

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+base, func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/html; charset=utf-8")
		rw.Header().Set("Cache-Control", "no-store")
		if err := checkoutPage.Execute(rw, data); err != nil {
			w.cfg.Logger.Error("rendering checkout page", slog.String("error", err.Error()))
		}
	})
	mux.HandleFunc("POST "+base+"/callback", func(rw http.ResponseWriter, r *http.Request) {
		var req callbackRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
			http.Error(rw, "invalid callback", http.StatusBadRequest)
			return
		}

		switch req.Status {
		case "success":
			cb.OnSuccess(model.PaymentReceipt{
				GatewayOrderID:   req.OrderID,
				GatewayPaymentID: req.PaymentID,
				Signature:        req.Signature,
			})
		case "failed":
			cb.OnFailure(req.Reason)
		case "dismissed":
			cb.OnDismiss()
		default:
			http.Error(rw, "unknown status", http.StatusBadRequest)
			return
		}
		rw.WriteHeader(http.StatusNoContent)
		finish.Do(func() { close(done) })
	})

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.cfg.Logger.Error("checkout listener failed", slog.String("error", err.Error()))
		}
	}()
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	url := "http://" + ln.Addr().String() + base
	if err := w.cfg.Opener(url); err != nil {
		finish.Do(func() { close(done) })
		return fmt.Errorf("opening checkout: %w", err)
	}
	return nil
}

var checkoutPage = template.Must(template.New("checkout").Parse(`<!doctype html>
<html>
<head>
<meta charset="utf-8">
<title>{{.StoreName}} payment</title>
<script src="{{.ScriptURL}}"></script>
</head>
<body>
<p id="status">Opening secure checkout...</p>
<script>
(function () {
  var callbackURL = {{.CallbackPath}};
  function report(body) {
    return fetch(callbackURL, {
      method: "POST",
      headers: {"Content-Type": "application/json"},
      body: JSON.stringify(body)
    }).then(function () {
      document.getElementById("status").textContent = "You can close this window.";
    });
  }
  var options = {{.Options}};
  options.handler = function (r) {
    report({
      status: "success",
      razorpay_payment_id: r.razorpay_payment_id,
      razorpay_order_id: r.razorpay_order_id,
      razorpay_signature: r.razorpay_signature
    });
  };
  options.modal = {ondismiss: function () { report({status: "dismissed"}); }};
  var checkout = new window[{{.Constructor}}](options);
  checkout.on("payment.failed", function (r) {
    report({status: "failed", reason: (r.error && r.error.description) || "payment failed"});
  });
  checkout.open();
})();
</script>
</body>
</html>
`))
