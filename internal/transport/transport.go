// Package transport builds the outbound HTTP stack used by the commerce client.
//
// Layers, outermost first:
//
//	otelhttp (spans per request)
//	  → circuit breaker (fail fast while the backend is down)
//	    → Chrome TLS fingerprint or the default transport
package transport

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Options selects which layers wrap the base transport.
type Options struct {
	// Timeout bounds dialing and the TLS handshake.
	Timeout time.Duration

	// Fingerprint presents a Chrome TLS fingerprint. Needed for storefront
	// backends behind CDNs that rate-limit Go's default ClientHello.
	Fingerprint bool

	// Breaker enables the circuit breaker with the given settings.
	// Nil disables it.
	Breaker *BreakerSettings

	// Tracing wraps the stack with OpenTelemetry instrumentation.
	// Without a configured provider this is a no-op.
	Tracing bool
}

// New composes the transport stack described by opts.
func New(opts Options) http.RoundTripper {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	var rt http.RoundTripper
	if opts.Fingerprint {
		rt = NewChromeTransport(opts.Timeout)
	} else {
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.TLSHandshakeTimeout = opts.Timeout
		rt = base
	}

	if opts.Breaker != nil {
		rt = NewBreakerTransport(*opts.Breaker, rt)
	}

	if opts.Tracing {
		rt = otelhttp.NewTransport(rt)
	}

	return rt
}
