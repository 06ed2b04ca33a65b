package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// fingerprintTransport speaks to the backend with a browser ClientHello.
// The first https request to a host tries HTTP/2; hosts whose ALPN answer
// is not h2 are remembered and sent straight to HTTP/1.1 afterwards.
type fingerprintTransport struct {
	hello  utls.ClientHelloID
	dialer *net.Dialer

	h2 *http2.Transport
	h1 *http.Transport

	mu      sync.RWMutex
	h1Hosts map[string]bool
}

// NewChromeTransport returns a RoundTripper presenting Chrome's current
// ClientHello.
func NewChromeTransport(timeout time.Duration) http.RoundTripper {
	return newFingerprintTransport(utls.HelloChrome_Auto, timeout)
}

func newFingerprintTransport(hello utls.ClientHelloID, timeout time.Duration) *fingerprintTransport {
	t := &fingerprintTransport{
		hello:   hello,
		dialer:  &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second},
		h1Hosts: make(map[string]bool),
	}
	t.h2 = &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return t.dialTLS(ctx, network, addr, true)
		},
		ReadIdleTimeout: 30 * time.Second,
	}
	t.h1 = &http.Transport{
		DialContext: t.dialer.DialContext,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return t.dialTLS(ctx, network, addr, false)
		},
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return t
}

func (t *fingerprintTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" || t.prefersH1(req.URL.Host) {
		return t.h1.RoundTrip(req)
	}

	resp, err := t.h2.RoundTrip(req)
	if err == nil || !t.prefersH1(req.URL.Host) {
		return resp, err
	}

	// The dial just learned that this host has no h2; replay on HTTP/1.1.
	retry := req
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, fmt.Errorf("host %s has no http/2 and the request body cannot be replayed", req.URL.Host)
		}
		body, bodyErr := req.GetBody()
		if bodyErr != nil {
			return nil, fmt.Errorf("rewinding body for http/1.1: %w", bodyErr)
		}
		retry = req.Clone(req.Context())
		retry.Body = body
	}
	return t.h1.RoundTrip(retry)
}

func (t *fingerprintTransport) prefersH1(host string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.h1Hosts[host]
}

func (t *fingerprintTransport) markH1(host string) {
	t.mu.Lock()
	t.h1Hosts[host] = true
	t.mu.Unlock()
}

// dialTLS completes the fingerprinted handshake. When wantH2 is set and the
// server picks another protocol, the host is marked and the dial fails so the
// caller can fall back. The HTTP/1.1 pool only reaches hosts that already
// declined h2, so the same hello serves both.
func (t *fingerprintTransport) dialTLS(ctx context.Context, network, addr string, wantH2 bool) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := t.dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	uconn := utls.UClient(conn, &utls.Config{ServerName: host}, t.hello)
	if err := uconn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake with %s: %w", host, err)
	}

	if wantH2 && uconn.ConnectionState().NegotiatedProtocol != http2.NextProtoTLS {
		uconn.Close()
		t.markH1(addrHost(addr))
		return nil, fmt.Errorf("%s did not negotiate h2", host)
	}
	return uconn, nil
}

// addrHost maps a dial address back to the URL host key. Default https
// ports are dropped since request URLs usually omit them.
func addrHost(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || port != "443" {
		return addr
	}
	return host
}
