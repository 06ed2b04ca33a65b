package commerce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/mod/semver"

	"storefront/internal/model"
)

// CodeIncompatibleAPI marks a backend older than the configured minimum.
const CodeIncompatibleAPI = "INCOMPATIBLE_API"

// IsIncompatible reports whether err came from a failed version check
// rather than an unreachable backend.
func IsIncompatible(err error) bool {
	var apiErr *model.APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeIncompatibleAPI
}

// Health is the backend health report.
type Health struct {
	Status     string `json:"status"`
	APIVersion string `json:"api_version"`
}

// Health fetches the backend health report. The API version falls back to
// the Storefront-Server response header when the body omits it.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pathHealth, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	c.setHeaders(req, model.Identity{})

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.NewTransportError(serviceName, err)
	}
	defer resp.Body.Close()

	var h Health
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, model.NewServerRejection(resp.StatusCode, "UNHEALTHY", "")
	}
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, model.NewInvalidPayloadError("health response is not JSON")
	}
	if h.APIVersion == "" {
		h.APIVersion = parseServerVersion(resp.Header.Get(serverHeaderName))
	}
	return &h, nil
}

// CheckCompatibility verifies the backend API version is at least minVersion.
// Versions are semver with or without the leading "v". An empty minVersion
// accepts any backend. Returns the backend's reported version.
func (c *Client) CheckCompatibility(ctx context.Context, minVersion string) (string, error) {
	h, err := c.Health(ctx)
	if err != nil {
		return "", err
	}
	if minVersion == "" {
		return h.APIVersion, nil
	}
	if !versionAtLeast(h.APIVersion, minVersion) {
		return h.APIVersion, model.NewServerRejection(0, CodeIncompatibleAPI,
			fmt.Sprintf("store API version %q is older than required %s", h.APIVersion, minVersion))
	}
	return h.APIVersion, nil
}

// versionAtLeast reports whether have >= want. Invalid versions never satisfy.
func versionAtLeast(have, want string) bool {
	hv, wv := canonicalVersion(have), canonicalVersion(want)
	if !semver.IsValid(hv) || !semver.IsValid(wv) {
		return false
	}
	return semver.Compare(hv, wv) >= 0
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
