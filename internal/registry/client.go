// Package registry fetches package descriptors, either from the HTTP
// registry or from a local JSON file. It is a read-only boundary: nothing
// here mutates registry state.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"mcpforge.dev/cli/internal/core/descriptor"
	"mcpforge.dev/cli/internal/core/security"
)

// ErrNotFound reports that the registry has no package under the requested
// slug.
var ErrNotFound = errors.New("package not found in registry")

// Client handles descriptor retrieval from the registry API.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a registry client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchDescriptor retrieves and validates the descriptor for a slug.
func (c *Client) FetchDescriptor(ctx context.Context, slug string) (descriptor.PackageDescriptor, error) {
	if err := security.CheckField("slug", slug, security.MaxNameLength); err != nil {
		return descriptor.PackageDescriptor{}, err
	}

	endpoint := fmt.Sprintf("%s/api/mcps/%s", c.baseURL, url.PathEscape(slug))
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return descriptor.PackageDescriptor{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return descriptor.PackageDescriptor{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return descriptor.PackageDescriptor{}, fmt.Errorf("%q: %w", slug, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return descriptor.PackageDescriptor{}, fmt.Errorf("registry error %d: %s", resp.StatusCode, string(body))
	}

	var d descriptor.PackageDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&d); err != nil {
		return descriptor.PackageDescriptor{}, fmt.Errorf("failed to decode descriptor: %w", err)
	}
	if d.Slug == "" {
		d.Slug = slug
	}
	if err := d.Validate(); err != nil {
		return descriptor.PackageDescriptor{}, fmt.Errorf("registry returned invalid descriptor: %w", err)
	}
	return d, nil
}

// LoadDescriptor reads a descriptor from a local JSON file, used for
// development and for packages not yet published to the registry.
func LoadDescriptor(path string) (descriptor.PackageDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return descriptor.PackageDescriptor{}, fmt.Errorf("failed to read descriptor file: %w", err)
	}
	var d descriptor.PackageDescriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return descriptor.PackageDescriptor{}, fmt.Errorf("failed to parse descriptor file: %w", err)
	}
	if err := d.Validate(); err != nil {
		return descriptor.PackageDescriptor{}, fmt.Errorf("descriptor file %s: %w", path, err)
	}
	return d, nil
}
