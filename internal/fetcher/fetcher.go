// Package fetcher downloads the server-market listing and normalizes its
// raw records into canonical offers.
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"hetzner_bot/internal/model"
)

// DefaultURL is the live server-market listing endpoint.
const DefaultURL = "https://www.hetzner.com/_resources/app/data/app/live_data_sb_EUR.json"

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher downloads and decodes the market listing.
type Fetcher struct {
	client  HTTPClient
	url     string
	timeout time.Duration
}

// New creates a Fetcher with the given HTTP client.
func New(client HTTPClient) *Fetcher {
	return &Fetcher{
		client:  client,
		url:     DefaultURL,
		timeout: 30 * time.Second,
	}
}

// NewWithURL creates a Fetcher pointed at a custom listing URL (useful for testing).
func NewWithURL(client HTTPClient, url string) *Fetcher {
	f := New(client)
	f.url = url
	return f
}

// Fetch downloads the market listing and returns its raw offer records.
// Any network, status, or decode problem is reported as a single error;
// the caller treats it as "no data this cycle".
func (f *Fetcher) Fetch(ctx context.Context) ([]map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Referer", "https://www.hetzner.de/sb")
	req.Header.Set("User-Agent", "HetznerOfferBot/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 20*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	var listing struct {
		Server []map[string]any `json:"server"`
	}
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("decode listing: %w", err)
	}
	// A document without the server key is an error or maintenance payload,
	// not an empty market. Treating it as data would deactivate every offer.
	if listing.Server == nil {
		return nil, fmt.Errorf("listing has no server records")
	}
	return listing.Server, nil
}

// FetchOffers downloads the listing and normalizes it. Malformed records
// are logged and dropped, they never fail the batch.
func (f *Fetcher) FetchOffers(ctx context.Context, log *slog.Logger) ([]model.Offer, error) {
	raw, err := f.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return NormalizeAll(raw, log), nil
}
