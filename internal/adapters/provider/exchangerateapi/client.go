package exchangerateapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fxsync/ratesync/internal/apperrors"
	"github.com/fxsync/ratesync/internal/core/domain"
	"github.com/fxsync/ratesync/internal/platform/retry"
	"github.com/shopspring/decimal"
)

// latestResponse is the provider's latest-rates payload: one quote per
// currency, expressed as units of that currency per one base unit.
type latestResponse struct {
	Base  string             `json:"base"`
	Date  string             `json:"date"`
	Rates map[string]float64 `json:"rates"`
}

// Client fetches exchange rates from an ExchangeRate-API compatible endpoint.
// One bulk call covers the whole symbol set; a symbol missing from the
// response is simply absent from the result.
type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy
}

// NewClient creates a provider client for the given endpoint.
func NewClient(name, baseURL string, timeout time.Duration, policy retry.Policy) *Client {
	return &Client{
		name:    name,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		policy: policy,
	}
}

// Name identifies the provider in records and events.
func (c *Client) Name() string {
	return c.name
}

// FetchRates retrieves quotes for the requested symbols. The provider quotes
// units-per-base, so each rate is inverted into the value of one foreign unit
// in the base currency (1 USD = 1350.5 KRW, not 1 KRW = 0.00074 USD).
// Transport failures are retried per the policy and surface as
// ErrUpstreamUnavailable.
func (c *Client) FetchRates(ctx context.Context, baseCurrency string, symbols []string) (map[string]domain.ProviderQuote, error) {
	var parsed latestResponse
	err := c.policy.Do(ctx, func() error {
		return c.fetchLatest(ctx, baseCurrency, &parsed)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperrors.ErrUpstreamUnavailable, c.name, err)
	}

	observedAt := time.Now().UTC()
	quotes := make(map[string]domain.ProviderQuote, len(symbols))
	one := decimal.NewFromInt(1)
	for _, symbol := range symbols {
		raw, ok := parsed.Rates[symbol]
		if !ok || raw <= 0 {
			continue
		}
		quotes[symbol] = domain.ProviderQuote{
			CurrencyCode: symbol,
			MidRate:      one.Div(decimal.NewFromFloat(raw)).Round(6),
			ObservedAt:   observedAt,
		}
	}
	return quotes, nil
}

func (c *Client) fetchLatest(ctx context.Context, baseCurrency string, out *latestResponse) error {
	url := fmt.Sprintf("%s/%s", c.baseURL, baseCurrency)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(out.Rates) == 0 {
		return fmt.Errorf("no rates in response from %s", url)
	}
	return nil
}
