// Package gamma consume Polymarket gamma endpoints.
package gamma

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/daszybak/polymarket_capture/internal/window"
	"github.com/daszybak/polymarket_capture/pkg/httpclient"
)

// DefaultTimeout bounds a single discovery request.
const DefaultTimeout = 30 * time.Second

// ErrMalformedTokens is returned when a market does not carry exactly two
// CLOB token IDs.
var ErrMalformedTokens = errors.New("market must have exactly two clob token ids")

type Client struct {
	httpClient *http.Client
	baseURL    string
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}
}

// TokenIDs handles the double-encoded JSON array from the API. A plain
// array is accepted as well.
type TokenIDs []string

func (t *TokenIDs) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return json.Unmarshal(data, (*[]string)(t))
	}
	return json.Unmarshal([]byte(s), (*[]string)(t))
}

type Market struct {
	ID           string   `json:"id"`
	ConditionID  string   `json:"conditionId"`
	Question     string   `json:"question"`
	Slug         string   `json:"slug"`
	Outcomes     string   `json:"outcomes"`
	ClobTokenIDs TokenIDs `json:"clobTokenIds"`
}

func (c *Client) GetMarketBySlug(ctx context.Context, slug string) (*Market, error) {
	market, err := httpclient.GetResource[*Market](ctx, c.httpClient, c.baseURL, "/markets/slug/"+url.PathEscape(slug), []int{200})
	if err != nil {
		return nil, fmt.Errorf("couldn't get market by slug %s: %w", slug, err)
	}
	return market, nil
}

// Tokens resolves the outcome token pair of the market named by slug.
func (c *Client) Tokens(ctx context.Context, slug string) (window.Tokens, error) {
	market, err := c.GetMarketBySlug(ctx, slug)
	if err != nil {
		return window.Tokens{}, err
	}
	if market == nil || len(market.ClobTokenIDs) != 2 {
		return window.Tokens{}, fmt.Errorf("market %s: %w", slug, ErrMalformedTokens)
	}
	return window.Tokens{market.ClobTokenIDs[0], market.ClobTokenIDs[1]}, nil
}
