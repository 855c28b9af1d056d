// Package fx fetches the current USD/ILS exchange rate from the Bank of
// Israel public API. The feed is a small XML document updated daily; quotes
// are cached for about an hour so completions and the public rate endpoint
// do not hammer the feed.
package fx

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"nexora/backend/internal/cache"
	"nexora/backend/internal/domain"
)

// ErrRateUnavailable signals the rate could not be obtained. Callers treat
// this as a soft failure: an order completes with profit_usd undefined.
var ErrRateUnavailable = errors.New("usd/ils rate unavailable")

const rateCacheKey = "fx:usd-ils"

type boiEnvelope struct {
	XMLName xml.Name  `xml:"ExchangeRatesResponseCollectioDTO"`
	Rates   []boiRate `xml:"ExchangeRates>ExchangeRateResponseDTO"`
}

type boiRate struct {
	Key                 string `xml:"Key"`
	CurrentExchangeRate string `xml:"CurrentExchangeRate"`
}

type Client struct {
	url        string
	httpClient *http.Client
	rateCache  cache.RateCache
	ttl        time.Duration
	logger     *logrus.Logger
}

func NewClient(url string, rateCache cache.RateCache, ttl time.Duration, logger *logrus.Logger) *Client {
	if rateCache == nil {
		rateCache = cache.NoopRateCache{}
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		rateCache:  rateCache,
		ttl:        ttl,
		logger:     logger,
	}
}

// CurrentRate returns the cached USD/ILS quote, fetching from the Bank of
// Israel feed on a cache miss. A cache read error is treated as a miss.
func (c *Client) CurrentRate(ctx context.Context) (*domain.RateResponse, error) {
	cached, ok, err := c.rateCache.Get(ctx, rateCacheKey)
	if err != nil {
		c.logger.WithError(err).Warn("rate cache read failed, fetching fresh")
	}
	if ok && cached != nil {
		return cached, nil
	}

	resp, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.rateCache.Set(ctx, rateCacheKey, resp, c.ttl); err != nil {
		c.logger.WithError(err).Warn("rate cache write failed")
	}
	return resp, nil
}

func (c *Client) fetch(ctx context.Context) (*domain.RateResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: boi api returned %d", ErrRateUnavailable, res.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}

	rate, err := parseUSDRate(body)
	if err != nil {
		return nil, err
	}

	return &domain.RateResponse{
		Rate:      rate,
		Source:    "boi",
		FetchedAt: time.Now().UTC(),
	}, nil
}

func parseUSDRate(body []byte) (decimal.Decimal, error) {
	var envelope boiEnvelope
	if err := xml.Unmarshal(body, &envelope); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}

	for _, entry := range envelope.Rates {
		if !strings.EqualFold(strings.TrimSpace(entry.Key), "USD") {
			continue
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(entry.CurrentExchangeRate))
		if err != nil || !rate.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: malformed USD rate %q", ErrRateUnavailable, entry.CurrentExchangeRate)
		}
		return rate, nil
	}

	return decimal.Zero, fmt.Errorf("%w: USD rate not found in boi response", ErrRateUnavailable)
}
