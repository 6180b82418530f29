package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Tyrowin/ratechat/internal/platform/retry"
	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultCurrentURL = "https://api.privatbank.ua/p24api/pubinfo?exchange&coursid=5"
	DefaultHistoryURL = "https://api.privatbank.ua/p24api/exchange_rates?json"

	defaultTimeout          = 5 * time.Second
	breakerFailureThreshold = 5
	breakerOpenDuration     = 30 * time.Second
)

// DefaultCurrencies are the currencies kept from the current-rates feed.
var DefaultCurrencies = []string{"USD", "EUR"}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	CurrentURL string
	HistoryURL string
	Currencies []string
	Timeout    time.Duration
	HTTPClient *http.Client
	Cache      Cache
	Clock      clockwork.Clock
	Retry      retry.Policy
	Logger     *slog.Logger
}

// Client talks to the exchange-rate API.
type Client struct {
	http       *http.Client
	currentURL string
	historyURL string
	currencies []string
	timeout    time.Duration
	cache      Cache
	clock      clockwork.Clock
	retry      retry.Policy
	log        *slog.Logger
	breaker    *gobreaker.CircuitBreaker
	group      singleflight.Group
}

func NewClient(opts Options) *Client {
	c := &Client{
		http:       opts.HTTPClient,
		currentURL: opts.CurrentURL,
		historyURL: opts.HistoryURL,
		currencies: opts.Currencies,
		timeout:    opts.Timeout,
		cache:      opts.Cache,
		clock:      opts.Clock,
		retry:      opts.Retry,
		log:        opts.Logger,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.currentURL == "" {
		c.currentURL = DefaultCurrentURL
	}
	if c.historyURL == "" {
		c.historyURL = DefaultHistoryURL
	}
	if len(c.currencies) == 0 {
		c.currencies = DefaultCurrencies
	}
	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.cache == nil {
		c.cache = NewMemoryCache(c.clock, 0)
	}
	if c.retry.MaxAttempts == 0 {
		c.retry = retry.Policy{MaxAttempts: 3, InitialBackoff: 200 * time.Millisecond}
	}
	if c.retry.Clock == nil {
		c.retry.Clock = c.clock
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.retry.OnRetry == nil {
		c.retry.OnRetry = func(attempt int, err error, backoff time.Duration) {
			c.log.Warn("exchange.retry", "attempt", attempt, "backoff", backoff, "error", err)
		}
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "exchange",
		Timeout: breakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.log.Warn("Circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
		},
	})
	return c
}

// Current returns the current rates for the configured currencies in feed order.
// Concurrent callers share a single upstream request.
func (c *Client) Current(ctx context.Context) ([]Rate, error) {
	rates, ok, err := c.cache.Get(ctx)
	if err != nil {
		c.log.Warn("exchange.cache.get", "error", err)
	}
	if ok {
		return rates, nil
	}

	v, err, _ := c.group.Do("current", func() (any, error) {
		// The shared request must not be cut short by whichever caller started it.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.fetchCurrent(fetchCtx)
	})
	if err != nil {
		return nil, err
	}
	return append([]Rate(nil), v.([]Rate)...), nil
}

func (c *Client) fetchCurrent(ctx context.Context) ([]Rate, error) {
	raw, err := c.breaker.Execute(func() (any, error) {
		return retry.Do(ctx, c.retry, classify, func(ctx context.Context) ([]Rate, error) {
			var rates []Rate
			if err := c.getJSON(ctx, c.currentURL, &rates); err != nil {
				return nil, err
			}
			return rates, nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("fetch current rates: %w", err)
	}

	rates := filterRates(raw.([]Rate), c.currencies)
	if len(rates) == 0 {
		return nil, ErrNoRates
	}

	if err := c.cache.Set(ctx, rates); err != nil {
		c.log.Warn("exchange.cache.set", "error", err)
	}
	return rates, nil
}

func (c *Client) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &HTTPError{URL: url, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, url, err)
	}
	return nil
}

// classify retries network failures and 5xx/429 responses only.
func classify(err error) retry.Action {
	var httpErr *HTTPError
	switch {
	case errors.As(err, &httpErr):
		if httpErr.Temporary() {
			return retry.Retry
		}
		return retry.Stop
	case errors.Is(err, ErrMalformedResponse),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return retry.Stop
	default:
		return retry.Retry
	}
}
