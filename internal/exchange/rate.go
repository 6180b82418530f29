// Package exchange fetches published currency exchange rates and renders them
// as text for the relay's exchange command and the rates CLI.
package exchange

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoRates is returned when the feed contains none of the requested currencies.
	ErrNoRates = errors.New("exchange: no rates for the requested currencies")

	// ErrCurrencyNotFound is returned by History when a requested currency is missing on a day.
	ErrCurrencyNotFound = errors.New("exchange: currency not found")

	// ErrMalformedResponse wraps JSON decoding failures of upstream payloads.
	ErrMalformedResponse = errors.New("exchange: malformed response")

	// ErrInvalidDays is returned by History for a day count outside 1..MaxHistoryDays.
	ErrInvalidDays = errors.New("exchange: invalid number of days")
)

// Rate is one currency quote from the current-rates feed.
type Rate struct {
	Currency     string `json:"ccy"`
	BaseCurrency string `json:"base_ccy"`
	Sale         string `json:"sale"`
	Purchase     string `json:"buy"`
}

// HTTPError reports a non-200 response from the upstream API.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("exchange: %s responded with HTTP %d", e.URL, e.StatusCode)
}

// Temporary reports whether retrying the request could succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// filterRates keeps the rates whose currency is listed, preserving feed order.
func filterRates(rates []Rate, currencies []string) []Rate {
	wanted := make(map[string]struct{}, len(currencies))
	for _, c := range currencies {
		wanted[strings.ToUpper(c)] = struct{}{}
	}

	out := make([]Rate, 0, len(currencies))
	for _, r := range rates {
		if _, ok := wanted[strings.ToUpper(r.Currency)]; ok {
			out = append(out, r)
		}
	}
	return out
}
