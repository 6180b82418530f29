package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/ratechat/internal/platform/retry"
	"golang.org/x/sync/errgroup"
)

const (
	// MaxHistoryDays bounds how far back History may look.
	MaxHistoryDays = 10

	historyDateLayout = "02.01.2006"
	historyFetchLimit = 4
)

// DefaultHistoryCurrencies are shown by History when no currency is requested.
var DefaultHistoryCurrencies = []string{"USD", "EUR", "PLN"}

// Day holds the archived rates published for one date.
type Day struct {
	Date  string
	Rates []Rate
}

type archiveDay struct {
	Date  string        `json:"date"`
	Rates []archiveRate `json:"exchangeRate"`
}

type archiveRate struct {
	BaseCurrency   string   `json:"baseCurrency"`
	Currency       string   `json:"currency"`
	SaleRateNB     float64  `json:"saleRateNB"`
	PurchaseRateNB float64  `json:"purchaseRateNB"`
	SaleRate       *float64 `json:"saleRate"`
	PurchaseRate   *float64 `json:"purchaseRate"`
}

// History fetches the archived rates for each of the previous days days,
// newest first. With an empty currency the DefaultHistoryCurrencies are kept
// and missing ones are skipped; a requested currency missing on any day is an
// ErrCurrencyNotFound.
func (c *Client) History(ctx context.Context, days int, currency string) ([]Day, error) {
	if days < 1 || days > MaxHistoryDays {
		return nil, fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidDays, days, MaxHistoryDays)
	}

	currencies := DefaultHistoryCurrencies
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency != "" {
		currencies = []string{currency}
	}

	today := c.clock.Now()
	results := make([]Day, days)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(historyFetchLimit)
	for i := range days {
		date := historyDate(today, i+1)
		g.Go(func() error {
			day, err := c.fetchDay(gctx, date)
			if err != nil {
				return err
			}
			results[i] = day
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, day := range results {
		day.Rates = filterRates(day.Rates, currencies)
		if currency != "" && len(day.Rates) == 0 {
			return nil, fmt.Errorf("%w: %s on %s", ErrCurrencyNotFound, currency, day.Date)
		}
		results[i] = day
	}
	return results, nil
}

func (c *Client) fetchDay(ctx context.Context, date string) (Day, error) {
	url := c.historyURL + querySeparator(c.historyURL) + "date=" + date

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := retry.Do(ctx, c.retry, classify, func(ctx context.Context) (archiveDay, error) {
		var day archiveDay
		err := c.getJSON(ctx, url, &day)
		return day, err
	})
	if err != nil {
		return Day{}, fmt.Errorf("fetch rates for %s: %w", date, err)
	}

	day := Day{Date: raw.Date, Rates: make([]Rate, 0, len(raw.Rates))}
	if day.Date == "" {
		day.Date = date
	}
	for _, r := range raw.Rates {
		day.Rates = append(day.Rates, r.toRate())
	}
	return day, nil
}

// toRate prefers the bank's own rates and falls back to the national bank ones.
func (r archiveRate) toRate() Rate {
	sale, purchase := r.SaleRateNB, r.PurchaseRateNB
	if r.SaleRate != nil {
		sale = *r.SaleRate
	}
	if r.PurchaseRate != nil {
		purchase = *r.PurchaseRate
	}
	return Rate{
		Currency:     r.Currency,
		BaseCurrency: r.BaseCurrency,
		Sale:         formatAmount(sale),
		Purchase:     formatAmount(purchase),
	}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func querySeparator(url string) string {
	switch {
	case !strings.Contains(url, "?"):
		return "?"
	case strings.HasSuffix(url, "?"), strings.HasSuffix(url, "&"):
		return ""
	default:
		return "&"
	}
}

func historyDate(now time.Time, daysAgo int) string {
	return now.AddDate(0, 0, -daysAgo).Format(historyDateLayout)
}
