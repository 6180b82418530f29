package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Tyrowin/ratechat/internal/exchange"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	days, currency, err := parseArgs([]string{"3"})
	require.NoError(t, err)
	assert.Equal(t, 3, days)
	assert.Empty(t, currency)

	days, currency, err = parseArgs([]string{"10", "eur"})
	require.NoError(t, err)
	assert.Equal(t, 10, days)
	assert.Equal(t, "eur", currency)

	for _, args := range [][]string{{"0"}, {"11"}, {"-2"}, {"three"}} {
		_, _, err := parseArgs(args)
		assert.ErrorIs(t, err, exchange.ErrInvalidDays, "args %v", args)
	}

	_, _, err = parseArgs(nil)
	assert.ErrorIs(t, err, errUsage)
	_, _, err = parseArgs([]string{"1", "USD", "extra"})
	assert.ErrorIs(t, err, errUsage)
}

func archiveServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"date":%q,"exchangeRate":[
			{"baseCurrency":"UAH","currency":"USD","saleRateNB":39.2,"purchaseRateNB":39.2,"saleRate":39.5,"purchaseRate":39.05},
			{"baseCurrency":"UAH","currency":"EUR","saleRateNB":43.0,"purchaseRateNB":43.0}
		]}`, r.URL.Query().Get("date"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRun_PrintsOneTablePerDay(t *testing.T) {
	srv := archiveServer(t)
	t.Setenv("EXCHANGE_HISTORY_URL", srv.URL+"/p24api/exchange_rates?json")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"2", "usd"}, &stdout, &stderr)
	require.NoError(t, err, stderr.String())

	out := stdout.String()
	assert.Equal(t, 2, strings.Count(strings.ToLower(out), "exchange rates for"))
	assert.Contains(t, out, "39.5")
	assert.Contains(t, out, "39.05")
	assert.NotContains(t, out, "EUR")
	assert.Contains(t, out, "Execution time:")
}

func TestRun_UnknownCurrency(t *testing.T) {
	srv := archiveServer(t)
	t.Setenv("EXCHANGE_HISTORY_URL", srv.URL+"/p24api/exchange_rates?json")

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"1", "GBP"}, &stdout, &stderr)

	assert.ErrorIs(t, err, exchange.ErrCurrencyNotFound)
	assert.Empty(t, stdout.String())
}

func TestRun_InvalidDaysPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"12"}, &stdout, &stderr)

	assert.ErrorIs(t, err, exchange.ErrInvalidDays)
	assert.Contains(t, stderr.String(), "usage: rates")
}
