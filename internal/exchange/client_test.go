package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Tyrowin/ratechat/internal/logging"
	"github.com/Tyrowin/ratechat/internal/platform/retry"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pubinfoBody = `[
	{"ccy":"EUR","base_ccy":"UAH","buy":"42.5","sale":"43.1"},
	{"ccy":"PLN","base_ccy":"UAH","buy":"9.8","sale":"10.1"},
	{"ccy":"USD","base_ccy":"UAH","buy":"39.0","sale":"39.5"}
]`

func newTestClient(t *testing.T, handler http.Handler, opts Options) (*Client, *atomic.Int32) {
	t.Helper()

	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	opts.CurrentURL = server.URL + "/p24api/pubinfo?exchange&coursid=5"
	opts.HistoryURL = server.URL + "/p24api/exchange_rates?json"
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond}
	}
	opts.Logger = logging.Discard()
	return NewClient(opts), &hits
}

func staticJSON(status int, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprint(w, body)
	})
}

func TestCurrent_FiltersConfiguredCurrenciesInFeedOrder(t *testing.T) {
	client, _ := newTestClient(t, staticJSON(http.StatusOK, pubinfoBody), Options{})

	rates, err := client.Current(context.Background())
	require.NoError(t, err)

	require.Len(t, rates, 2)
	assert.Equal(t, Rate{Currency: "EUR", BaseCurrency: "UAH", Sale: "43.1", Purchase: "42.5"}, rates[0])
	assert.Equal(t, Rate{Currency: "USD", BaseCurrency: "UAH", Sale: "39.5", Purchase: "39.0"}, rates[1])
}

func TestCurrent_NonSuccessStatusIsHTTPError(t *testing.T) {
	client, hits := newTestClient(t, staticJSON(http.StatusNotFound, `{}`), Options{})

	_, err := client.Current(context.Background())

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, int32(1), hits.Load(), "4xx responses are not retried")
}

func TestCurrent_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		staticJSON(http.StatusOK, pubinfoBody).ServeHTTP(w, r)
	})
	client, hits := newTestClient(t, handler, Options{})

	rates, err := client.Current(context.Background())
	require.NoError(t, err)
	assert.Len(t, rates, 2)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCurrent_MalformedPayload(t *testing.T) {
	client, _ := newTestClient(t, staticJSON(http.StatusOK, `{"not":"an array"`), Options{})

	_, err := client.Current(context.Background())
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestCurrent_NoMatchingCurrencies(t *testing.T) {
	client, _ := newTestClient(t, staticJSON(http.StatusOK, pubinfoBody), Options{Currencies: []string{"GBP"}})

	_, err := client.Current(context.Background())
	assert.ErrorIs(t, err, ErrNoRates)
}

func TestCurrent_ServesFromCacheUntilExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cache := NewMemoryCache(clock, time.Minute)
	client, hits := newTestClient(t, staticJSON(http.StatusOK, pubinfoBody), Options{Cache: cache, Clock: clock})

	for range 3 {
		_, err := client.Current(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())

	clock.Advance(time.Minute)
	_, err := client.Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCurrent_ConcurrentCallersShareOneRequest(t *testing.T) {
	release := make(chan struct{})
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		staticJSON(http.StatusOK, pubinfoBody).ServeHTTP(w, r)
	})
	client, hits := newTestClient(t, handler, Options{})

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Current(context.Background())
			errs <- err
		}()
	}

	// Give every caller time to join the in-flight request.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestCurrent_CallerCancellationDoesNotAbortSharedFetch(t *testing.T) {
	client, _ := newTestClient(t, staticJSON(http.StatusOK, pubinfoBody), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rates, err := client.Current(ctx)
	require.NoError(t, err)
	assert.Len(t, rates, 2)
}

func TestCurrent_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	client, hits := newTestClient(t, staticJSON(http.StatusForbidden, ``), Options{})

	for range breakerFailureThreshold {
		_, err := client.Current(context.Background())
		require.Error(t, err)
	}
	before := hits.Load()

	_, err := client.Current(context.Background())
	require.Error(t, err)
	assert.Equal(t, before, hits.Load(), "open breaker must short-circuit the request")
}

type failingCache struct{}

func (failingCache) Get(context.Context) ([]Rate, bool, error) {
	return nil, false, errors.New("cache down")
}
func (failingCache) Set(context.Context, []Rate) error { return errors.New("cache down") }

func TestCurrent_CacheErrorsFallBackToUpstream(t *testing.T) {
	client, _ := newTestClient(t, staticJSON(http.StatusOK, pubinfoBody), Options{Cache: failingCache{}})

	rates, err := client.Current(context.Background())
	require.NoError(t, err)
	assert.Len(t, rates, 2)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, retry.Retry, classify(&HTTPError{StatusCode: 503}))
	assert.Equal(t, retry.Retry, classify(&HTTPError{StatusCode: 429}))
	assert.Equal(t, retry.Stop, classify(&HTTPError{StatusCode: 400}))
	assert.Equal(t, retry.Stop, classify(fmt.Errorf("wrap: %w", ErrMalformedResponse)))
	assert.Equal(t, retry.Stop, classify(context.DeadlineExceeded))
	assert.Equal(t, retry.Retry, classify(errors.New("connection reset by peer")))
}
