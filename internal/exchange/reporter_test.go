package exchange

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	rates []Rate
	err   error
}

func (s stubSource) Current(context.Context) ([]Rate, error) { return s.rates, s.err }

func TestReporter_FormatsCurrentRates(t *testing.T) {
	rates := []Rate{
		{Currency: "USD", Sale: "39.5", Purchase: "39.0"},
		{Currency: "EUR", Sale: "43.1", Purchase: "42.5"},
	}

	report, err := NewReporter(stubSource{rates: rates}).Report(context.Background())
	require.NoError(t, err)
	assert.Equal(t, FormatTable(rates), report)
}

func TestReporter_ErrorYieldsNoReport(t *testing.T) {
	upstream := errors.New("upstream unavailable")

	report, err := NewReporter(stubSource{err: upstream}).Report(context.Background())
	assert.ErrorIs(t, err, upstream)
	assert.Empty(t, report)
}

func TestReporter_EmptyRatesIsAnError(t *testing.T) {
	report, err := NewReporter(stubSource{rates: []Rate{}}).Report(context.Background())
	assert.ErrorIs(t, err, ErrNoRates)
	assert.Empty(t, report)
}
