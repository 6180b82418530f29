package exchange

import "context"

// RateSource supplies current rates.
type RateSource interface {
	Current(ctx context.Context) ([]Rate, error)
}

// Reporter turns current rates into the table text broadcast to chat clients.
type Reporter struct {
	source RateSource
}

func NewReporter(source RateSource) *Reporter {
	return &Reporter{source: source}
}

// Report fetches the current rates and formats them. On error no partial
// table is returned.
func (r *Reporter) Report(ctx context.Context) (string, error) {
	rates, err := r.source.Current(ctx)
	if err != nil {
		return "", err
	}
	if len(rates) == 0 {
		return "", ErrNoRates
	}
	return FormatTable(rates), nil
}
