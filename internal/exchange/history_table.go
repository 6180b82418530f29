package exchange

import (
	"github.com/jedib0t/go-pretty/v6/table"
)

// RenderDay renders one day of archived rates as a boxed table.
func RenderDay(day Day) string {
	t := table.NewWriter()
	t.SetTitle("Exchange rates for " + day.Date)
	t.AppendHeader(table.Row{"Currency", "Sale Rate", "Purchase Rate"})
	for _, r := range day.Rates {
		t.AppendRow(table.Row{r.Currency, r.Sale, r.Purchase})
	}
	return t.Render()
}
