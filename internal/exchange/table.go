package exchange

import (
	"fmt"
	"strings"
)

const (
	tableHeader = "Currency    Sale Rate    Purchase Rate\n"
	tableRule   = "----------  ----------  --------------\n"
)

// FormatTable renders rates as the fixed-width table broadcast for the
// exchange command, one row per rate in input order.
func FormatTable(rates []Rate) string {
	var b strings.Builder
	b.Grow(len(tableHeader) + len(tableRule) + len(rates)*40)
	b.WriteString(tableHeader)
	b.WriteString(tableRule)
	for _, r := range rates {
		fmt.Fprintf(&b, "%-10s  %-10s  %-14s\n", r.Currency, r.Sale, r.Purchase)
	}
	return b.String()
}
