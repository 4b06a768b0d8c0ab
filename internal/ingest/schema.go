package ingest

import (
	"strings"
)

// Canonical column names every layout is mapped onto.
const (
	ColTradeID  = "trade_id"
	ColISIN     = "isin"
	ColPayDate  = "pay_date"
	ColAccount  = "account"
	ColAmount   = "amount"
	ColCurrency = "currency"
	ColStatus   = "status"
)

// Layout describes one known tabular format. Columns maps a source header
// (lower-cased) to its canonical name; Optional lists source headers that may
// be absent.
type Layout struct {
	Name     string
	Columns  map[string]string
	Optional map[string]bool
}

var (
	CanonicalLayout = Layout{
		Name: "canonical",
		Columns: map[string]string{
			ColTradeID:  ColTradeID,
			ColISIN:     ColISIN,
			ColPayDate:  ColPayDate,
			ColAccount:  ColAccount,
			ColAmount:   ColAmount,
			ColCurrency: ColCurrency,
			ColStatus:   ColStatus,
		},
		Optional: map[string]bool{ColStatus: true},
	}

	NBIMLayout = Layout{
		Name: "nbim",
		Columns: map[string]string{
			"coac_event_key":        ColTradeID,
			"isin":                  ColISIN,
			"payment_date":          ColPayDate,
			"bank_account":          ColAccount,
			"net_amount_settlement": ColAmount,
			"settlement_currency":   ColCurrency,
			"event_type":            ColStatus,
		},
		Optional: map[string]bool{"event_type": true},
	}

	CustodianLayout = Layout{
		Name: "custodian",
		Columns: map[string]string{
			"coac_event_key":   ColTradeID,
			"isin":             ColISIN,
			"pay_date":         ColPayDate,
			"bank_accounts":    ColAccount,
			"net_amount_sc":    ColAmount,
			"settled_currency": ColCurrency,
			"event_type":       ColStatus,
		},
	}
)

// Layouts are tried in this order; the first whose required columns are a
// subset of the header wins.
var Layouts = []Layout{CanonicalLayout, NBIMLayout, CustodianLayout}

func normalizeHeader(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Matches reports whether every required column of the layout is present.
func (l Layout) Matches(header []string) bool {
	present := make(map[string]bool, len(header))
	for _, h := range header {
		present[normalizeHeader(h)] = true
	}
	for col := range l.Columns {
		if l.Optional[col] {
			continue
		}
		if !present[col] {
			return false
		}
	}
	return true
}

// indexes maps each canonical column to its position in the header. Absent
// optional columns are omitted.
func (l Layout) indexes(header []string) map[string]int {
	out := make(map[string]int, len(l.Columns))
	for i, h := range header {
		if canonical, ok := l.Columns[normalizeHeader(h)]; ok {
			if _, seen := out[canonical]; !seen {
				out[canonical] = i
			}
		}
	}
	return out
}

// DetectLayout returns the first layout matching the header.
func DetectLayout(header []string) (Layout, bool) {
	for _, layout := range Layouts {
		if layout.Matches(header) {
			return layout, true
		}
	}
	return Layout{}, false
}
