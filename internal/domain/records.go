package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SourceNBIM      = "NBIM"
	SourceCustodian = "CUSTODIAN"
)

const DateLayout = "2006-01-02"

// MatchKey identifies one economic event across both feeds.
type MatchKey struct {
	ISIN    string
	Account string
	PayDate time.Time
}

// Less orders keys by ISIN, then account, then pay date.
func (k MatchKey) Less(other MatchKey) bool {
	if k.ISIN != other.ISIN {
		return k.ISIN < other.ISIN
	}
	if k.Account != other.Account {
		return k.Account < other.Account
	}
	return k.PayDate.Before(other.PayDate)
}

func (k MatchKey) String() string {
	return k.ISIN + "/" + k.Account + "/" + k.PayDate.Format(DateLayout)
}

type CanonicalRecord struct {
	Source   string
	TradeID  string
	ISIN     string
	PayDate  time.Time
	Account  string
	Amount   decimal.Decimal
	Currency string
	Status   string
}

func (r CanonicalRecord) Key() MatchKey {
	return MatchKey{ISIN: r.ISIN, Account: r.Account, PayDate: r.PayDate}
}

// RecordSnapshot is the flat wire form of a record sent to the model and
// written to the JSON report.
type RecordSnapshot struct {
	Source   string      `json:"source"`
	TradeID  string      `json:"trade_id"`
	ISIN     string      `json:"isin"`
	PayDate  string      `json:"pay_date"`
	Account  string      `json:"account"`
	Amount   json.Number `json:"amount"`
	Currency string      `json:"currency"`
	Status   string      `json:"status"`
}

// Snapshot returns nil for a nil record so absent sides serialise as null.
func Snapshot(r *CanonicalRecord) *RecordSnapshot {
	if r == nil {
		return nil
	}
	return &RecordSnapshot{
		Source:   r.Source,
		TradeID:  r.TradeID,
		ISIN:     r.ISIN,
		PayDate:  r.PayDate.Format(DateLayout),
		Account:  r.Account,
		Amount:   json.Number(r.Amount.String()),
		Currency: r.Currency,
		Status:   r.Status,
	}
}

// MatchedPair holds at most one record per source for a key; at least one
// side is always set.
type MatchedPair struct {
	Key       MatchKey
	NBIM      *CanonicalRecord
	Custodian *CanonicalRecord
}
