package checks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"divrecon/internal/domain"
)

var payDate = time.Date(2024, 3, 29, 0, 0, 0, 0, time.UTC)

func record(source, amount, currency, status string) *domain.CanonicalRecord {
	return &domain.CanonicalRecord{
		Source:   source,
		ISIN:     "US1",
		Account:  "ACC",
		PayDate:  payDate,
		Amount:   decimal.RequireFromString(amount),
		Currency: currency,
		Status:   status,
	}
}

func pair(nbim, custodian *domain.CanonicalRecord) domain.MatchedPair {
	return domain.MatchedPair{
		Key:       domain.MatchKey{ISIN: "US1", Account: "ACC", PayDate: payDate},
		NBIM:      nbim,
		Custodian: custodian,
	}
}

type stubAnnotator struct {
	calls []domain.BreakReason
}

func (s *stubAnnotator) Annotate(_ context.Context, reason domain.BreakReason, _, _ *domain.CanonicalRecord) domain.Annotation {
	s.calls = append(s.calls, reason)
	return domain.Annotation{Explanation: "stub", Severity: domain.SeverityLow, Source: domain.AnnotationSourceRule}
}

func TestClassifyPrecedence(t *testing.T) {
	half := decimal.RequireFromString("0.5")
	tests := []struct {
		name      string
		pair      domain.MatchedPair
		want      domain.BreakReason
		wantBreak bool
	}{
		{"nbim only", pair(record("NBIM", "100", "USD", ""), nil), domain.ReasonMissingInCustodian, true},
		{"custodian only", pair(nil, record("CUSTODIAN", "100", "EUR", "")), domain.ReasonMissingInNBIM, true},
		{"currency beats amount and status", pair(record("NBIM", "100", "USD", "A"), record("CUSTODIAN", "900", "EUR", "B")), domain.ReasonCurrencyMismatch, true},
		{"amount beats status", pair(record("NBIM", "100", "USD", "A"), record("CUSTODIAN", "101", "USD", "B")), domain.ReasonAmountDifference, true},
		{"status only", pair(record("NBIM", "100", "USD", "A"), record("CUSTODIAN", "100", "USD", "B")), domain.ReasonStatusMismatch, true},
		{"within tolerance", pair(record("NBIM", "100.00", "USD", ""), record("CUSTODIAN", "100.20", "USD", "")), "", false},
		{"exactly at tolerance", pair(record("NBIM", "100.00", "USD", ""), record("CUSTODIAN", "100.50", "USD", "")), "", false},
		{"one cent above tolerance", pair(record("NBIM", "100.00", "USD", ""), record("CUSTODIAN", "100.51", "USD", "")), domain.ReasonAmountDifference, true},
		{"negative difference above tolerance", pair(record("NBIM", "101.00", "USD", ""), record("CUSTODIAN", "100.00", "USD", "")), domain.ReasonAmountDifference, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, isBreak := Classify(tc.pair, half)
			assert.Equal(t, tc.wantBreak, isBreak)
			assert.Equal(t, tc.want, got)

			again, againBreak := Classify(tc.pair, half)
			assert.Equal(t, got, again)
			assert.Equal(t, isBreak, againBreak)
		})
	}
}

func TestClassifyZeroTolerance(t *testing.T) {
	p := pair(record("NBIM", "100.00", "USD", ""), record("CUSTODIAN", "100.01", "USD", ""))
	reason, isBreak := Classify(p, decimal.Zero)
	assert.True(t, isBreak)
	assert.Equal(t, domain.ReasonAmountDifference, reason)

	same := pair(record("NBIM", "100.00", "USD", ""), record("CUSTODIAN", "100", "USD", ""))
	_, isBreak = Classify(same, decimal.Zero)
	assert.False(t, isBreak)
}

func TestEvaluateAnnotatesBreaksInOrder(t *testing.T) {
	pairs := []domain.MatchedPair{
		pair(record("NBIM", "100", "USD", ""), nil),
		pair(record("NBIM", "100.00", "USD", ""), record("CUSTODIAN", "100.20", "USD", "")),
		pair(record("NBIM", "100.00", "USD", ""), record("CUSTODIAN", "101.00", "USD", "")),
	}
	stub := &stubAnnotator{}
	breaks, err := Evaluate(context.Background(), pairs, decimal.RequireFromString("0.5"), stub)
	require.NoError(t, err)
	require.Len(t, breaks, 2)

	assert.Equal(t, domain.ReasonMissingInCustodian, breaks[0].Reason)
	assert.Nil(t, breaks[0].Custodian)
	assert.Equal(t, domain.ReasonAmountDifference, breaks[1].Reason)
	assert.Equal(t, "stub", breaks[1].Annotation.Explanation)
	assert.Equal(t, []domain.BreakReason{domain.ReasonMissingInCustodian, domain.ReasonAmountDifference}, stub.calls)
}

func TestEvaluateRejectsNegativeTolerance(t *testing.T) {
	_, err := Evaluate(context.Background(), nil, decimal.RequireFromString("-0.01"), &stubAnnotator{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNegativeTolerance))
}
