// Package checks classifies matched pairs into breaks.
package checks

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"divrecon/internal/domain"
)

// ErrNegativeTolerance is returned when a run is started with tolerance < 0.
var ErrNegativeTolerance = errors.New("tolerance must be non-negative")

// Annotator explains a break. Implementations must always return a complete
// annotation; failures are handled internally.
type Annotator interface {
	Annotate(ctx context.Context, reason domain.BreakReason, nbim, custodian *domain.CanonicalRecord) domain.Annotation
}

// Classify returns the first matching reason in precedence order, or false
// when the pair agrees.
func Classify(pair domain.MatchedPair, tolerance decimal.Decimal) (domain.BreakReason, bool) {
	switch {
	case pair.NBIM != nil && pair.Custodian == nil:
		return domain.ReasonMissingInCustodian, true
	case pair.NBIM == nil && pair.Custodian != nil:
		return domain.ReasonMissingInNBIM, true
	case pair.NBIM == nil && pair.Custodian == nil:
		return "", false
	}

	a, b := pair.NBIM, pair.Custodian
	if a.Currency != b.Currency {
		return domain.ReasonCurrencyMismatch, true
	}
	if a.Amount.Sub(b.Amount).Abs().GreaterThan(tolerance) {
		return domain.ReasonAmountDifference, true
	}
	if a.Status != b.Status {
		return domain.ReasonStatusMismatch, true
	}
	return "", false
}

// Evaluate classifies every pair and annotates each break, keeping input
// order.
func Evaluate(ctx context.Context, pairs []domain.MatchedPair, tolerance decimal.Decimal, annotator Annotator) ([]domain.BreakDetail, error) {
	if tolerance.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrNegativeTolerance, tolerance)
	}
	var breaks []domain.BreakDetail
	for _, pair := range pairs {
		reason, isBreak := Classify(pair, tolerance)
		if !isBreak {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		annotation := annotator.Annotate(ctx, reason, pair.NBIM, pair.Custodian)
		log.Debug().
			Str("key", pair.Key.String()).
			Str("reason", string(reason)).
			Str("severity", string(annotation.Severity)).
			Str("source", annotation.Source).
			Msg("checks break annotated")
		breaks = append(breaks, domain.BreakDetail{
			Key:        pair.Key,
			NBIM:       pair.NBIM,
			Custodian:  pair.Custodian,
			Reason:     reason,
			Annotation: annotation,
		})
	}
	log.Info().Int("pairs", len(pairs)).Int("breaks", len(breaks)).Msg("checks evaluated pairs")
	return breaks, nil
}
