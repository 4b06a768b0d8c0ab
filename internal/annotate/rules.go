package annotate

import (
	"fmt"

	"divrecon/internal/domain"
)

type rule struct {
	severity   domain.Severity
	confidence float64
	escalate   bool
	actions    []string
	explain    func(nbim, custodian *domain.CanonicalRecord) string
}

var rules = map[domain.BreakReason]rule{
	domain.ReasonMissingInCustodian: {
		severity:   domain.SeverityHigh,
		confidence: 0.4,
		actions: []string{
			"Contact the custodian to confirm if the position was reported late and request a catch-up booking.",
			"Check whether the holding was transferred or closed before the record date.",
		},
		explain: func(nbim, custodian *domain.CanonicalRecord) string {
			r := present(nbim, custodian)
			return fmt.Sprintf("NBIM has a dividend of %s %s for ISIN %s, account %s, pay date %s, but the custodian record is missing.",
				amount(r), r.Currency, r.ISIN, r.Account, date(r))
		},
	},
	domain.ReasonMissingInNBIM: {
		severity:   domain.SeverityHigh,
		confidence: 0.4,
		actions: []string{
			"Review inbound interfaces for the asset and trigger a manual booking if the feed failed.",
			"Confirm the corporate action is recorded in the NBIM event calendar.",
		},
		explain: func(nbim, custodian *domain.CanonicalRecord) string {
			r := present(custodian, nbim)
			return fmt.Sprintf("Custodian has a dividend of %s %s for ISIN %s, account %s, pay date %s, but the NBIM record is missing.",
				amount(r), r.Currency, r.ISIN, r.Account, date(r))
		},
	},
	domain.ReasonCurrencyMismatch: {
		severity:   domain.SeverityMedium,
		confidence: 0.5,
		actions: []string{
			"Verify the security master currency and FX override rules, then rebalance the amounts.",
		},
		explain: func(nbim, custodian *domain.CanonicalRecord) string {
			if nbim == nil || custodian == nil {
				return generic(nbim, custodian)
			}
			return fmt.Sprintf("Currency codes disagree for ISIN %s, account %s, pay date %s: NBIM books %s while custodian books %s.",
				nbim.ISIN, nbim.Account, date(nbim), nbim.Currency, custodian.Currency)
		},
	},
	domain.ReasonAmountDifference: {
		severity:   domain.SeverityMedium,
		confidence: 0.5,
		actions: []string{
			"Compare dividend rate sources, withholding settings, and adjust for corporate action fees if required.",
		},
		explain: func(nbim, custodian *domain.CanonicalRecord) string {
			if nbim == nil || custodian == nil {
				return generic(nbim, custodian)
			}
			return fmt.Sprintf("Amounts differ for ISIN %s, account %s, pay date %s: NBIM reports %s %s while custodian reports %s %s.",
				nbim.ISIN, nbim.Account, date(nbim), amount(nbim), nbim.Currency, amount(custodian), custodian.Currency)
		},
	},
	domain.ReasonStatusMismatch: {
		severity:   domain.SeverityLow,
		confidence: 0.6,
		actions: []string{
			"Request latest settlement status from the custodian and update NBIM workflow notes.",
		},
		explain: func(nbim, custodian *domain.CanonicalRecord) string {
			if nbim == nil || custodian == nil {
				return generic(nbim, custodian)
			}
			return fmt.Sprintf("Settlement statuses diverge for ISIN %s, account %s, pay date %s: NBIM shows %s while custodian shows %s.",
				nbim.ISIN, nbim.Account, date(nbim), orNone(nbim.Status), orNone(custodian.Status))
		},
	},
}

var unknownRule = rule{
	severity:   domain.SeverityMedium,
	confidence: 0.3,
	escalate:   true,
	actions: []string{
		"Escalate to the on-call reconciliation lead for triage.",
	},
	explain: generic,
}

func generic(nbim, custodian *domain.CanonicalRecord) string {
	r := present(nbim, custodian)
	if r == nil {
		return "Unexpected break detected. Escalate to the reconciliation lead."
	}
	return fmt.Sprintf("Unexpected break for ISIN %s, account %s, pay date %s involving %s %s. Escalate to the reconciliation lead.",
		r.ISIN, r.Account, date(r), amount(r), r.Currency)
}

func present(first, second *domain.CanonicalRecord) *domain.CanonicalRecord {
	if first != nil {
		return first
	}
	return second
}

func amount(r *domain.CanonicalRecord) string {
	return r.Amount.StringFixed(2)
}

func date(r *domain.CanonicalRecord) string {
	return r.PayDate.Format(domain.DateLayout)
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

func ruleFor(reason domain.BreakReason) rule {
	if !reason.Known() {
		return unknownRule
	}
	return rules[reason]
}
