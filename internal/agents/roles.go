package agents

import (
	"fmt"

	"divrecon/internal/domain"
)

const TriageAgent = "triage_agent"

type role struct {
	agent     string
	objective string
}

// roles route each reason to a specialist. Objectives take ISIN then account.
var roles = map[domain.BreakReason]role{
	domain.ReasonMissingInCustodian: {
		agent:     "custodian_liaison_agent",
		objective: "Confirm with the custodian whether the dividend for ISIN %s on account %s was booked and request a catch-up booking.",
	},
	domain.ReasonMissingInNBIM: {
		agent:     "booking_agent",
		objective: "Find out why the NBIM ledger lacks the dividend for ISIN %s on account %s and book it manually if the feed failed.",
	},
	domain.ReasonCurrencyMismatch: {
		agent:     "static_data_agent",
		objective: "Check the security master and FX configuration for ISIN %s on account %s and align the settlement currency.",
	},
	domain.ReasonAmountDifference: {
		agent:     "rates_and_tax_agent",
		objective: "Compare dividend rate sources and withholding tax setup for ISIN %s on account %s and correct the booked amount.",
	},
	domain.ReasonStatusMismatch: {
		agent:     "settlement_agent",
		objective: "Obtain the latest settlement status for ISIN %s on account %s and update the NBIM workflow notes.",
	},
}

func roleFor(b domain.BreakDetail) (agent, objective string) {
	if r, ok := roles[b.Reason]; ok {
		return r.agent, fmt.Sprintf(r.objective, b.Key.ISIN, b.Key.Account)
	}
	return TriageAgent, fmt.Sprintf("Triage the unexpected %s break for ISIN %s on account %s.", b.Reason, b.Key.ISIN, b.Key.Account)
}
