// Package matching aligns the two feeds on their match keys.
package matching

import (
	"sort"

	"github.com/rs/zerolog/log"

	"divrecon/internal/domain"
)

// DuplicatePolicy decides which record is kept when one source carries the
// same key more than once.
type DuplicatePolicy int

const (
	// DuplicatePolicyLastWins keeps the last record seen for a key.
	DuplicatePolicyLastWins DuplicatePolicy = iota
)

// Result is the full outer join of both sources, sorted by key.
type Result struct {
	Pairs []domain.MatchedPair
	// Duplicates counts records per source that were replaced by a later
	// record with the same key.
	Duplicates map[string]int
}

// Match joins nbim and custodian on MatchKey using DuplicatePolicyLastWins.
func Match(nbim, custodian []domain.CanonicalRecord) Result {
	return MatchWithPolicy(nbim, custodian, DuplicatePolicyLastWins)
}

func MatchWithPolicy(nbim, custodian []domain.CanonicalRecord, policy DuplicatePolicy) Result {
	left, leftDup := index(nbim, policy)
	right, rightDup := index(custodian, policy)

	keys := make([]domain.MatchKey, 0, len(left)+len(right))
	for k := range left {
		keys = append(keys, k)
	}
	for k := range right {
		if _, ok := left[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	pairs := make([]domain.MatchedPair, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, domain.MatchedPair{Key: k, NBIM: left[k], Custodian: right[k]})
	}

	if leftDup > 0 || rightDup > 0 {
		log.Warn().
			Int("nbim_duplicates", leftDup).
			Int("custodian_duplicates", rightDup).
			Msg("matching replaced duplicate keys, last record wins")
	}
	return Result{
		Pairs: pairs,
		Duplicates: map[string]int{
			domain.SourceNBIM:      leftDup,
			domain.SourceCustodian: rightDup,
		},
	}
}

func index(records []domain.CanonicalRecord, policy DuplicatePolicy) (map[domain.MatchKey]*domain.CanonicalRecord, int) {
	out := make(map[domain.MatchKey]*domain.CanonicalRecord, len(records))
	dups := 0
	for i := range records {
		rec := &records[i]
		k := rec.Key()
		if _, seen := out[k]; seen {
			dups++
			switch policy {
			case DuplicatePolicyLastWins:
				out[k] = rec
			}
			continue
		}
		out[k] = rec
	}
	return out, dups
}
