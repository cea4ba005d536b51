package matcher

import (
	"sort"
	"time"

	"bill-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

// OperationIndex provides efficient lookups of operations by amount and date
type OperationIndex struct {
	// AmountRangeIndex holds distinct signed amounts in ascending order
	AmountRangeIndex []*AmountIndexEntry

	// DateIndex maps date strings (YYYY-MM-DD) to operation slices
	DateIndex map[string][]*models.Operation

	// days holds the distinct normalized days of DateIndex in ascending order
	days []time.Time

	// AllOperations holds all indexed operations
	AllOperations []*models.Operation

	// Debits and Credits count operations by sign; zero-amount operations are in neither
	Debits  int
	Credits int
}

// AmountIndexEntry represents an entry in the sorted amount index
type AmountIndexEntry struct {
	Amount     decimal.Decimal
	Operations []*models.Operation
}

// dateLookupThreshold is the amount-bucket size above which the date index is consulted
const dateLookupThreshold = 32

// IndexStats provides statistics about the index
type IndexStats struct {
	TotalOperations int
	Debits          int
	Credits         int
	UniqueAmounts   int
	UniqueDates     int
}

// NewOperationIndex creates a new operation index. Dates are keyed after
// normalization with config.
func NewOperationIndex(operations []*models.Operation, config *MatchingConfig) *OperationIndex {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	index := &OperationIndex{
		DateIndex:     make(map[string][]*models.Operation),
		AllOperations: operations,
	}

	amountMap := make(map[string]*AmountIndexEntry)
	for _, op := range operations {
		switch {
		case op.IsDebit():
			index.Debits++
		case op.IsCredit():
			index.Credits++
		}

		day := config.NormalizeTime(op.Date)
		dateKey := day.Format("2006-01-02")
		if _, seen := index.DateIndex[dateKey]; !seen {
			index.days = append(index.days, day)
		}
		index.DateIndex[dateKey] = append(index.DateIndex[dateKey], op)

		// trailing zeros must not split an amount into two entries
		amountKey := op.Amount.String()
		if entry, exists := amountMap[amountKey]; exists {
			entry.Operations = append(entry.Operations, op)
		} else {
			amountMap[amountKey] = &AmountIndexEntry{
				Amount:     op.Amount,
				Operations: []*models.Operation{op},
			}
		}
	}

	sort.Slice(index.days, func(i, j int) bool {
		return index.days[i].Before(index.days[j])
	})

	index.AmountRangeIndex = make([]*AmountIndexEntry, 0, len(amountMap))
	for _, entry := range amountMap {
		index.AmountRangeIndex = append(index.AmountRangeIndex, entry)
	}
	sort.Slice(index.AmountRangeIndex, func(i, j int) bool {
		return index.AmountRangeIndex[i].Amount.LessThan(index.AmountRangeIndex[j].Amount)
	})

	return index
}

// GetByAmountRange returns operations within the specified signed amount range (inclusive)
func (oi *OperationIndex) GetByAmountRange(minAmount, maxAmount decimal.Decimal) []*models.Operation {
	var result []*models.Operation

	startIdx := sort.Search(len(oi.AmountRangeIndex), func(i int) bool {
		return oi.AmountRangeIndex[i].Amount.GreaterThanOrEqual(minAmount)
	})

	for i := startIdx; i < len(oi.AmountRangeIndex); i++ {
		entry := oi.AmountRangeIndex[i]
		if entry.Amount.GreaterThan(maxAmount) {
			break
		}
		result = append(result, entry.Operations...)
	}

	return result
}

// GetByDateRange returns operations booked between two normalized days
// (inclusive). Only days that hold operations are visited, so the cost does
// not depend on the width of the window.
func (oi *OperationIndex) GetByDateRange(startDate, endDate time.Time) []*models.Operation {
	var result []*models.Operation

	startIdx := sort.Search(len(oi.days), func(i int) bool {
		return !oi.days[i].Before(startDate)
	})

	for i := startIdx; i < len(oi.days); i++ {
		if oi.days[i].After(endDate) {
			break
		}
		result = append(result, oi.DateIndex[oi.days[i].Format("2006-01-02")]...)
	}

	return result
}

// GetCandidates returns the operations that may fill role for bill. Large
// amount buckets are narrowed by the date window before every constraint is
// checked.
func (oi *OperationIndex) GetCandidates(bill *models.Bill, role models.Role, evaluator *Evaluator) []*models.Operation {
	minAmount, maxAmount := evaluator.AmountRange(bill, role)
	pool := oi.GetByAmountRange(minAmount, maxAmount)

	if len(pool) > dateLookupThreshold {
		from, to := evaluator.DateRange(bill, role)
		if byDate := oi.GetByDateRange(from, to); len(byDate) < len(pool) {
			pool = byDate
		}
	}

	var candidates []*models.Operation
	for _, op := range pool {
		if evaluator.Matches(bill, op, role) {
			candidates = append(candidates, op)
		}
	}
	return candidates
}

// GetIndexStats returns statistics about the index
func (oi *OperationIndex) GetIndexStats() IndexStats {
	return IndexStats{
		TotalOperations: len(oi.AllOperations),
		Debits:          oi.Debits,
		Credits:         oi.Credits,
		UniqueAmounts:   len(oi.AmountRangeIndex),
		UniqueDates:     len(oi.DateIndex),
	}
}
