package matcher

import (
	"math"
	"time"

	"bill-reconciliation-service/internal/brands"
	"bill-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

// Evaluator decides whether an operation may fill a role of a bill and how far
// it is from the ideal operation for that role.
type Evaluator struct {
	config *MatchingConfig
	brands *brands.Dictionary
}

// NewEvaluator creates an evaluator. A nil dictionary falls back to plain
// substring comparison of vendor and label.
func NewEvaluator(config *MatchingConfig, dictionary *brands.Dictionary) *Evaluator {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &Evaluator{config: config, brands: dictionary}
}

// AmountRange returns the inclusive signed range an operation amount must fall
// in. Deltas are applied to the signed expected amount, so for a debit the
// lower delta allows paying more than the reference and the higher delta allows
// paying less.
func (e *Evaluator) AmountRange(bill *models.Bill, role models.Role) (decimal.Decimal, decimal.Decimal) {
	expected := bill.ExpectedAmount(role)
	var lower, higher decimal.Decimal
	if mc := bill.MatchingCriterias; mc != nil {
		lower, higher = mc.AmountLowerDelta, mc.AmountHigherDelta
	}
	return expected.Sub(lower), expected.Add(higher)
}

// DateRange returns the inclusive window of normalized days an operation must
// be booked in. A credit never precedes the bill date.
func (e *Evaluator) DateRange(bill *models.Bill, role models.Role) (time.Time, time.Time) {
	ref := e.config.NormalizeTime(bill.ReferenceDate(role))
	upper := e.config.UpperDays(bill)
	if role == models.RoleCredit {
		return ref, ref.AddDate(0, 0, upper)
	}
	return ref.AddDate(0, 0, -e.config.LowerDays(bill)), ref.AddDate(0, 0, upper)
}

// Matches reports whether op satisfies every hard constraint of the bill role
func (e *Evaluator) Matches(bill *models.Bill, op *models.Operation, role models.Role) bool {
	if bill.MatchingCriterias == nil {
		return false
	}

	switch role {
	case models.RoleDebit:
		if !op.IsDebit() {
			return false
		}
	case models.RoleCredit:
		if !op.IsCredit() {
			return false
		}
	default:
		return false
	}

	minAmount, maxAmount := e.AmountRange(bill, role)
	if op.Amount.LessThan(minAmount) || op.Amount.GreaterThan(maxAmount) {
		return false
	}

	from, to := e.DateRange(bill, role)
	day := e.config.NormalizeTime(op.Date)
	if day.Before(from) || day.After(to) {
		return false
	}

	if e.config.RequireVendorMatch && !e.LabelAgrees(bill, op) {
		return false
	}

	return true
}

// LabelAgrees reports whether the operation label is consistent with the bill vendor
func (e *Evaluator) LabelAgrees(bill *models.Bill, op *models.Operation) bool {
	return e.brands.LabelAgrees(bill.Vendor, op.Label)
}

// Distance scores how far op is from the ideal operation for the role. Lower
// is better; the value only grows with the amount gap and the date gap.
func (e *Evaluator) Distance(bill *models.Bill, op *models.Operation, role models.Role) float64 {
	w := e.config.Weights

	ref := bill.ReferenceAmount(role)
	scale := math.Max(ref.InexactFloat64(), 1)
	amountGap := op.Amount.Sub(bill.ExpectedAmount(role)).Abs().InexactFloat64()

	lower := e.config.LowerDays(bill)
	if role == models.RoleCredit {
		lower = 0
	}
	window := math.Max(float64(lower+e.config.UpperDays(bill)), 1)
	dayGap := math.Abs(float64(e.config.DaysBetween(bill.ReferenceDate(role), op.Date)))

	distance := w.AmountWeight*amountGap/scale + w.DateWeight*dayGap/window
	if !e.LabelAgrees(bill, op) {
		distance += w.VendorWeight
	}
	return distance
}
