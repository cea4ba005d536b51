package matcher

import (
	"fmt"
	"math/rand"
	"time"

	"bill-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

var baseDate = time.Date(2017, 12, 13, 0, 0, 0, 0, time.UTC)

func onDay(offset int) time.Time {
	return baseDate.AddDate(0, 0, offset)
}

func criterias(lower, higher float64) *models.MatchingCriterias {
	return &models.MatchingCriterias{
		AmountLowerDelta:  decimal.NewFromFloat(lower),
		AmountHigherDelta: decimal.NewFromFloat(higher),
	}
}

func withDates(mc *models.MatchingCriterias, lower, upper int) *models.MatchingCriterias {
	mc.DateLowerDelta = &lower
	mc.DateUpperDelta = &upper
	return mc
}

func newBill(id string, amount float64, day int, mc *models.MatchingCriterias) *models.Bill {
	return models.NewBill(id, decimal.NewFromFloat(amount), onDay(day), "", mc)
}

func newOp(id string, amount float64, day int, label string) *models.Operation {
	return models.NewOperation(id, onDay(day), label, decimal.NewFromFloat(amount))
}

// randomDataset builds bills with a debit and usually a credit nearby, plus
// noise operations, so that bills compete for operations.
func randomDataset(seed int64, billCount int) ([]*models.Bill, []*models.Operation) {
	rng := rand.New(rand.NewSource(seed))
	var bills []*models.Bill
	var ops []*models.Operation

	amounts := []float64{10, 25, 30, 42.5, 60}
	for i := 0; i < billCount; i++ {
		amount := amounts[rng.Intn(len(amounts))]
		day := rng.Intn(90)
		bills = append(bills, newBill(fmt.Sprintf("b%03d", i), amount, day,
			criterias(float64(rng.Intn(3)), float64(rng.Intn(3)))))

		ops = append(ops, newOp(fmt.Sprintf("o%03d-d", i), -(amount+float64(rng.Intn(3)-1)), day+rng.Intn(5)-2, "CB PHARMACIE"))
		if rng.Intn(3) > 0 {
			ops = append(ops, newOp(fmt.Sprintf("o%03d-c", i), amount-float64(rng.Intn(2)), day+rng.Intn(20)-3, "CPAM"))
		}
	}
	for i := 0; i < billCount/2; i++ {
		ops = append(ops, newOp(fmt.Sprintf("n%03d", i), float64(rng.Intn(121)-60), rng.Intn(90), "NOISE"))
	}
	return bills, ops
}

func reversedBills(in []*models.Bill) []*models.Bill {
	out := make([]*models.Bill, len(in))
	for i, b := range in {
		out[len(in)-1-i] = b
	}
	return out
}

func reversedOps(in []*models.Operation) []*models.Operation {
	out := make([]*models.Operation, len(in))
	for i, o := range in {
		out[len(in)-1-i] = o
	}
	return out
}
