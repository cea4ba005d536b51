package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Run is the persisted record of one reconciliation
type Run struct {
	ID               string          `json:"id"`
	StartedAt        time.Time       `json:"started_at"`
	CompletedAt      time.Time       `json:"completed_at"`
	BillsSource      string          `json:"bills_source"`
	OperationSources []string        `json:"operation_sources"`
	TotalBills       int             `json:"total_bills"`
	TotalOperations  int             `json:"total_operations"`
	DebitsMatched    int             `json:"debits_matched"`
	CreditsMatched   int             `json:"credits_matched"`
	UnmatchedBills   int             `json:"unmatched_bills"`
	UnusedOperations int             `json:"unused_operations"`
	Conflicts        int             `json:"conflicts"`
	TotalDebit       decimal.Decimal `json:"total_debit"`
	TotalCredit      decimal.Decimal `json:"total_credit"`
	// ConfigJSON is the matching configuration the run used
	ConfigJSON string `json:"config,omitempty"`

	Matches []*BillMatchRecord `json:"matches,omitempty"`
}

// BillMatchRecord is the outcome for one bill of a run. Empty operation IDs
// mean the role was not matched.
type BillMatchRecord struct {
	RunID             string  `json:"run_id"`
	BillID            string  `json:"bill_id"`
	DebitOperationID  string  `json:"debit_operation_id,omitempty"`
	CreditOperationID string  `json:"credit_operation_id,omitempty"`
	DebitDistance     float64 `json:"debit_distance,omitempty"`
	CreditDistance    float64 `json:"credit_distance,omitempty"`
}

// Duration returns how long the run took
func (r *Run) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}
