package matcher

import (
	"fmt"

	"bill-reconciliation-service/internal/brands"
	"bill-reconciliation-service/internal/models"
	"bill-reconciliation-service/pkg/errors"
	"bill-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/iter"
)

// MatchingEngine is the core engine responsible for bill matching. It holds no
// per-run state and may be shared between goroutines as long as its
// configuration is not updated concurrently.
type MatchingEngine struct {
	Config   *MatchingConfig
	Resolver Resolver
	Brands   *brands.Dictionary
	Logger   logger.Logger
}

// ReconciliationResult represents the complete result of a reconciliation process
type ReconciliationResult struct {
	Matches          models.MatchResult
	Committed        []Candidate
	Conflicts        []Conflict
	UnmatchedBills   []*models.Bill
	UnusedOperations []*models.Operation
	Summary          ReconciliationSummary
}

// ReconciliationSummary provides aggregate statistics about the reconciliation
type ReconciliationSummary struct {
	TotalBills           int
	TotalOperations      int
	DebitsMatched        int
	CreditsMatched       int
	FullyMatchedBills    int
	UnmatchedBills       int
	UnusedOperations     int
	CandidatesConsidered int
	Conflicts            int
	TotalDebitMatched    decimal.Decimal
	TotalCreditMatched   decimal.Decimal
}

// NewMatchingEngine creates a new matching engine with the specified configuration
func NewMatchingEngine(config *MatchingConfig) *MatchingEngine {
	if config == nil {
		config = DefaultMatchingConfig()
	}

	return &MatchingEngine{
		Config:   config,
		Resolver: NewGreedyResolver(),
		Brands:   brands.Default(),
		Logger:   logger.GetGlobalLogger().WithComponent("matcher"),
	}
}

// WithBrands replaces the vendor dictionary
func (me *MatchingEngine) WithBrands(dictionary *brands.Dictionary) *MatchingEngine {
	me.Brands = dictionary
	return me
}

// WithResolver replaces the assignment strategy
func (me *MatchingEngine) WithResolver(resolver Resolver) *MatchingEngine {
	me.Resolver = resolver
	return me
}

// WithLogger replaces the logger
func (me *MatchingEngine) WithLogger(log logger.Logger) *MatchingEngine {
	me.Logger = log.WithComponent("matcher")
	return me
}

// Evaluator returns a criteria evaluator bound to the engine configuration
func (me *MatchingEngine) Evaluator() *Evaluator {
	return NewEvaluator(me.Config, me.Brands)
}

// Reconcile assigns to every bill at most one debit and one credit operation.
// Inputs are validated first and never modified. Every bill appears in the
// returned matches, with empty roles when nothing was found.
func (me *MatchingEngine) Reconcile(bills []*models.Bill, operations []*models.Operation) (*ReconciliationResult, error) {
	if err := me.ValidateConfiguration(); err != nil {
		return nil, err
	}
	if err := validateBills(bills); err != nil {
		return nil, err
	}
	if err := validateOperations(operations); err != nil {
		return nil, err
	}

	evaluator := me.Evaluator()
	index := NewOperationIndex(operations, me.Config)
	stats := index.GetIndexStats()
	me.Logger.WithFields(logger.Fields{
		"debits":         stats.Debits,
		"credits":        stats.Credits,
		"unique_amounts": stats.UniqueAmounts,
		"unique_dates":   stats.UniqueDates,
	}).Debug("Indexed operations")

	candidates := me.generateCandidates(bills, index, evaluator)
	assignment := me.Resolver.Resolve(candidates)

	matches := make(models.MatchResult, len(bills))
	for _, bill := range bills {
		matches[bill.ID] = models.BillMatch{}
	}
	for _, c := range assignment.Committed {
		matches[c.BillID] = matches[c.BillID].Set(c.Role, c.OperationID)
	}

	for _, conflict := range assignment.Conflicts {
		c := conflict.Candidate
		if conflict.HeldBy != "" {
			me.Logger.WithFields(logger.Fields{
				"bill_id":      c.BillID,
				"operation_id": c.OperationID,
				"role":         c.Role.String(),
				"held_by":      conflict.HeldBy,
				"distance":     c.Distance,
			}).Debug("candidate operation already committed to a closer bill")
		}
	}

	result := &ReconciliationResult{
		Matches:   matches,
		Committed: assignment.Committed,
		Conflicts: assignment.Conflicts,
	}
	me.fillUnmatched(result, bills, operations)
	result.Summary = me.calculateSummary(result, bills, operations, len(candidates))

	me.Logger.WithFields(logger.Fields{
		"bills":           result.Summary.TotalBills,
		"operations":      result.Summary.TotalOperations,
		"debits_matched":  result.Summary.DebitsMatched,
		"credits_matched": result.Summary.CreditsMatched,
		"candidates":      result.Summary.CandidatesConsidered,
	}).Info("reconciliation complete")

	return result, nil
}

// FindCandidates returns the ranked candidates of one bill against operations,
// capped at MaxCandidatesPerBill. It is a diagnostic view: it ignores other
// bills competing for the same operations.
func (me *MatchingEngine) FindCandidates(bill *models.Bill, operations []*models.Operation) ([]Candidate, error) {
	if err := me.ValidateConfiguration(); err != nil {
		return nil, err
	}
	if err := validateBills([]*models.Bill{bill}); err != nil {
		return nil, err
	}
	if err := validateOperations(operations); err != nil {
		return nil, err
	}

	candidates := me.candidatesForBill(bill, NewOperationIndex(operations, me.Config), me.Evaluator())
	ranked := NewGreedyResolver().sortCandidates(candidates)

	if limit := me.Config.MaxCandidatesPerBill; limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func (me *MatchingEngine) generateCandidates(bills []*models.Bill, index *OperationIndex, evaluator *Evaluator) []Candidate {
	var perBill [][]Candidate

	if me.Config.Parallelism > 1 && len(bills) > 1 {
		mapper := iter.Mapper[*models.Bill, []Candidate]{MaxGoroutines: me.Config.Parallelism}
		perBill = mapper.Map(bills, func(bill **models.Bill) []Candidate {
			return me.candidatesForBill(*bill, index, evaluator)
		})
	} else {
		perBill = make([][]Candidate, len(bills))
		for i, bill := range bills {
			perBill[i] = me.candidatesForBill(bill, index, evaluator)
		}
	}

	var all []Candidate
	for _, cs := range perBill {
		all = append(all, cs...)
	}
	return all
}

func (me *MatchingEngine) candidatesForBill(bill *models.Bill, index *OperationIndex, evaluator *Evaluator) []Candidate {
	var candidates []Candidate
	for _, role := range models.Roles {
		for _, op := range index.GetCandidates(bill, role, evaluator) {
			candidates = append(candidates, Candidate{
				BillID:      bill.ID,
				OperationID: op.ID,
				Role:        role,
				Distance:    evaluator.Distance(bill, op, role),
			})
		}
	}
	return candidates
}

func (me *MatchingEngine) fillUnmatched(result *ReconciliationResult, bills []*models.Bill, operations []*models.Operation) {
	for _, bill := range bills {
		if result.Matches[bill.ID].IsEmpty() {
			result.UnmatchedBills = append(result.UnmatchedBills, bill)
		}
	}

	used := result.Matches.UsedOperations()
	for _, op := range operations {
		if _, ok := used[op.ID]; !ok {
			result.UnusedOperations = append(result.UnusedOperations, op)
		}
	}
}

// calculateSummary calculates summary statistics for the reconciliation result
func (me *MatchingEngine) calculateSummary(result *ReconciliationResult, bills []*models.Bill, operations []*models.Operation, considered int) ReconciliationSummary {
	summary := ReconciliationSummary{
		TotalBills:           len(bills),
		TotalOperations:      len(operations),
		DebitsMatched:        result.Matches.Count(models.RoleDebit),
		CreditsMatched:       result.Matches.Count(models.RoleCredit),
		UnmatchedBills:       len(result.UnmatchedBills),
		UnusedOperations:     len(result.UnusedOperations),
		CandidatesConsidered: considered,
		Conflicts:            len(result.Conflicts),
		TotalDebitMatched:    decimal.Zero,
		TotalCreditMatched:   decimal.Zero,
	}

	for _, m := range result.Matches {
		if m.DebitOperation != "" && m.CreditOperation != "" {
			summary.FullyMatchedBills++
		}
	}

	byID := make(map[string]*models.Operation, len(operations))
	for _, op := range operations {
		byID[op.ID] = op
	}
	for _, c := range result.Committed {
		op := byID[c.OperationID]
		if op == nil {
			continue
		}
		if c.Role == models.RoleDebit {
			summary.TotalDebitMatched = summary.TotalDebitMatched.Add(op.Amount.Abs())
		} else {
			summary.TotalCreditMatched = summary.TotalCreditMatched.Add(op.Amount.Abs())
		}
	}

	return summary
}

func validateBills(bills []*models.Bill) error {
	seen := make(map[string]bool, len(bills))
	for i, bill := range bills {
		if bill == nil {
			return errors.ValidationError(errors.CodeMissingField, "bill", fmt.Sprintf("index %d", i), nil)
		}
		if err := bill.Validate(); err != nil {
			return err
		}
		if seen[bill.ID] {
			return errors.ValidationError(errors.CodeDuplicateID, "bill.id", bill.ID, nil)
		}
		seen[bill.ID] = true
	}
	return nil
}

func validateOperations(operations []*models.Operation) error {
	seen := make(map[string]bool, len(operations))
	for i, op := range operations {
		if op == nil {
			return errors.ValidationError(errors.CodeMissingField, "operation", fmt.Sprintf("index %d", i), nil)
		}
		if err := op.Validate(); err != nil {
			return err
		}
		if seen[op.ID] {
			return errors.ValidationError(errors.CodeDuplicateID, "operation.id", op.ID, nil)
		}
		seen[op.ID] = true
	}
	return nil
}

// ValidateConfiguration validates the matching engine configuration
func (me *MatchingEngine) ValidateConfiguration() error {
	if me.Config == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "matching", nil, nil)
	}
	if err := me.Config.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "matching", me.Config.String(), err)
	}
	if me.Resolver == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "matching.resolver", nil, nil)
	}
	return nil
}

// GetConfiguration returns a copy of the current configuration
func (me *MatchingEngine) GetConfiguration() *MatchingConfig {
	return me.Config.Clone()
}

// UpdateConfiguration updates the matching configuration
func (me *MatchingEngine) UpdateConfiguration(config *MatchingConfig) error {
	if config == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "matching", nil, nil)
	}
	if err := config.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "matching", config.String(), err)
	}

	me.Config = config.Clone()
	return nil
}

// Reconcile matches bills against operations with the default configuration
// and returns only the per-bill assignment.
func Reconcile(bills []*models.Bill, operations []*models.Operation) (models.MatchResult, error) {
	result, err := NewMatchingEngine(nil).Reconcile(bills, operations)
	if err != nil {
		return nil, err
	}
	return result.Matches, nil
}
