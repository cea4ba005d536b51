package reconciler

import (
	"context"
	"fmt"
	"time"

	"bill-reconciliation-service/internal/brands"
	"bill-reconciliation-service/internal/matcher"
	"bill-reconciliation-service/internal/models"
	"bill-reconciliation-service/internal/parsers"
	"bill-reconciliation-service/internal/storage"
	"bill-reconciliation-service/pkg/errors"
	"bill-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// ReconciliationService orchestrates the complete reconciliation process:
// loading bills and operations, matching them and keeping the run history.
type ReconciliationService struct {
	billParser     *parsers.BillParser
	matchingEngine *matcher.MatchingEngine
	repository     storage.Repository
	progress       ProgressFunc
	config         *Config
	logger         logger.Logger
}

// Config holds configuration options for the reconciliation service
type Config struct {
	// DefaultCriterias is given to bills loaded without matchingCriterias.
	// When nil such bills are rejected by the engine.
	DefaultCriterias *models.MatchingCriterias

	// OperationFormat forces the CSV layout; nil detects it per file
	OperationFormat *parsers.OperationFormat

	// Processing options
	MaxConcurrentFiles int
	ProgressReporting  bool

	// Output options
	IncludeStatistics bool
	DetailedBreakdown bool
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		DefaultCriterias:   &models.MatchingCriterias{},
		MaxConcurrentFiles: 4,
		ProgressReporting:  false,
		IncludeStatistics:  true,
		DetailedBreakdown:  true,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MaxConcurrentFiles <= 0 {
		return fmt.Errorf("max concurrent files must be positive, got %d", c.MaxConcurrentFiles)
	}

	if c.DefaultCriterias != nil {
		if err := c.DefaultCriterias.Validate(); err != nil {
			return err
		}
	}

	if c.OperationFormat != nil {
		if err := c.OperationFormat.Validate(); err != nil {
			return fmt.Errorf("invalid operation format: %w", err)
		}
	}

	return nil
}

// ReconciliationRequest represents a request for reconciliation
type ReconciliationRequest struct {
	BillsFile      string   `json:"bills_file"`
	OperationFiles []string `json:"operation_files"`
	// StartDate and EndDate bound the calendar days kept, both inclusive.
	// Only the day of each bound is used.
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`
}

// Validate validates the reconciliation request
func (r *ReconciliationRequest) Validate() error {
	if r.BillsFile == "" {
		return errors.ValidationError(errors.CodeMissingField, "bills_file", "", nil)
	}

	if len(r.OperationFiles) == 0 {
		return errors.ValidationError(errors.CodeMissingField, "operation_files", "", nil).
			WithSuggestion("Provide at least one bank export with --operations")
	}

	if r.StartDate != nil && r.EndDate != nil && r.StartDate.After(*r.EndDate) {
		return errors.ValidationError(errors.CodeInvalidDate, "date_range",
			fmt.Sprintf("%s..%s", r.StartDate.Format("2006-01-02"), r.EndDate.Format("2006-01-02")),
			fmt.Errorf("start date must be before end date"))
	}

	return nil
}

// ReconciliationResult contains the complete results of reconciliation
type ReconciliationResult struct {
	RunID string `json:"run_id"`

	Summary *ResultSummary `json:"summary"`

	// Matches is the per-bill assignment, one entry per input bill
	Matches models.MatchResult `json:"matches"`

	// Detailed results
	Bills            []*BillOutcome      `json:"bills,omitempty"`
	UnmatchedBills   []*models.Bill      `json:"unmatched_bills,omitempty"`
	UnusedOperations []*models.Operation `json:"unused_operations,omitempty"`

	ProcessingStats *ProcessingStats `json:"processing_stats,omitempty"`

	Discrepancies []*Discrepancy `json:"discrepancies,omitempty"`

	// Committed lists the accepted candidates with their distances
	Committed []matcher.Candidate `json:"-"`

	// Metadata
	ProcessedAt time.Time              `json:"processed_at"`
	Request     *ReconciliationRequest `json:"request,omitempty"`
}

// OutcomeStatus tells how completely a bill was matched
type OutcomeStatus string

const (
	OutcomeMatched    OutcomeStatus = "matched"
	OutcomeDebitOnly  OutcomeStatus = "debit_only"
	OutcomeCreditOnly OutcomeStatus = "credit_only"
	OutcomeUnmatched  OutcomeStatus = "unmatched"
)

// BillOutcome is a bill with the operations committed to it
type BillOutcome struct {
	Bill           *models.Bill      `json:"bill"`
	Debit          *models.Operation `json:"debit,omitempty"`
	Credit         *models.Operation `json:"credit,omitempty"`
	DebitDistance  float64           `json:"debit_distance,omitempty"`
	CreditDistance float64           `json:"credit_distance,omitempty"`
	Status         OutcomeStatus     `json:"status"`
}

// ResultSummary provides a high-level overview of reconciliation results
type ResultSummary struct {
	// Bill counts
	TotalBills            int `json:"total_bills"`
	FullyMatchedBills     int `json:"fully_matched_bills"`
	PartiallyMatchedBills int `json:"partially_matched_bills"`
	UnmatchedBills        int `json:"unmatched_bills"`

	// Operation counts
	TotalOperations  int `json:"total_operations"`
	DebitsMatched    int `json:"debits_matched"`
	CreditsMatched   int `json:"credits_matched"`
	UnusedOperations int `json:"unused_operations"`

	// Resolution statistics
	CandidatesConsidered int `json:"candidates_considered"`
	Conflicts            int `json:"conflicts"`

	// Financial summary
	TotalBillAmount    decimal.Decimal `json:"total_bill_amount"`
	TotalDebitMatched  decimal.Decimal `json:"total_debit_matched"`
	TotalCreditMatched decimal.Decimal `json:"total_credit_matched"`
	// OutstandingAmount is the claimed amount of bills without a credit
	OutstandingAmount decimal.Decimal `json:"outstanding_amount"`

	// Processing metadata
	ProcessingDuration time.Duration `json:"processing_duration"`
	DateRange          *DateRange    `json:"date_range,omitempty"`
}

// ProcessingStats contains detailed processing statistics
type ProcessingStats struct {
	FilesProcessed int                  `json:"files_processed"`
	ParseErrors    int                  `json:"parse_errors"`
	SkippedRows    *errors.ErrorSummary `json:"skipped_rows,omitempty"`
	FilteredOut    int                  `json:"filtered_out"`

	RecordsPerSecond    float64       `json:"records_per_second"`
	TotalProcessingTime time.Duration `json:"total_processing_time"`
	ParsingTime         time.Duration `json:"parsing_time"`
	MatchingTime        time.Duration `json:"matching_time"`
}

// Discrepancy represents something about a run worth a human look
type Discrepancy struct {
	Type        DiscrepancyType `json:"type"`
	BillID      string          `json:"bill_id,omitempty"`
	OperationID string          `json:"operation_id,omitempty"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount,omitempty"`
	Severity    Severity        `json:"severity"`
}

// DiscrepancyType represents the type of discrepancy
type DiscrepancyType string

const (
	DiscrepancyAmountDifference   DiscrepancyType = "amount_difference"
	DiscrepancyDateShift          DiscrepancyType = "date_shift"
	DiscrepancyVendorMismatch     DiscrepancyType = "vendor_mismatch"
	DiscrepancyMissingDebit       DiscrepancyType = "missing_debit"
	DiscrepancyMissingCredit      DiscrepancyType = "missing_credit"
	DiscrepancyDuplicateOperation DiscrepancyType = "duplicate_operation"
)

// Severity represents the severity level of a discrepancy
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// DateRange represents a date range filter
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Stage names a step of ProcessReconciliation
type Stage string

const (
	StageLoadBills      Stage = "load_bills"
	StageLoadOperations Stage = "load_operations"
	StageMatching       Stage = "matching"
	StageAnalysis       Stage = "analysis"
	StagePersist        Stage = "persist"
)

// Stages lists the steps in execution order
var Stages = []Stage{StageLoadBills, StageLoadOperations, StageMatching, StageAnalysis, StagePersist}

// ProgressFunc is told when a stage completes; completed counts finished stages
type ProgressFunc func(stage Stage, completed, total int)

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(matchingConfig *matcher.MatchingConfig, config *Config) (*ReconciliationService, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryConfiguration, errors.CodeInvalidConfig, "invalid reconciliation configuration")
	}

	matchingEngine := matcher.NewMatchingEngine(matchingConfig)
	if err := matchingEngine.ValidateConfiguration(); err != nil {
		return nil, err
	}

	return &ReconciliationService{
		billParser:     parsers.NewBillParser(&parsers.BillParserConfig{DefaultCriterias: config.DefaultCriterias}),
		matchingEngine: matchingEngine,
		config:         config,
		logger:         logger.GetGlobalLogger().WithComponent("reconciler"),
	}, nil
}

// WithRepository makes the service persist every run
func (rs *ReconciliationService) WithRepository(repository storage.Repository) *ReconciliationService {
	rs.repository = repository
	return rs
}

// WithProgress registers a stage completion callback
func (rs *ReconciliationService) WithProgress(progress ProgressFunc) *ReconciliationService {
	rs.progress = progress
	return rs
}

// WithBrands replaces the vendor dictionary used by the engine
func (rs *ReconciliationService) WithBrands(dictionary *brands.Dictionary) *ReconciliationService {
	rs.matchingEngine.WithBrands(dictionary)
	return rs
}

// ProcessReconciliation performs the complete reconciliation process
func (rs *ReconciliationService) ProcessReconciliation(ctx context.Context, request *ReconciliationRequest) (*ReconciliationResult, error) {
	if request == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "request", nil, nil)
	}
	if err := request.Validate(); err != nil {
		return nil, err
	}

	startTime := time.Now()
	opLog := logger.NewOperationLogger("reconcile", rs.logger)

	bills, err := rs.loadBills(request)
	if err != nil {
		opLog.Error(err, "Failed to load bills")
		return nil, err
	}
	rs.reportProgress(StageLoadBills)

	operations, parseStats, err := rs.loadOperations(ctx, request)
	if err != nil {
		opLog.Error(err, "Failed to load operations")
		return nil, err
	}
	rs.reportProgress(StageLoadOperations)
	parsingTime := time.Since(startTime)

	opLog.Step("loaded", logger.Fields{
		"bills":        len(bills),
		"operations":   len(operations),
		"parse_errors": parseStats.ErrorCount,
	})

	filteredBills, filteredOps := applyDateRangeFiltering(bills, operations, request)
	filteredOut := len(bills) - len(filteredBills) + len(operations) - len(filteredOps)

	result, err := rs.reconcile(ctx, filteredBills, filteredOps, startTime)
	if err != nil {
		opLog.Error(err, "Reconciliation failed")
		return nil, err
	}

	result.Request = request
	if request.StartDate != nil && request.EndDate != nil {
		result.Summary.DateRange = &DateRange{Start: *request.StartDate, End: *request.EndDate}
	}
	if result.ProcessingStats != nil {
		result.ProcessingStats.FilesProcessed = 1 + len(request.OperationFiles)
		result.ProcessingStats.ParseErrors = parseStats.ErrorCount
		if parseStats.HasErrors() {
			result.ProcessingStats.SkippedRows = parseStats.ErrorSummary()
		}
		result.ProcessingStats.FilteredOut = filteredOut
		result.ProcessingStats.ParsingTime = parsingTime
	}

	if err := rs.persist(ctx, result, request); err != nil {
		opLog.Error(err, "Failed to persist run")
		return nil, err
	}
	rs.reportProgress(StagePersist)

	opLog.Success("Reconciliation completed")
	return result, nil
}

// ReconcileData reconciles bills and operations already in memory. The run is
// persisted when a repository is configured.
func (rs *ReconciliationService) ReconcileData(ctx context.Context, bills []*models.Bill, operations []*models.Operation) (*ReconciliationResult, error) {
	result, err := rs.reconcile(ctx, bills, operations, time.Now())
	if err != nil {
		return nil, err
	}
	if err := rs.persist(ctx, result, nil); err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateConfiguration updates the service configuration
func (rs *ReconciliationService) UpdateConfiguration(config *Config) error {
	if config == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "reconciler", nil, nil)
	}
	if err := config.Validate(); err != nil {
		return errors.WrapIfNeeded(err, errors.CategoryConfiguration, errors.CodeInvalidConfig, "invalid reconciliation configuration")
	}

	rs.config = config
	rs.billParser = parsers.NewBillParser(&parsers.BillParserConfig{DefaultCriterias: config.DefaultCriterias})
	return nil
}

// GetConfiguration returns the current configuration
func (rs *ReconciliationService) GetConfiguration() *Config {
	return rs.config
}

// MatchingEngine exposes the engine, mainly for diagnostics
func (rs *ReconciliationService) MatchingEngine() *matcher.MatchingEngine {
	return rs.matchingEngine
}
