// Package matcher provides the bill reconciliation engine and its configuration.
//
// The engine decides, for every bill, which bank operation is the original
// debit (the expense) and which, if any, is the later credit (the
// reimbursement). It works in three stages:
//  1. Candidate generation: every (bill, operation, role) triple whose
//     operation falls inside the bill's amount and date windows
//  2. Scoring: each candidate gets a distance combining amount gap, date gap
//     and vendor disagreement
//  3. Resolution: a greedy global best-first pass commits candidates in
//     ascending distance so that no operation serves two bills
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.DateUpperDeltaDays = 40
//
//	engine := matcher.NewMatchingEngine(config)
//	result, err := engine.Reconcile(bills, operations)
package matcher

import (
	"fmt"
	"time"

	"bill-reconciliation-service/internal/models"
)

// TimezoneMode defines how operation and bill dates are normalized before
// day differences are computed.
type TimezoneMode int

const (
	// TimezoneUTC converts times to UTC and compares their UTC calendar days.
	TimezoneUTC TimezoneMode = iota

	// TimezoneLocal compares calendar days in the system timezone.
	TimezoneLocal

	// TimezoneIgnore compares the calendar day each time was recorded with,
	// whatever its offset. Bank operations carry a booking day rather than an
	// instant, so this is the default.
	TimezoneIgnore

	// TimezoneBusiness compares calendar days in BusinessTimezone.
	TimezoneBusiness
)

// String returns the string representation of TimezoneMode
func (tm TimezoneMode) String() string {
	switch tm {
	case TimezoneUTC:
		return "UTC"
	case TimezoneLocal:
		return "Local"
	case TimezoneIgnore:
		return "Ignore"
	case TimezoneBusiness:
		return "Business"
	default:
		return "Unknown"
	}
}

// ParseTimezoneMode parses a mode name as printed by String
func ParseTimezoneMode(s string) (TimezoneMode, error) {
	switch s {
	case "UTC", "utc":
		return TimezoneUTC, nil
	case "Local", "local":
		return TimezoneLocal, nil
	case "Ignore", "ignore", "":
		return TimezoneIgnore, nil
	case "Business", "business":
		return TimezoneBusiness, nil
	default:
		return TimezoneIgnore, fmt.Errorf("unknown timezone mode '%s'", s)
	}
}

// MatchingConfig holds the engine-wide parameters. Per-bill tolerances live in
// models.MatchingCriterias; the date deltas here only apply to bills that leave
// theirs unset.
//
// Use the provided factory functions for common scenarios:
//   - DefaultMatchingConfig(): the usual health reimbursement windows
//   - StrictMatchingConfig(): short windows, vendor must agree
//   - RelaxedMatchingConfig(): long windows for slow reimbursers
type MatchingConfig struct {
	// DateLowerDeltaDays is how many days before the reference date a debit may be booked
	DateLowerDeltaDays int `json:"date_lower_delta_days"`

	// DateUpperDeltaDays is how many days after the reference date an operation may be booked
	DateUpperDeltaDays int `json:"date_upper_delta_days"`

	// TimezoneHandling defines how to handle timezone differences
	TimezoneHandling TimezoneMode `json:"timezone_handling"`

	// BusinessTimezone defines the business timezone (used with TimezoneBusiness mode)
	BusinessTimezone string `json:"business_timezone"`

	// RequireVendorMatch turns the vendor hint into a hard filter
	RequireVendorMatch bool `json:"require_vendor_match"`

	// MaxCandidatesPerBill caps FindCandidates output; zero means no cap.
	// Reconcile always considers every candidate.
	MaxCandidatesPerBill int `json:"max_candidates_per_bill"`

	// Parallelism is the number of goroutines generating candidates
	Parallelism int `json:"parallelism"`

	// Weights of the distance terms
	Weights MatchingWeights `json:"weights"`
}

// MatchingWeights defines the relative importance of the distance terms
type MatchingWeights struct {
	AmountWeight float64 `json:"amount_weight"`
	DateWeight   float64 `json:"date_weight"`
	VendorWeight float64 `json:"vendor_weight"`
}

// DefaultMatchingConfig returns a configuration with sensible defaults
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateLowerDeltaDays:   15,
		DateUpperDeltaDays:   29,
		TimezoneHandling:     TimezoneIgnore,
		BusinessTimezone:     "UTC",
		RequireVendorMatch:   false,
		MaxCandidatesPerBill: 10,
		Parallelism:          1,
		Weights: MatchingWeights{
			AmountWeight: 0.6,
			DateWeight:   0.3,
			VendorWeight: 0.1,
		},
	}
}

// StrictMatchingConfig returns a configuration for strict matching
func StrictMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateLowerDeltaDays:   3,
		DateUpperDeltaDays:   15,
		TimezoneHandling:     TimezoneUTC,
		BusinessTimezone:     "UTC",
		RequireVendorMatch:   true,
		MaxCandidatesPerBill: 5,
		Parallelism:          1,
		Weights: MatchingWeights{
			AmountWeight: 0.7,
			DateWeight:   0.2,
			VendorWeight: 0.1,
		},
	}
}

// RelaxedMatchingConfig returns a configuration for relaxed matching
func RelaxedMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateLowerDeltaDays:   30,
		DateUpperDeltaDays:   60,
		TimezoneHandling:     TimezoneIgnore,
		BusinessTimezone:     "UTC",
		RequireVendorMatch:   false,
		MaxCandidatesPerBill: 20,
		Parallelism:          1,
		Weights: MatchingWeights{
			AmountWeight: 0.5,
			DateWeight:   0.3,
			VendorWeight: 0.2,
		},
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.DateLowerDeltaDays < 0 {
		return fmt.Errorf("date lower delta days cannot be negative: %d", mc.DateLowerDeltaDays)
	}

	if mc.DateUpperDeltaDays < 0 {
		return fmt.Errorf("date upper delta days cannot be negative: %d", mc.DateUpperDeltaDays)
	}

	if mc.MaxCandidatesPerBill < 0 {
		return fmt.Errorf("max candidates per bill cannot be negative: %d", mc.MaxCandidatesPerBill)
	}

	if mc.Parallelism < 0 {
		return fmt.Errorf("parallelism cannot be negative: %d", mc.Parallelism)
	}

	if err := mc.Weights.Validate(); err != nil {
		return fmt.Errorf("invalid weights: %w", err)
	}

	if mc.TimezoneHandling == TimezoneBusiness {
		if _, err := time.LoadLocation(mc.BusinessTimezone); err != nil {
			return fmt.Errorf("invalid business timezone '%s': %w", mc.BusinessTimezone, err)
		}
	}

	return nil
}

// Validate checks if the matching weights are valid
func (mw *MatchingWeights) Validate() error {
	if mw.AmountWeight < 0.0 || mw.AmountWeight > 1.0 {
		return fmt.Errorf("amount weight must be between 0.0 and 1.0: %f", mw.AmountWeight)
	}

	if mw.DateWeight < 0.0 || mw.DateWeight > 1.0 {
		return fmt.Errorf("date weight must be between 0.0 and 1.0: %f", mw.DateWeight)
	}

	if mw.VendorWeight < 0.0 || mw.VendorWeight > 1.0 {
		return fmt.Errorf("vendor weight must be between 0.0 and 1.0: %f", mw.VendorWeight)
	}

	total := mw.AmountWeight + mw.DateWeight + mw.VendorWeight
	if total < 0.9 || total > 1.1 {
		return fmt.Errorf("weights should sum to approximately 1.0, got %f", total)
	}

	return nil
}

// Clone creates a deep copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	clone := *mc
	return &clone
}

// LowerDays resolves the lower date delta of a bill
func (mc *MatchingConfig) LowerDays(bill *models.Bill) int {
	if bill.MatchingCriterias == nil {
		return mc.DateLowerDeltaDays
	}
	return bill.MatchingCriterias.LowerDays(mc.DateLowerDeltaDays)
}

// UpperDays resolves the upper date delta of a bill
func (mc *MatchingConfig) UpperDays(bill *models.Bill) int {
	if bill.MatchingCriterias == nil {
		return mc.DateUpperDeltaDays
	}
	return bill.MatchingCriterias.UpperDays(mc.DateUpperDeltaDays)
}

// NormalizeTime reduces t to midnight UTC of its calendar day in the
// configured timezone, so day arithmetic never crosses DST or offsets.
func (mc *MatchingConfig) NormalizeTime(t time.Time) time.Time {
	switch mc.TimezoneHandling {
	case TimezoneUTC:
		t = t.UTC()
	case TimezoneLocal:
		t = t.Local()
	case TimezoneBusiness:
		if loc, err := time.LoadLocation(mc.BusinessTimezone); err == nil {
			t = t.In(loc)
		} else {
			t = t.UTC()
		}
	}
	return models.NormalizeDay(t)
}

// DaysBetween returns the signed day difference from a to b after normalization
func (mc *MatchingConfig) DaysBetween(a, b time.Time) int {
	return models.DaysBetween(mc.NormalizeTime(a), mc.NormalizeTime(b))
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{DateWindow: -%d/+%d days, Timezone: %s, RequireVendor: %t, Parallelism: %d}",
		mc.DateLowerDeltaDays, mc.DateUpperDeltaDays, mc.TimezoneHandling.String(), mc.RequireVendorMatch, mc.Parallelism)
}
