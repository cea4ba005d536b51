package models

import (
	"fmt"
	"strings"
	"time"

	"bill-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// Role identifies which side of a bill an operation settles
type Role string

const (
	// RoleDebit is the original expense leaving the account
	RoleDebit Role = "debit"
	// RoleCredit is the reimbursement entering the account
	RoleCredit Role = "credit"
)

// String returns the string representation of Role
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the role is known
func (r Role) IsValid() bool {
	return r == RoleDebit || r == RoleCredit
}

// Roles lists roles in their tie-break order
var Roles = []Role{RoleDebit, RoleCredit}

// MatchingCriterias holds the per-bill tolerances. Amount deltas left unset are
// zero, so omitting one never widens the accepted range. Date deltas left unset
// fall back to the engine defaults.
type MatchingCriterias struct {
	AmountLowerDelta  decimal.Decimal `json:"amountLowerDelta"`
	AmountHigherDelta decimal.Decimal `json:"amountHigherDelta"`
	DateLowerDelta    *int            `json:"dateLowerDelta,omitempty"`
	DateUpperDelta    *int            `json:"dateUpperDelta,omitempty"`
}

// Validate rejects negative deltas
func (mc *MatchingCriterias) Validate() error {
	if mc.AmountLowerDelta.IsNegative() {
		return errors.ConfigurationError(errors.CodeInvalidConfig,
			"matchingCriterias.amountLowerDelta", mc.AmountLowerDelta.String(), nil).
			WithSuggestion("amount deltas must be zero or positive")
	}
	if mc.AmountHigherDelta.IsNegative() {
		return errors.ConfigurationError(errors.CodeInvalidConfig,
			"matchingCriterias.amountHigherDelta", mc.AmountHigherDelta.String(), nil).
			WithSuggestion("amount deltas must be zero or positive")
	}
	if mc.DateLowerDelta != nil && *mc.DateLowerDelta < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig,
			"matchingCriterias.dateLowerDelta", *mc.DateLowerDelta, nil).
			WithSuggestion("date deltas are a number of days and must be zero or positive")
	}
	if mc.DateUpperDelta != nil && *mc.DateUpperDelta < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig,
			"matchingCriterias.dateUpperDelta", *mc.DateUpperDelta, nil).
			WithSuggestion("date deltas are a number of days and must be zero or positive")
	}
	return nil
}

// LowerDays returns the lower date delta or fallback when unset
func (mc *MatchingCriterias) LowerDays(fallback int) int {
	if mc.DateLowerDelta == nil {
		return fallback
	}
	return *mc.DateLowerDelta
}

// UpperDays returns the upper date delta or fallback when unset
func (mc *MatchingCriterias) UpperDays(fallback int) int {
	if mc.DateUpperDelta == nil {
		return fallback
	}
	return *mc.DateUpperDelta
}

// Clone returns a deep copy
func (mc *MatchingCriterias) Clone() *MatchingCriterias {
	if mc == nil {
		return nil
	}
	c := &MatchingCriterias{
		AmountLowerDelta:  mc.AmountLowerDelta,
		AmountHigherDelta: mc.AmountHigherDelta,
	}
	if mc.DateLowerDelta != nil {
		v := *mc.DateLowerDelta
		c.DateLowerDelta = &v
	}
	if mc.DateUpperDelta != nil {
		v := *mc.DateUpperDelta
		c.DateUpperDelta = &v
	}
	return c
}

// Bill is an expense or claim to reconcile against bank operations.
//
// Amount is what the bill claims or reimburses and is the reference for the
// credit side. OriginalAmount and OriginalDate, when set, describe what was
// actually paid and are the reference for the debit side.
type Bill struct {
	ID                string             `json:"_id"`
	Amount            decimal.Decimal    `json:"amount"`
	OriginalAmount    decimal.Decimal    `json:"originalAmount,omitempty"`
	Date              time.Time          `json:"date"`
	OriginalDate      time.Time          `json:"originalDate,omitempty"`
	Vendor            string             `json:"vendor,omitempty"`
	MatchingCriterias *MatchingCriterias `json:"matchingCriterias,omitempty"`
}

// NewBill creates a bill with explicit matching criterias
func NewBill(id string, amount decimal.Decimal, date time.Time, vendor string, criterias *MatchingCriterias) *Bill {
	return &Bill{
		ID:                id,
		Amount:            amount,
		Date:              date,
		Vendor:            vendor,
		MatchingCriterias: criterias,
	}
}

// Validate checks the fields the engine relies on
func (b *Bill) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return errors.ValidationError(errors.CodeMissingField, "bill.id", b.ID, nil)
	}
	if b.Date.IsZero() {
		return errors.ValidationError(errors.CodeMissingField, "bill.date", b.ID, nil)
	}
	if b.MatchingCriterias == nil {
		return errors.ConfigurationError(errors.CodeMissingConfig,
			fmt.Sprintf("bill %s matchingCriterias", b.ID), nil, nil).
			WithSuggestion("set matchingCriterias on the bill or configure loader defaults")
	}
	if err := b.MatchingCriterias.Validate(); err != nil {
		if re, ok := errors.AsReconcilerError(err); ok {
			return re.WithContext("bill_id", b.ID)
		}
		return err
	}
	return nil
}

// ReferenceAmount returns the unsigned amount the role is compared against
func (b *Bill) ReferenceAmount(role Role) decimal.Decimal {
	if role == RoleDebit && !b.OriginalAmount.IsZero() {
		return b.OriginalAmount.Abs()
	}
	return b.Amount.Abs()
}

// ExpectedAmount returns the signed operation amount the role expects
func (b *Bill) ExpectedAmount(role Role) decimal.Decimal {
	ref := b.ReferenceAmount(role)
	if role == RoleDebit {
		return ref.Neg()
	}
	return ref
}

// ReferenceDate returns the date the role is compared against
func (b *Bill) ReferenceDate(role Role) time.Time {
	if role == RoleDebit && !b.OriginalDate.IsZero() {
		return b.OriginalDate
	}
	return b.Date
}

// String returns a string representation of the Bill
func (b *Bill) String() string {
	return fmt.Sprintf("Bill{ID: %s, Amount: %s, Date: %s, Vendor: %s}",
		b.ID, b.Amount.String(), b.Date.Format("2006-01-02"), b.Vendor)
}
