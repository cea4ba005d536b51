package models

import (
	"fmt"
	"strings"
	"time"

	"bill-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// Operation is a bank transaction. Negative amounts leave the account (debits),
// positive amounts enter it (credits).
type Operation struct {
	ID     string          `json:"_id"`
	Date   time.Time       `json:"date"`
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// NewOperation creates a new Operation instance
func NewOperation(id string, date time.Time, label string, amount decimal.Decimal) *Operation {
	return &Operation{
		ID:     id,
		Date:   date,
		Label:  label,
		Amount: amount,
	}
}

// Validate performs basic validation on the Operation
func (o *Operation) Validate() error {
	if strings.TrimSpace(o.ID) == "" {
		return errors.ValidationError(errors.CodeMissingField, "operation.id", o.Label, nil)
	}
	if o.Date.IsZero() {
		return errors.ValidationError(errors.CodeMissingField, "operation.date", o.ID, nil)
	}
	return nil
}

// IsDebit returns true if money left the account
func (o *Operation) IsDebit() bool {
	return o.Amount.IsNegative()
}

// IsCredit returns true if money entered the account
func (o *Operation) IsCredit() bool {
	return o.Amount.IsPositive()
}

// Role returns the only role the operation can fill, and false for zero amounts
func (o *Operation) Role() (Role, bool) {
	switch {
	case o.IsDebit():
		return RoleDebit, true
	case o.IsCredit():
		return RoleCredit, true
	default:
		return "", false
	}
}

// String returns a string representation of the Operation
func (o *Operation) String() string {
	return fmt.Sprintf("Operation{ID: %s, Amount: %s, Date: %s, Label: %s}",
		o.ID, o.Amount.String(), o.Date.Format(time.RFC3339), o.Label)
}
