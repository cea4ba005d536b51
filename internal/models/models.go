package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MarshalJSON renders amounts as strings and dates as calendar days
func (o *Operation) MarshalJSON() ([]byte, error) {
	type Alias Operation
	return json.Marshal(&struct {
		Amount string `json:"amount"`
		Date   string `json:"date"`
		*Alias
	}{
		Amount: o.Amount.String(),
		Date:   o.Date.Format("2006-01-02"),
		Alias:  (*Alias)(o),
	})
}

// MarshalJSON renders amounts as strings and omits unset original fields
func (b *Bill) MarshalJSON() ([]byte, error) {
	type Alias Bill
	aux := &struct {
		Amount         string `json:"amount"`
		OriginalAmount string `json:"originalAmount,omitempty"`
		Date           string `json:"date"`
		OriginalDate   string `json:"originalDate,omitempty"`
		*Alias
	}{
		Amount: b.Amount.String(),
		Date:   b.Date.Format("2006-01-02"),
		Alias:  (*Alias)(b),
	}
	if !b.OriginalAmount.IsZero() {
		aux.OriginalAmount = b.OriginalAmount.String()
	}
	if !b.OriginalDate.IsZero() {
		aux.OriginalDate = b.OriginalDate.Format("2006-01-02")
	}
	return json.Marshal(aux)
}

// ParseDecimalFromString parses a decimal value from string with validation
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	// currency symbols and thousand separators
	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(s)

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

var timeFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"02/01/2006",
	"2006/01/02",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseTimeWithFormats attempts to parse time from string using multiple common formats
func ParseTimeWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	var lastErr error
	for _, format := range timeFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}

// NormalizeDay truncates t to its calendar day in UTC, keeping the wall-clock date
func NormalizeDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the signed number of whole days from a to b
func DaysBetween(a, b time.Time) int {
	return int(NormalizeDay(b).Sub(NormalizeDay(a)).Hours() / 24)
}
