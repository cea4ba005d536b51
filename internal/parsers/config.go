package parsers

import (
	"fmt"
	"strings"
)

// OperationFormat describes the columns of a bank export
type OperationFormat struct {
	Name        string `mapstructure:"name" yaml:"name"`
	IDColumn    string `mapstructure:"id_column" yaml:"id_column"`
	DateColumn  string `mapstructure:"date_column" yaml:"date_column"`
	LabelColumn string `mapstructure:"label_column" yaml:"label_column"`
	// AmountColumn holds a signed amount. Leave empty when the export splits
	// amounts into DebitColumn and CreditColumn.
	AmountColumn string `mapstructure:"amount_column" yaml:"amount_column"`
	DebitColumn  string `mapstructure:"debit_column" yaml:"debit_column"`
	CreditColumn string `mapstructure:"credit_column" yaml:"credit_column"`
	// DateFormat is tried before the generic formats
	DateFormat   string `mapstructure:"date_format" yaml:"date_format"`
	DecimalComma bool   `mapstructure:"decimal_comma" yaml:"decimal_comma"`
	HasHeader    bool   `mapstructure:"has_header" yaml:"has_header"`
	Delimiter    rune   `mapstructure:"delimiter" yaml:"delimiter"`
	Description  string `mapstructure:"description" yaml:"description"`
}

// Validate checks if the format is usable
func (f *OperationFormat) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("format name cannot be empty")
	}

	if strings.TrimSpace(f.DateColumn) == "" {
		return fmt.Errorf("date column cannot be empty")
	}

	if f.AmountColumn == "" && (f.DebitColumn == "" || f.CreditColumn == "") {
		return fmt.Errorf("either an amount column or both debit and credit columns are required")
	}

	if f.Delimiter == 0 {
		return fmt.Errorf("delimiter cannot be empty")
	}

	return nil
}

// RequiredHeaders lists the columns that must be present in the header row
func (f *OperationFormat) RequiredHeaders() []string {
	headers := []string{f.DateColumn}
	if f.IDColumn != "" {
		headers = append(headers, f.IDColumn)
	}
	if f.AmountColumn != "" {
		return append(headers, f.AmountColumn)
	}
	return append(headers, f.DebitColumn, f.CreditColumn)
}

// DefaultHeaders names the columns by position for files without a header row
func (f *OperationFormat) DefaultHeaders() []string {
	headers := []string{}
	if f.IDColumn != "" {
		headers = append(headers, f.IDColumn)
	}
	headers = append(headers, f.DateColumn, f.LabelColumn)
	if f.AmountColumn != "" {
		return append(headers, f.AmountColumn)
	}
	return append(headers, f.DebitColumn, f.CreditColumn)
}

// Predefined export formats
var (
	// StandardFormat is the generic id,date,label,amount export
	StandardFormat = &OperationFormat{
		Name:         "standard",
		IDColumn:     "id",
		DateColumn:   "date",
		LabelColumn:  "label",
		AmountColumn: "amount",
		DateFormat:   "2006-01-02",
		HasHeader:    true,
		Delimiter:    ',',
		Description:  "Comma separated id, date, label, signed amount",
	}

	// EuropeanFormat covers semicolon exports with day-first dates and decimal commas
	EuropeanFormat = &OperationFormat{
		Name:         "european",
		DateColumn:   "dateOp",
		LabelColumn:  "label",
		AmountColumn: "amount",
		DateFormat:   "02/01/2006",
		DecimalComma: true,
		HasHeader:    true,
		Delimiter:    ';',
		Description:  "Semicolon separated, DD/MM/YYYY dates, decimal comma, no identifier",
	}

	// SplitFormat covers exports with separate debit and credit columns
	SplitFormat = &OperationFormat{
		Name:         "split",
		IDColumn:     "reference",
		DateColumn:   "date",
		LabelColumn:  "description",
		DebitColumn:  "debit",
		CreditColumn: "credit",
		HasHeader:    true,
		Delimiter:    ',',
		Description:  "Unsigned amounts in separate debit and credit columns",
	}
)

// GetOperationFormat returns a predefined format by name
func GetOperationFormat(name string) *OperationFormat {
	for _, f := range ListOperationFormats() {
		if strings.EqualFold(f.Name, strings.TrimSpace(name)) {
			return f
		}
	}
	return nil
}

// ListOperationFormats returns all predefined formats
func ListOperationFormats() []*OperationFormat {
	return []*OperationFormat{
		StandardFormat,
		EuropeanFormat,
		SplitFormat,
	}
}

// AutoDetectOperationFormat picks the predefined format whose required columns
// all appear in headers, falling back to StandardFormat.
func AutoDetectOperationFormat(headers []string) *OperationFormat {
	present := make(map[string]bool)
	for _, header := range headers {
		present[strings.ToLower(strings.TrimSpace(header))] = true
	}

	for _, f := range ListOperationFormats() {
		matched := true
		for _, col := range f.RequiredHeaders() {
			if !present[strings.ToLower(col)] {
				matched = false
				break
			}
		}
		if matched {
			return f
		}
	}

	return StandardFormat
}
