package parsers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"bill-reconciliation-service/internal/models"
	"bill-reconciliation-service/pkg/errors"
	"bill-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// BillParserConfig controls how bill documents are turned into models
type BillParserConfig struct {
	// DefaultCriterias is copied onto bills that carry no matchingCriterias.
	// When nil such bills keep nil criterias and are rejected by the engine.
	DefaultCriterias *models.MatchingCriterias
}

// DefaultBillParserConfig returns a configuration that fills missing
// criterias with zero amount deltas and engine date windows
func DefaultBillParserConfig() *BillParserConfig {
	return &BillParserConfig{DefaultCriterias: &models.MatchingCriterias{}}
}

type criteriaRecord struct {
	AmountLowerDelta  interface{} `json:"amountLowerDelta" yaml:"amountLowerDelta"`
	AmountHigherDelta interface{} `json:"amountHigherDelta" yaml:"amountHigherDelta"`
	DateLowerDelta    *int        `json:"dateLowerDelta" yaml:"dateLowerDelta"`
	DateUpperDelta    *int        `json:"dateUpperDelta" yaml:"dateUpperDelta"`
}

type billRecord struct {
	ID                string          `json:"id" yaml:"id"`
	DocID             string          `json:"_id" yaml:"_id"`
	Amount            interface{}     `json:"amount" yaml:"amount"`
	OriginalAmount    interface{}     `json:"originalAmount" yaml:"originalAmount"`
	Date              interface{}     `json:"date" yaml:"date"`
	OriginalDate      interface{}     `json:"originalDate" yaml:"originalDate"`
	Vendor            string          `json:"vendor" yaml:"vendor"`
	MatchingCriterias *criteriaRecord `json:"matchingCriterias" yaml:"matchingCriterias"`
}

type billDocument struct {
	Bills []billRecord `json:"bills" yaml:"bills"`
}

// BillParser loads bills from JSON or YAML documents. A document is either a
// list of bills or an object with a "bills" list.
type BillParser struct {
	config *BillParserConfig
	logger logger.Logger
}

// NewBillParser creates a new bill parser
func NewBillParser(config *BillParserConfig) *BillParser {
	if config == nil {
		config = DefaultBillParserConfig()
	}
	return &BillParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("bill_parser"),
	}
}

// ParseFile loads bills from a .json, .yaml or .yml file
func (bp *BillParser) ParseFile(filePath string) ([]*models.Bill, error) {
	data, err := ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return bp.ParseBytes(filePath, data)
}

// ParseBytes loads bills from document content. Any malformed bill fails the
// whole document.
func (bp *BillParser) ParseBytes(source string, data []byte) ([]*models.Bill, error) {
	records, err := bp.decode(source, data)
	if err != nil {
		return nil, err
	}

	bills := make([]*models.Bill, 0, len(records))
	for i, rec := range records {
		bill, err := bp.convert(source, i+1, rec)
		if err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}

	bp.logger.WithFields(logger.Fields{
		"source": source,
		"bills":  len(bills),
	}).Debug("Parsed bills")

	return bills, nil
}

func (bp *BillParser) decode(source string, data []byte) ([]billRecord, error) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")))
	if len(trimmed) == 0 {
		return nil, nil
	}

	ext := strings.ToLower(filepath.Ext(source))
	useJSON := ext == ".json" || (ext != ".yaml" && ext != ".yml" && (trimmed[0] == '[' || trimmed[0] == '{'))

	var records []billRecord
	var err error
	if useJSON {
		records, err = decodeJSONBills(trimmed)
	} else {
		records, err = decodeYAMLBills(trimmed)
	}
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, source, 0, "document", "", err).
			WithSuggestion("Provide a list of bills or an object with a 'bills' list")
	}
	return records, nil
}

func decodeJSONBills(data []byte) ([]billRecord, error) {
	decode := func(target interface{}) error {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		return dec.Decode(target)
	}

	if data[0] == '[' {
		var records []billRecord
		if err := decode(&records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var doc billDocument
	if err := decode(&doc); err != nil {
		return nil, err
	}
	return doc.Bills, nil
}

func decodeYAMLBills(data []byte) ([]billRecord, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	root := node.Content[0]
	if root.Kind == yaml.SequenceNode {
		var records []billRecord
		if err := root.Decode(&records); err != nil {
			return nil, err
		}
		return records, nil
	}
	var doc billDocument
	if err := root.Decode(&doc); err != nil {
		return nil, err
	}
	return doc.Bills, nil
}

func (bp *BillParser) convert(source string, index int, rec billRecord) (*models.Bill, error) {
	id := strings.TrimSpace(rec.DocID)
	if id == "" {
		id = strings.TrimSpace(rec.ID)
	}
	fail := func(field, value string, err error) error {
		return errors.ParseError(errors.CodeInvalidData, source, index, field, value, err).
			WithContext("bill_id", id)
	}

	if id == "" {
		return nil, fail("_id", "", fmt.Errorf("bill identifier is required"))
	}

	amount, ok, err := toDecimal(rec.Amount)
	if err != nil {
		return nil, fail("amount", fmt.Sprint(rec.Amount), err)
	}
	if !ok {
		return nil, fail("amount", "", fmt.Errorf("amount is required"))
	}

	date, ok, err := toTime(rec.Date)
	if err != nil {
		return nil, fail("date", fmt.Sprint(rec.Date), err)
	}
	if !ok {
		return nil, fail("date", "", fmt.Errorf("date is required"))
	}

	bill := models.NewBill(id, amount, date, strings.TrimSpace(rec.Vendor), nil)

	if bill.OriginalAmount, _, err = toDecimal(rec.OriginalAmount); err != nil {
		return nil, fail("originalAmount", fmt.Sprint(rec.OriginalAmount), err)
	}
	if bill.OriginalDate, _, err = toTime(rec.OriginalDate); err != nil {
		return nil, fail("originalDate", fmt.Sprint(rec.OriginalDate), err)
	}

	if rec.MatchingCriterias != nil {
		mc := &models.MatchingCriterias{
			DateLowerDelta: rec.MatchingCriterias.DateLowerDelta,
			DateUpperDelta: rec.MatchingCriterias.DateUpperDelta,
		}
		if mc.AmountLowerDelta, _, err = toDecimal(rec.MatchingCriterias.AmountLowerDelta); err != nil {
			return nil, fail("matchingCriterias.amountLowerDelta", fmt.Sprint(rec.MatchingCriterias.AmountLowerDelta), err)
		}
		if mc.AmountHigherDelta, _, err = toDecimal(rec.MatchingCriterias.AmountHigherDelta); err != nil {
			return nil, fail("matchingCriterias.amountHigherDelta", fmt.Sprint(rec.MatchingCriterias.AmountHigherDelta), err)
		}
		bill.MatchingCriterias = mc
	} else if bp.config.DefaultCriterias != nil {
		bill.MatchingCriterias = bp.config.DefaultCriterias.Clone()
	}

	return bill, nil
}

// toDecimal converts a decoded scalar. ok is false when the value is absent.
func toDecimal(v interface{}) (decimal.Decimal, bool, error) {
	switch n := v.(type) {
	case nil:
		return decimal.Zero, false, nil
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		return d, err == nil, err
	case string:
		if strings.TrimSpace(n) == "" {
			return decimal.Zero, false, nil
		}
		d, err := models.ParseDecimalFromString(n)
		return d, err == nil, err
	case int:
		return decimal.NewFromInt(int64(n)), true, nil
	case int64:
		return decimal.NewFromInt(n), true, nil
	case uint64:
		d, err := decimal.NewFromString(strconv.FormatUint(n, 10))
		return d, err == nil, err
	case float64:
		return decimal.NewFromFloat(n), true, nil
	default:
		return decimal.Zero, false, fmt.Errorf("unsupported amount type %T", v)
	}
}

// toTime converts a decoded scalar. ok is false when the value is absent.
func toTime(v interface{}) (time.Time, bool, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, false, nil
	case time.Time:
		return t, true, nil
	case string:
		if strings.TrimSpace(t) == "" {
			return time.Time{}, false, nil
		}
		parsed, err := models.ParseTimeWithFormats(t)
		return parsed, err == nil, err
	default:
		return time.Time{}, false, fmt.Errorf("unsupported date type %T", v)
	}
}
