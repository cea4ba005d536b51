package parsers

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"bill-reconciliation-service/internal/models"
	"bill-reconciliation-service/pkg/logger"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OperationParser parses bank operations from delimited exports
type OperationParser struct {
	*BaseParser
	format *OperationFormat
}

// NewOperationParser creates a parser for the given format
func NewOperationParser(format *OperationFormat) (*OperationParser, error) {
	if format == nil {
		format = StandardFormat
	}

	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("invalid operation format: %w", err)
	}

	parseConfig := DefaultParseConfig()
	parseConfig.HasHeader = format.HasHeader
	parseConfig.Delimiter = format.Delimiter

	return &OperationParser{
		BaseParser: NewBaseParser(parseConfig),
		format:     format,
	}, nil
}

// NewOperationParserWithAutoDetect picks the format from the file's first line
func NewOperationParserWithAutoDetect(data []byte) (*OperationParser, error) {
	return NewOperationParser(DetectOperationFormat(data))
}

// DetectOperationFormat sniffs the delimiter and header row of an export
func DetectOperationFormat(data []byte) *OperationFormat {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	firstLine, _, _ := bufio.NewReader(bytes.NewReader(data)).ReadLine()
	line := string(firstLine)

	delimiter := ","
	if strings.Count(line, ";") > strings.Count(line, ",") {
		delimiter = ";"
	}
	return AutoDetectOperationFormat(strings.Split(line, delimiter))
}

// Format returns the export format in use
func (op *OperationParser) Format() *OperationFormat {
	return op.format
}

// ParseOperations parses an export file
func (op *OperationParser) ParseOperations(filePath string) ([]*models.Operation, *ParseStats, error) {
	return op.ParseOperationsWithContext(context.Background(), filePath)
}

// ParseOperationsWithContext parses an export file with cancellation support
func (op *OperationParser) ParseOperationsWithContext(ctx context.Context, filePath string) ([]*models.Operation, *ParseStats, error) {
	data, err := ReadFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	return op.ParseBytes(ctx, filePath, data)
}

// ParseBytes parses export content. Rows that fail are recorded in the stats
// and skipped; the error return is reserved for unreadable input.
func (op *OperationParser) ParseBytes(ctx context.Context, source string, data []byte) ([]*models.Operation, *ParseStats, error) {
	stats := NewParseStats(source)

	reader, err := op.NewReader(source, data)
	if err != nil {
		return nil, stats, err
	}

	parseCtx := NewParseContext(ctx, source)
	if err := op.ReadHeaders(reader, parseCtx, op.format.RequiredHeaders(), op.format.DefaultHeaders()); err != nil {
		return nil, stats, fmt.Errorf("failed to read headers: %w", err)
	}

	var operations []*models.Operation
	for {
		record, err := op.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if parseCtx.IsCancelled() {
				return operations, stats, err
			}
			if pe, ok := err.(*ParseError); ok {
				stats.AddError(pe)
			} else {
				stats.AddError(&ParseError{Line: parseCtx.LineNumber, Message: "failed to read record", Err: err})
			}
			continue
		}

		stats.RecordsParsed++

		operation, parseErr := op.parseOperationFromRecord(record, parseCtx)
		if parseErr != nil {
			stats.AddError(parseErr)
			continue
		}

		operations = append(operations, operation)
		stats.RecordsValid++
	}

	stats.TotalLines = parseCtx.LineNumber

	op.logger.WithFields(logger.Fields{
		"source": source,
		"format": op.format.Name,
		"valid":  stats.RecordsValid,
		"errors": stats.ErrorCount,
	}).Debug("Parsed operations")

	return operations, stats, nil
}

func (op *OperationParser) parseOperationFromRecord(record []string, parseCtx *ParseContext) (*models.Operation, *ParseError) {
	id := op.GetFieldValue(record, parseCtx, op.format.IDColumn)
	if op.format.IDColumn == "" || id == "" {
		id = syntheticID(parseCtx.Source, parseCtx.LineNumber)
	}

	dateStr := op.GetFieldValue(record, parseCtx, op.format.DateColumn)
	date, err := op.parseDate(dateStr)
	if err != nil {
		return nil, &ParseError{Line: parseCtx.LineNumber, Field: op.format.DateColumn, Value: dateStr,
			Message: "invalid date", Err: err}
	}

	amount, field, raw, err := op.parseAmount(record, parseCtx)
	if err != nil {
		return nil, &ParseError{Line: parseCtx.LineNumber, Field: field, Value: raw,
			Message: "invalid amount", Err: err}
	}

	label := op.GetFieldValue(record, parseCtx, op.format.LabelColumn)
	return models.NewOperation(id, date, label, amount), nil
}

func (op *OperationParser) parseDate(s string) (time.Time, error) {
	if op.format.DateFormat != "" {
		if t, err := time.Parse(op.format.DateFormat, strings.TrimSpace(s)); err == nil {
			return t, nil
		}
	}
	return models.ParseTimeWithFormats(s)
}

func (op *OperationParser) parseAmount(record []string, parseCtx *ParseContext) (decimal.Decimal, string, string, error) {
	if op.format.AmountColumn != "" {
		raw := op.GetFieldValue(record, parseCtx, op.format.AmountColumn)
		amount, err := op.parseDecimal(raw)
		return amount, op.format.AmountColumn, raw, err
	}

	debitRaw := op.GetFieldValue(record, parseCtx, op.format.DebitColumn)
	creditRaw := op.GetFieldValue(record, parseCtx, op.format.CreditColumn)
	switch {
	case debitRaw != "" && creditRaw != "":
		return decimal.Zero, op.format.DebitColumn, debitRaw, fmt.Errorf("both debit and credit are set")
	case debitRaw != "":
		amount, err := op.parseDecimal(debitRaw)
		return amount.Abs().Neg(), op.format.DebitColumn, debitRaw, err
	case creditRaw != "":
		amount, err := op.parseDecimal(creditRaw)
		return amount.Abs(), op.format.CreditColumn, creditRaw, err
	default:
		return decimal.Zero, op.format.DebitColumn, "", fmt.Errorf("neither debit nor credit is set")
	}
}

func (op *OperationParser) parseDecimal(raw string) (decimal.Decimal, error) {
	if op.format.DecimalComma {
		raw = strings.NewReplacer(".", "", " ", "", ",", ".").Replace(raw)
	}
	return models.ParseDecimalFromString(raw)
}

// syntheticID names an operation of an export without identifiers by file
// and line. The tag derived from the full path keeps exports sharing a file
// name in different directories apart.
func syntheticID(source string, line int) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	path := source
	if abs, err := filepath.Abs(source); err == nil {
		path = abs
	}
	tag := uuid.NewSHA1(uuid.NameSpaceURL, []byte(filepath.ToSlash(path))).String()[:8]
	return fmt.Sprintf("%s-%s-%d", base, tag, line)
}

// ParseOperationFiles loads operations from several exports, choosing the OFX
// parser for .ofx and .qfx files and a detected CSV format otherwise. A nil
// format enables detection.
func ParseOperationFiles(ctx context.Context, paths []string, format *OperationFormat) ([]*models.Operation, *ParseStats, error) {
	total := NewParseStats(strings.Join(paths, ","))
	var all []*models.Operation

	for _, path := range paths {
		data, err := ReadFile(path)
		if err != nil {
			return nil, total, err
		}

		var ops []*models.Operation
		var stats *ParseStats
		switch strings.ToLower(filepath.Ext(path)) {
		case ".ofx", ".qfx":
			ops, stats, err = NewOFXParser().ParseBytes(ctx, path, data)
		default:
			var parser *OperationParser
			if format != nil {
				parser, err = NewOperationParser(format)
			} else {
				parser, err = NewOperationParserWithAutoDetect(data)
			}
			if err != nil {
				return nil, total, err
			}
			ops, stats, err = parser.ParseBytes(ctx, path, data)
		}
		total.Merge(stats)
		if err != nil {
			return nil, total, err
		}
		all = append(all, ops...)
	}

	return all, total, nil
}
