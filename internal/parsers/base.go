// Package parsers loads bills and bank operations from files.
//
// Bills come from JSON or YAML documents. Operations come from bank exports,
// either delimited text (CSV with configurable columns, delimiters and decimal
// separators) or OFX/QFX statements.
//
// Example usage:
//
//	bills, err := parsers.NewBillParser(parsers.DefaultBillParserConfig()).ParseFile("bills.json")
//	ops, stats, err := parsers.ParseOperationFiles(ctx, []string{"account.csv", "card.ofx"}, nil)
//
// Bank exports vary in the wild, so the CSV side handles:
//   - Different date formats (ISO, US, European)
//   - Amounts with currency symbols, thousand separators or decimal commas
//   - Separate debit and credit columns
//   - Windows-1252 encoded files, which are converted to UTF-8
//   - A leading byte order mark
package parsers

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"bill-reconciliation-service/pkg/errors"
	"bill-reconciliation-service/pkg/logger"

	"golang.org/x/text/encoding/charmap"
)

// ParseError represents an error that occurred while parsing one record
type ParseError struct {
	Source  string
	Line    int
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error at line %d (%s='%s'): %s: %v",
			e.Line, e.Field, e.Value, e.Message, e.Err)
	}
	return fmt.Sprintf("parse error at line %d (%s='%s'): %s",
		e.Line, e.Field, e.Value, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseConfig holds configuration for delimited text parsing
type ParseConfig struct {
	HasHeader        bool
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	// ConvertEncoding decodes non UTF-8 input as Windows-1252 instead of failing
	ConvertEncoding bool
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:        true,
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     64 * 1024,
		ConvertEncoding:  true,
	}
}

// BaseParser provides common delimited text parsing functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}

	return &BaseParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("parser"),
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	Source     string
	LineNumber int
	Headers    []string
	HeaderMap  map[string]int
	ctx        context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context, source string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		Source:    source,
		HeaderMap: make(map[string]int),
		ctx:       ctx,
	}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	select {
	case <-pc.ctx.Done():
		return true
	default:
		return false
	}
}

// GetColumnIndex returns the index of a column by name, or -1 if not found.
// Lookup is case-insensitive.
func (pc *ParseContext) GetColumnIndex(name string) int {
	if name == "" {
		return -1
	}
	if index, exists := pc.HeaderMap[name]; exists {
		return index
	}
	if index, exists := pc.HeaderMap[strings.ToLower(name)]; exists {
		return index
	}
	return -1
}

// ReadFile reads a whole file, mapping OS failures to file errors
func ReadFile(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
		}
		if os.IsPermission(err) {
			return nil, errors.FileError(errors.CodeFilePermission, filePath, err)
		}
		return nil, errors.FileError(errors.CodeDirectoryError, filePath, err)
	}
	return data, nil
}

// NewReader prepares a csv.Reader over data, stripping a byte order mark and
// converting legacy encodings when allowed.
func (bp *BaseParser) NewReader(source string, data []byte) (*csv.Reader, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	if !utf8.Valid(data) {
		if !bp.config.ConvertEncoding {
			return nil, errors.ParseError(errors.CodeEncodingError, source, 0, "encoding", "",
				fmt.Errorf("invalid UTF-8 encoding detected")).
				WithSuggestion("Save the file in UTF-8 encoding and try again")
		}
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
		if err != nil {
			return nil, errors.ParseError(errors.CodeEncodingError, source, 0, "encoding", "", err)
		}
		bp.logger.WithField("source", source).Debug("Converted Windows-1252 input to UTF-8")
		data = decoded
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader, nil
}

// ReadHeaders reads the header row and checks the required columns are present.
// Without a header row, defaultHeaders name the columns by position.
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext, required, defaultHeaders []string) error {
	if !bp.config.HasHeader {
		parseCtx.Headers = append([]string(nil), defaultHeaders...)
		bp.buildHeaderMap(parseCtx)
		return nil
	}

	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return errors.ValidationError(errors.CodeMissingField, "file_content", "empty", nil).
				WithSuggestion("Ensure the file contains header and data rows")
		}
		return errors.ParseError(errors.CodeInvalidFormat, parseCtx.Source, 1, "headers", "", err).
			WithSuggestion("Check the file format and ensure it's a valid CSV")
	}

	parseCtx.LineNumber++
	parseCtx.Headers = make([]string, len(headers))
	for i, h := range headers {
		parseCtx.Headers[i] = strings.TrimSpace(h)
	}
	bp.buildHeaderMap(parseCtx)

	var missing []string
	for _, header := range required {
		if parseCtx.GetColumnIndex(header) == -1 {
			missing = append(missing, header)
		}
	}
	if len(missing) > 0 {
		bp.logger.WithFields(logger.Fields{
			"missing_headers":   missing,
			"available_headers": parseCtx.Headers,
		}).Warn("Required headers are missing")

		return errors.ParseError(errors.CodeMissingColumn, parseCtx.Source, parseCtx.LineNumber, "headers",
			strings.Join(missing, ", "), nil).
			WithSuggestion(fmt.Sprintf("Ensure the CSV file contains these headers: %s", strings.Join(missing, ", ")))
	}

	return nil
}

func (bp *BaseParser) buildHeaderMap(parseCtx *ParseContext) {
	parseCtx.HeaderMap = make(map[string]int, len(parseCtx.Headers)*2)
	for i, header := range parseCtx.Headers {
		parseCtx.HeaderMap[header] = i
		if _, exists := parseCtx.HeaderMap[strings.ToLower(header)]; !exists {
			parseCtx.HeaderMap[strings.ToLower(header)] = i
		}
	}
}

// ReadRecord returns the next non-empty record, or io.EOF
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if parseCtx.IsCancelled() {
			return nil, errors.InternalError(errors.CodeUnexpectedError, "csv_parsing", parseCtx.ctx.Err())
		}

		record, err := reader.Read()
		if err != nil {
			return nil, err
		}
		if line, _ := reader.FieldPos(0); line > 0 {
			parseCtx.LineNumber = line
		} else {
			parseCtx.LineNumber++
		}

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					return nil, &ParseError{
						Line:    parseCtx.LineNumber,
						Field:   fmt.Sprintf("field_%d", i),
						Value:   truncate(field, 50),
						Message: fmt.Sprintf("field exceeds maximum size of %d bytes", bp.config.MaxFieldSize),
					}
				}
			}
		}

		return record, nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// GetFieldValue returns the trimmed value of a named column. A column that is
// not configured or absent from this short row yields an empty string.
func (bp *BaseParser) GetFieldValue(record []string, parseCtx *ParseContext, fieldName string) string {
	index := parseCtx.GetColumnIndex(fieldName)
	if index == -1 || index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	Source        string
	TotalLines    int
	RecordsParsed int
	RecordsValid  int
	ErrorCount    int
	Errors        []*ParseError
}

// NewParseStats creates a new ParseStats instance
func NewParseStats(source string) *ParseStats {
	return &ParseStats{Source: source}
}

// AddError adds an error to the parsing statistics
func (ps *ParseStats) AddError(err *ParseError) {
	if err.Source == "" {
		err.Source = ps.Source
	}
	ps.Errors = append(ps.Errors, err)
	ps.ErrorCount++
}

// HasErrors returns true if there were any parsing errors
func (ps *ParseStats) HasErrors() bool {
	return ps.ErrorCount > 0
}

// Merge adds other's counters and errors to ps
func (ps *ParseStats) Merge(other *ParseStats) {
	if other == nil {
		return
	}
	ps.TotalLines += other.TotalLines
	ps.RecordsParsed += other.RecordsParsed
	ps.RecordsValid += other.RecordsValid
	ps.ErrorCount += other.ErrorCount
	ps.Errors = append(ps.Errors, other.Errors...)
}

// ErrorSummary converts the skipped rows into categorized parse errors
func (ps *ParseStats) ErrorSummary() *errors.ErrorSummary {
	summary := errors.NewErrorSummary()
	for _, e := range ps.Errors {
		summary.Add(errors.ParseError(errors.CodeInvalidData, e.Source, e.Line, e.Field, e.Value, e).
			WithContext("reason", e.Message))
	}
	return summary
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid), %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.ErrorCount)
}
