package parsers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"bill-reconciliation-service/internal/models"
	"bill-reconciliation-service/pkg/errors"
	"bill-reconciliation-service/pkg/logger"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
)

var (
	severityPattern   = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)`)
	unclosedTagFormat = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// OFXParser parses OFX and QFX statements
type OFXParser struct {
	logger logger.Logger
}

// NewOFXParser creates a new OFX parser
func NewOFXParser() *OFXParser {
	return &OFXParser{logger: logger.GetGlobalLogger().WithComponent("ofx_parser")}
}

// preprocess repairs formatting that some banks get wrong
func (p *OFXParser) preprocess(content string) string {
	content = strings.TrimLeft(content, " \t\r\n\ufeff")
	content = severityPattern.ReplaceAllStringFunc(content, strings.ToUpper)
	return unclosedTagFormat.ReplaceAllString(content, "$1>")
}

// ParseOperations parses an OFX file
func (p *OFXParser) ParseOperations(ctx context.Context, filePath string) ([]*models.Operation, *ParseStats, error) {
	data, err := ReadFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	return p.ParseBytes(ctx, filePath, data)
}

// ParseBytes parses OFX content from bank and credit card statements.
// Operation identifiers are the FITID prefixed by the account, since FITIDs
// are only unique within an account.
func (p *OFXParser) ParseBytes(ctx context.Context, source string, data []byte) ([]*models.Operation, *ParseStats, error) {
	stats := NewParseStats(source)

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocess(string(data))))
	if err != nil {
		return nil, stats, errors.ParseError(errors.CodeInvalidFormat, source, 0, "ofx", "", err).
			WithSuggestion("Check that the file is a valid OFX or QFX export")
	}

	var operations []*models.Operation
	add := func(account string, list *ofxgo.TransactionList) error {
		if list == nil {
			return nil
		}
		for i, tx := range list.Transactions {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			stats.TotalLines++
			stats.RecordsParsed++

			operation, perr := p.convertTransaction(account, tx)
			if perr != nil {
				perr.Line = i + 1
				stats.AddError(perr)
				continue
			}
			operations = append(operations, operation)
			stats.RecordsValid++
		}
		return nil
	}

	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			if err := add(string(stmt.BankAcctFrom.AcctID), stmt.BankTranList); err != nil {
				return operations, stats, err
			}
		}
	}
	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			if err := add(string(stmt.CCAcctFrom.AcctID), stmt.BankTranList); err != nil {
				return operations, stats, err
			}
		}
	}

	p.logger.WithFields(logger.Fields{
		"source":     source,
		"operations": len(operations),
		"errors":     stats.ErrorCount,
	}).Debug("Parsed OFX statement")

	return operations, stats, nil
}

// ofxAmountPrecision is the number of decimal places kept from TRNAMT
const ofxAmountPrecision = 10

func (p *OFXParser) convertTransaction(account string, tx ofxgo.Transaction) (*models.Operation, *ParseError) {
	fitID := strings.TrimSpace(string(tx.FiTID))
	if fitID == "" {
		return nil, &ParseError{Field: "FITID", Message: "transaction has no FITID"}
	}

	amount := decimal.NewFromBigRat(&tx.TrnAmt.Rat, ofxAmountPrecision)

	if tx.DtPosted.IsZero() {
		return nil, &ParseError{Field: "DTPOSTED", Value: fitID, Message: "transaction has no posting date"}
	}

	id := fitID
	if account != "" {
		id = fmt.Sprintf("%s:%s", account, fitID)
	}
	return models.NewOperation(id, tx.DtPosted.Time, transactionLabel(tx), amount), nil
}

// transactionLabel joins the payee or name with the memo, which is where
// banks tend to put the counterpart reference
func transactionLabel(tx ofxgo.Transaction) string {
	name := strings.TrimSpace(string(tx.Name))
	if tx.Payee != nil && tx.Payee.Name != "" {
		name = strings.TrimSpace(string(tx.Payee.Name))
	}
	memo := strings.TrimSpace(string(tx.Memo))
	switch {
	case memo == "" || memo == name:
		return name
	case name == "":
		return memo
	default:
		return name + " " + memo
	}
}
