package parsers

import (
	"context"
	"io"
	"strings"

	"github.com/google/uuid"

	"statement-import-service/internal/models"
	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"
)

// IDGenerator produces transaction identifiers
type IDGenerator func() string

// TransactionParser parses uploaded statement files
type TransactionParser struct {
	*BaseParser
	config *TransactionParserConfig
	newID  IDGenerator
	logger logger.Logger
}

// NewTransactionParser creates a new TransactionParser with the given configuration
func NewTransactionParser(config *TransactionParserConfig, log logger.Logger) (*TransactionParser, error) {
	if config == nil {
		config = DefaultTransactionParserConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.InternalError(
			errors.CodeInvalidConfig,
			"transaction_parser_config",
			err,
		).WithSuggestion("Check the parser column and delimiter settings")
	}

	parseConfig := &ParseConfig{
		Delimiter:        config.Delimiter,
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
	}

	log = logger.OrGlobal(log)
	tp := &TransactionParser{
		BaseParser: NewBaseParser(parseConfig, log),
		config:     config,
		newID:      uuid.NewString,
		logger:     log.WithComponent("transaction_parser"),
	}

	tp.logger.WithField("delimiter", string(config.Delimiter)).Debug("Created transaction parser")

	return tp, nil
}

// WithIDGenerator replaces the identifier source, mainly for tests
func (tp *TransactionParser) WithIDGenerator(gen IDGenerator) *TransactionParser {
	if gen != nil {
		tp.newID = gen
	}
	return tp
}

// Parse converts file bytes into transactions
func (tp *TransactionParser) Parse(content []byte) ([]*models.Transaction, error) {
	return tp.ParseWithContext(context.Background(), content)
}

// ParseWithContext converts file bytes into transactions. The result is in
// file order. Any malformed row fails the whole file and no transactions
// are returned.
func (tp *TransactionParser) ParseWithContext(ctx context.Context, content []byte) ([]*models.Transaction, error) {
	lines := CountLines(content)
	log := tp.logger.WithFields(logger.Fields{
		"operation": "parse_transactions",
		"bytes":     len(content),
		"lines":     lines,
	})
	log.Debug("Starting transaction parsing")

	if lines < 2 {
		return nil, errors.SchemaError(errors.CodeTooFewLines, "header and at least one data row required")
	}

	reader := tp.NewReader(content)
	parseCtx := NewParseContext(ctx)

	columns, err := tp.ReadHeaders(reader, parseCtx, tp.requiredFields(), tp.candidates)
	if err != nil {
		log.WithError(err).Warn("Failed to read or validate headers")
		return nil, err
	}

	var transactions []*models.Transaction
	for {
		record, line, err := tp.ReadRecord(reader, parseCtx)
		if err != nil {
			if err == io.EOF {
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, errors.InternalError(errors.CodeUnexpectedError, "transaction_parsing", ctxErr)
			}
			log.WithError(err).WithField("line_number", parseCtx.LineNumber).Warn("Aborting parse on malformed row")
			return nil, err
		}

		transaction, err := tp.parseRecord(record, line, columns)
		if err != nil {
			log.WithError(err).WithField("line_number", line).Warn("Aborting parse on invalid row")
			return nil, err
		}
		transactions = append(transactions, transaction)
	}

	log.WithField("transactions", len(transactions)).Info("Transaction parsing completed")
	return transactions, nil
}

func (tp *TransactionParser) requiredFields() []string {
	return []string{FieldDate, FieldDescription, FieldAmount}
}

// candidates lists header names accepted for a field, configured name first
func (tp *TransactionParser) candidates(field string) []string {
	return append([]string{tp.config.GetColumnName(field), field}, tp.config.aliasesFor(field)...)
}

// parseRecord creates a Transaction from one data row
func (tp *TransactionParser) parseRecord(record []string, line int, columns map[string]int) (*models.Transaction, error) {
	dateStr := record[columns[FieldDate]]
	description := strings.TrimSpace(record[columns[FieldDescription]])
	amountStr := record[columns[FieldAmount]]

	date, err := models.ParseDate(dateStr)
	if err != nil {
		return nil, errors.RowFormatError(errors.CodeInvalidDate, line, FieldDate, dateStr, err)
	}

	amount, err := models.ParseAmount(amountStr)
	if err != nil {
		return nil, errors.RowFormatError(errors.CodeInvalidAmount, line, FieldAmount, amountStr, err)
	}

	return &models.Transaction{
		ID:          tp.newID(),
		Date:        date,
		Description: description,
		Amount:      amount,
		ContentHash: models.ContentHash(date, amount, description),
		LineNumber:  line,
	}, nil
}
