// Package parsers turns uploaded statement bytes into canonical transactions.
//
// Input is generic delimited text: the first line names the columns, every
// following non-blank line is one transaction. Header names are matched
// case-insensitively. Parsing is all-or-nothing; the first malformed row
// aborts the file and no transactions are returned.
//
// Example usage:
//
//	parser, err := parsers.NewTransactionParser(nil, nil)
//	transactions, err := parser.Parse(content)
package parsers

import (
	"bytes"
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"strings"

	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseConfig holds the low-level reader settings
type ParseConfig struct {
	Delimiter        rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
}

// DefaultParseConfig returns comma-separated settings
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
	}
}

// BaseParser holds the reader mechanics shared by file parsers
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser
func NewBaseParser(config *ParseConfig, log logger.Logger) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	return &BaseParser{
		config: config,
		logger: logger.OrGlobal(log).WithComponent("base_parser"),
	}
}

// ParseContext tracks state while reading one file
type ParseContext struct {
	Context    context.Context
	LineNumber int
	Headers    []string
	HeaderMap  map[string]int
}

// NewParseContext creates a new parse context
func NewParseContext(ctx context.Context) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		Context:   ctx,
		HeaderMap: make(map[string]int),
	}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	select {
	case <-pc.Context.Done():
		return true
	default:
		return false
	}
}

// GetColumnIndex returns the index of a header, case-insensitively, or -1
func (pc *ParseContext) GetColumnIndex(name string) int {
	if index, exists := pc.HeaderMap[strings.ToLower(strings.TrimSpace(name))]; exists {
		return index
	}
	return -1
}

// CountLines counts physical lines, ignoring a single trailing newline
func CountLines(content []byte) int {
	content = bytes.TrimSuffix(content, []byte("\n"))
	content = bytes.TrimSuffix(content, []byte("\r"))
	if len(content) == 0 {
		return 0
	}
	return bytes.Count(content, []byte("\n")) + 1
}

// NewReader returns a csv.Reader over content with our configuration
func (bp *BaseParser) NewReader(content []byte) *csv.Reader {
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, utf8BOM)))
	reader.Comma = bp.config.Delimiter
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1 // column count is checked against the header per row
	reader.ReuseRecord = false
	return reader
}

// ReadHeaders reads the header row and checks that every required column
// resolves. resolve maps a logical field to the candidate header names.
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext, required []string, resolve func(field string) []string) (map[string]int, error) {
	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, errors.SchemaError(errors.CodeTooFewLines, "file is empty")
		}
		return nil, bp.wrapReadError(err, 1)
	}

	parseCtx.LineNumber, _ = reader.FieldPos(0)
	parseCtx.Headers = make([]string, len(headers))
	for i, header := range headers {
		parseCtx.Headers[i] = strings.TrimSpace(header)
		key := strings.ToLower(parseCtx.Headers[i])
		if _, exists := parseCtx.HeaderMap[key]; !exists {
			parseCtx.HeaderMap[key] = i
		}
	}

	bp.logger.WithField("headers", parseCtx.Headers).Debug("Read header row")

	columns := make(map[string]int, len(required))
	var missing []string
	for _, field := range required {
		index := -1
		for _, name := range resolve(field) {
			if index = parseCtx.GetColumnIndex(name); index != -1 {
				break
			}
		}
		if index == -1 {
			missing = append(missing, field)
			continue
		}
		columns[field] = index
	}

	if len(missing) > 0 {
		bp.logger.WithFields(logger.Fields{
			"missing_columns":   missing,
			"available_headers": parseCtx.Headers,
		}).Warn("Required columns are missing")
		return nil, errors.SchemaError(errors.CodeMissingColumn, strings.Join(missing, ", "))
	}

	return columns, nil
}

// ReadRecord returns the next non-blank record and its starting line.
// It returns io.EOF at the end of input.
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, int, error) {
	for {
		if parseCtx.IsCancelled() {
			return nil, 0, parseCtx.Context.Err()
		}

		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil, 0, err
			}
			return nil, 0, bp.wrapReadError(err, parseCtx.LineNumber+1)
		}

		line, _ := reader.FieldPos(0)
		parseCtx.LineNumber = line

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			bp.logger.WithField("line_number", line).Debug("Skipping empty record")
			continue
		}

		if len(record) != len(parseCtx.Headers) {
			return nil, line, errors.RowFormatError(
				errors.CodeColumnCount,
				line,
				"row",
				strings.Join(record, string(bp.config.Delimiter)),
				fmt.Errorf("expected %d columns, got %d", len(parseCtx.Headers), len(record)),
			)
		}

		return record, line, nil
	}
}

// wrapReadError turns a csv syntax error into a RowFormatError
func (bp *BaseParser) wrapReadError(err error, fallbackLine int) error {
	line := fallbackLine
	var csvErr *csv.ParseError
	if stderrors.As(err, &csvErr) {
		line = csvErr.StartLine
	}
	return errors.RowFormatError(errors.CodeMalformedRow, line, "row", "", err)
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}
