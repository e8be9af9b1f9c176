// Package reporter renders import records and analysis snapshots.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: the record as served by the API
//   - CSV: one row per sample transaction, for spreadsheet review
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatJSON})
//	err = generator.GenerateReport(record, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"statement-import-service/internal/models"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// Detail level options
	IncludeSamples bool `json:"include_samples"`
	MaxSamples     int  `json:"max_samples"`

	// Console formatting options
	TableMaxWidth int `json:"table_max_width"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:         FormatConsole,
		IncludeSamples: true,
		MaxSamples:     5,
		TableMaxWidth:  120,
		CSVDelimiter:   ',',
		CSVHeaders:     true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}

	if c.MaxSamples < 0 {
		return fmt.Errorf("max samples cannot be negative, got %d", c.MaxSamples)
	}

	return nil
}

// ReportGenerator generates import reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if config.CSVDelimiter == 0 {
		config.CSVDelimiter = ','
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// GenerateReport writes a report for the record. Records without a
// snapshot only get the status sections.
func (rg *ReportGenerator) GenerateReport(record *models.ImportRecord, writer io.Writer) error {
	if record == nil {
		return fmt.Errorf("import record cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(record, writer)
	case FormatJSON:
		return rg.generateJSONReport(record, writer)
	case FormatCSV:
		return rg.generateCSVReport(record, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

func (rg *ReportGenerator) generateConsoleReport(record *models.ImportRecord, writer io.Writer) error {
	fmt.Fprintf(writer, "STATEMENT IMPORT REPORT\n")
	if record.UploadID != "" {
		fmt.Fprintf(writer, "Upload:  %s\n", record.UploadID)
	}
	fmt.Fprintf(writer, "Account: %s\n", record.AccountID)
	fmt.Fprintf(writer, "File:    %s\n", record.FileName)
	fmt.Fprintf(writer, "Status:  %s\n\n", record.Status)

	if snapshot := record.AnalysisSnapshot; snapshot != nil {
		fmt.Fprintf(writer, "=== FILE ===\n")
		rg.printFileStats(snapshot, writer)
		fmt.Fprintf(writer, "\n")

		fmt.Fprintf(writer, "=== OVERLAP ===\n")
		rg.printOverlapStats(snapshot.OverlapStats, writer)
		fmt.Fprintf(writer, "\n")

		if rg.config.IncludeSamples {
			rg.printSamples(snapshot.SampleTransactions, writer)
		}
	}

	if opts := record.ProcessingOptions; opts != nil {
		fmt.Fprintf(writer, "=== PROCESSING ===\n")
		fmt.Fprintf(writer, "Duplicate Handling: %s\n", opts.DuplicateHandling)
		fmt.Fprintf(writer, "Confirmed At:       %s\n\n", opts.ConfirmedAt.Format(time.RFC3339))
	}

	if summary := record.Summary; summary != nil {
		fmt.Fprintf(writer, "=== SUMMARY ===\n")
		rg.printSummary(summary, writer)
		fmt.Fprintf(writer, "\n")
	}

	if record.Error != nil {
		fmt.Fprintf(writer, "=== ERROR ===\n")
		fmt.Fprintf(writer, "[%s] %s\n", record.Error.Code, record.Error.Message)
	}

	return nil
}

func (rg *ReportGenerator) generateJSONReport(record *models.ImportRecord, writer io.Writer) error {
	output := record
	if !rg.config.IncludeSamples && record.AnalysisSnapshot != nil {
		output = record.Clone()
		output.AnalysisSnapshot.SampleTransactions = models.SampleTransactions{
			New:        []*models.Transaction{},
			Existing:   []*models.Transaction{},
			Duplicates: []models.DuplicatePair{},
		}
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	return encoder.Encode(output)
}

// generateCSVReport writes the sample transactions, one row each
func (rg *ReportGenerator) generateCSVReport(record *models.ImportRecord, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		headers := []string{
			"Class",
			"Line",
			"Date",
			"Description",
			"Amount",
			"Existing_Date",
			"Existing_Description",
			"Existing_Amount",
			"Similarity",
		}
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	if record.AnalysisSnapshot != nil {
		samples := record.AnalysisSnapshot.SampleTransactions

		for _, tx := range rg.limit(samples.New) {
			if err := csvWriter.Write(append(transactionColumns("New", tx), "", "", "", "")); err != nil {
				return fmt.Errorf("failed to write new transaction row: %w", err)
			}
		}

		for _, tx := range rg.limit(samples.Existing) {
			if err := csvWriter.Write(append(transactionColumns("Existing", tx), "", "", "", "")); err != nil {
				return fmt.Errorf("failed to write existing transaction row: %w", err)
			}
		}

		for i, pair := range samples.Duplicates {
			if rg.config.MaxSamples > 0 && i >= rg.config.MaxSamples {
				break
			}
			row := transactionColumns("Duplicate", pair.New)
			row = append(row,
				pair.Existing.Date.Format(models.DateLayout),
				pair.Existing.Description,
				pair.Existing.Amount.String(),
				strconv.FormatFloat(pair.Similarity, 'f', 2, 64),
			)
			if err := csvWriter.Write(row); err != nil {
				return fmt.Errorf("failed to write duplicate row: %w", err)
			}
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printFileStats(snapshot *models.AnalysisSnapshot, writer io.Writer) {
	stats := snapshot.FileStats
	fmt.Fprintf(writer, "Transactions: %d\n", stats.TransactionCount)
	if stats.TransactionCount > 0 {
		fmt.Fprintf(writer, "Date Range:   %s\n", formatRange(stats.DateRange))
	}
	fmt.Fprintf(writer, "Analyzed At:  %s\n", snapshot.GeneratedAt.Format(time.RFC3339))
}

func (rg *ReportGenerator) printOverlapStats(stats models.OverlapStats, writer io.Writer) {
	candidates := stats.NewTransactions + stats.PotentialDuplicates

	fmt.Fprintf(writer, "Existing In Window:   %d\n", stats.ExistingTransactions)
	fmt.Fprintf(writer, "New:                  %d (%.1f%%)\n",
		stats.NewTransactions, rg.calculatePercentage(stats.NewTransactions, candidates))
	fmt.Fprintf(writer, "Potential Duplicates: %d (%.1f%%)\n",
		stats.PotentialDuplicates, rg.calculatePercentage(stats.PotentialDuplicates, candidates))
	if stats.OverlapPeriod != nil {
		fmt.Fprintf(writer, "Overlap Period:       %s\n", formatRange(*stats.OverlapPeriod))
	}
}

func (rg *ReportGenerator) printSamples(samples models.SampleTransactions, writer io.Writer) {
	if len(samples.New) > 0 {
		fmt.Fprintf(writer, "=== SAMPLE NEW TRANSACTIONS ===\n")
		rg.printTransactionList(rg.limit(samples.New), writer)
		fmt.Fprintf(writer, "\n")
	}

	if len(samples.Existing) > 0 {
		fmt.Fprintf(writer, "=== SAMPLE EXISTING TRANSACTIONS ===\n")
		rg.printTransactionList(rg.limit(samples.Existing), writer)
		fmt.Fprintf(writer, "\n")
	}

	if len(samples.Duplicates) > 0 {
		fmt.Fprintf(writer, "=== SAMPLE DUPLICATES ===\n")
		for i, pair := range samples.Duplicates {
			if rg.config.MaxSamples > 0 && i >= rg.config.MaxSamples {
				fmt.Fprintf(writer, "  ... and %d more\n", len(samples.Duplicates)-i)
				break
			}
			fmt.Fprintf(writer, "  %s\n", rg.formatTransaction(pair.New))
			fmt.Fprintf(writer, "    matches %s (similarity %.2f)\n", rg.formatTransaction(pair.Existing), pair.Similarity)
		}
		fmt.Fprintf(writer, "\n")
	}
}

func (rg *ReportGenerator) printSummary(summary *models.ImportSummary, writer io.Writer) {
	fmt.Fprintf(writer, "Transactions Added: %d\n", summary.TransactionsAdded)
	fmt.Fprintf(writer, "Duplicates Handled: %d\n", summary.DuplicatesHandled)
	fmt.Fprintf(writer, "Errors:             %d\n", len(summary.Errors))
	for _, msg := range summary.Errors {
		fmt.Fprintf(writer, "  - %s\n", msg)
	}
}

func (rg *ReportGenerator) printTransactionList(transactions []*models.Transaction, writer io.Writer) {
	for _, tx := range transactions {
		fmt.Fprintf(writer, "  %s\n", rg.formatTransaction(tx))
	}
}

func (rg *ReportGenerator) formatTransaction(tx *models.Transaction) string {
	// date, amount and padding take roughly 30 columns
	width := rg.config.TableMaxWidth - 30
	return fmt.Sprintf("%s  %-*s  %12s",
		tx.Date.Format(models.DateLayout),
		width,
		truncate(tx.Description, width),
		tx.Amount.StringFixed(2),
	)
}

// Helper methods

func (rg *ReportGenerator) limit(transactions []*models.Transaction) []*models.Transaction {
	if rg.config.MaxSamples > 0 && len(transactions) > rg.config.MaxSamples {
		return transactions[:rg.config.MaxSamples]
	}
	return transactions
}

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

func transactionColumns(class string, tx *models.Transaction) []string {
	line := ""
	if tx.LineNumber > 0 {
		line = strconv.Itoa(tx.LineNumber)
	}
	return []string{
		class,
		line,
		tx.Date.Format(models.DateLayout),
		tx.Description,
		tx.Amount.String(),
	}
}

func formatRange(r models.DateRange) string {
	return fmt.Sprintf("%s to %s", r.Start.Format(models.DateLayout), r.End.Format(models.DateLayout))
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
