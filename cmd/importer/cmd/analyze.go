package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"statement-import-service/internal/importer"
	"statement-import-service/internal/ledger"
	memledger "statement-import-service/internal/ledger/inmemory"
	"statement-import-service/internal/matcher"
	"statement-import-service/internal/models"
	"statement-import-service/internal/parsers"
	"statement-import-service/internal/reporter"
	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"
)

// analyzeCmd runs the analysis phase locally, without a store or queue
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze a statement file against an exported ledger",
	Long: `Analyze parses a statement CSV, compares it with the ledger entries
that fall inside the reference window and prints the analysis snapshot the
service would show before confirmation.

Both files use the statement layout: a header row with date, description
and amount columns followed by one transaction per line.

Examples:
  importer analyze --file jan.csv
  importer analyze --file jan.csv --existing ledger.csv --account acct-1
  importer analyze --file jan.csv --existing ledger.csv --output-format json --output-file snapshot.json
  importer analyze --file jan.csv --existing ledger.csv --now 2024-02-01 --window-days 60`,
	PreRunE: validateAnalyzeFlags,
	RunE:    runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringP("file", "f", "", "statement CSV to analyze (required)")
	analyzeCmd.Flags().StringP("existing", "e", "", "CSV export of existing ledger entries")
	analyzeCmd.Flags().StringP("account", "a", "local", "account the statement belongs to")
	analyzeCmd.Flags().StringP("output-format", "o", "console", "output format: console, json or csv")
	analyzeCmd.Flags().String("output-file", "", "write the report to this file instead of stdout")
	analyzeCmd.Flags().String("now", "", "analysis date (YYYY-MM-DD), defaults to today")
	analyzeCmd.Flags().Int("window-days", importer.DefaultReferenceWindowDays, "days of ledger history to compare against")
	analyzeCmd.Flags().Int("sample-size", matcher.DefaultMatchingConfig().SampleSize, "transactions kept per sample list")

	analyzeCmd.MarkFlagRequired("file")

	for _, name := range []string{"file", "existing", "account", "output-format", "output-file", "now", "window-days", "sample-size"} {
		viper.BindPFlag(name, analyzeCmd.Flags().Lookup(name))
	}
}

// analyzeOptions are the resolved analyze flags
type analyzeOptions struct {
	File       string
	Existing   string
	AccountID  string
	Format     reporter.OutputFormat
	OutputFile string
	Now        time.Time
	WindowDays int
	SampleSize int
}

func validateAnalyzeFlags(cmd *cobra.Command, args []string) error {
	_, err := analyzeOptionsFromViper()
	return err
}

func analyzeOptionsFromViper() (*analyzeOptions, error) {
	opts := &analyzeOptions{
		File:       viper.GetString("file"),
		Existing:   viper.GetString("existing"),
		AccountID:  strings.TrimSpace(viper.GetString("account")),
		Format:     reporter.OutputFormat(strings.ToLower(viper.GetString("output-format"))),
		OutputFile: viper.GetString("output-file"),
		WindowDays: viper.GetInt("window-days"),
		SampleSize: viper.GetInt("sample-size"),
		Now:        time.Now(),
	}

	if opts.File == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "file", "", nil).
			WithSuggestion("pass the statement to analyze with --file")
	}
	if err := validateFileExists(opts.File, "statement file"); err != nil {
		return nil, err
	}
	if opts.Existing != "" {
		if err := validateFileExists(opts.Existing, "ledger file"); err != nil {
			return nil, err
		}
	}
	if opts.AccountID == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "account", "", nil)
	}
	if opts.Format == "" {
		opts.Format = reporter.FormatConsole
	}
	if !opts.Format.IsValid() {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "output-format", string(opts.Format),
			fmt.Errorf("invalid output format %q", opts.Format)).
			WithSuggestion("use one of: console, json, csv")
	}
	if raw := viper.GetString("now"); raw != "" {
		now, err := time.Parse(models.DateLayout, raw)
		if err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidValue, "now", raw,
				fmt.Errorf("invalid date format, expected YYYY-MM-DD: %w", err))
		}
		opts.Now = now
	}
	if opts.WindowDays <= 0 {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "window-days", opts.WindowDays,
			fmt.Errorf("window must be at least one day"))
	}
	if opts.SampleSize < 0 {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "sample-size", opts.SampleSize,
			fmt.Errorf("sample size cannot be negative"))
	}
	return opts, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	opts, err := analyzeOptionsFromViper()
	if err != nil {
		return err
	}

	logConfig := logger.DefaultConfig()
	logConfig.Output = logger.StderrOutput
	logConfig.Level = logger.WarnLevel
	if viper.GetBool("verbose") {
		logConfig.Level = logger.DebugLevel
	}
	log, err := setupLogger(logConfig)
	if err != nil {
		return errors.InternalError(errors.CodeInvalidConfig, "setup_logger", err)
	}

	var output io.Writer = cmd.OutOrStdout()
	if opts.OutputFile != "" {
		file, err := os.Create(opts.OutputFile)
		if err != nil {
			return errors.InternalError(errors.CodeUnexpectedError, "create_output", err).
				WithContext("path", opts.OutputFile)
		}
		defer file.Close()
		output = file
	}

	if err := analyze(cmd.Context(), opts, output, log); err != nil {
		return err
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "\nAnalysis of %s completed.\n", filepath.Base(opts.File))
	}
	return nil
}

// analyze parses both files, restricts the ledger to the reference window
// and renders the resulting snapshot
func analyze(ctx context.Context, opts *analyzeOptions, output io.Writer, log logger.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log = logger.OrGlobal(log).WithComponent("analyze")

	parser, err := parsers.NewTransactionParser(nil, log)
	if err != nil {
		return err
	}

	candidates, err := parseFile(ctx, parser, opts.File)
	if err != nil {
		return err
	}

	existing, err := loadReferenceWindow(ctx, parser, opts, log)
	if err != nil {
		return err
	}

	matchingConfig := matcher.DefaultMatchingConfig()
	matchingConfig.SampleSize = opts.SampleSize
	engine := matcher.NewMatchingEngine(matchingConfig, log)
	snapshot := engine.Analyze(candidates, existing, opts.Now.UTC())

	record := &models.ImportRecord{
		AccountID:        opts.AccountID,
		FileName:         filepath.Base(opts.File),
		Status:           models.StatusAnalyzed,
		CreatedAt:        snapshot.GeneratedAt,
		UpdatedAt:        snapshot.GeneratedAt,
		AnalysisSnapshot: snapshot,
	}

	reportConfig := reporter.DefaultReportConfig()
	reportConfig.Format = opts.Format
	reportConfig.MaxSamples = opts.SampleSize
	generator, err := reporter.NewSafeReportGenerator(reportConfig, log)
	if err != nil {
		return err
	}
	return generator.GenerateReportSafely(record, output)
}

func parseFile(ctx context.Context, parser *parsers.TransactionParser, path string) ([]*models.Transaction, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "read_file", err).
			WithContext("path", path)
	}
	transactions, err := parser.ParseWithContext(ctx, content)
	if err != nil {
		if importErr, ok := errors.AsImportError(err); ok {
			return nil, importErr.WithContext("file", path)
		}
		return nil, err
	}
	return transactions, nil
}

// loadReferenceWindow replays the ledger export into an in-memory ledger so
// the window query matches what the service would see
func loadReferenceWindow(ctx context.Context, parser *parsers.TransactionParser, opts *analyzeOptions, log logger.Logger) ([]*models.Transaction, error) {
	if opts.Existing == "" {
		return nil, nil
	}

	entries, err := parseFile(ctx, parser, opts.Existing)
	if err != nil {
		return nil, err
	}

	l := memledger.NewLedger()
	collapsed := 0
	for _, entry := range entries {
		err := l.Put(ctx, opts.AccountID, entry)
		if stderrors.Is(err, ledger.ErrEntryExists) {
			collapsed++
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	if collapsed > 0 {
		log.WithField("collapsed", collapsed).Warn("Ledger export contains identical entries")
	}

	since := models.NormalizeDate(opts.Now).AddDate(0, 0, -opts.WindowDays)
	return l.QueryByAccountAndDateFloor(ctx, opts.AccountID, since)
}

// validateFileExists checks if a file exists and is readable
func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return errors.ValidationError(errors.CodeMissingField, description, "", nil)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.Wrap(err, errors.CategoryValidation, errors.CodeInvalidValue,
			fmt.Sprintf("%s does not exist: %s", description, filePath)).
			WithSuggestion("check the path and try again")
	}
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, errors.CodeInvalidValue,
			fmt.Sprintf("cannot access %s: %s", description, filePath))
	}
	if info.IsDir() {
		return errors.New(errors.CategoryValidation, errors.CodeInvalidValue,
			fmt.Sprintf("%s is a directory, not a file: %s", description, filePath))
	}
	return nil
}
