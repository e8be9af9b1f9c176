package reporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	stderrors "errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"statement-import-service/internal/models"
	"statement-import-service/pkg/errors"
	"statement-import-service/pkg/logger"
)

func tx(date string, description string, amount string, line int) *models.Transaction {
	d, _ := time.Parse(models.DateLayout, date)
	return &models.Transaction{
		Date:        d,
		Description: description,
		Amount:      decimal.RequireFromString(amount),
		LineNumber:  line,
	}
}

func createSampleRecord() *models.ImportRecord {
	start, _ := time.Parse(models.DateLayout, "2024-01-10")
	end, _ := time.Parse(models.DateLayout, "2024-01-12")
	generated := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

	return &models.ImportRecord{
		UploadID:  "upload-1",
		AccountID: "acct-1",
		UserID:    "user-1",
		FileName:  "january.csv",
		Status:    models.StatusAnalyzed,
		CreatedAt: generated,
		UpdatedAt: generated,
		AnalysisSnapshot: &models.AnalysisSnapshot{
			GeneratedAt: generated,
			FileStats: models.FileStats{
				TransactionCount: 3,
				DateRange:        models.DateRange{Start: start, End: end},
			},
			OverlapStats: models.OverlapStats{
				ExistingTransactions: 1,
				NewTransactions:      2,
				PotentialDuplicates:  1,
				OverlapPeriod:        &models.DateRange{Start: start, End: start},
			},
			SampleTransactions: models.SampleTransactions{
				New: []*models.Transaction{
					tx("2024-01-11", "Coffee", "-4.50", 3),
					tx("2024-01-12", "Salary", "2500.00", 4),
				},
				Existing: []*models.Transaction{
					tx("2024-01-10", "Groceries", "-50.00", 0),
				},
				Duplicates: []models.DuplicatePair{
					{
						New:        tx("2024-01-10", "Groceries", "-50.00", 2),
						Existing:   tx("2024-01-10", "Groceries", "-50.00", 0),
						Similarity: 1,
					},
				},
			},
		},
	}
}

func TestNewReportGenerator(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		expectError bool
	}{
		{
			name:        "default config",
			config:      nil,
			expectError: false,
		},
		{
			name:        "valid config",
			config:      DefaultReportConfig(),
			expectError: false,
		},
		{
			name: "invalid format",
			config: &ReportConfig{
				Format:        "invalid",
				TableMaxWidth: 120,
			},
			expectError: true,
		},
		{
			name: "table width too small",
			config: &ReportConfig{
				Format:        FormatConsole,
				TableMaxWidth: 30,
			},
			expectError: true,
		},
		{
			name: "negative samples",
			config: &ReportConfig{
				Format:        FormatConsole,
				TableMaxWidth: 120,
				MaxSamples:    -1,
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if generator == nil {
					t.Errorf("expected generator but got nil")
				}
			}
		})
	}
}

func TestOutputFormatValidation(t *testing.T) {
	tests := []struct {
		format OutputFormat
		valid  bool
	}{
		{FormatConsole, true},
		{FormatJSON, true},
		{FormatCSV, true},
		{"invalid", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			if tt.format.IsValid() != tt.valid {
				t.Errorf("expected IsValid() = %v for format %s", tt.valid, tt.format)
			}
		})
	}
}

func TestGenerateReport(t *testing.T) {
	tests := []struct {
		name        string
		config      *ReportConfig
		record      *models.ImportRecord
		expectError bool
		checkOutput func(t *testing.T, output string)
	}{
		{
			name:   "console format",
			config: DefaultReportConfig(),
			record: createSampleRecord(),
			checkOutput: func(t *testing.T, output string) {
				for _, want := range []string{
					"STATEMENT IMPORT REPORT",
					"Status:  ANALYZED",
					"=== FILE ===",
					"Date Range:   2024-01-10 to 2024-01-12",
					"=== OVERLAP ===",
					"Potential Duplicates: 1 (33.3%)",
					"=== SAMPLE NEW TRANSACTIONS ===",
					"=== SAMPLE DUPLICATES ===",
					"similarity 1.00",
				} {
					if !strings.Contains(output, want) {
						t.Errorf("console output should contain %q", want)
					}
				}
				if strings.Contains(output, "=== SUMMARY ===") {
					t.Errorf("analyzed record should not print a summary")
				}
			},
		},
		{
			name: "console without samples",
			config: &ReportConfig{
				Format:        FormatConsole,
				TableMaxWidth: 80,
			},
			record: createSampleRecord(),
			checkOutput: func(t *testing.T, output string) {
				if strings.Contains(output, "SAMPLE") {
					t.Errorf("samples should be omitted")
				}
			},
		},
		{
			name:   "console completed record",
			config: DefaultReportConfig(),
			record: func() *models.ImportRecord {
				r := createSampleRecord()
				r.Status = models.StatusCompleted
				r.ProcessingOptions = &models.ProcessingOptions{DuplicateHandling: models.StrategySkip}
				r.Summary = &models.ImportSummary{TransactionsAdded: 2, DuplicatesHandled: 1, Errors: []string{"line 9: boom"}}
				return r
			}(),
			checkOutput: func(t *testing.T, output string) {
				for _, want := range []string{
					"Duplicate Handling: SKIP",
					"Transactions Added: 2",
					"Duplicates Handled: 1",
					"  - line 9: boom",
				} {
					if !strings.Contains(output, want) {
						t.Errorf("console output should contain %q", want)
					}
				}
			},
		},
		{
			name:   "console failed record",
			config: DefaultReportConfig(),
			record: &models.ImportRecord{
				AccountID: "acct-1",
				Status:    models.StatusFailed,
				Error:     &models.ImportFailure{Code: "SCHEMA_TOO_FEW_LINES", Message: "file has no data rows"},
			},
			checkOutput: func(t *testing.T, output string) {
				if !strings.Contains(output, "[SCHEMA_TOO_FEW_LINES] file has no data rows") {
					t.Errorf("console output should contain the failure")
				}
				if strings.Contains(output, "=== FILE ===") {
					t.Errorf("record without snapshot should not print file stats")
				}
			},
		},
		{
			name: "JSON format",
			config: &ReportConfig{
				Format:         FormatJSON,
				IncludeSamples: true,
				TableMaxWidth:  120,
			},
			record: createSampleRecord(),
			checkOutput: func(t *testing.T, output string) {
				var decoded models.ImportRecord
				if err := json.Unmarshal([]byte(output), &decoded); err != nil {
					t.Fatalf("output should be valid JSON: %v", err)
				}
				if decoded.AnalysisSnapshot == nil {
					t.Fatalf("JSON output should contain the snapshot")
				}
				if got := len(decoded.AnalysisSnapshot.SampleTransactions.New); got != 2 {
					t.Errorf("expected 2 new samples, got %d", got)
				}
			},
		},
		{
			name: "JSON without samples",
			config: &ReportConfig{
				Format:        FormatJSON,
				TableMaxWidth: 120,
			},
			record: createSampleRecord(),
			checkOutput: func(t *testing.T, output string) {
				var decoded models.ImportRecord
				if err := json.Unmarshal([]byte(output), &decoded); err != nil {
					t.Fatalf("output should be valid JSON: %v", err)
				}
				if got := len(decoded.AnalysisSnapshot.SampleTransactions.New); got != 0 {
					t.Errorf("expected samples to be stripped, got %d", got)
				}
				if decoded.AnalysisSnapshot.FileStats.TransactionCount != 3 {
					t.Errorf("file stats should be kept")
				}
			},
		},
		{
			name: "CSV format",
			config: &ReportConfig{
				Format:        FormatCSV,
				TableMaxWidth: 120,
				CSVHeaders:    true,
			},
			record: createSampleRecord(),
			checkOutput: func(t *testing.T, output string) {
				rows, err := csv.NewReader(strings.NewReader(output)).ReadAll()
				if err != nil {
					t.Fatalf("output should be valid CSV: %v", err)
				}
				// header, two new, one existing, one duplicate
				if len(rows) != 5 {
					t.Fatalf("expected 5 rows, got %d", len(rows))
				}
				if rows[0][0] != "Class" {
					t.Errorf("expected header row, got %v", rows[0])
				}
				last := rows[4]
				if last[0] != "Duplicate" || last[1] != "2" || last[8] != "1.00" {
					t.Errorf("unexpected duplicate row: %v", last)
				}
				if rows[3][1] != "" {
					t.Errorf("ledger rows have no line number, got %q", rows[3][1])
				}
			},
		},
		{
			name: "CSV sample limit",
			config: &ReportConfig{
				Format:        FormatCSV,
				TableMaxWidth: 120,
				MaxSamples:    1,
			},
			record: createSampleRecord(),
			checkOutput: func(t *testing.T, output string) {
				rows, err := csv.NewReader(strings.NewReader(output)).ReadAll()
				if err != nil {
					t.Fatalf("output should be valid CSV: %v", err)
				}
				if len(rows) != 3 {
					t.Errorf("expected one row per class, got %d", len(rows))
				}
			},
		},
		{
			name:        "nil record",
			config:      DefaultReportConfig(),
			record:      nil,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generator, err := NewReportGenerator(tt.config)
			if err != nil {
				t.Fatalf("failed to create generator: %v", err)
			}

			var buf bytes.Buffer
			err = generator.GenerateReport(tt.record, &buf)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkOutput != nil {
				tt.checkOutput(t, buf.String())
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input string
		max   int
		want  string
	}{
		{"short", 10, "short"},
		{"exactly ten", 11, "exactly ten"},
		{"a much longer description", 10, "a much ..."},
		{"abc", 2, "ab"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := truncate(tt.input, tt.max); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.max, got, tt.want)
			}
		})
	}
}

func TestUpdateConfiguration(t *testing.T) {
	generator, err := NewReportGenerator(nil)
	if err != nil {
		t.Fatalf("failed to create generator: %v", err)
	}

	if err := generator.UpdateConfiguration(&ReportConfig{Format: "xml", TableMaxWidth: 120}); err == nil {
		t.Errorf("expected invalid configuration to be rejected")
	}
	if generator.GetConfiguration().Format != FormatConsole {
		t.Errorf("rejected update should keep the previous configuration")
	}

	update := &ReportConfig{Format: FormatJSON, TableMaxWidth: 100}
	if err := generator.UpdateConfiguration(update); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if generator.GetConfiguration() != update {
		t.Errorf("expected configuration to be replaced")
	}
}

type failingWriter struct {
	failures int
	buf      bytes.Buffer
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.failures > 0 {
		w.failures--
		return 0, stderrors.New("write refused")
	}
	return w.buf.Write(p)
}

func TestSafeReportGenerator(t *testing.T) {
	log, err := logger.NewWithWriter(logger.DefaultConfig(), io.Discard)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	t.Run("rejects invalid config", func(t *testing.T) {
		_, err := NewSafeReportGenerator(&ReportConfig{Format: "xml", TableMaxWidth: 120}, log)
		if err == nil {
			t.Fatalf("expected error")
		}
		if !errors.HasCode(err, errors.CodeInvalidConfig) {
			t.Errorf("expected INTERNAL_CONFIG, got %v", err)
		}
	})

	t.Run("rejects nil record", func(t *testing.T) {
		generator, err := NewSafeReportGenerator(nil, log)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := generator.GenerateReportSafely(nil, &bytes.Buffer{}); err == nil {
			t.Errorf("expected validation error")
		}
	})

	t.Run("falls back to console when JSON fails", func(t *testing.T) {
		generator, err := NewSafeReportGenerator(&ReportConfig{Format: FormatJSON, TableMaxWidth: 120}, log)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		w := &failingWriter{failures: 1}
		if err := generator.GenerateReportSafely(createSampleRecord(), w); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		output := w.buf.String()
		if !strings.Contains(output, "fallback format") {
			t.Errorf("expected fallback notice, got %q", output)
		}
		if !strings.Contains(output, "STATEMENT IMPORT REPORT") {
			t.Errorf("expected console report after fallback")
		}
	})
}

func TestGenerateBackupPath(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"/tmp/report.json", "/tmp/report_backup.json"},
		{"report", "report_backup"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := generateBackupPath(tt.input); got != tt.want {
				t.Errorf("generateBackupPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
