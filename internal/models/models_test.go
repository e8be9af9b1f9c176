package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"statement-import-service/pkg/errors"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		wantErr  bool
	}{
		{"100", "100", false},
		{"-12.34", "-12.34", false},
		{"  42.10 ", "42.1", false},
		{"$1,234.50", "1234.5", false},
		{"-$5", "-5", false},
		{"(12.50)", "-12.5", false},
		{"", "", true},
		{"abc", "", true},
		{"12.3.4", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q, got %s", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		input   string
		wantErr bool
	}{
		{"2024-01-31", false},
		{"01/31/2024", false},
		{"2024/01/31", false},
		{"2024-01-31T23:59:59Z", false},
		{"2024-01-31 08:15:00", false},
		{"Jan 31, 2024", false},
		{"January 31, 2024", false},
		{"31.01.2024", true},
		{"not a date", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(want) {
				t.Errorf("expected %v, got %v", want, got)
			}
			if got.Location() != time.UTC || got.Hour() != 0 {
				t.Errorf("expected date-only UTC value, got %v", got)
			}
		})
	}
}

func TestNormalizeDateKeepsCalendarDay(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	in := time.Date(2024, 3, 1, 1, 30, 0, 0, loc)

	got := NormalizeDate(in)
	if got.Day() != 1 || got.Month() != time.March {
		t.Errorf("expected 2024-03-01, got %s", got.Format(DateLayout))
	}
}

func TestContentHash(t *testing.T) {
	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := ContentHash(date, decimal.NewFromInt(100), "Test")
	b := ContentHash(date, decimal.RequireFromString("100.00"), "  test ")

	if a != b {
		t.Error("hash should ignore description case, padding and trailing zeros")
	}
	if len(a) != 32 {
		t.Errorf("expected 32 hex chars, got %d", len(a))
	}
	if a == ContentHash(date, decimal.NewFromInt(101), "Test") {
		t.Error("different amounts must hash differently")
	}

	tx := &Transaction{Date: date, Amount: decimal.NewFromInt(100), Description: "Test", ImportBatchID: "up-1"}
	if DuplicateContentHash(tx) == a {
		t.Error("duplicate hash must differ from the content hash")
	}
}

func TestStorageKeyRoundTrip(t *testing.T) {
	uploadID := "7d9f1f5e-2a8b-4b7f-9d6c-1c2e3f4a5b6c"
	at := time.Date(2024, 2, 15, 10, 0, 0, 0, time.UTC)

	key := NewStorageKey("user-1", "acc-1", uploadID, "my_statement.csv", at)
	rendered := key.String()
	expected := "user-1/acc-1/2024/02/original/" + uploadID + "_my_statement.csv"
	if rendered != expected {
		t.Fatalf("expected %s, got %s", expected, rendered)
	}

	parsed, err := ParseStorageKey(rendered)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed != key {
		t.Errorf("round trip mismatch: %+v vs %+v", parsed, key)
	}
}

func TestParseStorageKeyRejectsMalformed(t *testing.T) {
	tests := []string{
		"",
		"user/acc/2024/02/original",
		"user/acc/2024/02/raw/7d9f1f5e-2a8b-4b7f-9d6c-1c2e3f4a5b6c_f.csv",
		"user/acc/20x4/02/original/7d9f1f5e-2a8b-4b7f-9d6c-1c2e3f4a5b6c_f.csv",
		"user/acc/2024/13/original/7d9f1f5e-2a8b-4b7f-9d6c-1c2e3f4a5b6c_f.csv",
		"user/acc/2024/02/original/not-a-uuid_f.csv",
		"user/acc/2024/02/original/7d9f1f5e-2a8b-4b7f-9d6c-1c2e3f4a5b6c",
	}

	for _, key := range tests {
		t.Run(key, func(t *testing.T) {
			_, err := ParseStorageKey(key)
			if !errors.HasCode(err, errors.CodeInvalidKey) {
				t.Errorf("expected %s, got %v", errors.CodeInvalidKey, err)
			}
		})
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := map[string]string{
		"statement.csv":         "statement.csv",
		"../../etc/passwd":      "passwd",
		"C:\\Users\\me\\jan.csv": "jan.csv",
		"":                      "upload",
	}
	for in, want := range tests {
		if got := SanitizeFileName(in); got != want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusTransitions(t *testing.T) {
	forward := []ImportStatus{StatusPending, StatusAnalyzing, StatusAnalyzed, StatusProcessing, StatusCompleted}
	for i := 1; i < len(forward); i++ {
		if !CanTransition(forward[i-1], forward[i], false) {
			t.Errorf("expected %s -> %s to be allowed", forward[i-1], forward[i])
		}
	}

	backward := [][2]ImportStatus{
		{StatusProcessing, StatusAnalyzed},
		{StatusCompleted, StatusProcessing},
		{StatusAnalyzed, StatusPending},
		{StatusCompleted, StatusFailed},
		{StatusFailed, StatusProcessing},
		{StatusWrongAccountDetected, StatusProcessing},
	}
	for _, pair := range backward {
		if CanTransition(pair[0], pair[1], false) {
			t.Errorf("expected %s -> %s to be rejected", pair[0], pair[1])
		}
	}

	if !CanTransition(StatusFailed, StatusProcessing, true) {
		t.Error("explicit retry should allow FAILED -> PROCESSING")
	}
	if CanTransition(StatusCompleted, StatusProcessing, true) {
		t.Error("retry must not reopen a completed import")
	}
	if !CanTransition(StatusAnalyzed, StatusWrongAccountDetected, false) {
		t.Error("expected ANALYZED -> WRONG_ACCOUNT_DETECTED")
	}
}

func TestStrategy(t *testing.T) {
	for _, s := range []string{"skip", "REPLACE", " Mark_Duplicate "} {
		if !ParseStrategy(s).IsValid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	for _, s := range []string{"", "DELETE", "MERGE"} {
		if ParseStrategy(s).IsValid() {
			t.Errorf("expected %q to be invalid", s)
		}
	}
}

func TestTransactionJSON(t *testing.T) {
	tx := &Transaction{
		ID:          "t1",
		Date:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Description: "Coffee",
		Amount:      decimal.RequireFromString("-3.50"),
	}

	data, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if raw["date"] != "2024-01-01" {
		t.Errorf("expected date-only rendering, got %v", raw["date"])
	}
	if _, ok := raw["createdAt"]; ok {
		t.Error("zero createdAt should be omitted")
	}

	var back Transaction
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal into Transaction failed: %v", err)
	}
	if !back.SameContent(tx) {
		t.Errorf("expected same content after decode, got %+v", back)
	}
}

func TestRecordCloneIsDeep(t *testing.T) {
	rec := &ImportRecord{
		UploadID: "up",
		Summary:  &ImportSummary{Errors: []string{"a"}},
		AnalysisSnapshot: &AnalysisSnapshot{
			SampleTransactions: SampleTransactions{
				New: []*Transaction{{Description: "x"}},
			},
		},
	}

	c := rec.Clone()
	c.Summary.Errors[0] = "changed"
	c.AnalysisSnapshot.SampleTransactions.New[0].Description = "changed"

	if rec.Summary.Errors[0] != "a" {
		t.Error("summary errors shared between clones")
	}
	if rec.AnalysisSnapshot.SampleTransactions.New[0].Description != "x" {
		t.Error("snapshot transactions shared between clones")
	}
}
