package parsers

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Logical fields every statement file must provide
const (
	FieldDate        = "date"
	FieldDescription = "description"
	FieldAmount      = "amount"
)

// TransactionParserConfig holds configuration for parsing statement files
type TransactionParserConfig struct {
	DateColumn        string            `json:"date_column" mapstructure:"date_column"`
	DescriptionColumn string            `json:"description_column" mapstructure:"description_column"`
	AmountColumn      string            `json:"amount_column" mapstructure:"amount_column"`
	Delimiter         rune              `json:"delimiter" mapstructure:"delimiter"`
	ColumnAliases     []ColumnAlias     `json:"column_aliases,omitempty" mapstructure:"column_aliases"`
}

// ColumnAlias maps an alternate header to a logical field. When a header
// carries several aliases of one field, the one listed first wins.
type ColumnAlias struct {
	Alias string `json:"alias" mapstructure:"alias"`
	Field string `json:"field" mapstructure:"field"`
}

// DefaultTransactionParserConfig returns the generic delimited-text layout
func DefaultTransactionParserConfig() *TransactionParserConfig {
	return &TransactionParserConfig{
		DateColumn:        FieldDate,
		DescriptionColumn: FieldDescription,
		AmountColumn:      FieldAmount,
		Delimiter:         ',',
		ColumnAliases: []ColumnAlias{
			{Alias: "transaction date", Field: FieldDate},
			{Alias: "posting date", Field: FieldDate},
			{Alias: "memo", Field: FieldDescription},
			{Alias: "details", Field: FieldDescription},
			{Alias: "payee", Field: FieldDescription},
			{Alias: "value", Field: FieldAmount},
		},
	}
}

// Validate checks if the configuration is usable
func (c *TransactionParserConfig) Validate() error {
	if strings.TrimSpace(c.DateColumn) == "" {
		return fmt.Errorf("date column cannot be empty")
	}
	if strings.TrimSpace(c.DescriptionColumn) == "" {
		return fmt.Errorf("description column cannot be empty")
	}
	if strings.TrimSpace(c.AmountColumn) == "" {
		return fmt.Errorf("amount column cannot be empty")
	}
	if c.Delimiter == 0 || c.Delimiter == '"' || c.Delimiter == '\r' || c.Delimiter == '\n' || !utf8.ValidRune(c.Delimiter) {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	for _, a := range c.ColumnAliases {
		if strings.TrimSpace(a.Alias) == "" {
			return fmt.Errorf("alias for field %q cannot be empty", a.Field)
		}
		switch a.Field {
		case FieldDate, FieldDescription, FieldAmount:
		default:
			return fmt.Errorf("alias %q maps to unknown field %q", a.Alias, a.Field)
		}
	}
	return nil
}

// GetColumnName returns the configured header for a logical field
func (c *TransactionParserConfig) GetColumnName(field string) string {
	switch field {
	case FieldDate:
		return c.DateColumn
	case FieldDescription:
		return c.DescriptionColumn
	case FieldAmount:
		return c.AmountColumn
	default:
		return field
	}
}

// aliasesFor lists alternate headers for a logical field in precedence order
func (c *TransactionParserConfig) aliasesFor(field string) []string {
	var out []string
	for _, a := range c.ColumnAliases {
		if a.Field == field {
			out = append(out, a.Alias)
		}
	}
	return out
}
