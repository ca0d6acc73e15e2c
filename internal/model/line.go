package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntityLine is one row of a per-ticker file:
// "YYYYMMDD,description,agency,amount".
type EntityLine string

const (
	lineDateFormat = "20060102"
	numFields      = 4
	colDate        = 0
	colDesc        = 1
	colAgency      = 2
	colAmount      = 3
)

var sanitizer = strings.NewReplacer(",", ";", "\r\n", " ", "\n", " ", "\r", " ")

// Sanitize rewrites free text so it cannot break the one-line, comma
// separated framing: commas become semicolons and line breaks become spaces.
func Sanitize(s string) string {
	return sanitizer.Replace(s)
}

// NewEntityLine builds a line with the date as the sort-significant prefix.
func NewEntityLine(date time.Time, description, agency string, amount decimal.Decimal) EntityLine {
	row := make([]string, numFields)
	row[colDate] = date.Format(lineDateFormat)
	row[colDesc] = Sanitize(description)
	row[colAgency] = Sanitize(agency)
	row[colAmount] = FormatAmount(amount)
	return EntityLine(strings.Join(row, ","))
}

// FormatAmount renders amount with the scale it was parsed with, so
// 1500000.00 stays "1500000.00" rather than "1500000".
func FormatAmount(amount decimal.Decimal) string {
	if exp := amount.Exponent(); exp < 0 {
		return amount.StringFixed(-exp)
	}
	return amount.String()
}

// String returns the line text.
func (l EntityLine) String() string { return string(l) }

// Contract is a parsed EntityLine.
type Contract struct {
	Date        time.Time
	Description string
	Agency      string
	Amount      decimal.Decimal
}

// ParseEntityLine parses a line written by NewEntityLine.
func ParseEntityLine(line string) (Contract, error) {
	rec := strings.Split(line, ",")
	if len(rec) != numFields {
		return Contract{}, fmt.Errorf("expected %d fields, got %d", numFields, len(rec))
	}

	date, err := time.ParseInLocation(lineDateFormat, rec[colDate], time.UTC)
	if err != nil {
		return Contract{}, fmt.Errorf("parsing date %q: %w", rec[colDate], err)
	}

	amount, err := decimal.NewFromString(rec[colAmount])
	if err != nil {
		return Contract{}, fmt.Errorf("parsing amount %q: %w", rec[colAmount], err)
	}

	return Contract{
		Date:        date,
		Description: rec[colDesc],
		Agency:      rec[colAgency],
		Amount:      amount,
	}, nil
}
