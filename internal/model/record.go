package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const apiDateFormat = "2006-01-02"

// Date is a calendar date as reported by the vendor API ("2024-01-02").
// A null, empty or missing value decodes to the zero Date.
type Date struct {
	time.Time
}

// NewDate returns the Date for year, month, day in UTC.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// UnmarshalJSON accepts "YYYY-MM-DD", a longer timestamp whose first ten
// characters are a date, or null.
func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("parsing date %s: %w", b, err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*d = Date{}
		return nil
	}
	if len(s) > len(apiDateFormat) {
		s = s[:len(apiDateFormat)]
	}
	t, err := time.ParseInLocation(apiDateFormat, s, time.UTC)
	if err != nil {
		return fmt.Errorf("parsing date %q: %w", s, err)
	}
	*d = Date{t}
	return nil
}

// MarshalJSON writes "YYYY-MM-DD", or null for the zero Date.
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(apiDateFormat))
}

// RawRecord is one government contract award as returned by the
// govcontractsall endpoint.
type RawRecord struct {
	Date        Date            `json:"Date"`        // report date
	ActionDate  Date            `json:"action_date"` // award date, optional
	Ticker      string          `json:"Ticker"`
	Description string          `json:"Description"`
	Agency      string          `json:"Agency"`
	Amount      decimal.Decimal `json:"Amount"` // dollars obligated
}

// EntityKey returns the uppercased ticker the record belongs to.
func (r RawRecord) EntityKey() string {
	return strings.ToUpper(strings.TrimSpace(r.Ticker))
}

// Line renders the record as an EntityLine. A missing action date is
// replaced by processDate.
func (r RawRecord) Line(processDate time.Time) EntityLine {
	date := r.ActionDate.Time
	if date.IsZero() {
		date = processDate
	}
	return NewEntityLine(date, r.Description, r.Agency, r.Amount)
}

// DecodeRecords parses one page of the API response.
func DecodeRecords(body []byte) ([]RawRecord, error) {
	var recs []RawRecord
	if err := json.Unmarshal(body, &recs); err != nil {
		return nil, fmt.Errorf("decoding records: %w", err)
	}
	return recs, nil
}
