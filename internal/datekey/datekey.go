package datekey

import (
	"fmt"
	"strings"
	"time"
)

// Layout is the compact date layout used in file names, API queries and
// line prefixes.
const Layout = "20060102"

// Len is the length of a formatted key.
const Len = len(Layout)

// Format returns a key like "20240102".
func Format(t time.Time) string {
	return t.Format(Layout)
}

// Parse parses "20240102" into a UTC midnight time.
func Parse(s string) (time.Time, error) {
	t, err := time.ParseInLocation(Layout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date key %q: %w", s, err)
	}
	return t, nil
}

// Prefix parses the leading key of a line such as "20240102,desc,agency,100".
func Prefix(line string) (time.Time, error) {
	if len(line) < Len {
		return time.Time{}, fmt.Errorf("line too short for date prefix: %q", line)
	}
	return Parse(line[:Len])
}

// Split separates a line into its leading date key and the remainder,
// which keeps its leading comma. ok is false when the line has no
// non-empty first field.
func Split(line string) (key, rest string, ok bool) {
	i := strings.IndexByte(line, ',')
	if i <= 0 {
		return "", "", false
	}
	return line[:i], line[i:], true
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
