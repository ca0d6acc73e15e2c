// Package runlog keeps a CSV audit trail of pipeline stage runs.
package runlog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/quiverdata/govcontracts/internal/datekey"
)

// Stages recorded in the log.
const (
	StageFetch    = "fetch"
	StageUniverse = "universe"
)

// Entry is one row in the run log.
type Entry struct {
	Timestamp time.Time
	RunID     string
	Stage     string
	// Date is the processing date; zero for universe runs.
	Date     time.Time
	Pages    int
	Records  int
	Entities int
	Success  bool
	Error    string
}

// Header is the CSV header for run-log.csv.
const Header = "timestamp,run_id,stage,date,pages,records,entities,success,error"

const (
	numFields   = 9
	logDir      = "logs"
	logFile     = "run-log.csv"
	colTime     = 0
	colRunID    = 1
	colStage    = 2
	colDate     = 3
	colPages    = 4
	colRecords  = 5
	colEntities = 6
	colSuccess  = 7
	colError    = 8
)

// Path returns the run log location under root.
func Path(root string) string {
	return filepath.Join(root, logDir, logFile)
}

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTime] = e.Timestamp.UTC().Format(time.RFC3339)
	row[colRunID] = e.RunID
	row[colStage] = e.Stage
	if !e.Date.IsZero() {
		row[colDate] = datekey.Format(e.Date)
	}
	row[colPages] = strconv.Itoa(e.Pages)
	row[colRecords] = strconv.Itoa(e.Records)
	row[colEntities] = strconv.Itoa(e.Entities)
	row[colSuccess] = strconv.FormatBool(e.Success)
	// Keep each entry on one line.
	row[colError] = strings.Join(strings.Fields(e.Error), " ")
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	ts, err := time.Parse(time.RFC3339, record[colTime])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTime], err)
	}
	e := Entry{
		Timestamp: ts,
		RunID:     record[colRunID],
		Stage:     record[colStage],
		Error:     record[colError],
	}
	if record[colDate] != "" {
		if e.Date, err = datekey.Parse(record[colDate]); err != nil {
			return Entry{}, err
		}
	}
	for _, f := range []struct {
		col int
		dst *int
	}{{colPages, &e.Pages}, {colRecords, &e.Records}, {colEntities, &e.Entities}} {
		if *f.dst, err = strconv.Atoi(record[f.col]); err != nil {
			return Entry{}, fmt.Errorf("parsing column %d %q: %w", f.col, record[f.col], err)
		}
	}
	if e.Success, err = strconv.ParseBool(record[colSuccess]); err != nil {
		return Entry{}, fmt.Errorf("parsing success %q: %w", record[colSuccess], err)
	}
	return e, nil
}

// Append writes entries to <root>/logs/run-log.csv, creating the file and
// header if needed.
func Append(root string, entries ...Entry) error {
	if err := os.MkdirAll(filepath.Join(root, logDir), 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}

	path := Path(root)
	needsHeader := false
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening run log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read returns all entries from <root>/logs/run-log.csv, or nil if the
// file does not exist.
func Read(root string) ([]Entry, error) {
	f, err := os.Open(Path(root))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	defer f.Close()

	return readEntries(f)
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading run log CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Last returns the most recent entry for stage, if any.
func Last(entries []Entry, stage string) (Entry, bool) {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Stage == stage {
			return entries[i], true
		}
	}
	return Entry{}, false
}
