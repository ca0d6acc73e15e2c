// Package mapfile resolves tickers to stable identifiers using a directory
// of symbol map files.
//
// A map file is named after a ticker and lists, in ascending date order,
// the symbol an entity traded under up to and including each date:
//
//	19980102,oldsym,Q
//	20051231,oldsym,Q
//	20240105,newsym,Q
//
// The first row gives the entity's original symbol and inception date.
package mapfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/quiverdata/govcontracts/internal/datekey"
	"github.com/quiverdata/govcontracts/internal/universe"
)

// DefaultInception is used for tickers that no map file covers.
var DefaultInception = time.Date(1998, 1, 2, 0, 0, 0, 0, time.UTC)

const (
	minFields   = 2
	colDate     = 0
	colTicker   = 1
	colExchange = 2
)

// Row is one line of a map file.
type Row struct {
	Date     time.Time
	Ticker   string
	Exchange string
}

// MapFile is the symbol history of one entity.
type MapFile struct {
	Name string
	Rows []Row
}

// ID returns the stable identifier of the entity.
func (m MapFile) ID() universe.StableID {
	return universe.StableID{Symbol: m.Rows[0].Ticker, Inception: m.Rows[0].Date}
}

// symbolAt returns the ticker in effect on asOf, or "" when asOf is past
// the last row.
func (m MapFile) symbolAt(asOf time.Time) string {
	i := sort.Search(len(m.Rows), func(i int) bool { return !m.Rows[i].Date.Before(asOf) })
	if i == len(m.Rows) {
		return ""
	}
	return m.Rows[i].Ticker
}

// UnmarshalRow converts a CSV record to a Row.
func UnmarshalRow(record []string) (Row, error) {
	if len(record) < minFields {
		return Row{}, fmt.Errorf("expected at least %d fields, got %d", minFields, len(record))
	}
	d, err := datekey.Parse(strings.TrimSpace(record[colDate]))
	if err != nil {
		return Row{}, err
	}
	row := Row{Date: d, Ticker: strings.ToUpper(strings.TrimSpace(record[colTicker]))}
	if len(record) > colExchange {
		row.Exchange = strings.TrimSpace(record[colExchange])
	}
	if row.Ticker == "" {
		return Row{}, errors.New("empty ticker")
	}
	return row, nil
}

// ReadRows reads a headerless map file. Rows must be in ascending date order.
func ReadRows(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading map file CSV: %w", err)
	}

	var rows []Row
	for i, rec := range records {
		row, err := UnmarshalRow(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		if n := len(rows); n > 0 && row.Date.Before(rows[n-1].Date) {
			return nil, fmt.Errorf("row %d: date %s out of order", i+1, datekey.Format(row.Date))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Resolver implements universe.Resolver over a set of map files.
type Resolver struct {
	files []MapFile
	// byTicker indexes files by every symbol they mention.
	byTicker map[string][]int
}

// New builds a Resolver. Files without rows are ignored.
func New(files []MapFile) *Resolver {
	r := &Resolver{byTicker: make(map[string][]int)}
	for _, f := range files {
		if len(f.Rows) == 0 {
			continue
		}
		idx := len(r.files)
		r.files = append(r.files, f)
		seen := make(map[string]bool)
		for _, row := range f.Rows {
			if !seen[row.Ticker] {
				seen[row.Ticker] = true
				r.byTicker[row.Ticker] = append(r.byTicker[row.Ticker], idx)
			}
		}
	}
	return r
}

// Load reads every *.csv map file in dir. A missing directory yields a
// Resolver that maps every ticker to itself.
func Load(dir string) (*Resolver, error) {
	if dir == "" {
		return New(nil), nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(nil), nil
		}
		return nil, fmt.Errorf("reading map files dir: %w", err)
	}

	var files []MapFile
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		f, err := loadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return New(files), nil
}

func loadFile(path string) (MapFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return MapFile{}, fmt.Errorf("opening map file: %w", err)
	}
	defer f.Close()

	rows, err := ReadRows(f)
	if err != nil {
		return MapFile{}, fmt.Errorf("reading map file %s: %w", filepath.Base(path), err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return MapFile{Name: strings.ToLower(name), Rows: rows}, nil
}

// Len returns the number of loaded map files.
func (r *Resolver) Len() int { return len(r.files) }

// Resolve returns the identifier of the entity trading as ticker on asOf.
// When several map files match, the one with the latest inception on or
// before asOf wins. Unmapped tickers resolve to themselves with
// DefaultInception.
func (r *Resolver) Resolve(ticker string, asOf time.Time) (universe.StableID, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return universe.StableID{}, errors.New("resolving empty ticker")
	}

	var (
		best  MapFile
		found bool
	)
	for _, idx := range r.byTicker[ticker] {
		f := r.files[idx]
		if f.symbolAt(asOf) != ticker {
			continue
		}
		inception := f.Rows[0].Date
		if inception.After(asOf) {
			continue
		}
		if !found || inception.After(best.Rows[0].Date) {
			best, found = f, true
		}
	}
	if found {
		return best.ID(), nil
	}
	return universe.StableID{Symbol: ticker, Inception: DefaultInception}, nil
}
