// Package store is the storage port for entity and universe files.
package store

import (
	"sort"
	"strings"
	"time"

	"github.com/quiverdata/govcontracts/internal/datekey"
)

// Tier selects which copy of an entity file to address.
type Tier int

const (
	// Processed is the long-lived canonical store. It is never written.
	Processed Tier = iota
	// Staging is the per-run output store.
	Staging
)

func (t Tier) String() string {
	switch t {
	case Processed:
		return "processed"
	case Staging:
		return "staging"
	default:
		return "unknown"
	}
}

// Store reads and writes entity and universe files. Entity names are
// case-insensitive and stored lowercase. Writes fully replace the target.
type Store interface {
	// ReadEntity returns the lines of an entity file. found is false when
	// the tier holds no file for name.
	ReadEntity(tier Tier, name string) (lines []string, found bool, err error)
	// WriteEntity replaces the staging copy of an entity file.
	WriteEntity(name string, lines []string) error
	// ListEntities returns the entity names present in tier, sorted.
	ListEntities(tier Tier) ([]string, error)
	WriteUniverse(date time.Time, lines []string) error
	ReadUniverse(date time.Time) (lines []string, found bool, err error)
	// ListUniverse returns the dates that have a universe file, ascending.
	ListUniverse() ([]time.Time, error)
	Close() error
}

// EntityName normalizes an entity key into its stored name.
func EntityName(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func joinLines(lines []string) []byte {
	if len(lines) == 0 {
		return nil
	}
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// splitLines undoes joinLines. Blank lines and a trailing CR are dropped.
func splitLines(data []byte) []string {
	var lines []string
	for _, l := range strings.Split(string(data), "\n") {
		l = strings.TrimSuffix(l, "\r")
		if l == "" {
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

func sortDates(dates []time.Time) {
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
}

func universeKey(date time.Time) string {
	return datekey.Format(date)
}
