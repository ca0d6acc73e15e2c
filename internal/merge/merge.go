// Package merge partitions fetched records by entity and merges them into
// the per-entity files of a store.
package merge

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quiverdata/govcontracts/internal/datekey"
	"github.com/quiverdata/govcontracts/internal/logger"
	"github.com/quiverdata/govcontracts/internal/model"
	"github.com/quiverdata/govcontracts/internal/store"
)

// DefaultWorkers bounds concurrent entity writes.
const DefaultWorkers = 4

// Partition groups records by uppercased entity key and renders each one
// as an entity line. Records without a ticker are skipped.
func Partition(date time.Time, records []model.RawRecord) map[string][]string {
	out := make(map[string][]string)
	for _, r := range records {
		key := r.EntityKey()
		if key == "" {
			continue
		}
		out[key] = append(out[key], r.Line(date).String())
	}
	return out
}

// Lines returns the union of existing and fresh, deduplicated and sorted
// ascending by date prefix. Lines sharing a date keep byte order so the
// result is deterministic. Every line must start with a valid date key.
func Lines(existing, fresh []string) ([]string, error) {
	seen := make(map[string]struct{}, len(existing)+len(fresh))
	out := make([]string, 0, len(existing)+len(fresh))
	for _, src := range [][]string{existing, fresh} {
		for _, l := range src {
			if _, dup := seen[l]; dup {
				continue
			}
			if _, err := datekey.Prefix(l); err != nil {
				return nil, err
			}
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}

	// Valid prefixes are fixed-width digits, so byte order is date order.
	slices.SortFunc(out, func(a, b string) int {
		if c := cmp.Compare(a[:datekey.Len], b[:datekey.Len]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return out, nil
}

// EntityError is a failure to merge one entity.
type EntityError struct {
	Entity string
	Err    error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("entity %s: %v", e.Entity, e.Err)
}

func (e *EntityError) Unwrap() error { return e.Err }

// EntityErrors summarizes the entities that failed during one Process.
type EntityErrors struct {
	Total  int
	Failed []*EntityError
}

func (e *EntityErrors) Error() string {
	names := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		names[i] = f.Entity
	}
	return fmt.Sprintf("%d of %d entities failed: %s", len(e.Failed), e.Total, strings.Join(names, ", "))
}

// Unwrap exposes each entity's error to errors.Is and errors.As.
func (e *EntityErrors) Unwrap() error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Recorder observes entity outcomes.
type Recorder interface {
	EntityWritten()
	EntityFailed()
}

type nopRecorder struct{}

func (nopRecorder) EntityWritten() {}
func (nopRecorder) EntityFailed()  {}

// Options configures a Writer.
type Options struct {
	Workers  int
	Logger   logger.Logger
	Recorder Recorder
}

// Writer merges partitions into the staging tier of a store. Existing
// lines come from the processed copy when present, else the staging copy.
// The processed copy is never written.
type Writer struct {
	store   store.Store
	workers int
	log     logger.Logger
	rec     Recorder
}

// NewWriter returns a Writer over s.
func NewWriter(s store.Store, opts Options) *Writer {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = logger.NopLogger
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Writer{store: s, workers: opts.Workers, log: opts.Logger, rec: opts.Recorder}
}

// Summary describes one Process call.
type Summary struct {
	Entities int
	Written  int
	// Added counts lines that were not already in the existing copy.
	Added int
}

// Process partitions records for date and writes every entity file. A
// failing entity does not stop the others; failures are returned together
// as *EntityErrors after all entities have been attempted.
func (w *Writer) Process(ctx context.Context, date time.Time, records []model.RawRecord) (Summary, error) {
	parts := Partition(date, records)
	keys := make([]string, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		mu     sync.Mutex
		sum    = Summary{Entities: len(keys)}
		failed []*EntityError
	)

	var g errgroup.Group
	g.SetLimit(w.workers)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			added, err := w.writeEntity(ctx, key, parts[key])

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				w.log.Errorf("failed to write entity %s: %v", key, err)
				w.rec.EntityFailed()
				failed = append(failed, &EntityError{Entity: key, Err: err})
				return nil
			}
			w.rec.EntityWritten()
			sum.Written++
			sum.Added += added
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		slices.SortFunc(failed, func(a, b *EntityError) int { return cmp.Compare(a.Entity, b.Entity) })
		return sum, &EntityErrors{Total: len(keys), Failed: failed}
	}
	return sum, nil
}

func (w *Writer) writeEntity(ctx context.Context, key string, fresh []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	existing, found, err := w.store.ReadEntity(store.Processed, key)
	if err != nil {
		// Processed is optional input; fall back to staging.
		w.log.Warnf("reading processed copy of %s: %v", key, err)
		found = false
	}
	if !found {
		existing, _, err = w.store.ReadEntity(store.Staging, key)
		if err != nil {
			return 0, fmt.Errorf("reading staging copy: %w", err)
		}
	}

	lines, err := Lines(existing, fresh)
	if err != nil {
		return 0, fmt.Errorf("merging lines: %w", err)
	}
	if err := w.store.WriteEntity(key, lines); err != nil {
		return 0, err
	}
	added := len(lines) - countUnique(existing)
	w.log.Debugf("wrote %s: %d lines, %d new", store.EntityName(key), len(lines), added)
	return added, nil
}

func countUnique(lines []string) int {
	seen := make(map[string]struct{}, len(lines))
	for _, l := range lines {
		seen[l] = struct{}{}
	}
	return len(seen)
}
