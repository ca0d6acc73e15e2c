// Package universe rebuilds the per-date universe files from every entity
// file in a store.
package universe

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quiverdata/govcontracts/internal/datekey"
	"github.com/quiverdata/govcontracts/internal/logger"
	"github.com/quiverdata/govcontracts/internal/store"
)

// DefaultMinInceptionYear is the first year a resolved identifier may
// start in for its lines to be kept.
const DefaultMinInceptionYear = 1998

// StableID is a resolved, time-aware identifier for an entity.
type StableID struct {
	Symbol    string
	Inception time.Time
}

// String renders the id as "SYMBOL YYYYMMDD".
func (id StableID) String() string {
	return id.Symbol + " " + datekey.Format(id.Inception)
}

// Resolver maps a ticker as of a date to its stable identifier.
type Resolver interface {
	Resolve(ticker string, asOf time.Time) (StableID, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ticker string, asOf time.Time) (StableID, error)

func (f ResolverFunc) Resolve(ticker string, asOf time.Time) (StableID, error) {
	return f(ticker, asOf)
}

// Drop reasons reported to a Recorder.
const (
	DropResolve   = "resolve"
	DropInception = "inception"
	DropMalformed = "malformed"
)

// Recorder observes universe build outcomes.
type Recorder interface {
	UniverseWritten()
	LineDropped(reason string)
}

type nopRecorder struct{}

func (nopRecorder) UniverseWritten()   {}
func (nopRecorder) LineDropped(string) {}

// Options configures a Builder.
type Options struct {
	MinInceptionYear int
	Workers          int
	Logger           logger.Logger
	Recorder         Recorder
}

// Builder performs a full universe rebuild.
type Builder struct {
	store    store.Store
	resolver Resolver
	minYear  int
	workers  int
	log      logger.Logger
	rec      Recorder
}

// NewBuilder returns a Builder reading and writing s.
func NewBuilder(s store.Store, r Resolver, opts Options) *Builder {
	if opts.MinInceptionYear == 0 {
		opts.MinInceptionYear = DefaultMinInceptionYear
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Logger == nil {
		opts.Logger = logger.NopLogger
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	return &Builder{
		store:    s,
		resolver: r,
		minYear:  opts.MinInceptionYear,
		workers:  opts.Workers,
		log:      opts.Logger,
		rec:      opts.Recorder,
	}
}

// Report describes one Build.
type Report struct {
	Entities int
	Dates    int
	Lines    int
	Dropped  int
}

// Build reads every processed entity file, then every staging entity file,
// and writes one file per date holding the sorted, unique universe lines
// for that date. Lines that cannot be resolved or whose identifier starts
// before the minimum inception year are skipped. A date whose lines were
// all skipped still gets an empty file.
func (b *Builder) Build(ctx context.Context) (Report, error) {
	var rep Report
	byDate := make(map[string]map[string]struct{})

	for _, tier := range []store.Tier{store.Processed, store.Staging} {
		names, err := b.store.ListEntities(tier)
		if err != nil {
			if tier == store.Processed {
				b.log.Warnf("listing processed entities: %v", err)
				continue
			}
			return rep, fmt.Errorf("listing %s entities: %w", tier, err)
		}

		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			lines, found, err := b.store.ReadEntity(tier, name)
			if err != nil {
				return rep, fmt.Errorf("reading %s entity %s: %w", tier, name, err)
			}
			if !found {
				b.log.Warnf("%s entity %s was listed but could not be read", tier, name)
				continue
			}
			rep.Entities++
			rep.Dropped += b.collect(name, lines, byDate)
		}
	}

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	slices.Sort(dates)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(b.workers)
	for _, key := range dates {
		key := key
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			date, err := datekey.Parse(key)
			if err != nil {
				return err
			}
			set := byDate[key]
			lines := make([]string, 0, len(set))
			for l := range set {
				lines = append(lines, l)
			}
			slices.Sort(lines)

			if err := b.store.WriteUniverse(date, lines); err != nil {
				return fmt.Errorf("writing universe %s: %w", key, err)
			}
			b.rec.UniverseWritten()

			mu.Lock()
			rep.Lines += len(lines)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return rep, err
	}

	rep.Dates = len(dates)
	return rep, nil
}

// collect adds the universe lines of one entity file to byDate and returns
// how many lines were dropped.
func (b *Builder) collect(name string, lines []string, byDate map[string]map[string]struct{}) int {
	ticker := store.EntityName(name)
	upper := strings.ToUpper(ticker)
	dropped := 0

	for _, line := range lines {
		key, rest, ok := datekey.Split(line)
		if !ok {
			b.drop(DropMalformed, &dropped)
			continue
		}
		date, err := datekey.Parse(key)
		if err != nil {
			b.log.Debugf("skipping line in %s: %v", ticker, err)
			b.drop(DropMalformed, &dropped)
			continue
		}

		set, ok := byDate[key]
		if !ok {
			set = make(map[string]struct{})
			byDate[key] = set
		}

		id, err := b.resolver.Resolve(upper, date)
		if err != nil {
			b.log.Debugf("resolving %s on %s: %v", upper, key, err)
			b.drop(DropResolve, &dropped)
			continue
		}
		if id.Inception.Year() < b.minYear {
			b.drop(DropInception, &dropped)
			continue
		}
		set[id.String()+","+upper+rest] = struct{}{}
	}
	return dropped
}

func (b *Builder) drop(reason string, n *int) {
	*n++
	b.rec.LineDropped(reason)
}
