// Package pipeline wires the fetch, merge and universe stages together and
// owns their shared resources for the length of a run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quiverdata/govcontracts/internal/config"
	"github.com/quiverdata/govcontracts/internal/datekey"
	"github.com/quiverdata/govcontracts/internal/fetch"
	"github.com/quiverdata/govcontracts/internal/logger"
	"github.com/quiverdata/govcontracts/internal/mapfile"
	"github.com/quiverdata/govcontracts/internal/merge"
	"github.com/quiverdata/govcontracts/internal/metrics"
	"github.com/quiverdata/govcontracts/internal/ratelimit"
	"github.com/quiverdata/govcontracts/internal/runlog"
	"github.com/quiverdata/govcontracts/internal/store"
	"github.com/quiverdata/govcontracts/internal/universe"
)

// Pipeline runs fetch-and-merge for a date and rebuilds the universe.
// Create one with New and release it with Close.
type Pipeline struct {
	cfg      *config.Config
	log      logger.Logger
	now      func() time.Time
	store    store.Store
	resolver universe.Resolver
	metrics  *metrics.Metrics

	gate    *ratelimit.Gate
	pager   *fetch.Paginator
	writer  *merge.Writer
	builder *universe.Builder
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. The default discards output.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithStore uses s instead of the store described by the config.
// The pipeline takes ownership and closes it.
func WithStore(s store.Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithResolver uses r instead of loading map files.
func WithResolver(r universe.Resolver) Option {
	return func(p *Pipeline) { p.resolver = r }
}

// WithMetrics records into m instead of a private set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New validates cfg and builds a Pipeline.
func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	p := &Pipeline{cfg: cfg, log: logger.NopLogger, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = metrics.New()
	}

	var err error
	if p.store == nil {
		if p.store, err = OpenStore(cfg, p.log); err != nil {
			return nil, err
		}
	}
	if p.resolver == nil {
		r, err := mapfile.Load(cfg.Universe.MapFilesDir)
		if err != nil {
			_ = p.store.Close()
			return nil, fmt.Errorf("loading map files: %w", err)
		}
		p.log.Debugf("loaded %d map files from %s", r.Len(), cfg.Universe.MapFilesDir)
		p.resolver = r
	}

	p.gate, err = ratelimit.NewGate(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst)
	if err != nil {
		_ = p.store.Close()
		return nil, fmt.Errorf("creating rate gate: %w", err)
	}

	client, err := fetch.NewClient(fetch.Options{
		BaseURL:    cfg.API.BaseURL,
		Token:      cfg.API.Token,
		MaxRetries: cfg.API.MaxRetries,
		RetryWait:  cfg.API.RetryWait,
		Timeout:    cfg.API.Timeout,
		Gate:       p.gate,
		Logger:     p.log.WithPrefix("[fetch] "),
		Recorder:   p.metrics,
	})
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("creating fetch client: %w", err)
	}

	p.pager = fetch.NewPaginator(client, cfg.API.MaxPages, p.log)
	p.writer = merge.NewWriter(p.store, merge.Options{
		Workers:  cfg.Pipeline.Workers,
		Logger:   p.log,
		Recorder: p.metrics,
	})
	p.builder = universe.NewBuilder(p.store, p.resolver, universe.Options{
		MinInceptionYear: cfg.Universe.MinInceptionYear,
		Workers:          cfg.Pipeline.Workers,
		Logger:           p.log.WithPrefix("[universe] "),
		Recorder:         p.metrics,
	})

	p.log.Debugf("rate gate: %s", p.gate)
	return p, nil
}

// OpenStore opens the storage backend named by cfg.
func OpenStore(cfg *config.Config, log logger.Logger) (store.Store, error) {
	switch cfg.Storage.Backend {
	case config.BackendBolt:
		bs, err := store.OpenBoltStore(cfg.Storage.BoltPath)
		if err != nil {
			return nil, err
		}
		if cfg.Storage.DataDir != "" {
			src, err := store.NewFileStore(cfg.Storage.DataDir, cfg.Storage.OutputDir, log)
			if err != nil {
				_ = bs.Close()
				return nil, err
			}
			n, err := bs.ImportProcessed(src)
			if err != nil {
				_ = bs.Close()
				return nil, fmt.Errorf("importing processed entities: %w", err)
			}
			log.Debugf("imported %d processed entities into %s", n, bs.Path())
		}
		return bs, nil
	default:
		return store.NewFileStore(cfg.Storage.DataDir, cfg.Storage.OutputDir, log)
	}
}

// Store returns the pipeline's store.
func (p *Pipeline) Store() store.Store { return p.store }

// Metrics returns the pipeline's metrics.
func (p *Pipeline) Metrics() *metrics.Metrics { return p.metrics }

// Report describes one fetch-and-merge run.
type Report struct {
	RunID      string
	Date       time.Time
	Requests   int
	Pages      int
	Records    int
	Entities   int
	Written    int
	Incomplete bool
	Duration   time.Duration
}

// Run fetches every page for date and merges the records into the entity
// files. Partial data from an incomplete fetch is still merged, and the
// run then fails with fetch.ErrIncomplete. When nothing was fetched no
// files are written and the error wraps fetch.ErrNoRecords.
func (p *Pipeline) Run(ctx context.Context, date time.Time) (Report, error) {
	start := p.now()
	date = datekey.Day(date)
	rep := Report{RunID: uuid.NewString(), Date: date}
	log := p.log.WithPrefix(fmt.Sprintf("[%s] ", datekey.Format(date)))

	log.Infof("processing date %s (run %s)", date.Format("2006-01-02"), rep.RunID)

	res, err := p.pager.FetchAll(ctx, date)
	rep.Requests, rep.Pages, rep.Records, rep.Incomplete = res.Requests, res.Pages, len(res.Records), res.Incomplete
	p.metrics.Fetched(res.Pages, len(res.Records))
	if err != nil {
		err = fmt.Errorf("fetching %s: %w", datekey.Format(date), err)
		return p.finishRun(log, start, rep, err)
	}

	sum, mergeErr := p.writer.Process(ctx, date, res.Records)
	rep.Entities, rep.Written = sum.Entities, sum.Written
	log.Infof("merged %d records into %d of %d entities, %d new lines", rep.Records, sum.Written, sum.Entities, sum.Added)

	var errs []error
	if mergeErr != nil {
		errs = append(errs, fmt.Errorf("merging %s: %w", datekey.Format(date), mergeErr))
	}
	if res.Incomplete {
		errs = append(errs, fmt.Errorf("fetching %s: %w", datekey.Format(date), fetch.ErrIncomplete))
	}
	return p.finishRun(log, start, rep, errors.Join(errs...))
}

func (p *Pipeline) finishRun(log logger.Logger, start time.Time, rep Report, err error) (Report, error) {
	end := p.now()
	rep.Duration = end.Sub(start)

	entry := runlog.Entry{
		Timestamp: end,
		RunID:     rep.RunID,
		Stage:     runlog.StageFetch,
		Date:      rep.Date,
		Pages:     rep.Pages,
		Records:   rep.Records,
		Entities:  rep.Written,
		Success:   err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
		log.Errorf("run failed after %s: %v", rep.Duration, err)
	} else {
		p.metrics.Succeeded(runlog.StageFetch, end)
		log.Infof("finished in %s", rep.Duration)
	}
	p.appendLog(entry)
	return rep, err
}

// UniverseReport describes one universe rebuild.
type UniverseReport struct {
	RunID string
	universe.Report
	Duration time.Duration
}

// BuildUniverse rebuilds every universe file from the entity files.
func (p *Pipeline) BuildUniverse(ctx context.Context) (UniverseReport, error) {
	start := p.now()
	rep := UniverseReport{RunID: uuid.NewString()}
	p.log.Infof("building universe (run %s)", rep.RunID)

	ur, err := p.builder.Build(ctx)
	end := p.now()
	rep.Report, rep.Duration = ur, end.Sub(start)

	entry := runlog.Entry{
		Timestamp: end,
		RunID:     rep.RunID,
		Stage:     runlog.StageUniverse,
		Records:   ur.Lines,
		Entities:  ur.Entities,
		Success:   err == nil,
	}
	if err != nil {
		err = fmt.Errorf("building universe: %w", err)
		entry.Error = err.Error()
		p.log.Errorf("%v", err)
	} else {
		p.metrics.Succeeded(runlog.StageUniverse, end)
		p.log.Infof("universe: %d dates, %d lines from %d entity files, %d lines dropped, finished in %s",
			ur.Dates, ur.Lines, ur.Entities, ur.Dropped, rep.Duration)
	}
	p.appendLog(entry)
	return rep, err
}

func (p *Pipeline) appendLog(e runlog.Entry) {
	if err := runlog.Append(p.cfg.Storage.OutputDir, e); err != nil {
		p.log.Warnf("writing run log: %v", err)
	}
}

// Close releases the rate gate and the store, then writes the metrics
// textfile when one is configured.
func (p *Pipeline) Close() error {
	var errs []error
	if p.gate != nil {
		errs = append(errs, p.gate.Close())
	}
	if p.store != nil {
		errs = append(errs, p.store.Close())
	}
	if path := p.cfg.Metrics.Textfile; path != "" {
		errs = append(errs, p.metrics.WriteTextfile(path))
	}
	return errors.Join(errs...)
}
