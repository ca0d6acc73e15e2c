package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quiverdata/govcontracts/internal/datekey"
	"github.com/quiverdata/govcontracts/internal/logger"
	"github.com/quiverdata/govcontracts/internal/model"
)

// DefaultMaxPages is the page ceiling per fetch.
const DefaultMaxPages = 100

var (
	// ErrNoRecords means every page was empty.
	ErrNoRecords = errors.New("no records returned")
	// ErrIncomplete means the page ceiling was reached before an empty page.
	ErrIncomplete = errors.New("page ceiling reached, data may be incomplete")
)

// Getter fetches one path from the API.
type Getter interface {
	Get(ctx context.Context, path string) (string, error)
}

// Result is everything collected by one FetchAll.
type Result struct {
	Records []model.RawRecord
	// Pages counts pages that returned data.
	Pages int
	// Requests counts requests issued, including the terminating one.
	Requests int
	// Incomplete is set when every page up to the ceiling returned data.
	Incomplete bool
}

// Paginator walks the pages of govcontractsall for one date.
type Paginator struct {
	getter   Getter
	maxPages int
	log      logger.Logger
}

// NewPaginator returns a Paginator stopping after maxPages pages.
func NewPaginator(g Getter, maxPages int, log logger.Logger) *Paginator {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	if log == nil {
		log = logger.NopLogger
	}
	return &Paginator{getter: g, maxPages: maxPages, log: log}
}

// PagePath returns the request path for date and page.
func PagePath(date time.Time, page int) string {
	return fmt.Sprintf("live/govcontractsall?date=%s&page=%d", datekey.Format(date), page)
}

// FetchAll requests pages 1, 2, ... until a page is empty or the ceiling
// is reached. A request error aborts the walk. When no records were
// collected the result is returned with ErrNoRecords. Reaching the ceiling
// is not an error; it is reported through Result.Incomplete.
//
// Incomplete means the walk stopped at the ceiling without seeing an empty
// page. An empty page that is itself the last allowed page proves the data
// ended there, so it counts as complete and raises no incomplete alert even
// though page == maxPages.
func (p *Paginator) FetchAll(ctx context.Context, date time.Time) (Result, error) {
	var res Result
	terminated := false

	for page := 1; page <= p.maxPages; page++ {
		body, err := p.getter.Get(ctx, PagePath(date, page))
		res.Requests++
		if err != nil {
			return res, fmt.Errorf("fetching page %d for %s: %w", page, datekey.Format(date), err)
		}
		if isEmptyPage(body) {
			terminated = true
			break
		}

		recs, err := model.DecodeRecords([]byte(body))
		if err != nil {
			return res, fmt.Errorf("page %d for %s: %w", page, datekey.Format(date), err)
		}
		if len(recs) == 0 {
			terminated = true
			break
		}
		res.Records = append(res.Records, recs...)
		res.Pages = page
	}

	res.Incomplete = !terminated
	if len(res.Records) == 0 {
		return res, ErrNoRecords
	}

	p.log.Infof("received data on %s: last page: %d", date.Format("2006-01-02"), res.Pages)
	if res.Incomplete {
		p.log.Warnf("reached maximum pages to fetch %d for date %s, there may be more data available", p.maxPages, date.Format("2006-01-02"))
	}
	return res, nil
}

func isEmptyPage(body string) bool {
	body = strings.TrimSpace(body)
	return body == "" || body == "[]"
}
