package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverdata/govcontracts/internal/logger"
)

// fakeGetter serves pages by number; pages beyond the map return "".
type fakeGetter struct {
	pages  map[int]string
	always string
	errs   map[int]error
	paths  []string
}

func (f *fakeGetter) Get(_ context.Context, path string) (string, error) {
	f.paths = append(f.paths, path)
	u, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	page, err := strconv.Atoi(u.Query().Get("page"))
	if err != nil {
		return "", err
	}
	if err := f.errs[page]; err != nil {
		return "", err
	}
	if f.always != "" {
		return f.always, nil
	}
	return f.pages[page], nil
}

func pageOf(tickers ...string) string {
	s := "["
	for i, tk := range tickers {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf(`{"Date":"2024-01-02","Ticker":%q,"Agency":"GSA","Amount":1}`, tk)
	}
	return s + "]"
}

var testDate = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func TestPagePath(t *testing.T) {
	assert.Equal(t, "live/govcontractsall?date=20240102&page=3", PagePath(testDate, 3))
}

func TestFetchAll_StopsOnEmptyPage(t *testing.T) {
	g := &fakeGetter{pages: map[int]string{
		1: pageOf("AAPL", "MSFT"),
		2: pageOf("LMT"),
		3: pageOf("BA"),
	}}
	p := NewPaginator(g, 100, logger.NewLogfLogger(t))

	res, err := p.FetchAll(context.Background(), testDate)
	require.NoError(t, err)
	assert.Len(t, res.Records, 4)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 4, res.Requests)
	assert.Len(t, g.paths, 4)
	assert.False(t, res.Incomplete)
	assert.Equal(t, "BA", res.Records[3].Ticker)
}

func TestFetchAll_EmptyArrayTerminates(t *testing.T) {
	g := &fakeGetter{pages: map[int]string{1: pageOf("AAPL"), 2: " [] \n"}}
	res, err := NewPaginator(g, 10, nil).FetchAll(context.Background(), testDate)
	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
	assert.Equal(t, 2, res.Requests)
}

func TestFetchAll_Ceiling(t *testing.T) {
	g := &fakeGetter{always: pageOf("AAPL")}
	res, err := NewPaginator(g, 100, nil).FetchAll(context.Background(), testDate)
	require.NoError(t, err)
	assert.True(t, res.Incomplete)
	assert.Len(t, res.Records, 100)
	assert.Equal(t, 100, res.Requests)
	assert.Equal(t, 100, res.Pages)
	assert.Equal(t, PagePath(testDate, 100), g.paths[99])
}

func TestFetchAll_EmptyOnLastAllowedPageIsComplete(t *testing.T) {
	g := &fakeGetter{pages: map[int]string{1: pageOf("AAPL"), 2: pageOf("MSFT")}}
	res, err := NewPaginator(g, 3, nil).FetchAll(context.Background(), testDate)
	require.NoError(t, err)
	assert.False(t, res.Incomplete)
	assert.Equal(t, 3, res.Requests)
}

func TestFetchAll_NoRecords(t *testing.T) {
	g := &fakeGetter{}
	res, err := NewPaginator(g, 100, nil).FetchAll(context.Background(), testDate)
	assert.ErrorIs(t, err, ErrNoRecords)
	assert.Equal(t, 1, res.Requests)
}

func TestFetchAll_RequestErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	g := &fakeGetter{
		pages: map[int]string{1: pageOf("AAPL")},
		errs:  map[int]error{2: boom},
	}
	_, err := NewPaginator(g, 100, nil).FetchAll(context.Background(), testDate)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "fetching page 2 for 20240102")
	assert.Len(t, g.paths, 2)
}

func TestFetchAll_MalformedPage(t *testing.T) {
	g := &fakeGetter{pages: map[int]string{1: `{"error":"nope"}`}}
	_, err := NewPaginator(g, 100, nil).FetchAll(context.Background(), testDate)
	assert.ErrorContains(t, err, "page 1 for 20240102")
}
