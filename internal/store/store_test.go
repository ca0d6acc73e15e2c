package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quiverdata/govcontracts/internal/logger"
)

func newFileStore(t *testing.T) (*FileStore, string, string) {
	t.Helper()
	data := filepath.Join(t.TempDir(), "data")
	out := filepath.Join(t.TempDir(), "out")
	s, err := NewFileStore(data, out, logger.NewLogfLogger(t))
	require.NoError(t, err)
	return s, data, out
}

func newBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := OpenBoltStore(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// testStoreContract runs behaviour every backend must share.
func testStoreContract(t *testing.T, s Store) {
	t.Run("MissingEntity", func(t *testing.T) {
		lines, found, err := s.ReadEntity(Staging, "nope")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, lines)
	})

	t.Run("WriteReplaces", func(t *testing.T) {
		require.NoError(t, s.WriteEntity("AAPL", []string{"20240101,a,b,1", "20240102,a,b,2"}))
		require.NoError(t, s.WriteEntity("aapl", []string{"20240103,a,b,3"}))

		lines, found, err := s.ReadEntity(Staging, "Aapl")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []string{"20240103,a,b,3"}, lines)
	})

	t.Run("WriteEmptyIsFound", func(t *testing.T) {
		require.NoError(t, s.WriteEntity("empty", nil))
		lines, found, err := s.ReadEntity(Staging, "empty")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Empty(t, lines)
	})

	t.Run("WriteRejectsEmptyName", func(t *testing.T) {
		assert.Error(t, s.WriteEntity("  ", []string{"x"}))
	})

	t.Run("ListEntitiesSorted", func(t *testing.T) {
		require.NoError(t, s.WriteEntity("MSFT", []string{"20240101,a,b,1"}))
		names, err := s.ListEntities(Staging)
		require.NoError(t, err)
		assert.Equal(t, []string{"aapl", "empty", "msft"}, names)
	})

	t.Run("StagingWritesNeverReachProcessed", func(t *testing.T) {
		_, found, err := s.ReadEntity(Processed, "aapl")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Universe", func(t *testing.T) {
		d1 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
		d2 := time.Date(2023, 12, 29, 0, 0, 0, 0, time.UTC)
		require.NoError(t, s.WriteUniverse(d1, []string{"AAPL R735QTJ8XC9X,AAPL,x,y,1"}))
		require.NoError(t, s.WriteUniverse(d2, nil))

		lines, found, err := s.ReadUniverse(d1)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []string{"AAPL R735QTJ8XC9X,AAPL,x,y,1"}, lines)

		dates, err := s.ListUniverse()
		require.NoError(t, err)
		assert.Equal(t, []time.Time{d2, d1}, dates)
	})
}

func TestFileStore_Contract(t *testing.T) {
	s, _, _ := newFileStore(t)
	testStoreContract(t, s)
}

func TestBoltStore_Contract(t *testing.T) {
	testStoreContract(t, newBoltStore(t))
}

func TestFileStore_Layout(t *testing.T) {
	s, data, out := newFileStore(t)

	require.NoError(t, s.WriteEntity("AAPL", []string{"20240101,Desc,Agency,100"}))
	raw, err := os.ReadFile(filepath.Join(out, "alternative", "quiver", "governmentcontracts", "aapl.csv"))
	require.NoError(t, err)
	assert.Equal(t, "20240101,Desc,Agency,100\n", string(raw))

	require.NoError(t, s.WriteUniverse(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), []string{"a", "b"}))
	raw, err = os.ReadFile(filepath.Join(out, "alternative", "quiver", "governmentcontracts", "universe", "20240102.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", string(raw))

	assert.DirExists(t, filepath.Join(data, "alternative", "quiver", "governmentcontracts"))
}

func TestFileStore_ReadsProcessedTier(t *testing.T) {
	s, _, _ := newFileStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.ProcessedRoot(), "lmt.csv"), []byte("20240101,x,y,1\r\n20240102,x,y,2\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.ProcessedRoot(), "notes.txt"), []byte("ignored"), 0o644))

	lines, found, err := s.ReadEntity(Processed, "LMT")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"20240101,x,y,1", "20240102,x,y,2"}, lines)

	names, err := s.ListEntities(Processed)
	require.NoError(t, err)
	assert.Equal(t, []string{"lmt"}, names)
}

func TestFileStore_ReadsUpperCaseFileName(t *testing.T) {
	s, _, _ := newFileStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.ProcessedRoot(), "AAPL.csv"), []byte("20240102,Desc,Agency,100\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.ProcessedRoot(), "Lmt.CSV"), []byte("20240103,Desc,Agency,7\n"), 0o644))

	names, err := s.ListEntities(Processed)
	require.NoError(t, err)
	assert.Equal(t, []string{"aapl", "lmt"}, names)

	for _, name := range names {
		_, found, err := s.ReadEntity(Processed, name)
		require.NoError(t, err)
		assert.True(t, found, name)
	}

	lines, found, err := s.ReadEntity(Processed, "AAPL")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"20240102,Desc,Agency,100"}, lines)
}

func TestFileStore_ListCollapsesCaseVariants(t *testing.T) {
	s, _, _ := newFileStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.ProcessedRoot(), "AAPL.csv"), []byte("20240101,Old,Agency,1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.ProcessedRoot(), "aapl.csv"), []byte("20240102,New,Agency,2\n"), 0o644))
	if entries, _ := os.ReadDir(s.ProcessedRoot()); len(entries) < 2 {
		t.Skip("filesystem is case-insensitive")
	}

	names, err := s.ListEntities(Processed)
	require.NoError(t, err)
	assert.Equal(t, []string{"aapl"}, names)

	lines, _, err := s.ReadEntity(Processed, "aapl")
	require.NoError(t, err)
	assert.Equal(t, []string{"20240102,New,Agency,2"}, lines)
}

func TestFileStore_ListSkipsUniverseDirAndTempFiles(t *testing.T) {
	s, _, _ := newFileStore(t)
	require.NoError(t, s.WriteEntity("ba", []string{"20240101,x,y,1"}))
	require.NoError(t, s.WriteUniverse(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), []string{"z"}))
	require.NoError(t, os.WriteFile(filepath.Join(s.StagingRoot(), ".ba.csv.123.tmp"), nil, 0o644))

	names, err := s.ListEntities(Staging)
	require.NoError(t, err)
	assert.Equal(t, []string{"ba"}, names)
}

func TestFileStore_UnavailableProcessedRoot(t *testing.T) {
	dir := t.TempDir()
	// A regular file where the data dir should be makes MkdirAll fail.
	blocker := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	log := logger.NewBufferLogger()
	s, err := NewFileStore(blocker, filepath.Join(dir, "out"), log)
	require.NoError(t, err)
	assert.True(t, log.Contains("processed store"))

	_, found, err := s.ReadEntity(Processed, "aapl")
	require.NoError(t, err)
	assert.False(t, found)

	names, err := s.ListEntities(Processed)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestBoltStore_ImportProcessed(t *testing.T) {
	fs, _, _ := newFileStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(fs.ProcessedRoot(), "aapl.csv"), []byte("20240101,Desc,Agency,100\n"), 0o644))

	bs := newBoltStore(t)
	n, err := bs.ImportProcessed(fs)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	lines, found, err := bs.ReadEntity(Processed, "AAPL")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"20240101,Desc,Agency,100"}, lines)
}

func TestBoltStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := OpenBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, s.WriteEntity("ge", []string{"20240101,x,y,1"}))
	require.NoError(t, s.Close())

	s, err = OpenBoltStore(path)
	require.NoError(t, err)
	defer s.Close()

	lines, found, err := s.ReadEntity(Staging, "GE")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []string{"20240101,x,y,1"}, lines)
}
