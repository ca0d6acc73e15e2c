package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/quiverdata/govcontracts/internal/datekey"
	"github.com/quiverdata/govcontracts/internal/logger"
)

// DatasetDir is the dataset's path below a data root.
var DatasetDir = filepath.Join("alternative", "quiver", "governmentcontracts")

const (
	universeDir = "universe"
	fileExt     = ".csv"
)

// FileStore keeps one CSV file per entity and per universe date.
type FileStore struct {
	processedRoot string
	stagingRoot   string
	// processedOK is false when the processed root could not be created.
	processedOK bool
	log         logger.Logger
}

// NewFileStore roots the processed tier at <dataDir>/<DatasetDir> and the
// staging tier at <outputDir>/<DatasetDir>. A processed root that cannot be
// created is logged and then treated as empty.
func NewFileStore(dataDir, outputDir string, log logger.Logger) (*FileStore, error) {
	if log == nil {
		log = logger.NopLogger
	}
	s := &FileStore{
		processedRoot: filepath.Join(dataDir, DatasetDir),
		stagingRoot:   filepath.Join(outputDir, DatasetDir),
		processedOK:   true,
		log:           log,
	}

	if err := os.MkdirAll(s.processedRoot, 0o755); err != nil {
		log.Warnf("processed store %s unavailable, continuing with staging only: %v", s.processedRoot, err)
		s.processedOK = false
	}
	if err := os.MkdirAll(filepath.Join(s.stagingRoot, universeDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating staging dir: %w", err)
	}
	return s, nil
}

// ProcessedRoot returns the processed tier directory.
func (s *FileStore) ProcessedRoot() string { return s.processedRoot }

// StagingRoot returns the staging tier directory.
func (s *FileStore) StagingRoot() string { return s.stagingRoot }

func (s *FileStore) entityPath(tier Tier, name string) string {
	root := s.stagingRoot
	if tier == Processed {
		root = s.processedRoot
	}
	return filepath.Join(root, EntityName(name)+fileExt)
}

func (s *FileStore) universePath(date time.Time) string {
	return filepath.Join(s.stagingRoot, universeDir, universeKey(date)+fileExt)
}

// ReadEntity reads <name>.csv. Files written by other tools may carry an
// upper-case name such as AAPL.csv; when the lower-case file is missing
// the first case-insensitive match in the tier is read instead.
func (s *FileStore) ReadEntity(tier Tier, name string) ([]string, bool, error) {
	if tier == Processed && !s.processedOK {
		return nil, false, nil
	}
	path := s.entityPath(tier, name)
	lines, found, err := readLines(path)
	if found || err != nil {
		return lines, found, err
	}

	alt, err := s.findEntityFile(filepath.Dir(path), filepath.Base(path))
	if err != nil || alt == "" {
		return nil, false, err
	}
	return readLines(alt)
}

// findEntityFile returns the file in dir whose name matches base ignoring
// case, or "" when there is none.
func (s *FileStore) findEntityFile(dir, base string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("reading %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(e.Name(), base) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", nil
}

func (s *FileStore) WriteEntity(name string, lines []string) error {
	if EntityName(name) == "" {
		return errors.New("writing entity: empty name")
	}
	return writeAtomic(s.entityPath(Staging, name), joinLines(lines))
}

func (s *FileStore) ListEntities(tier Tier) ([]string, error) {
	root := s.stagingRoot
	if tier == Processed {
		if !s.processedOK {
			return nil, nil
		}
		root = s.processedRoot
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s dir: %w", tier, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if !strings.EqualFold(filepath.Ext(n), fileExt) {
			continue
		}
		names = append(names, EntityName(strings.TrimSuffix(n, filepath.Ext(n))))
	}
	// Case variants of one name collapse to a single entity.
	slices.Sort(names)
	return slices.Compact(names), nil
}

func (s *FileStore) WriteUniverse(date time.Time, lines []string) error {
	return writeAtomic(s.universePath(date), joinLines(lines))
}

func (s *FileStore) ReadUniverse(date time.Time) ([]string, bool, error) {
	return readLines(s.universePath(date))
}

func (s *FileStore) ListUniverse() ([]time.Time, error) {
	dir := filepath.Join(s.stagingRoot, universeDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading universe dir: %w", err)
	}

	var dates []time.Time
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != fileExt {
			continue
		}
		d, err := datekey.Parse(strings.TrimSuffix(e.Name(), fileExt))
		if err != nil {
			s.log.Debugf("skipping %s: %v", e.Name(), err)
			continue
		}
		dates = append(dates, d)
	}
	sortDates(dates)
	return dates, nil
}

// Close is a no-op; FileStore holds no open handles.
func (s *FileStore) Close() error { return nil }

func readLines(path string) ([]string, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", path, err)
	}
	return splitLines(data), true, nil
}

// writeAtomic writes data to a temp file next to path and renames it over
// path, so readers never observe a partial file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("moving %s into place: %w", path, err)
	}
	return nil
}
