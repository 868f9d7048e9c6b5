// Package units enumerates input units (one file per unit) and reads the
// repository lists the retrieval pipeline consumes.
package units

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Name patterns for the two input variants. Patterns must match the whole
// file name.
var (
	RepositoriesPattern = regexp.MustCompile(`^repositories_\d+$`)
	ArchivePattern      = regexp.MustCompile(`^.*\.zip$`)
)

// ErrMalformedRow is returned when a repository row has fewer than three
// tab-separated columns.
var ErrMalformedRow = errors.New("malformed repository row")

// Unit is one input file processed as an independent task.
type Unit struct {
	// Name is the file name and the unit's identity.
	Name string

	// Path is the full path to the file.
	Path string
}

// Repository is one row of a repositories_<N> unit.
type Repository struct {
	ID       string
	FullName string
	Fork     bool
}

// Enumerate lists the regular files in dir whose names fully match pattern,
// sorted by name.
func Enumerate(dir string, pattern *regexp.Regexp) ([]Unit, error) {
	if pattern == nil {
		return nil, fmt.Errorf("name pattern is required")
	}

	full, err := Anchor(pattern)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir: %w", err)
	}

	var out []Unit
	for _, e := range entries {
		if !e.Type().IsRegular() || !full.MatchString(e.Name()) {
			continue
		}
		out = append(out, Unit{Name: e.Name(), Path: filepath.Join(dir, e.Name())})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Anchor returns a copy of pattern that only matches whole strings.
func Anchor(pattern *regexp.Regexp) (*regexp.Regexp, error) {
	full, err := regexp.Compile(`^(?:` + pattern.String() + `)$`)
	if err != nil {
		return nil, fmt.Errorf("anchor pattern %q: %w", pattern, err)
	}
	return full, nil
}

// ReadRepositories streams the rows of a repositories unit to fn in file
// order. Blank lines are skipped. Iteration stops at the first error
// returned by fn.
func ReadRepositories(path string, fn func(Repository) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open unit: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		repo, err := ParseRow(text)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		if err := fn(repo); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read unit: %w", err)
	}
	return nil
}

// ParseRow parses one `id<TAB>fullName<TAB>isFork` row.
func ParseRow(line string) (Repository, error) {
	parts := strings.Split(strings.TrimRight(line, "\r"), "\t")
	if len(parts) < 3 {
		return Repository{}, fmt.Errorf("%w: %d columns", ErrMalformedRow, len(parts))
	}
	return Repository{
		ID:       parts[0],
		FullName: parts[1],
		Fork:     strings.TrimSpace(parts[2]) == "true",
	}, nil
}
