// Package output decides whether a unit still needs work and commits unit
// results atomically.
//
// The existence of a non-empty file at a unit's output path is the only
// "already processed" signal. Results are staged in a temporary file in the
// output directory and renamed into place once every batch of the unit has
// been fetched, so the final path never holds partial output.
package output

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	inputPrefix  = "repositories"
	outputPrefix = "resultsets"
)

// Path returns the output path for a unit: the first "repositories" in the
// unit name becomes "resultsets", joined with outputDir.
func Path(outputDir, unitName string) string {
	return filepath.Join(outputDir, strings.Replace(unitName, inputPrefix, outputPrefix, 1))
}

// Done reports whether path holds a regular file with at least one byte.
// A missing file is not an error.
func Done(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat output: %w", err)
	}
	return fi.Mode().IsRegular() && fi.Size() > 0, nil
}
