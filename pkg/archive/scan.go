// Package archive filters zip archives by entry name. An archive is a hit
// when any of its entry names fully matches the configured pattern.
package archive

import (
	"archive/zip"
	"fmt"
	"regexp"
)

// Scan reports whether any entry name in the zip archive at path fully
// matches pattern. Entries are checked in archive order and the scan stops at
// the first match.
func Scan(path string, pattern *regexp.Regexp) (bool, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return false, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if pattern.MatchString(f.Name) {
			return true, nil
		}
	}
	return false, nil
}
