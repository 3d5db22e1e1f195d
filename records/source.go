// Package records reads master and purchase order spreadsheets into raw records.
package records

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidSource is returned for malformed FACILITY=path[::sheet] values
var ErrInvalidSource = errors.New("purchase order source must be FACILITY=path[::sheet]")

// Source is one input file, optionally a sheet of a workbook
type Source struct {
	// Facility is empty for the master sheet
	Facility string
	Path     string
	Sheet    string
}

func (s Source) String() string {
	name := s.Path
	if s.Sheet != "" {
		name += "::" + s.Sheet
	}
	if s.Facility != "" {
		return s.Facility + "=" + name
	}
	return name
}

// label is used for metrics and logs
func (s Source) label() string {
	if s.Facility == "" {
		return "injectable"
	}
	return s.Facility
}

// ParsePOSpec parses FACILITY=path[::sheet] and checks that the file exists
func ParsePOSpec(spec string) (Source, error) {
	facility, payload, ok := strings.Cut(spec, "=")
	facility = strings.TrimSpace(facility)
	if !ok || facility == "" || strings.TrimSpace(payload) == "" {
		return Source{}, fmt.Errorf("%w: %q", ErrInvalidSource, spec)
	}

	path, sheet, _ := strings.Cut(payload, "::")
	path, err := expandPath(strings.TrimSpace(path))
	if err != nil {
		return Source{}, err
	}
	if _, err := os.Stat(path); err != nil {
		return Source{}, fmt.Errorf("purchase order file %s: %w", path, err)
	}

	return Source{Facility: facility, Path: path, Sheet: strings.TrimSpace(sheet)}, nil
}

func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return abs, nil
}
