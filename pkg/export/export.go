// Package export writes fetched Close records to CSV and JSON files under a
// conventional output directory, so exports from different environments and
// date ranges never overwrite each other.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

// DefaultDir is where exports land unless an explicit path is given.
const DefaultDir = "output"

var exportRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "closeops_export_records_total",
	Help: "Total records written to export files by format",
}, []string{"format"})

// Path builds the conventional export path:
// <dir>/<name>-<env>[-<part>...].<ext>. Empty parts are skipped.
func Path(dir, name, env, ext string, parts ...string) string {
	if dir == "" {
		dir = DefaultDir
	}

	segments := []string{name, env}
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return filepath.Join(dir, strings.Join(segments, "-")+"."+ext)
}

// WriteCSV writes a header and rows to path, creating parent directories as
// needed. Rows shorter than the header are padded so the file stays
// rectangular. The file is written to a temp name and renamed into place so
// a failed run never leaves a truncated export behind.
func WriteCSV(path string, header []string, rows [][]string) error {
	f, err := createTemp(path)
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, row := range rows {
		for len(row) < len(header) {
			row = append(row, "")
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}

	if err := commitTemp(f, path); err != nil {
		return err
	}

	exportRecordsTotal.WithLabelValues("csv").Add(float64(len(rows)))
	log.Info().
		Str("path", path).
		Int("rows", len(rows)).
		Msg("Wrote CSV export")

	return nil
}

// WriteJSON writes v to path as indented JSON, creating parent directories
// as needed. Same temp-and-rename handling as WriteCSV.
func WriteJSON(path string, v any) error {
	f, err := createTemp(path)
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}

	if err := commitTemp(f, path); err != nil {
		return err
	}

	records := 1
	if items, ok := v.([]json.RawMessage); ok {
		records = len(items)
	}
	exportRecordsTotal.WithLabelValues("json").Add(float64(records))
	log.Info().
		Str("path", path).
		Int("records", records).
		Msg("Wrote JSON export")

	return nil
}

// createTemp creates the parent directory and a temp file next to path.
func createTemp(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create export dir: %w", err)
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create export file: %w", err)
	}
	return f, nil
}

// commitTemp closes the temp file and renames it over path.
func commitTemp(f *os.File, path string) error {
	if err := f.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("finalize export file: %w", err)
	}
	return nil
}

// ReadCSV loads a CSV file and returns its header and rows. Used by import
// commands that take operator-prepared spreadsheets.
func ReadCSV(path string) (header []string, rows [][]string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	all, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv: %w", err)
	}
	if len(all) == 0 {
		return nil, nil, fmt.Errorf("csv %s is empty", path)
	}
	return all[0], all[1:], nil
}
