// Package export writes audit artifacts to disk for spreadsheet review: one
// CSV per finding category plus a JSON snapshot of the run's API call
// counters. Column headers come from the row structs' JSON tags so files
// stay aligned with the machine-readable output.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dialplan/extaudit/internal/transport"
	"github.com/dialplan/extaudit/pkg/audit"
	"github.com/dialplan/extaudit/pkg/errors"
	"github.com/dialplan/extaudit/pkg/logging"
	"github.com/dialplan/extaudit/pkg/patch"
)

// Exporter writes run artifacts under a target directory.
type Exporter struct {
	log *zerolog.Logger
}

// New creates an Exporter. A nil logger falls back to the default.
func New(log *zerolog.Logger) *Exporter {
	if log == nil {
		log = logging.Default()
	}
	return &Exporter{log: log}
}

// ExportReport writes the dry-run report as one CSV per category plus the
// API snapshot.
func (e *Exporter) ExportReport(dir string, r *audit.Report, stats transport.Snapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapResource("export", "report", dir, err)
	}

	files := []struct {
		name string
		rows any
	}{
		{"DryRun.csv", r.Rows},
		{"Missing.csv", r.MissingAssignments},
		{"Discrepancies.csv", r.Discrepancies},
		{"DuplicatesUsers.csv", r.DuplicateUserAssignments},
		{"DuplicatesRecords.csv", r.DuplicateRecords},
		{"UserIssues.csv", r.UserIssues},
	}
	for _, f := range files {
		if err := writeCSV(filepath.Join(dir, f.name), f.rows); err != nil {
			return errors.WrapResource("export", "report", f.name, err)
		}
	}
	if err := writeSnapshot(filepath.Join(dir, "Snapshot.json"), stats); err != nil {
		return err
	}

	e.log.Info().Str("dir", dir).Int("rows", len(r.Rows)).Msg("Dry-run report exported")
	return nil
}

// ExportPatch writes a patch run's outcome tables plus the API snapshot.
func (e *Exporter) ExportPatch(dir string, res *patch.Result, stats transport.Snapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.WrapResource("export", "patch result", dir, err)
	}

	files := []struct {
		name string
		rows any
	}{
		{"PatchUpdated.csv", res.Updated},
		{"PatchSkipped.csv", res.Skipped},
		{"PatchFailed.csv", res.Failed},
		{"PatchSummary.csv", []patch.Summary{res.Summary}},
	}
	for _, f := range files {
		if err := writeCSV(filepath.Join(dir, f.name), f.rows); err != nil {
			return errors.WrapResource("export", "patch result", f.name, err)
		}
	}
	if err := writeSnapshot(filepath.Join(dir, "Snapshot.json"), stats); err != nil {
		return err
	}

	e.log.Info().Str("dir", dir).
		Int("updated", len(res.Updated)).
		Int("skipped", len(res.Skipped)).
		Int("failed", len(res.Failed)).
		Msg("Patch result exported")
	return nil
}

// writeCSV renders a slice of row structs, deriving the header from JSON
// tags. Untagged and ignored fields are skipped.
func writeCSV(path string, rows any) error {
	v := reflect.ValueOf(rows)
	if v.Kind() != reflect.Slice {
		return fmt.Errorf("rows must be a slice, got %s", v.Kind())
	}
	elem := v.Type().Elem()
	if elem.Kind() != reflect.Struct {
		return fmt.Errorf("row type must be a struct, got %s", elem.Kind())
	}

	var cols []int
	var header []string
	for i := 0; i < elem.NumField(); i++ {
		f := elem.Field(i)
		name := csvColumn(f)
		if name == "" {
			continue
		}
		cols = append(cols, i)
		header = append(header, name)
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return err
	}
	for i := 0; i < v.Len(); i++ {
		row := v.Index(i)
		record := make([]string, 0, len(cols))
		for _, c := range cols {
			record = append(record, cellValue(row.Field(c)))
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return file.Close()
}

func csvColumn(f reflect.StructField) string {
	if !f.IsExported() {
		return ""
	}
	tag := f.Tag.Get("json")
	if tag == "-" {
		return ""
	}
	if name, _, ok := strings.Cut(tag, ","); ok && name != "" {
		return name
	}
	if tag != "" {
		return tag
	}
	return f.Name
}

func cellValue(v reflect.Value) string {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	if t, ok := v.Interface().(time.Time); ok {
		return t.UTC().Format(time.RFC3339)
	}
	return fmt.Sprint(v.Interface())
}

// writeSnapshot records the run's API call counters alongside the CSVs.
func writeSnapshot(path string, stats transport.Snapshot) error {
	payload := struct {
		GeneratedAt string             `json:"generated_at"`
		APIStats    transport.Snapshot `json:"api_stats"`
	}{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		APIStats:    stats,
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return errors.WrapResource("export", "snapshot", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapResource("export", "snapshot", path, err)
	}
	return nil
}
