package monitor

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
)

// AppendRecord appends one record to the CSV log at path. The header line
// is written first iff the file is missing or empty, so repeated runs
// against the same log add exactly one row each. Parent directories are
// created as needed.
//
// Appends are not locked; concurrent writers to the same log are out of
// scope (runs are expected to be serialized, e.g. by cron).
func AppendRecord(path string, fields []string, record map[string]string) error {
	if path == "" {
		return fmt.Errorf("empty log path")
	}
	if err := ensureHeader(path, fields); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	row := make([]string, len(fields))
	for i, name := range fields {
		row[i] = record[name]
	}
	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func ensureHeader(path string, fields []string) error {
	fi, err := os.Stat(path)
	if err == nil && fi.Size() > 0 {
		return nil
	}
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(fields); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
