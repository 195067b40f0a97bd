package monitor

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadSlugs loads a slug list file: one slug per line, surrounding
// whitespace trimmed, blank lines skipped. Duplicates are kept.
func ReadSlugs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var slugs []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		s := strings.TrimSpace(sc.Text())
		if s == "" {
			continue
		}
		slugs = append(slugs, s)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return slugs, nil
}

// WriteSlugs writes a slug list file, one slug per line. The write is
// atomic: content goes to a temp file first, then replaces path.
func WriteSlugs(path string, slugs []string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "slugs-*.txt")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	w := bufio.NewWriter(tmp)
	for _, s := range slugs {
		if _, err := fmt.Fprintln(w, s); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
