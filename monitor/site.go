package monitor

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// SeriesPoint is one plotted sample. TotalUsers reads the second log
// column, which carries the user count in every log generation.
type SeriesPoint struct {
	Timestamp  string `json:"timestamp"`
	TotalUsers int    `json:"total_users"`
}

// IndexInfo feeds the dashboard's index dropdown.
type IndexInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Site is the assembled dashboard payload.
type Site struct {
	Indices []IndexInfo
	Data    map[string][]SeriesPoint
}

// ReadSeries parses an engagement log into plot points. A missing file is
// an empty series, not an error. Rows that are malformed or whose count
// column is not an integer are skipped.
func ReadSeries(path string) ([]SeriesPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []SeriesPoint{}, nil
		}
		return nil, err
	}
	defer f.Close()
	return parseSeries(f)
}

func parseSeries(r io.Reader) ([]SeriesPoint, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	points := []SeriesPoint{}
	for i := 0; ; i++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				// A malformed row loses that row, not the series.
				continue
			}
			return nil, err
		}
		if i == 0 {
			// header
			continue
		}
		if len(row) < 2 {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(row[1]))
		if err != nil {
			continue
		}
		points = append(points, SeriesPoint{Timestamp: row[0], TotalUsers: n})
	}
	return points, nil
}

// BuildSite assembles the dashboard payload from the configured indices
// and their logs. An unreadable log empties that series only.
func BuildSite(indices []IndexConfig) Site {
	site := Site{
		Indices: make([]IndexInfo, 0, len(indices)),
		Data:    make(map[string][]SeriesPoint, len(indices)),
	}
	for _, idx := range indices {
		site.Indices = append(site.Indices, IndexInfo{ID: idx.ID, Name: idx.Name})
		points, err := ReadSeries(idx.OutputFile)
		if err != nil {
			log.WithField("path", idx.OutputFile).WithError(err).Warn("Unreadable engagement log")
			points = []SeriesPoint{}
		}
		site.Data[idx.ID] = points
	}
	return site
}

// RenderSite renders the dashboard template to outPath. The template
// receives the index list and the per-index series pre-marshalled as JSON
// in .IndicesJSON and .DataJSON. The write is atomic (temp file + rename)
// and parent directories are created.
func RenderSite(site Site, templatePath string, outPath string) error {
	tpl, err := template.ParseFiles(templatePath)
	if err != nil {
		return fmt.Errorf("parse template: %w", err)
	}
	indicesJSON, err := json.Marshal(site.Indices)
	if err != nil {
		return fmt.Errorf("encode indices: %w", err)
	}
	dataJSON, err := json.Marshal(site.Data)
	if err != nil {
		return fmt.Errorf("encode series: %w", err)
	}

	dir := filepath.Dir(outPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "site-*.html")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	data := struct {
		IndicesJSON template.JS
		DataJSON    template.JS
	}{
		IndicesJSON: template.JS(indicesJSON),
		DataJSON:    template.JS(dataJSON),
	}
	if err := tpl.Execute(tmp, data); err != nil {
		return fmt.Errorf("render template: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, outPath)
}
