package pipeline

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"facefinder/internal/model"
)

// BuildTable renders detection records as the export table. One row per
// processed file, in processing order; the header carries as many
// face_N_* column groups as the widest row needs, and narrower rows are
// padded with empty fields so every row matches the final header.
func BuildTable(files []string, records []model.Detection) (header []string, rows [][]string) {
	byFile := make(map[string][]model.Detection)
	for _, rec := range records {
		byFile[rec.SourcePath] = append(byFile[rec.SourcePath], rec)
	}

	maxFaces := 0
	for _, path := range files {
		if n := len(byFile[path]); n > maxFaces {
			maxFaces = n
		}
	}

	header = []string{"filename", "face_detected", "face_count"}
	for i := 0; i < maxFaces; i++ {
		n := strconv.Itoa(i + 1)
		header = append(header,
			"face_"+n+"_x",
			"face_"+n+"_y",
			"face_"+n+"_width",
			"face_"+n+"_height",
			"face_"+n+"_confidence",
		)
	}

	for _, path := range files {
		detections := byFile[path]

		detected := "0"
		if len(detections) > 0 {
			detected = "1"
		}
		row := []string{filepath.Base(path), detected, strconv.Itoa(len(detections))}

		for _, det := range detections {
			row = append(row,
				formatFloat(det.X),
				formatFloat(det.Y),
				formatFloat(det.Width),
				formatFloat(det.Height),
				formatFloat(det.Confidence),
			)
		}
		for len(row) < len(header) {
			row = append(row, "")
		}

		rows = append(rows, row)
	}

	return header, rows
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ExportCSV writes the current result table to outputPath. The whole file
// is regenerated from the in-memory records, so the header always reflects
// the widest row seen by the time of the export.
func (e *Engine) ExportCSV(outputPath string) error {
	e.mu.Lock()
	files := make([]string, len(e.files))
	copy(files, e.files)
	records := make([]model.Detection, len(e.results))
	copy(records, e.results)
	e.mu.Unlock()

	if len(files) == 0 {
		return fmt.Errorf("no results to export")
	}

	header, rows := BuildTable(files, records)

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", outputPath, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}
	w.Flush()
	return w.Error()
}
