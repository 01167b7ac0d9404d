package table

import (
	"encoding/csv"
	"io"
	"strconv"
)

// Columns returns the header written by WriteCSV. box_color stays empty until the visualizer
// assigns colors.
func Columns() []string {
	return []string{"detection_classes", "detection_scores", "ymin", "xmin", "ymax", "xmax", "box_color"}
}

// WriteCSV writes one line per row under the Columns header.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns()); err != nil {
		return err
	}

	for _, r := range t.Rows {
		record := []string{
			strconv.Itoa(r.Class),
			strconv.FormatFloat(float64(r.Score), 'f', -1, 32),
			strconv.FormatFloat(r.YMin, 'f', 2, 64),
			strconv.FormatFloat(r.XMin, 'f', 2, 64),
			strconv.FormatFloat(r.YMax, 'f', 2, 64),
			strconv.FormatFloat(r.XMax, 'f', 2, 64),
			r.Color,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
