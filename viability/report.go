package viability

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
)

// WriteJSON writes summaries as an indented JSON array.
func WriteJSON(w io.Writer, summaries []Summary) error {
	if summaries == nil {
		summaries = []Summary{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summaries)
}

// WriteCSV writes summaries with a header line.
func WriteCSV(w io.Writer, summaries []Summary) error {
	cw := csv.NewWriter(w)
	header := []string{
		"parent_image", "image_path", "germinated_count", "ungerminated_count", "total_count", "percent_viability",
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for _, s := range summaries {
		record := []string{
			s.ParentImage,
			s.ImagePath,
			strconv.Itoa(s.GerminatedCount),
			strconv.Itoa(s.UngerminatedCount),
			strconv.Itoa(s.TotalCount),
			strconv.FormatFloat(s.PercentViability, 'f', 2, 64),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
