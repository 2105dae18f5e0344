package lightcurve

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadCSV parses "timestamp,flux" rows. Lines starting with '#' are comments, and a
// first row that does not parse as numbers is treated as a header.
func ReadCSV(r io.Reader) (LightCurve, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var lc LightCurve
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}
		line++

		if len(record) < 2 {
			return nil, fmt.Errorf("line %d: expected timestamp and flux, got %d fields", line, len(record))
		}
		ts, errT := strconv.ParseFloat(strings.TrimSpace(record[0]), 64)
		flux, errF := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
		if errT != nil || errF != nil {
			if line == 1 {
				continue // Header
			}
			return nil, fmt.Errorf("line %d: invalid sample %q", line, strings.Join(record, ","))
		}
		lc = append(lc, Point{Timestamp: ts, Flux: flux})
	}

	if err := lc.Validate(); err != nil {
		return nil, err
	}
	return lc, nil
}

// WriteCSV writes the curve with a "timestamp,flux" header.
func WriteCSV(w io.Writer, lc LightCurve) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"timestamp", "flux"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, p := range lc {
		row := []string{
			strconv.FormatFloat(p.Timestamp, 'g', -1, 64),
			strconv.FormatFloat(p.Flux, 'g', -1, 64),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write sample: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
