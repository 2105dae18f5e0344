package field

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Raster is a field sampled at pixel centers over its bounding box.
// Values[row][col] holds the sample at (X + (col+0.5)*DX, Y + (row+0.5)*DY).
type Raster struct {
	Box    Rect
	DX, DY float64
	Values [][]float64
}

// Rasterize samples f over its bounding box on a width x height pixel grid.
func Rasterize(f Field, width, height int) *Raster {
	box := f.BoundingBox()
	dx := box.Width / float64(width)
	dy := box.Height / float64(height)

	values := make([][]float64, height)
	for row := 0; row < height; row++ {
		y := box.Y + (float64(row)+0.5)*dy
		line := make([]float64, width)
		for col := 0; col < width; col++ {
			x := box.X + (float64(col)+0.5)*dx
			line[col] = f.FluxOrOpacity(x, y, 0)
		}
		values[row] = line
	}

	return &Raster{Box: box, DX: dx, DY: dy, Values: values}
}

// X returns the body x coordinate of a column center
func (r *Raster) X(col int) float64 { return r.Box.X + (float64(col)+0.5)*r.DX }

// Y returns the body y coordinate of a row center
func (r *Raster) Y(row int) float64 { return r.Box.Y + (float64(row)+0.5)*r.DY }

// WriteCSV writes one "x,y,value" row per pixel center. NaN (transparent) samples are
// written as "NaN".
func (r *Raster) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"x", "y", "value"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for row, line := range r.Values {
		for col, v := range line {
			record := []string{
				strconv.FormatFloat(r.X(col), 'g', -1, 64),
				strconv.FormatFloat(r.Y(row), 'g', -1, 64),
				strconv.FormatFloat(v, 'g', -1, 64),
			}
			if err := writer.Write(record); err != nil {
				return fmt.Errorf("failed to write pixel: %w", err)
			}
		}
	}
	writer.Flush()
	return writer.Error()
}
