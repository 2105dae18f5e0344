package field

import (
	"bytes"
	"math"
	"strings"
	"testing"
)

func TestRasterizeDisc(t *testing.T) {
	disc := Disc{Radius: 0.5, Opacity: -1}
	r := Rasterize(disc, 100, 100)

	if len(r.Values) != 100 || len(r.Values[0]) != 100 {
		t.Fatalf("Unexpected raster shape %dx%d", len(r.Values), len(r.Values[0]))
	}

	// Covered area should approximate pi*r^2
	var area float64
	for _, row := range r.Values {
		for _, v := range row {
			if !math.IsNaN(v) {
				area += -v * r.DX * r.DY
			}
		}
	}

	want := math.Pi * 0.25
	if math.Abs(area-want) > 0.01 {
		t.Errorf("Rasterized disc area = %f, want ~%f", area, want)
	}

	if math.Abs(r.X(0)-(-0.5+r.DX/2)) > 1e-12 || math.Abs(r.Y(99)-(0.5-r.DY/2)) > 1e-12 {
		t.Errorf("Pixel centers misplaced: x0=%f y99=%f", r.X(0), r.Y(99))
	}
}

func TestRectContains(t *testing.T) {
	r := CenteredRect(3, 2)
	if !r.Contains(0, 0) || !r.Contains(-1.5, -1) {
		t.Error("Expected origin and min corner inside")
	}
	if r.Contains(1.5, 0) || r.Contains(0, 1) {
		t.Error("Expected max edges outside (half-open)")
	}
	if r.MaxX() != 1.5 || r.MaxY() != 1 {
		t.Errorf("Unexpected max corner (%f, %f)", r.MaxX(), r.MaxY())
	}
}

func TestRasterWriteCSV(t *testing.T) {
	r := Rasterize(Disc{Radius: 1, Opacity: -0.5}, 4, 4)

	var buf bytes.Buffer
	if err := r.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1+16 {
		t.Fatalf("Expected header and 16 pixels, got %d lines", len(lines))
	}
	if lines[0] != "x,y,value" {
		t.Errorf("Expected header x,y,value, got %s", lines[0])
	}
	// First pixel center is (-0.75, -0.75), outside the unit disc
	if lines[1] != "-0.75,-0.75,NaN" {
		t.Errorf("Unexpected first row %s", lines[1])
	}
	// (-0.25, -0.75) lies inside
	if lines[2] != "-0.25,-0.75,-0.5" {
		t.Errorf("Unexpected second row %s", lines[2])
	}
}
