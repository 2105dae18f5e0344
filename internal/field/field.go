package field

import "math"

// Field describes how much an occulting body blocks or adds flux at a projected point.
//
// FluxOrOpacity returns NaN for "no effect", a negative value for partial opacity and a
// positive value for excess brightness. Points outside BoundingBox are the caller's
// responsibility to exclude.
type Field interface {
	FluxOrOpacity(x, y, z float64) float64
	BoundingBox() Rect
}

// Rect is an axis-aligned rectangle in body coordinates.
type Rect struct {
	X, Y          float64 // Minimum corner
	Width, Height float64
}

// CenteredRect returns a width x height rectangle centered at the origin.
func CenteredRect(width, height float64) Rect {
	return Rect{X: -width / 2, Y: -height / 2, Width: width, Height: height}
}

// MaxX returns the right edge
func (r Rect) MaxX() float64 { return r.X + r.Width }

// MaxY returns the top edge
func (r Rect) MaxY() float64 { return r.Y + r.Height }

// Contains reports whether (x, y) lies inside the half-open rectangle.
func (r Rect) Contains(x, y float64) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Func adapts a plain function and a bounding box to the Field interface.
type Func struct {
	Fn   func(x, y, z float64) float64
	Bbox Rect
}

// FluxOrOpacity evaluates the wrapped function
func (f Func) FluxOrOpacity(x, y, z float64) float64 { return f.Fn(x, y, z) }

// BoundingBox returns the configured box
func (f Func) BoundingBox() Rect { return f.Bbox }

// Disc is a uniform disc of the given radius centered at the origin.
// Opacity is the (negative) value returned inside the disc.
type Disc struct {
	Radius  float64
	Opacity float64
}

// FluxOrOpacity returns Opacity inside the disc and NaN outside.
func (d Disc) FluxOrOpacity(x, y, z float64) float64 {
	if x*x+y*y >= d.Radius*d.Radius {
		return math.NaN()
	}
	return d.Opacity
}

// BoundingBox returns the square enclosing the disc.
func (d Disc) BoundingBox() Rect {
	return CenteredRect(2*d.Radius, 2*d.Radius)
}
