package workflow

import (
	"math"

	"github.com/BaSui01/flowcanvas/types"
)

// Point is a coordinate pair. Whether it is in screen or graph space depends on the caller.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// IsFinite reports whether both coordinates are finite numbers.
func (p Point) IsFinite() bool {
	return isFinite(p.X) && isFinite(p.Y)
}

// Sub returns p - q.
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// Add returns p + q.
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

// Rect is the canvas bounding rectangle in screen space.
type Rect struct {
	Left   float64 `json:"left" yaml:"left"`
	Top    float64 `json:"top" yaml:"top"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Viewport is the pan/zoom transform applied by the renderer:
// screen = bounds.origin + viewport.offset + graph * zoom.
type Viewport struct {
	X    float64 `json:"x" yaml:"x"`
	Y    float64 `json:"y" yaml:"y"`
	Zoom float64 `json:"zoom" yaml:"zoom"`
}

// DefaultViewport is the identity transform.
func DefaultViewport() Viewport { return Viewport{Zoom: 1} }

// Validate checks that the viewport describes an invertible transform.
func (v Viewport) Validate() error {
	if !isFinite(v.X) || !isFinite(v.Y) {
		return types.Errorf(types.ErrCanvasNotReady, "viewport offset is not finite: (%v, %v)", v.X, v.Y)
	}
	if !isFinite(v.Zoom) || v.Zoom <= 0 {
		return types.Errorf(types.ErrCanvasNotReady, "viewport zoom must be positive, got %v", v.Zoom)
	}
	return nil
}

// CoordinateMapper converts between screen and graph space.
// SnapGrid > 0 rounds graph coordinates to multiples of the grid size.
type CoordinateMapper struct {
	SnapGrid float64
}

// ToGraphSpace maps a screen point into graph space and applies the snap grid.
// A nil viewport means the canvas has not been initialized yet; the call is refused.
func (m CoordinateMapper) ToGraphSpace(screen Point, bounds Rect, vp *Viewport) (Point, error) {
	p, err := m.Project(screen, bounds, vp)
	if err != nil {
		return Point{}, err
	}
	return m.Snap(p), nil
}

// Project is ToGraphSpace without snapping.
func (m CoordinateMapper) Project(screen Point, bounds Rect, vp *Viewport) (Point, error) {
	if vp == nil {
		return Point{}, types.NewError(types.ErrCanvasNotReady, "canvas viewport is not initialized")
	}
	if err := vp.Validate(); err != nil {
		return Point{}, err
	}
	if !isFinite(bounds.Left) || !isFinite(bounds.Top) {
		return Point{}, types.NewError(types.ErrCanvasNotReady, "canvas bounds not finite")
	}
	if !screen.IsFinite() {
		return Point{}, types.Errorf(types.ErrInvalidPosition, "screen point not finite: (%v, %v)", screen.X, screen.Y)
	}

	return Point{
		X: (screen.X - bounds.Left - vp.X) / vp.Zoom,
		Y: (screen.Y - bounds.Top - vp.Y) / vp.Zoom,
	}, nil
}

// ToScreenSpace is the inverse of ToGraphSpace without snapping.
func (m CoordinateMapper) ToScreenSpace(graph Point, bounds Rect, vp *Viewport) (Point, error) {
	if vp == nil {
		return Point{}, types.NewError(types.ErrCanvasNotReady, "canvas viewport is not initialized")
	}
	if err := vp.Validate(); err != nil {
		return Point{}, err
	}
	if !graph.IsFinite() {
		return Point{}, types.NewError(types.ErrInvalidPosition, "graph point not finite")
	}
	return Point{
		X: graph.X*vp.Zoom + vp.X + bounds.Left,
		Y: graph.Y*vp.Zoom + vp.Y + bounds.Top,
	}, nil
}

// Snap rounds p to the grid; it is the identity when no grid is configured.
func (m CoordinateMapper) Snap(p Point) Point {
	if m.SnapGrid <= 0 || !isFinite(m.SnapGrid) {
		return p
	}
	return Point{
		X: math.Round(p.X/m.SnapGrid) * m.SnapGrid,
		Y: math.Round(p.Y/m.SnapGrid) * m.SnapGrid,
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
