package workflow

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func itoa(i int) string { return strconv.Itoa(i) }

// newTestDocument returns an empty document over the default registry.
func newTestDocument(t *testing.T) *Document {
	t.Helper()
	return NewDocument(DefaultRegistry())
}

// addNode adds a node and fails the test on error.
func addNode(t *testing.T, d *Document, kind string, x, y float64) Node {
	t.Helper()
	n, err := d.AddNode(kind, Point{X: x, Y: y})
	require.NoError(t, err)
	return n
}

// readyController returns a controller whose canvas sits at origin with zoom 1.
func readyController(t *testing.T, d *Document, origin Point) *Controller {
	t.Helper()
	c := NewController(d, CoordinateMapper{}, nil)
	require.NoError(t, c.SetBounds(Rect{Left: origin.X, Top: origin.Y, Width: 800, Height: 600}).Err)
	require.NoError(t, c.SetViewport(DefaultViewport()).Err)
	return c
}
