package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowcanvas/types"
)

func TestController_DropFromPalette(t *testing.T) {
	d := newTestDocument(t)
	c := readyController(t, d, Point{X: 50, Y: 50})

	res := c.PaletteDragStart("文本分割")
	require.NoError(t, res.Err)
	assert.Equal(t, StateDraggingFromPalette, res.State.State)
	assert.Equal(t, "文本分割", res.State.Kind)

	res = c.CanvasDragOver(Point{X: 140, Y: 190})
	require.NoError(t, res.Err)
	assert.Equal(t, &Point{X: 90, Y: 140}, res.State.Hover)
	assert.False(t, res.Changed)

	res = c.CanvasDrop(Point{X: 150, Y: 200})
	require.NoError(t, res.Err)
	assert.True(t, res.Changed)
	assert.Equal(t, StateIdle, res.State.State)

	nodes := d.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, Point{X: 100, Y: 150}, nodes[0].Position)
	assert.Equal(t, "文本分割 node", nodes[0].Label)
	assert.Equal(t, "文本分割", nodes[0].Kind)
}

func TestController_DropNoOps(t *testing.T) {
	t.Run("unknown kind", func(t *testing.T) {
		d := newTestDocument(t)
		c := readyController(t, d, Point{})
		require.NoError(t, c.PaletteDragStart("不存在").Err)

		res := c.CanvasDrop(Point{X: 10, Y: 10})
		assert.True(t, types.IsCode(res.Err, types.ErrUnknownKind))
		assert.False(t, res.Changed)
		assert.Equal(t, StateIdle, res.State.State)
		assert.Zero(t, d.NodeCount())
	})

	t.Run("builtin kind is not draggable", func(t *testing.T) {
		for _, kind := range []string{"op", "input", "output", "default"} {
			d := newTestDocument(t)
			c := readyController(t, d, Point{})
			require.NoError(t, c.PaletteDragStart(kind).Err)

			res := c.CanvasDrop(Point{X: 10, Y: 10})
			assert.True(t, types.IsCode(res.Err, types.ErrUnknownKind), kind)
			assert.False(t, res.Changed)
			assert.Equal(t, StateIdle, res.State.State)
			assert.Zero(t, d.NodeCount(), kind)
		}
	})

	t.Run("empty kind", func(t *testing.T) {
		d := newTestDocument(t)
		c := readyController(t, d, Point{})
		res := c.PaletteDragStart("")
		assert.True(t, types.IsCode(res.Err, types.ErrUnknownKind))
		assert.Equal(t, StateIdle, res.State.State)
	})

	t.Run("canvas not initialized", func(t *testing.T) {
		d := newTestDocument(t)
		c := NewController(d, CoordinateMapper{}, nil)
		require.NoError(t, c.SetBounds(Rect{Width: 10, Height: 10}).Err)
		require.NoError(t, c.PaletteDragStart("循环").Err)

		res := c.CanvasDrop(Point{X: 10, Y: 10})
		assert.True(t, types.IsCode(res.Err, types.ErrCanvasNotReady))
		assert.False(t, res.Changed)
		assert.Equal(t, StateIdle, res.State.State)
		assert.Zero(t, d.NodeCount())
	})

	t.Run("bounds not initialized", func(t *testing.T) {
		d := newTestDocument(t)
		c := NewController(d, CoordinateMapper{}, nil)
		require.NoError(t, c.SetViewport(DefaultViewport()).Err)
		require.NoError(t, c.PaletteDragStart("循环").Err)

		res := c.CanvasDrop(Point{X: 10, Y: 10})
		assert.True(t, types.IsCode(res.Err, types.ErrCanvasNotReady))
		assert.Zero(t, d.NodeCount())
	})
}

func TestController_OneGestureAtATime(t *testing.T) {
	d := newTestDocument(t)
	c := readyController(t, d, Point{})
	n := addNode(t, d, "default", 0, 0)

	require.NoError(t, c.PaletteDragStart("循环").Err)

	res := c.NodePointerDown(n.ID, Point{})
	assert.True(t, types.IsCode(res.Err, types.ErrGestureInProgress))
	assert.Equal(t, StateDraggingFromPalette, res.State.State)

	res = c.ConnectionPointerDown(n.ID, "")
	assert.True(t, types.IsCode(res.Err, types.ErrGestureInProgress))

	res = c.PaletteDragStart("随机选择")
	assert.True(t, types.IsCode(res.Err, types.ErrGestureInProgress))
	assert.Equal(t, "循环", res.State.Kind)
}

func TestController_IntentOutsideItsState(t *testing.T) {
	d := newTestDocument(t)
	c := readyController(t, d, Point{})

	for _, res := range []Result{
		c.CanvasDragOver(Point{}),
		c.CanvasDrop(Point{}),
		c.NodePointerMove(Point{}),
		c.NodePointerUp(),
		c.ConnectionPointerUp("x", ""),
		c.DragCancel(),
	} {
		assert.True(t, types.IsCode(res.Err, types.ErrInvalidTransition), "%v", res.Err)
		assert.Equal(t, StateIdle, res.State.State)
	}
	assert.Zero(t, d.Version())
}

func TestController_NodeDragKeepsGrabOffset(t *testing.T) {
	d := newTestDocument(t)
	c := readyController(t, d, Point{X: 50, Y: 50})
	n := addNode(t, d, "default", 100, 100)

	// pointer grabs the node 10px right of and 5px below its anchor
	res := c.NodePointerDown(n.ID, Point{X: 160, Y: 155})
	require.NoError(t, res.Err)
	assert.Equal(t, StateDraggingNode, res.State.State)
	assert.Equal(t, &Point{X: 10, Y: 5}, res.State.GrabOffset)
	assert.Equal(t, &Point{X: 100, Y: 100}, res.State.Origin)

	res = c.NodePointerMove(Point{X: 200, Y: 255})
	require.NoError(t, res.Err)
	assert.True(t, res.Changed)
	got, _ := d.Node(n.ID)
	assert.Equal(t, Point{X: 140, Y: 200}, got.Position)

	res = c.NodePointerMove(Point{X: 210, Y: 265})
	require.NoError(t, res.Err)
	got, _ = d.Node(n.ID)
	assert.Equal(t, Point{X: 150, Y: 210}, got.Position)

	res = c.NodePointerUp()
	require.NoError(t, res.Err)
	assert.Equal(t, StateIdle, res.State.State)
	got, _ = d.Node(n.ID)
	assert.Equal(t, Point{X: 150, Y: 210}, got.Position)
}

func TestController_NodeDragWithZoomAndSnap(t *testing.T) {
	d := newTestDocument(t)
	c := NewController(d, CoordinateMapper{SnapGrid: 10}, nil)
	require.NoError(t, c.SetBounds(Rect{Width: 800, Height: 600}).Err)
	require.NoError(t, c.SetViewport(Viewport{Zoom: 2}).Err)
	n := addNode(t, d, "default", 0, 0)

	require.NoError(t, c.NodePointerDown(n.ID, Point{X: 0, Y: 0}).Err)
	require.NoError(t, c.NodePointerMove(Point{X: 47, Y: 13}).Err)

	got, _ := d.Node(n.ID)
	assert.Equal(t, Point{X: 20, Y: 10}, got.Position)
}

func TestController_CancelNodeDragRestoresDocument(t *testing.T) {
	d := newTestDocument(t)
	c := readyController(t, d, Point{})
	n := addNode(t, d, "default", 30, 40)
	other := addNode(t, d, "default", 0, 0)
	_, err := d.Connect(ConnectRequest{Source: n.ID, Target: other.ID})
	require.NoError(t, err)

	before := d.Snapshot()

	require.NoError(t, c.NodePointerDown(n.ID, Point{X: 30, Y: 40}).Err)
	require.NoError(t, c.NodePointerMove(Point{X: 300, Y: 400}).Err)
	require.NoError(t, c.NodePointerMove(Point{X: 310, Y: 410}).Err)

	res := c.DragCancel()
	require.NoError(t, res.Err)
	assert.Equal(t, StateIdle, res.State.State)

	after := d.Snapshot()
	assert.Equal(t, before.Nodes, after.Nodes)
	assert.Equal(t, before.Edges, after.Edges)
}

func TestController_CancelPaletteDragHasNoEffect(t *testing.T) {
	d := newTestDocument(t)
	c := readyController(t, d, Point{})
	version := d.Version()

	require.NoError(t, c.PaletteDragStart("循环").Err)
	require.NoError(t, c.CanvasDragOver(Point{X: 5, Y: 5}).Err)
	res := c.DragCancel()
	require.NoError(t, res.Err)
	assert.False(t, res.Changed)
	assert.Equal(t, StateIdle, res.State.State)
	assert.Nil(t, res.State.Hover)
	assert.Equal(t, version, d.Version())
}

func TestController_NodeVanishesDuringDrag(t *testing.T) {
	d := newTestDocument(t)
	c := readyController(t, d, Point{})
	n := addNode(t, d, "default", 0, 0)

	require.NoError(t, c.NodePointerDown(n.ID, Point{}).Err)
	_, err := d.DeleteNode(n.ID)
	require.NoError(t, err)

	res := c.NodePointerMove(Point{X: 5, Y: 5})
	assert.True(t, types.IsCode(res.Err, types.ErrNotFound))
	assert.Equal(t, StateIdle, res.State.State)
	require.NoError(t, d.CheckInvariants())
}

func TestController_ConnectGesture(t *testing.T) {
	d := newTestDocument(t)
	c := readyController(t, d, Point{})
	op := addNode(t, d, "op", 0, 0)
	target := addNode(t, d, "default", 100, 0)

	res := c.ConnectionPointerDown(op.ID, "b")
	require.NoError(t, res.Err)
	assert.Equal(t, StateConnectingEdge, res.State.State)
	assert.Equal(t, "b", res.State.Handle)

	res = c.ConnectionPointerUp(target.ID, "")
	require.NoError(t, res.Err)
	assert.True(t, res.Changed)
	assert.Equal(t, StateIdle, res.State.State)

	edges := d.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, Edge{ID: "enode_0:b-node_1", Source: op.ID, SourceHandle: "b", Target: target.ID}, edges[0])
}

func TestController_ConnectGestureDiscarded(t *testing.T) {
	d := newTestDocument(t)
	c := readyController(t, d, Point{})
	a := addNode(t, d, "default", 0, 0)
	in := addNode(t, d, "input", 0, 0)
	out := addNode(t, d, "output", 0, 0)
	version := d.Version()

	t.Run("released over empty canvas", func(t *testing.T) {
		require.NoError(t, c.ConnectionPointerDown(a.ID, "").Err)
		res := c.ConnectionPointerUp("", "")
		assert.NoError(t, res.Err)
		assert.False(t, res.Changed)
		assert.Equal(t, StateIdle, res.State.State)
	})

	t.Run("released over itself", func(t *testing.T) {
		require.NoError(t, c.ConnectionPointerDown(a.ID, "").Err)
		res := c.ConnectionPointerUp(a.ID, "")
		assert.True(t, types.IsCode(res.Err, types.ErrInvalidConnection))
		assert.Equal(t, StateIdle, res.State.State)
	})

	t.Run("released over input-only node", func(t *testing.T) {
		require.NoError(t, c.ConnectionPointerDown(a.ID, "").Err)
		res := c.ConnectionPointerUp(in.ID, "")
		assert.True(t, types.IsCode(res.Err, types.ErrInvalidConnection))
	})

	t.Run("pressed on node without outputs", func(t *testing.T) {
		res := c.ConnectionPointerDown(out.ID, "")
		assert.True(t, types.IsCode(res.Err, types.ErrInvalidConnection))
		assert.Equal(t, StateIdle, res.State.State)
	})

	t.Run("pressed on missing node", func(t *testing.T) {
		res := c.ConnectionPointerDown("ghost", "")
		assert.True(t, types.IsCode(res.Err, types.ErrInvalidConnection))
	})

	t.Run("cancelled", func(t *testing.T) {
		require.NoError(t, c.ConnectionPointerDown(a.ID, "").Err)
		res := c.DragCancel()
		assert.NoError(t, res.Err)
		assert.Equal(t, StateIdle, res.State.State)
	})

	assert.Empty(t, d.Edges())
	assert.Equal(t, version, d.Version())
}

func TestController_SelectAndDelete(t *testing.T) {
	d := newTestDocument(t)
	c := readyController(t, d, Point{})
	a := addNode(t, d, "default", 0, 0)
	b := addNode(t, d, "default", 0, 0)
	x := addNode(t, d, "default", 0, 0)
	ab, _ := d.Connect(ConnectRequest{Source: a.ID, Target: b.ID})
	bx, _ := d.Connect(ConnectRequest{Source: b.ID, Target: x.ID})
	ax, _ := d.Connect(ConnectRequest{Source: a.ID, Target: x.ID})

	c.Select([]string{a.ID, "ghost", a.ID}, []string{bx.ID})
	assert.Equal(t, Selection{Nodes: []string{a.ID}, Edges: []string{bx.ID}}, c.Selection())

	res := c.DeleteSelection()
	require.NoError(t, res.Err)
	assert.True(t, res.Changed)
	assert.Empty(t, c.Selection().Nodes)

	assert.Equal(t, []string{b.ID, x.ID}, nodeIDs(d.Nodes()))
	for _, e := range d.Edges() {
		assert.NotContains(t, []string{ab.ID, bx.ID, ax.ID}, e.ID)
	}
	assert.Empty(t, d.Edges())
}

func TestController_DeleteSelectionDuringGesture(t *testing.T) {
	d := newTestDocument(t)
	c := readyController(t, d, Point{})
	n := addNode(t, d, "default", 0, 0)

	c.Select([]string{n.ID}, nil)
	require.NoError(t, c.NodePointerDown(n.ID, Point{}).Err)

	res := c.DeleteSelection()
	assert.True(t, types.IsCode(res.Err, types.ErrGestureInProgress))
	assert.Equal(t, 1, d.NodeCount())
}

func TestController_SelectionPrunedAfterDeletes(t *testing.T) {
	d := newTestDocument(t)
	c := readyController(t, d, Point{})
	a := addNode(t, d, "default", 0, 0)
	b := addNode(t, d, "default", 0, 0)
	e, _ := d.Connect(ConnectRequest{Source: a.ID, Target: b.ID})

	c.Select([]string{a.ID, b.ID}, []string{e.ID})
	_, err := d.DeleteNode(a.ID)
	require.NoError(t, err)

	// any changing intent prunes selection of vanished ids
	c.SetLabel(b.ID, "renamed")
	assert.Equal(t, Selection{Nodes: []string{b.ID}, Edges: []string{}}, c.Selection())
}

func TestController_Apply(t *testing.T) {
	d := newTestDocument(t)
	c := NewController(d, CoordinateMapper{}, nil)

	res := c.Apply(Intent{Type: IntentSetBounds, Bounds: &Rect{Left: 50, Top: 50, Width: 100, Height: 100}})
	require.NoError(t, res.Err)
	res = c.Apply(Intent{Type: IntentSetViewport, Viewport: &Viewport{Zoom: 1}})
	require.NoError(t, res.Err)
	res = c.Apply(Intent{Type: IntentPaletteDragStart, Kind: "ChatGLM"})
	require.NoError(t, res.Err)
	res = c.Apply(Intent{Type: IntentCanvasDrop, Point: &Point{X: 150, Y: 200}})
	require.NoError(t, res.Err)
	require.True(t, res.Changed)

	n := d.Nodes()[0]
	label := "chat"
	require.NoError(t, c.Apply(Intent{Type: IntentSetLabel, NodeID: n.ID, Label: &label}).Err)
	require.NoError(t, c.Apply(Intent{
		Type:   IntentUpdateNodeData,
		NodeID: n.ID,
		Data:   &NodeData{LLM: &LLMData{Model: "chatglm", Temperature: 0.1}},
	}).Err)

	got, _ := d.Node(n.ID)
	assert.Equal(t, "chat", got.Label)
	assert.Equal(t, 0.1, got.Data.LLM.Temperature)

	res = c.Apply(Intent{Type: IntentCanvasDrop})
	assert.True(t, types.IsCode(res.Err, types.ErrInvalidRequest))

	res = c.Apply(Intent{Type: "teleport"})
	assert.True(t, types.IsCode(res.Err, types.ErrInvalidRequest))

	res = c.Apply(Intent{Type: IntentSetLabel, NodeID: n.ID})
	assert.True(t, types.IsCode(res.Err, types.ErrInvalidRequest))
}

func TestController_SetBoundsAndViewportValidation(t *testing.T) {
	c := NewController(newTestDocument(t), CoordinateMapper{}, nil)

	res := c.SetBounds(Rect{Width: -1})
	assert.True(t, types.IsCode(res.Err, types.ErrCanvasNotReady))

	res = c.SetViewport(Viewport{Zoom: 0})
	assert.True(t, types.IsCode(res.Err, types.ErrCanvasNotReady))
}

func TestController_Reset(t *testing.T) {
	d := newTestDocument(t)
	c := readyController(t, d, Point{})
	n := addNode(t, d, "default", 0, 0)
	c.Select([]string{n.ID}, nil)
	require.NoError(t, c.NodePointerDown(n.ID, Point{}).Err)

	c.Reset()
	assert.Equal(t, StateIdle, c.State().State)
	assert.Empty(t, c.Selection().Nodes)
}

func nodeIDs(nodes []Node) []string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}
