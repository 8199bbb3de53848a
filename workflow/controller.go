package workflow

import (
	"slices"

	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/types"
)

// GestureState is the state of the interaction state machine.
type GestureState string

const (
	StateIdle                GestureState = "idle"
	StateDraggingFromPalette GestureState = "dragging_from_palette"
	StateDraggingNode        GestureState = "dragging_node"
	StateConnectingEdge      GestureState = "connecting_edge"
)

// Gesture describes the gesture in flight. Only the fields of the current state are set.
type Gesture struct {
	State GestureState `json:"state"`

	// DraggingFromPalette
	Kind  string `json:"kind,omitempty"`
	Hover *Point `json:"hover,omitempty"`

	// DraggingNode and ConnectingEdge
	NodeID string `json:"node_id,omitempty"`

	// DraggingNode
	Origin     *Point `json:"origin,omitempty"`
	GrabOffset *Point `json:"grab_offset,omitempty"`

	// ConnectingEdge
	Handle string `json:"handle,omitempty"`
}

func (g Gesture) clone() Gesture {
	if g.Hover != nil {
		p := *g.Hover
		g.Hover = &p
	}
	if g.Origin != nil {
		p := *g.Origin
		g.Origin = &p
	}
	if g.GrabOffset != nil {
		p := *g.GrabOffset
		g.GrabOffset = &p
	}
	return g
}

// Selection is the set of selected node and edge ids.
type Selection struct {
	Nodes []string `json:"nodes"`
	Edges []string `json:"edges"`
}

// Result is returned for every intent. Err is informational: the controller
// always stays usable and the document always satisfies its invariants.
type Result struct {
	State   Gesture `json:"state"`
	Changed bool    `json:"changed"`
	Err     error   `json:"-"`
}

// IntentType names a Render Adapter intent.
type IntentType string

const (
	IntentPaletteDragStart      IntentType = "palette_drag_start"
	IntentCanvasDragOver        IntentType = "canvas_drag_over"
	IntentCanvasDrop            IntentType = "canvas_drop"
	IntentDragCancel            IntentType = "drag_cancel"
	IntentNodePointerDown       IntentType = "node_pointer_down"
	IntentNodePointerMove       IntentType = "node_pointer_move"
	IntentNodePointerUp         IntentType = "node_pointer_up"
	IntentConnectionPointerDown IntentType = "connection_pointer_down"
	IntentConnectionPointerUp   IntentType = "connection_pointer_up"
	IntentSetViewport           IntentType = "set_viewport"
	IntentSetBounds             IntentType = "set_bounds"
	IntentSelect                IntentType = "select"
	IntentDeleteSelection       IntentType = "delete_selection"
	IntentSetLabel              IntentType = "set_label"
	IntentUpdateNodeData        IntentType = "update_node_data"
)

// Intent is the wire form of one Render Adapter event.
type Intent struct {
	Type     IntentType `json:"type"`
	Kind     string     `json:"kind,omitempty"`
	NodeID   string     `json:"node_id,omitempty"`
	Handle   string     `json:"handle,omitempty"`
	Point    *Point     `json:"point,omitempty"`
	Viewport *Viewport  `json:"viewport,omitempty"`
	Bounds   *Rect      `json:"bounds,omitempty"`
	Nodes    []string   `json:"nodes,omitempty"`
	Edges    []string   `json:"edges,omitempty"`
	Label    *string    `json:"label,omitempty"`
	Data     *NodeData  `json:"data,omitempty"`
}

// Controller drives a Document from pointer and palette intents.
// One gesture is active at a time; a cancelled gesture leaves no net change.
type Controller struct {
	doc    *Document
	mapper CoordinateMapper
	logger *zap.Logger

	viewport *Viewport
	bounds   *Rect

	gesture   Gesture
	selection Selection
}

// NewController creates a controller in the Idle state. The canvas is not
// ready until both SetBounds and SetViewport have been received.
func NewController(doc *Document, mapper CoordinateMapper, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		doc:     doc,
		mapper:  mapper,
		logger:  logger.With(zap.String("component", "controller")),
		gesture: Gesture{State: StateIdle},
	}
}

// Document returns the controlled document.
func (c *Controller) Document() *Document { return c.doc }

// State returns a copy of the current gesture.
func (c *Controller) State() Gesture { return c.gesture.clone() }

// Selection returns a copy of the current selection.
func (c *Controller) Selection() Selection {
	return Selection{Nodes: slices.Clone(c.selection.Nodes), Edges: slices.Clone(c.selection.Edges)}
}

// Reset abandons any gesture without touching the document and clears the selection.
// Used after the document content was replaced wholesale.
func (c *Controller) Reset() {
	c.gesture = Gesture{State: StateIdle}
	c.selection = Selection{}
}

// Apply dispatches a wire intent to the matching handler.
func (c *Controller) Apply(in Intent) Result {
	switch in.Type {
	case IntentPaletteDragStart:
		return c.PaletteDragStart(in.Kind)
	case IntentCanvasDragOver:
		if in.Point == nil {
			return c.reject(missingField(in.Type, "point"))
		}
		return c.CanvasDragOver(*in.Point)
	case IntentCanvasDrop:
		if in.Point == nil {
			return c.reject(missingField(in.Type, "point"))
		}
		return c.CanvasDrop(*in.Point)
	case IntentDragCancel:
		return c.DragCancel()
	case IntentNodePointerDown:
		if in.Point == nil {
			return c.reject(missingField(in.Type, "point"))
		}
		return c.NodePointerDown(in.NodeID, *in.Point)
	case IntentNodePointerMove:
		if in.Point == nil {
			return c.reject(missingField(in.Type, "point"))
		}
		return c.NodePointerMove(*in.Point)
	case IntentNodePointerUp:
		return c.NodePointerUp()
	case IntentConnectionPointerDown:
		return c.ConnectionPointerDown(in.NodeID, in.Handle)
	case IntentConnectionPointerUp:
		return c.ConnectionPointerUp(in.NodeID, in.Handle)
	case IntentSetViewport:
		if in.Viewport == nil {
			return c.reject(missingField(in.Type, "viewport"))
		}
		return c.SetViewport(*in.Viewport)
	case IntentSetBounds:
		if in.Bounds == nil {
			return c.reject(missingField(in.Type, "bounds"))
		}
		return c.SetBounds(*in.Bounds)
	case IntentSelect:
		return c.Select(in.Nodes, in.Edges)
	case IntentDeleteSelection:
		return c.DeleteSelection()
	case IntentSetLabel:
		if in.Label == nil {
			return c.reject(missingField(in.Type, "label"))
		}
		return c.SetLabel(in.NodeID, *in.Label)
	case IntentUpdateNodeData:
		return c.UpdateNodeData(in.NodeID, in.Data)
	}
	return c.reject(types.Errorf(types.ErrInvalidRequest, "unknown intent type %q", in.Type))
}

func missingField(t IntentType, field string) error {
	return types.Errorf(types.ErrInvalidRequest, "intent %s requires %s", t, field)
}

// PaletteDragStart begins dragging a kind from the palette.
func (c *Controller) PaletteDragStart(kind string) Result {
	if err := c.requireIdle(); err != nil {
		return c.reject(err)
	}
	if kind == "" {
		return c.reject(types.NewError(types.ErrUnknownKind, "palette drag without a kind"))
	}
	c.transition(Gesture{State: StateDraggingFromPalette, Kind: kind})
	return c.result(c.doc.Version(), nil)
}

// CanvasDragOver tracks the palette drag over the canvas for drop previews.
func (c *Controller) CanvasDragOver(screen Point) Result {
	if err := c.requireState(StateDraggingFromPalette); err != nil {
		return c.reject(err)
	}
	p, err := c.toGraph(screen)
	if err != nil {
		c.gesture.Hover = nil
		return c.reject(err)
	}
	c.gesture.Hover = &p
	return c.result(c.doc.Version(), nil)
}

// CanvasDrop ends a palette drag. On success a node of the dragged kind is created
// at the mapped drop point; on any failure the drop is a no-op.
func (c *Controller) CanvasDrop(screen Point) Result {
	if err := c.requireState(StateDraggingFromPalette); err != nil {
		return c.reject(err)
	}
	before := c.doc.Version()
	kind := c.gesture.Kind
	c.transition(Gesture{State: StateIdle})

	if _, ok := c.doc.Registry().Draggable(kind); !ok {
		return c.result(before, types.Errorf(types.ErrUnknownKind, "kind %q is not in the palette", kind))
	}
	p, err := c.toGraph(screen)
	if err != nil {
		return c.result(before, err)
	}
	node, err := c.doc.AddNode(kind, p)
	if err != nil {
		return c.result(before, err)
	}
	c.logger.Debug("node dropped", zap.String("node_id", node.ID), zap.String("kind", kind))
	return c.result(before, nil)
}

// DragCancel abandons the current gesture. A node drag restores the original position.
func (c *Controller) DragCancel() Result {
	before := c.doc.Version()
	switch c.gesture.State {
	case StateDraggingFromPalette, StateConnectingEdge:
		c.transition(Gesture{State: StateIdle})
		return c.result(before, nil)
	case StateDraggingNode:
		id, origin := c.gesture.NodeID, *c.gesture.Origin
		c.transition(Gesture{State: StateIdle})
		if err := c.doc.MoveNode(id, origin); err != nil && !types.IsCode(err, types.ErrNotFound) {
			return c.result(before, err)
		}
		return c.result(before, nil)
	}
	return c.reject(c.invalidTransition(IntentDragCancel))
}

// NodePointerDown starts repositioning a node. The grab offset between pointer
// and node position is kept for the whole drag.
func (c *Controller) NodePointerDown(id string, screen Point) Result {
	if err := c.requireIdle(); err != nil {
		return c.reject(err)
	}
	node, ok := c.doc.Node(id)
	if !ok {
		return c.reject(types.Errorf(types.ErrNotFound, "node %q not found", id))
	}
	p, err := c.project(screen)
	if err != nil {
		return c.reject(err)
	}
	origin := node.Position
	grab := p.Sub(origin)
	c.transition(Gesture{State: StateDraggingNode, NodeID: id, Origin: &origin, GrabOffset: &grab})
	return c.result(c.doc.Version(), nil)
}

// NodePointerMove moves the dragged node so it stays under the pointer.
func (c *Controller) NodePointerMove(screen Point) Result {
	if err := c.requireState(StateDraggingNode); err != nil {
		return c.reject(err)
	}
	before := c.doc.Version()
	p, err := c.project(screen)
	if err != nil {
		return c.result(before, err)
	}
	target := c.mapper.Snap(p.Sub(*c.gesture.GrabOffset))
	if err := c.doc.MoveNode(c.gesture.NodeID, target); err != nil {
		if types.IsCode(err, types.ErrNotFound) {
			c.transition(Gesture{State: StateIdle})
		}
		return c.result(before, err)
	}
	return c.result(before, nil)
}

// NodePointerUp finishes a node drag.
func (c *Controller) NodePointerUp() Result {
	if err := c.requireState(StateDraggingNode); err != nil {
		return c.reject(err)
	}
	c.transition(Gesture{State: StateIdle})
	return c.result(c.doc.Version(), nil)
}

// ConnectionPointerDown starts an edge from an output handle of a node.
func (c *Controller) ConnectionPointerDown(nodeID, handle string) Result {
	if err := c.requireIdle(); err != nil {
		return c.reject(err)
	}
	node, ok := c.doc.Node(nodeID)
	if !ok {
		return c.reject(types.Errorf(types.ErrInvalidConnection, "source node %q does not exist", nodeID))
	}
	if !node.HasOutput(handle) {
		return c.reject(types.Errorf(types.ErrInvalidConnection, "node %q has no output handle %q", nodeID, handle))
	}
	c.transition(Gesture{State: StateConnectingEdge, NodeID: nodeID, Handle: handle})
	return c.result(c.doc.Version(), nil)
}

// ConnectionPointerUp ends an edge gesture. Releasing over empty canvas
// (empty nodeID) or over an invalid target discards the gesture.
func (c *Controller) ConnectionPointerUp(nodeID, handle string) Result {
	if err := c.requireState(StateConnectingEdge); err != nil {
		return c.reject(err)
	}
	before := c.doc.Version()
	req := ConnectRequest{
		Source:       c.gesture.NodeID,
		SourceHandle: c.gesture.Handle,
		Target:       nodeID,
		TargetHandle: handle,
	}
	c.transition(Gesture{State: StateIdle})
	if nodeID == "" {
		return c.result(before, nil)
	}
	if _, err := c.doc.Connect(req); err != nil {
		return c.result(before, err)
	}
	return c.result(before, nil)
}

// SetViewport records the renderer's pan/zoom. It is stored with the document.
func (c *Controller) SetViewport(vp Viewport) Result {
	before := c.doc.Version()
	if err := vp.Validate(); err != nil {
		return c.reject(err)
	}
	c.viewport = &vp
	if err := c.doc.SetViewport(vp); err != nil {
		return c.result(before, err)
	}
	return c.result(before, nil)
}

// SetBounds records the canvas bounding rectangle in screen space.
func (c *Controller) SetBounds(r Rect) Result {
	if !isFinite(r.Left) || !isFinite(r.Top) || !isFinite(r.Width) || !isFinite(r.Height) || r.Width < 0 || r.Height < 0 {
		return c.reject(types.NewError(types.ErrCanvasNotReady, "canvas bounds must be finite with non-negative size"))
	}
	c.bounds = &r
	return c.result(c.doc.Version(), nil)
}

// Select replaces the selection. Ids that do not exist are dropped.
func (c *Controller) Select(nodes, edges []string) Result {
	sel := Selection{}
	for _, id := range nodes {
		if _, ok := c.doc.Node(id); ok && !slices.Contains(sel.Nodes, id) {
			sel.Nodes = append(sel.Nodes, id)
		}
	}
	for _, id := range edges {
		if _, ok := c.doc.Edge(id); ok && !slices.Contains(sel.Edges, id) {
			sel.Edges = append(sel.Edges, id)
		}
	}
	c.selection = sel
	return c.result(c.doc.Version(), nil)
}

// DeleteSelection removes the selected edges, then the selected nodes with their incident edges.
func (c *Controller) DeleteSelection() Result {
	if err := c.requireIdle(); err != nil {
		return c.reject(err)
	}
	before := c.doc.Version()
	for _, id := range c.selection.Edges {
		if err := c.doc.DeleteEdge(id); err != nil && !types.IsCode(err, types.ErrNotFound) {
			return c.result(before, err)
		}
	}
	for _, id := range c.selection.Nodes {
		if _, err := c.doc.DeleteNode(id); err != nil && !types.IsCode(err, types.ErrNotFound) {
			return c.result(before, err)
		}
	}
	c.selection = Selection{}
	return c.result(before, nil)
}

// SetLabel edits a node label.
func (c *Controller) SetLabel(nodeID, label string) Result {
	before := c.doc.Version()
	return c.result(before, c.doc.SetLabel(nodeID, label))
}

// UpdateNodeData replaces a node's payload.
func (c *Controller) UpdateNodeData(nodeID string, data *NodeData) Result {
	before := c.doc.Version()
	return c.result(before, c.doc.UpdateNodeData(nodeID, data))
}

func (c *Controller) requireIdle() error {
	if c.gesture.State != StateIdle {
		return types.Errorf(types.ErrGestureInProgress, "gesture %s already in progress", c.gesture.State)
	}
	return nil
}

func (c *Controller) requireState(want GestureState) error {
	if c.gesture.State != want {
		return types.Errorf(types.ErrInvalidTransition, "expected state %s, current state is %s", want, c.gesture.State)
	}
	return nil
}

func (c *Controller) invalidTransition(in IntentType) error {
	return types.Errorf(types.ErrInvalidTransition, "intent %s not valid in state %s", in, c.gesture.State)
}

func (c *Controller) project(screen Point) (Point, error) {
	if c.bounds == nil {
		return Point{}, types.NewError(types.ErrCanvasNotReady, "canvas bounds are not initialized")
	}
	return c.mapper.Project(screen, *c.bounds, c.viewport)
}

func (c *Controller) toGraph(screen Point) (Point, error) {
	p, err := c.project(screen)
	if err != nil {
		return Point{}, err
	}
	return c.mapper.Snap(p), nil
}

func (c *Controller) transition(next Gesture) {
	if next.State != c.gesture.State {
		c.logger.Debug("gesture transition",
			zap.String("from", string(c.gesture.State)),
			zap.String("to", string(next.State)))
	}
	c.gesture = next
}

func (c *Controller) reject(err error) Result {
	return Result{State: c.State(), Err: err}
}

func (c *Controller) result(before uint64, err error) Result {
	if c.doc.Version() != before {
		c.pruneSelection()
	}
	return Result{State: c.State(), Changed: c.doc.Version() != before, Err: err}
}

func (c *Controller) pruneSelection() {
	c.selection.Nodes = slices.DeleteFunc(c.selection.Nodes, func(id string) bool {
		_, ok := c.doc.Node(id)
		return !ok
	})
	c.selection.Edges = slices.DeleteFunc(c.selection.Edges, func(id string) bool {
		_, ok := c.doc.Edge(id)
		return !ok
	})
}
