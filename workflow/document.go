package workflow

import (
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/types"
)

// Node is one operation placed on the canvas.
type Node struct {
	ID       string    `json:"id" yaml:"id"`
	Kind     string    `json:"kind" yaml:"kind"`
	Position Point     `json:"position" yaml:"position"`
	Label    string    `json:"label" yaml:"label"`
	Role     Role      `json:"role,omitempty" yaml:"role,omitempty"`
	Handles  []string  `json:"handles,omitempty" yaml:"handles,omitempty"`
	Data     *NodeData `json:"data,omitempty" yaml:"data,omitempty"`
}

func (n Node) clone() Node {
	n.Handles = slices.Clone(n.Handles)
	n.Data = n.Data.Clone()
	return n
}

// HasOutput reports whether the node exposes the named output handle.
func (n Node) HasOutput(handle string) bool {
	if !n.Role.AcceptsOutgoing() {
		return false
	}
	if handle == "" {
		return len(n.Handles) == 0
	}
	return slices.Contains(n.Handles, handle)
}

// Edge connects an output of Source to the input of Target.
type Edge struct {
	ID           string `json:"id" yaml:"id"`
	Source       string `json:"source" yaml:"source"`
	SourceHandle string `json:"source_handle,omitempty" yaml:"source_handle,omitempty"`
	Target       string `json:"target" yaml:"target"`
	TargetHandle string `json:"target_handle,omitempty" yaml:"target_handle,omitempty"`
}

// EdgeID derives the deterministic id of an edge: e<source>[:<handle>]-<target>[:<handle>].
func EdgeID(source, sourceHandle, target, targetHandle string) string {
	id := "e" + source
	if sourceHandle != "" {
		id += ":" + sourceHandle
	}
	id += "-" + target
	if targetHandle != "" {
		id += ":" + targetHandle
	}
	return id
}

// EdgeIDSeparators join the parts of an edge id. Node ids and handle names
// never contain them, so each edge id names exactly one ordered pair.
const EdgeIDSeparators = "-:"

// ValidIDPart reports whether s can be used as a node id or handle name.
func ValidIDPart(s string) bool {
	return s != "" && !strings.ContainsAny(s, EdgeIDSeparators)
}

// ConnectRequest names both ends of a new edge.
type ConnectRequest struct {
	Source       string `json:"source"`
	SourceHandle string `json:"source_handle,omitempty"`
	Target       string `json:"target"`
	TargetHandle string `json:"target_handle,omitempty"`
}

// ChangeOp identifies the mutation that produced a Change.
type ChangeOp string

const (
	ChangeNodeAdded       ChangeOp = "node_added"
	ChangeNodeMoved       ChangeOp = "node_moved"
	ChangeNodeDeleted     ChangeOp = "node_deleted"
	ChangeNodeRelabeled   ChangeOp = "node_relabeled"
	ChangeNodeDataUpdated ChangeOp = "node_data_updated"
	ChangeEdgeAdded       ChangeOp = "edge_added"
	ChangeEdgeDeleted     ChangeOp = "edge_deleted"
	ChangeViewport        ChangeOp = "viewport_changed"
	ChangeReplaced        ChangeOp = "document_replaced"
)

// Change is published after every completed mutation.
// Snapshot is an immutable copy of the document after the mutation.
type Change struct {
	Op       ChangeOp `json:"op"`
	NodeIDs  []string `json:"node_ids,omitempty"`
	EdgeIDs  []string `json:"edge_ids,omitempty"`
	Version  uint64   `json:"version"`
	Snapshot Snapshot `json:"snapshot"`
}

// DocumentOption configures a Document.
type DocumentOption func(*Document)

// WithIDGenerator sets the node id generator.
func WithIDGenerator(g *IDGenerator) DocumentOption {
	return func(d *Document) {
		if g != nil {
			d.ids = g
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) DocumentOption {
	return func(d *Document) {
		if logger != nil {
			d.logger = logger
		}
	}
}

type subscriber struct {
	id int
	fn func(Change)
}

// Document is the in-memory graph being edited.
//
// Invariants held after every operation:
//   - every edge's source and target are nodes of the document
//   - node ids and edge ids are unique
//   - every node position is finite
//
// A Document has one writer; it is not safe for concurrent use.
type Document struct {
	registry *Registry
	ids      *IDGenerator
	logger   *zap.Logger

	nodes     map[string]*Node
	nodeOrder []string
	edges     map[string]*Edge
	edgeOrder []string
	viewport  Viewport
	version   uint64

	subscribers []subscriber
	nextSubID   int
}

// NewDocument creates an empty document over the given registry.
func NewDocument(registry *Registry, opts ...DocumentOption) *Document {
	if registry == nil {
		registry = DefaultRegistry()
	}
	d := &Document{
		registry: registry,
		ids:      NewIDGenerator(DefaultIDPrefix),
		logger:   zap.NewNop(),
		nodes:    make(map[string]*Node),
		edges:    make(map[string]*Edge),
		viewport: DefaultViewport(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(zap.String("component", "document"))
	return d
}

// Registry returns the registry the document validates kinds against.
func (d *Document) Registry() *Registry { return d.registry }

// Version returns the mutation counter.
func (d *Document) Version() uint64 { return d.version }

// Viewport returns the last stored pan/zoom.
func (d *Document) Viewport() Viewport { return d.viewport }

// NodeCount returns the number of nodes.
func (d *Document) NodeCount() int { return len(d.nodeOrder) }

// EdgeCount returns the number of edges.
func (d *Document) EdgeCount() int { return len(d.edgeOrder) }

// Node returns a copy of the node with the given id.
func (d *Document) Node(id string) (Node, bool) {
	n, ok := d.nodes[id]
	if !ok {
		return Node{}, false
	}
	return n.clone(), true
}

// Edge returns a copy of the edge with the given id.
func (d *Document) Edge(id string) (Edge, bool) {
	e, ok := d.edges[id]
	if !ok {
		return Edge{}, false
	}
	return *e, true
}

// Nodes returns copies of all nodes in insertion order.
func (d *Document) Nodes() []Node {
	out := make([]Node, 0, len(d.nodeOrder))
	for _, id := range d.nodeOrder {
		out = append(out, d.nodes[id].clone())
	}
	return out
}

// Edges returns copies of all edges in insertion order.
func (d *Document) Edges() []Edge {
	out := make([]Edge, 0, len(d.edgeOrder))
	for _, id := range d.edgeOrder {
		out = append(out, *d.edges[id])
	}
	return out
}

// IncidentEdges returns the edges whose source or target is id.
func (d *Document) IncidentEdges(id string) []Edge {
	var out []Edge
	for _, eid := range d.edgeOrder {
		e := d.edges[eid]
		if e.Source == id || e.Target == id {
			out = append(out, *e)
		}
	}
	return out
}

// Subscribe registers fn to receive every Change. The returned func unsubscribes.
// fn runs synchronously on the writer; it must not mutate the document.
func (d *Document) Subscribe(fn func(Change)) (unsubscribe func()) {
	id := d.nextSubID
	d.nextSubID++
	d.subscribers = append(d.subscribers, subscriber{id: id, fn: fn})
	return func() {
		d.subscribers = slices.DeleteFunc(d.subscribers, func(s subscriber) bool { return s.id == id })
	}
}

// AddNode creates a node of kind at position with a fresh id and the default label.
func (d *Document) AddNode(kind string, position Point) (Node, error) {
	spec, ok := d.registry.Lookup(kind)
	if !ok {
		return Node{}, types.Errorf(types.ErrUnknownKind, "unknown node kind %q", kind)
	}
	if !position.IsFinite() {
		return Node{}, types.Errorf(types.ErrInvalidPosition, "position (%v, %v) is not finite", position.X, position.Y)
	}

	id := d.ids.Next()
	for d.nodes[id] != nil {
		id = d.ids.Next()
	}

	n := &Node{
		ID:       id,
		Kind:     spec.Name,
		Position: position,
		Label:    DefaultLabel(spec.Name),
		Role:     spec.Role,
		Handles:  slices.Clone(spec.Handles),
		Data:     DefaultNodeData(spec),
	}
	d.insertNode(n)
	d.commit(Change{Op: ChangeNodeAdded, NodeIDs: []string{id}})
	return n.clone(), nil
}

// DefaultLabel is the label given to a freshly dropped node.
func DefaultLabel(kind string) string { return kind + " node" }

// MoveNode sets the position of an existing node.
func (d *Document) MoveNode(id string, position Point) error {
	n, ok := d.nodes[id]
	if !ok {
		return types.Errorf(types.ErrNotFound, "node %q not found", id)
	}
	if !position.IsFinite() {
		return types.Errorf(types.ErrInvalidPosition, "position (%v, %v) is not finite", position.X, position.Y)
	}
	if n.Position == position {
		return nil
	}
	n.Position = position
	d.commit(Change{Op: ChangeNodeMoved, NodeIDs: []string{id}})
	return nil
}

// Connect adds an edge between two existing nodes.
// Rejected requests leave the document unchanged and return INVALID_CONNECTION.
func (d *Document) Connect(req ConnectRequest) (Edge, error) {
	if err := d.checkConnect(req); err != nil {
		d.logger.Debug("connection rejected",
			zap.String("source", req.Source),
			zap.String("target", req.Target),
			zap.Error(err))
		return Edge{}, err
	}
	e := &Edge{
		ID:           EdgeID(req.Source, req.SourceHandle, req.Target, req.TargetHandle),
		Source:       req.Source,
		SourceHandle: req.SourceHandle,
		Target:       req.Target,
		TargetHandle: req.TargetHandle,
	}
	d.insertEdge(e)
	d.commit(Change{Op: ChangeEdgeAdded, NodeIDs: []string{req.Source, req.Target}, EdgeIDs: []string{e.ID}})
	return *e, nil
}

func (d *Document) checkConnect(req ConnectRequest) error {
	src, ok := d.nodes[req.Source]
	if !ok {
		return types.Errorf(types.ErrInvalidConnection, "source node %q does not exist", req.Source)
	}
	dst, ok := d.nodes[req.Target]
	if !ok {
		return types.Errorf(types.ErrInvalidConnection, "target node %q does not exist", req.Target)
	}
	return checkEdge(src, dst, req.SourceHandle, req.TargetHandle, d.edges)
}

func checkEdge(src, dst *Node, sourceHandle, targetHandle string, edges map[string]*Edge) error {
	if src.ID == dst.ID {
		return types.Errorf(types.ErrInvalidConnection, "self-loop on node %q", src.ID)
	}
	if !src.Role.AcceptsOutgoing() {
		return types.Errorf(types.ErrInvalidConnection, "node %q has no outputs", src.ID)
	}
	if !dst.Role.AcceptsIncoming() {
		return types.Errorf(types.ErrInvalidConnection, "node %q has no input", dst.ID)
	}
	if !src.HasOutput(sourceHandle) {
		if sourceHandle == "" {
			return types.Errorf(types.ErrInvalidConnection, "node %q requires a source handle, one of %v", src.ID, src.Handles)
		}
		return types.Errorf(types.ErrInvalidConnection, "node %q has no output handle %q", src.ID, sourceHandle)
	}
	if targetHandle != "" {
		return types.Errorf(types.ErrInvalidConnection, "node %q has no input handle %q", dst.ID, targetHandle)
	}
	id := EdgeID(src.ID, sourceHandle, dst.ID, targetHandle)
	if _, dup := edges[id]; dup {
		return types.Errorf(types.ErrInvalidConnection, "edge %q already exists", id)
	}
	return nil
}

// DeleteNode removes a node together with every incident edge and returns the removed edges.
func (d *Document) DeleteNode(id string) ([]Edge, error) {
	if _, ok := d.nodes[id]; !ok {
		return nil, types.Errorf(types.ErrNotFound, "node %q not found", id)
	}

	removed := d.IncidentEdges(id)
	edgeIDs := make([]string, 0, len(removed))
	for _, e := range removed {
		d.removeEdge(e.ID)
		edgeIDs = append(edgeIDs, e.ID)
	}
	delete(d.nodes, id)
	d.nodeOrder = slices.DeleteFunc(d.nodeOrder, func(nid string) bool { return nid == id })

	d.commit(Change{Op: ChangeNodeDeleted, NodeIDs: []string{id}, EdgeIDs: edgeIDs})
	return removed, nil
}

// DeleteEdge removes one edge.
func (d *Document) DeleteEdge(id string) error {
	if _, ok := d.edges[id]; !ok {
		return types.Errorf(types.ErrNotFound, "edge %q not found", id)
	}
	d.removeEdge(id)
	d.commit(Change{Op: ChangeEdgeDeleted, EdgeIDs: []string{id}})
	return nil
}

// SetLabel replaces a node's display label.
func (d *Document) SetLabel(id, label string) error {
	n, ok := d.nodes[id]
	if !ok {
		return types.Errorf(types.ErrNotFound, "node %q not found", id)
	}
	if n.Label == label {
		return nil
	}
	n.Label = label
	d.commit(Change{Op: ChangeNodeRelabeled, NodeIDs: []string{id}})
	return nil
}

// UpdateNodeData replaces a node's payload. The payload must match the node's variant.
func (d *Document) UpdateNodeData(id string, data *NodeData) error {
	n, ok := d.nodes[id]
	if !ok {
		return types.Errorf(types.ErrNotFound, "node %q not found", id)
	}
	spec, ok := d.registry.Lookup(n.Kind)
	if !ok {
		return types.Errorf(types.ErrUnknownKind, "unknown node kind %q", n.Kind)
	}
	if err := ValidateNodeData(spec, data); err != nil {
		return err
	}
	n.Data = data.Clone()
	d.commit(Change{Op: ChangeNodeDataUpdated, NodeIDs: []string{id}})
	return nil
}

// SetViewport stores the canvas pan/zoom with the document.
func (d *Document) SetViewport(vp Viewport) error {
	if err := vp.Validate(); err != nil {
		return types.NewError(types.ErrInvalidPosition, "invalid viewport").WithCause(err)
	}
	if d.viewport == vp {
		return nil
	}
	d.viewport = vp
	d.commit(Change{Op: ChangeViewport})
	return nil
}

// CheckInvariants verifies the document's structural invariants.
func (d *Document) CheckInvariants() error {
	if len(d.nodes) != len(d.nodeOrder) || len(d.edges) != len(d.edgeOrder) {
		return types.NewError(types.ErrCorruptDocument, "index out of sync with order")
	}
	for _, id := range d.nodeOrder {
		n, ok := d.nodes[id]
		if !ok || n.ID != id {
			return types.Errorf(types.ErrCorruptDocument, "node index mismatch for %q", id)
		}
		if !n.Position.IsFinite() {
			return types.Errorf(types.ErrCorruptDocument, "node %q has non-finite position", id)
		}
	}
	for _, id := range d.edgeOrder {
		e, ok := d.edges[id]
		if !ok || e.ID != id {
			return types.Errorf(types.ErrCorruptDocument, "edge index mismatch for %q", id)
		}
		if d.nodes[e.Source] == nil || d.nodes[e.Target] == nil {
			return types.Errorf(types.ErrCorruptDocument, "edge %q is dangling", id)
		}
	}
	return nil
}

func (d *Document) insertNode(n *Node) {
	d.nodes[n.ID] = n
	d.nodeOrder = append(d.nodeOrder, n.ID)
}

func (d *Document) insertEdge(e *Edge) {
	d.edges[e.ID] = e
	d.edgeOrder = append(d.edgeOrder, e.ID)
}

func (d *Document) removeEdge(id string) {
	delete(d.edges, id)
	d.edgeOrder = slices.DeleteFunc(d.edgeOrder, func(eid string) bool { return eid == id })
}

func (d *Document) commit(c Change) {
	d.version++
	c.Version = d.version
	if len(d.subscribers) == 0 {
		return
	}
	c.Snapshot = d.Snapshot()
	for _, s := range slices.Clone(d.subscribers) {
		s.fn(c)
	}
}
