package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/flowcanvas/types"
)

// Snapshot is the serialized form of a Document.
type Snapshot struct {
	Version  uint64    `json:"version" yaml:"version"`
	Nodes    []Node    `json:"nodes" yaml:"nodes"`
	Edges    []Edge    `json:"edges" yaml:"edges"`
	Viewport *Viewport `json:"viewport,omitempty" yaml:"viewport,omitempty"`
}

// Snapshot returns a deep copy of the document's current state.
func (d *Document) Snapshot() Snapshot {
	vp := d.viewport
	return Snapshot{
		Version:  d.version,
		Nodes:    d.Nodes(),
		Edges:    d.Edges(),
		Viewport: &vp,
	}
}

// Deserialize builds a document from a snapshot. The snapshot is fully validated
// first: any dangling edge, duplicate id, non-finite position, unknown kind or
// invalid payload fails with CORRUPT_DOCUMENT and no document is returned.
func Deserialize(snap Snapshot, registry *Registry, opts ...DocumentOption) (*Document, error) {
	d := NewDocument(registry, opts...)
	st, err := d.decode(snap)
	if err != nil {
		return nil, err
	}
	d.install(st)
	d.version = snap.Version
	return d, nil
}

// Replace swaps the whole document content for snap. On error the document is unchanged.
func (d *Document) Replace(snap Snapshot) error {
	st, err := d.decode(snap)
	if err != nil {
		return err
	}
	d.install(st)
	if snap.Version > d.version {
		d.version = snap.Version
	}
	d.commit(Change{Op: ChangeReplaced, NodeIDs: slices.Clone(st.nodeOrder), EdgeIDs: slices.Clone(st.edgeOrder)})
	return nil
}

type decodedState struct {
	nodes     map[string]*Node
	nodeOrder []string
	edges     map[string]*Edge
	edgeOrder []string
	viewport  Viewport
}

func corrupt(format string, args ...any) error {
	return types.Errorf(types.ErrCorruptDocument, format, args...)
}

func (d *Document) decode(snap Snapshot) (*decodedState, error) {
	st := &decodedState{
		nodes:    make(map[string]*Node, len(snap.Nodes)),
		edges:    make(map[string]*Edge, len(snap.Edges)),
		viewport: DefaultViewport(),
	}

	for i, in := range snap.Nodes {
		if in.ID == "" {
			return nil, corrupt("node #%d has no id", i)
		}
		if !ValidIDPart(in.ID) {
			return nil, corrupt("node id %q must not contain any of %q", in.ID, EdgeIDSeparators)
		}
		if _, dup := st.nodes[in.ID]; dup {
			return nil, corrupt("duplicate node id %q", in.ID)
		}
		spec, ok := d.registry.Lookup(in.Kind)
		if !ok {
			return nil, corrupt("node %q has unknown kind %q", in.ID, in.Kind)
		}
		if !in.Position.IsFinite() {
			return nil, corrupt("node %q has non-finite position", in.ID)
		}

		n := in.clone()
		if n.Role == "" {
			n.Role = spec.Role
		} else if n.Role != spec.Role {
			return nil, corrupt("node %q role %q does not match kind %q", n.ID, n.Role, spec.Name)
		}
		if len(n.Handles) == 0 {
			n.Handles = slices.Clone(spec.Handles)
		} else if !slices.Equal(n.Handles, spec.Handles) {
			return nil, corrupt("node %q handles %v do not match kind %q", n.ID, n.Handles, spec.Name)
		}
		if err := ValidateNodeData(spec, n.Data); err != nil {
			return nil, types.Errorf(types.ErrCorruptDocument, "node %q", n.ID).WithCause(err)
		}

		st.nodes[n.ID] = &n
		st.nodeOrder = append(st.nodeOrder, n.ID)
	}

	for i, in := range snap.Edges {
		src, ok := st.nodes[in.Source]
		if !ok {
			return nil, corrupt("edge #%d references missing source %q", i, in.Source)
		}
		dst, ok := st.nodes[in.Target]
		if !ok {
			return nil, corrupt("edge #%d references missing target %q", i, in.Target)
		}
		want := EdgeID(in.Source, in.SourceHandle, in.Target, in.TargetHandle)
		if in.ID != "" && in.ID != want {
			return nil, corrupt("edge id %q does not match its endpoints (want %q)", in.ID, want)
		}
		if _, dup := st.edges[want]; dup {
			return nil, corrupt("duplicate edge id %q", want)
		}
		if err := checkEdge(src, dst, in.SourceHandle, in.TargetHandle, st.edges); err != nil {
			return nil, types.Errorf(types.ErrCorruptDocument, "edge %q", want).WithCause(err)
		}
		e := in
		e.ID = want
		st.edges[e.ID] = &e
		st.edgeOrder = append(st.edgeOrder, e.ID)
	}

	if snap.Viewport != nil {
		if err := snap.Viewport.Validate(); err != nil {
			return nil, types.NewError(types.ErrCorruptDocument, "invalid viewport").WithCause(err)
		}
		st.viewport = *snap.Viewport
	}
	return st, nil
}

func (d *Document) install(st *decodedState) {
	d.nodes = st.nodes
	d.nodeOrder = st.nodeOrder
	d.edges = st.edges
	d.edgeOrder = st.edgeOrder
	d.viewport = st.viewport
	for _, id := range st.nodeOrder {
		d.ids.Reserve(id)
	}
}

// EncodeJSON writes a snapshot as indented JSON.
func EncodeJSON(snap Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot to JSON: %w", err)
	}
	return data, nil
}

// DecodeJSON parses a JSON snapshot. Structural validation happens in Deserialize.
func DecodeJSON(data []byte) (Snapshot, error) {
	var snap Snapshot
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return Snapshot{}, types.NewError(types.ErrCorruptDocument, "malformed JSON snapshot").WithCause(err)
	}
	return snap, nil
}

// EncodeYAML writes a snapshot as YAML.
func EncodeYAML(snap Snapshot) ([]byte, error) {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot to YAML: %w", err)
	}
	return data, nil
}

// DecodeYAML parses a YAML snapshot.
func DecodeYAML(data []byte) (Snapshot, error) {
	var snap Snapshot
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&snap); err != nil {
		return Snapshot{}, types.NewError(types.ErrCorruptDocument, "malformed YAML snapshot").WithCause(err)
	}
	return snap, nil
}

// SeedSnapshot is the starter graph shown for a new workflow.
func SeedSnapshot() Snapshot {
	return Snapshot{
		Nodes: []Node{
			{ID: "1", Kind: "input", Label: "Node 1", Position: Point{X: 250, Y: 5}},
			{ID: "2", Kind: "default", Label: "Node 2", Position: Point{X: 100, Y: 100}},
			{ID: "3", Kind: "default", Label: "Node 3", Position: Point{X: 400, Y: 100}},
			{ID: "4", Kind: "op", Label: "Node 4", Position: Point{X: 400, Y: 200}},
		},
		Edges: []Edge{
			{ID: "e1-2", Source: "1", Target: "2"},
			{ID: "e1-3", Source: "1", Target: "3"},
		},
	}
}
