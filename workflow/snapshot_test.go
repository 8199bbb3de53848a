package workflow

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowcanvas/types"
)

func buildSampleDocument(t *testing.T) *Document {
	t.Helper()
	d, err := Deserialize(SeedSnapshot(), DefaultRegistry())
	require.NoError(t, err)

	llm := addNode(t, d, "ChatGPT 4", 600, 200)
	_, err = d.Connect(ConnectRequest{Source: "4", SourceHandle: "a", Target: llm.ID})
	require.NoError(t, err)
	require.NoError(t, d.SetViewport(Viewport{X: -40, Y: 12.5, Zoom: 0.75}))
	return d
}

func TestSeedSnapshot_Loads(t *testing.T) {
	d, err := Deserialize(SeedSnapshot(), DefaultRegistry())
	require.NoError(t, err)

	assert.Equal(t, 4, d.NodeCount())
	assert.Equal(t, 2, d.EdgeCount())

	input, _ := d.Node("1")
	assert.Equal(t, RoleInput, input.Role)
	op, _ := d.Node("4")
	assert.Equal(t, []string{"a", "b"}, op.Handles)
	_, ok := d.Edge("e1-2")
	assert.True(t, ok)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	d := buildSampleDocument(t)
	snap := d.Snapshot()

	loaded, err := Deserialize(snap, DefaultRegistry())
	require.NoError(t, err)

	assert.ElementsMatch(t, d.Nodes(), loaded.Nodes())
	assert.ElementsMatch(t, d.Edges(), loaded.Edges())
	assert.Equal(t, d.Viewport(), loaded.Viewport())
	assert.Equal(t, d.Version(), loaded.Version())
}

func TestSnapshot_JSONAndYAMLCodecs(t *testing.T) {
	d := buildSampleDocument(t)
	snap := d.Snapshot()

	jsonData, err := EncodeJSON(snap)
	require.NoError(t, err)
	fromJSON, err := DecodeJSON(jsonData)
	require.NoError(t, err)
	assert.Equal(t, snap, fromJSON)

	yamlData, err := EncodeYAML(snap)
	require.NoError(t, err)
	assert.Contains(t, string(yamlData), "source_handle: a")
	fromYAML, err := DecodeYAML(yamlData)
	require.NoError(t, err)
	assert.Equal(t, snap, fromYAML)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := DecodeJSON([]byte(`{"nodes": [`))
	assert.True(t, types.IsCode(err, types.ErrCorruptDocument))

	_, err = DecodeJSON([]byte(`{"nodes": [], "mystery": 1}`))
	assert.True(t, types.IsCode(err, types.ErrCorruptDocument))

	_, err = DecodeYAML([]byte("nodes: [\n"))
	assert.True(t, types.IsCode(err, types.ErrCorruptDocument))
}

func TestDeserialize_RejectsCorrupt(t *testing.T) {
	node := func(id, kind string) Node { return Node{ID: id, Kind: kind, Label: id} }

	tests := []struct {
		name string
		snap Snapshot
	}{
		{
			name: "dangling target",
			snap: Snapshot{Nodes: []Node{node("a", "default")}, Edges: []Edge{{Source: "a", Target: "ghost"}}},
		},
		{
			name: "dangling source",
			snap: Snapshot{Nodes: []Node{node("a", "default")}, Edges: []Edge{{Source: "ghost", Target: "a"}}},
		},
		{
			name: "duplicate node id",
			snap: Snapshot{Nodes: []Node{node("a", "default"), node("a", "default")}},
		},
		{
			name: "duplicate edge",
			snap: Snapshot{
				Nodes: []Node{node("a", "default"), node("b", "default")},
				Edges: []Edge{{Source: "a", Target: "b"}, {Source: "a", Target: "b"}},
			},
		},
		{
			name: "edge id does not match endpoints",
			snap: Snapshot{
				Nodes: []Node{node("a", "default"), node("b", "default")},
				Edges: []Edge{{ID: "custom", Source: "a", Target: "b"}},
			},
		},
		{
			name: "self loop",
			snap: Snapshot{Nodes: []Node{node("a", "default")}, Edges: []Edge{{Source: "a", Target: "a"}}},
		},
		{
			name: "unknown kind",
			snap: Snapshot{Nodes: []Node{node("a", "teleporter")}},
		},
		{
			name: "empty id",
			snap: Snapshot{Nodes: []Node{node("", "default")}},
		},
		{
			name: "node id with edge id separator",
			snap: Snapshot{
				Nodes: []Node{node("1", "default"), node("2-3", "default")},
				Edges: []Edge{{Source: "1", Target: "2-3"}},
			},
		},
		{
			name: "node id with handle separator",
			snap: Snapshot{Nodes: []Node{node("1:a", "default")}},
		},
		{
			name: "non-finite position",
			snap: Snapshot{Nodes: []Node{{ID: "a", Kind: "default", Position: Point{X: math.NaN()}}}},
		},
		{
			name: "payload for wrong variant",
			snap: Snapshot{Nodes: []Node{{ID: "a", Kind: "循环", Data: &NodeData{Merge: &MergeData{}}}}},
		},
		{
			name: "role mismatch",
			snap: Snapshot{Nodes: []Node{{ID: "a", Kind: "input", Role: RoleOutput}}},
		},
		{
			name: "bad viewport",
			snap: Snapshot{Viewport: &Viewport{Zoom: -1}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Deserialize(tt.snap, DefaultRegistry())
			require.Error(t, err)
			assert.Nil(t, d)
			assert.Equal(t, types.ErrCorruptDocument, types.GetErrorCode(err))
		})
	}
}

func TestDocument_Replace(t *testing.T) {
	d := newTestDocument(t)
	addNode(t, d, "default", 0, 0)
	addNode(t, d, "default", 0, 0)

	var ops []ChangeOp
	d.Subscribe(func(c Change) { ops = append(ops, c.Op) })

	bad := Snapshot{Nodes: []Node{{ID: "x", Kind: "default"}}, Edges: []Edge{{Source: "x", Target: "y"}}}
	require.Error(t, d.Replace(bad))
	assert.Equal(t, 2, d.NodeCount())
	assert.Empty(t, ops)

	before := d.Version()
	require.NoError(t, d.Replace(SeedSnapshot()))
	assert.Equal(t, 4, d.NodeCount())
	assert.Greater(t, d.Version(), before)
	assert.Equal(t, []ChangeOp{ChangeReplaced}, ops)

	// generator keeps counting past ids handed out before the replace
	n := addNode(t, d, "default", 0, 0)
	assert.Equal(t, "node_2", n.ID)
}
