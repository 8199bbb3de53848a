package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestIDGenerator_Sequence(t *testing.T) {
	g := NewIDGenerator("")
	assert.Equal(t, "node_0", g.Next())
	assert.Equal(t, "node_1", g.Next())
	assert.Equal(t, DefaultIDPrefix, g.Prefix())
}

func TestIDGenerator_PrefixWithSeparatorFallsBack(t *testing.T) {
	for _, prefix := range []string{"n-", "n:", "-"} {
		g := NewIDGenerator(prefix)
		assert.Equal(t, DefaultIDPrefix, g.Prefix(), prefix)
		assert.True(t, ValidIDPart(g.Next()))
	}
	assert.Equal(t, "step_", NewIDGenerator("step_").Prefix())
}

func TestIDGenerator_Reserve(t *testing.T) {
	tests := []struct {
		name    string
		reserve []string
		want    string
	}{
		{name: "foreign id ignored", reserve: []string{"1", "e1-2"}, want: "node_0"},
		{name: "numeric suffix advances", reserve: []string{"node_7"}, want: "node_8"},
		{name: "lower suffix keeps counter", reserve: []string{"node_7", "node_3"}, want: "node_8"},
		{name: "non numeric suffix ignored", reserve: []string{"node_x"}, want: "node_0"},
		{name: "bare prefix ignored", reserve: []string{"node_"}, want: "node_0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewIDGenerator(DefaultIDPrefix)
			for _, id := range tt.reserve {
				g.Reserve(id)
			}
			assert.Equal(t, tt.want, g.Next())
		})
	}
}

func TestIDGenerator_SessionsAreIndependent(t *testing.T) {
	a := NewIDGenerator(DefaultIDPrefix)
	b := NewIDGenerator(DefaultIDPrefix)
	a.Next()
	a.Next()
	assert.Equal(t, "node_0", b.Next())
}

func TestProperty_IDGenerator_Distinct(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		g := NewIDGenerator(DefaultIDPrefix)
		n := rapid.IntRange(1, 500).Draw(rt, "n")
		reserved := rapid.SliceOfN(rapid.IntRange(0, 1000), 0, 5).Draw(rt, "reserved")

		seen := make(map[string]struct{}, n)
		for _, r := range reserved {
			id := g.Prefix() + itoa(r)
			g.Reserve(id)
			seen[id] = struct{}{}
		}
		for i := 0; i < n; i++ {
			id := g.Next()
			if _, dup := seen[id]; dup {
				rt.Fatalf("id %s generated twice", id)
			}
			seen[id] = struct{}{}
		}
	})
}

func TestProperty_EdgeID_DistinctPairs(t *testing.T) {
	part := rapid.StringMatching(`[a-z0-9_]{1,4}`)
	handle := rapid.OneOf(rapid.Just(""), part)
	rapid.Check(t, func(rt *rapid.T) {
		a := [4]string{part.Draw(rt, "src"), handle.Draw(rt, "srcHandle"), part.Draw(rt, "dst"), handle.Draw(rt, "dstHandle")}
		b := [4]string{part.Draw(rt, "src2"), handle.Draw(rt, "srcHandle2"), part.Draw(rt, "dst2"), handle.Draw(rt, "dstHandle2")}
		if a == b {
			return
		}
		if EdgeID(a[0], a[1], a[2], a[3]) == EdgeID(b[0], b[1], b[2], b[3]) {
			rt.Fatalf("%v and %v share edge id %s", a, b, EdgeID(a[0], a[1], a[2], a[3]))
		}
	})
}

func TestValidIDPart(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"node_12", true},
		{"4", true},
		{"", false},
		{"2-3", false},
		{"1:a", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidIDPart(tt.in), tt.in)
	}
}
