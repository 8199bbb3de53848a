// Package fixtures provides workflow documents and intent sequences for tests.
package fixtures

import (
	"fmt"

	"github.com/BaSui01/flowcanvas/workflow"
)

// =============================================================================
// 📄 文档快照
// =============================================================================

// Snapshot 返回带视口的示例图，版本为 version
func Snapshot(version uint64) workflow.Snapshot {
	snap := workflow.SeedSnapshot()
	snap.Version = version
	snap.Viewport = &workflow.Viewport{X: -40, Y: 12.5, Zoom: 1.25}
	return snap
}

// Chain 返回 n 个节点首尾相连的线性图：input → default… → output
func Chain(n int) workflow.Snapshot {
	var snap workflow.Snapshot
	for i := range n {
		kind := "default"
		switch {
		case i == 0:
			kind = "input"
		case i == n-1:
			kind = "output"
		}
		snap.Nodes = append(snap.Nodes, workflow.Node{
			ID:       fmt.Sprintf("n%d", i),
			Kind:     kind,
			Label:    fmt.Sprintf("Node %d", i),
			Position: workflow.Point{X: float64(i) * 150, Y: 100},
		})
		if i > 0 {
			src, dst := fmt.Sprintf("n%d", i-1), fmt.Sprintf("n%d", i)
			snap.Edges = append(snap.Edges, workflow.Edge{
				ID:     workflow.EdgeID(src, "", dst, ""),
				Source: src,
				Target: dst,
			})
		}
	}
	return snap
}

// Corrupt 返回违反文档不变量的快照，按违反的规则命名
func Corrupt() map[string]workflow.Snapshot {
	dangling := workflow.SeedSnapshot()
	dangling.Edges = append(dangling.Edges, workflow.Edge{ID: "dangling", Source: "1", Target: "missing"})

	duplicateNode := workflow.SeedSnapshot()
	duplicateNode.Nodes = append(duplicateNode.Nodes, duplicateNode.Nodes[0])

	selfLoop := workflow.SeedSnapshot()
	selfLoop.Edges = append(selfLoop.Edges, workflow.Edge{Source: "2", Target: "2"})

	unknownKind := workflow.SeedSnapshot()
	unknownKind.Nodes[1].Kind = "teleporter"

	return map[string]workflow.Snapshot{
		"dangling edge":  dangling,
		"duplicate node": duplicateNode,
		"self loop":      selfLoop,
		"unknown kind":   unknownKind,
	}
}

// =============================================================================
// 🖱️ 意图序列
// =============================================================================

// ReadyCanvas 初始化画布尺寸，之后的坐标才能映射到图坐标
func ReadyCanvas(width, height float64) []workflow.Intent {
	return []workflow.Intent{
		{Type: workflow.IntentSetBounds, Bounds: &workflow.Rect{Width: width, Height: height}},
	}
}

// Drop 从调色板拖入 kind 并在屏幕坐标 (x, y) 放下
func Drop(kind string, x, y float64) []workflow.Intent {
	return []workflow.Intent{
		{Type: workflow.IntentPaletteDragStart, Kind: kind},
		{Type: workflow.IntentCanvasDragOver, Point: &workflow.Point{X: x, Y: y}},
		{Type: workflow.IntentCanvasDrop, Point: &workflow.Point{X: x, Y: y}},
	}
}

// Connect 从 source 的 handle 拖线到 target
func Connect(source, handle, target string) []workflow.Intent {
	return []workflow.Intent{
		{Type: workflow.IntentConnectionPointerDown, NodeID: source, Handle: handle},
		{Type: workflow.IntentConnectionPointerUp, NodeID: target},
	}
}
