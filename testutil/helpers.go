// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供编辑会话、意图回放等通用测试辅助
//
// 使用方法:
//
//	m := testutil.NewSessionManager(t, store.NewMemoryStore())
//	snap := testutil.ApplyAll(t, m, "wf-1", fixtures.Drop("循环", 100, 80)...)
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/config"
	"github.com/BaSui01/flowcanvas/internal/session"
	"github.com/BaSui01/flowcanvas/internal/store"
	"github.com/BaSui01/flowcanvas/workflow"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t testing.TB) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t testing.TB, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// =============================================================================
// ✏️ 编辑会话
// =============================================================================

// EditorConfig 返回关闭自动保存与空闲回收的编辑器配置，测试结果不依赖时钟
func EditorConfig() config.EditorConfig {
	cfg := config.DefaultEditorConfig()
	cfg.AutosaveInterval = 0
	cfg.IdleTimeout = 0
	return cfg
}

// NewSessionManager 创建使用内置调色板的会话管理器，测试结束时关闭
func NewSessionManager(t testing.TB, st store.DocumentStore) *session.Manager {
	t.Helper()
	m := session.NewManager(st, workflow.DefaultRegistry(), EditorConfig(), nil, zap.NewNop())
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

// ApplyAll 依次应用意图，任一意图被拒绝即失败，返回最终快照
func ApplyAll(t testing.TB, m *session.Manager, id string, intents ...workflow.Intent) workflow.Snapshot {
	t.Helper()
	var snap workflow.Snapshot
	for i, in := range intents {
		res, s, err := m.Apply(TestContext(t), id, in)
		if err != nil {
			t.Fatalf("intent #%d (%s): %v", i, in.Type, err)
		}
		if res.Err != nil {
			t.Fatalf("intent #%d (%s) rejected: %v", i, in.Type, res.Err)
		}
		snap = s
	}
	return snap
}

// =============================================================================
// 🔧 通用工具
// =============================================================================

// MustJSON 序列化为 JSON，失败时 panic
func MustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
