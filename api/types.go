package api

import (
	"time"

	"github.com/BaSui01/flowcanvas/types"
	"github.com/BaSui01/flowcanvas/workflow"
)

// =============================================================================
// 调色板类型
// =============================================================================

// PaletteResponse 节点调色板
// @Description 可拖拽到画布上的节点种类，按分类排列
type PaletteResponse struct {
	Categories []PaletteCategory `json:"categories"`
}

// PaletteCategory 调色板分类
type PaletteCategory struct {
	Name  string        `json:"name" example:"控制流"`
	Icon  string        `json:"icon,omitempty" example:"beaker"`
	Items []PaletteItem `json:"items"`
}

// PaletteItem 节点种类
type PaletteItem struct {
	Name    string   `json:"name" example:"条件判断"`
	Variant string   `json:"variant,omitempty" example:"branch"`
	Role    string   `json:"role,omitempty" example:"default"`
	Handles []string `json:"handles,omitempty"`
	Model   string   `json:"model,omitempty" example:"gpt-4"`
}

// NewPaletteResponse 从注册表构建调色板响应
func NewPaletteResponse(categories []workflow.Category) PaletteResponse {
	out := PaletteResponse{Categories: make([]PaletteCategory, 0, len(categories))}
	for _, c := range categories {
		pc := PaletteCategory{Name: c.Name, Icon: c.Icon, Items: make([]PaletteItem, 0, len(c.Items))}
		for _, k := range c.Items {
			pc.Items = append(pc.Items, PaletteItem{
				Name:    k.Name,
				Variant: string(k.Variant),
				Role:    string(k.Role),
				Handles: k.Handles,
				Model:   k.Model,
			})
		}
		out.Categories = append(out.Categories, pc)
	}
	return out
}

// =============================================================================
// 工作流类型
// =============================================================================

// WorkflowSummary 已保存工作流摘要
type WorkflowSummary struct {
	ID        string    `json:"id" example:"wf-1"`
	Version   uint64    `json:"version" example:"12"`
	NodeCount int       `json:"node_count" example:"4"`
	EdgeCount int       `json:"edge_count" example:"2"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IntentResult 单个意图的处理结果
// @Description 控制器状态、是否修改了文档，以及被拒绝时的错误
type IntentResult struct {
	State   workflow.Gesture `json:"state"`
	Changed bool             `json:"changed"`
	Error   *IntentError     `json:"error,omitempty"`
}

// IntentError 意图被拒绝的原因
type IntentError struct {
	Code    string `json:"code" example:"INVALID_CONNECTION"`
	Message string `json:"message"`
}

// NewIntentResult 将控制器结果转换为线上格式
func NewIntentResult(res workflow.Result) IntentResult {
	out := IntentResult{State: res.State, Changed: res.Changed}
	if res.Err != nil {
		e := &IntentError{Code: string(types.ErrInternalError), Message: res.Err.Error()}
		if te, ok := types.AsError(res.Err); ok {
			e.Code = string(te.Code)
			e.Message = te.Message
		}
		out.Error = e
	}
	return out
}

// IntentResponse POST /intents 的响应
type IntentResponse struct {
	Result   IntentResult      `json:"result"`
	Snapshot workflow.Snapshot `json:"snapshot"`
}

// SaveResponse POST /save 的响应
type SaveResponse struct {
	ID      string    `json:"id"`
	Version uint64    `json:"version"`
	SavedAt time.Time `json:"saved_at"`
}

// =============================================================================
// WebSocket 消息
// =============================================================================

// 客户端消息类型
const (
	ClientIntent = "intent"
	ClientResync = "resync"
)

// 服务端消息类型
const (
	ServerSnapshot = "snapshot"
	ServerChange   = "change"
	ServerResult   = "result"
	ServerError    = "error"
)

// ClientMessage 客户端发送的消息
type ClientMessage struct {
	Type      string           `json:"type"`
	RequestID string           `json:"request_id,omitempty"`
	Intent    *workflow.Intent `json:"intent,omitempty"`
}

// ServerMessage 服务端推送的消息，按 Type 只填充对应字段
type ServerMessage struct {
	Type      string             `json:"type"`
	RequestID string             `json:"request_id,omitempty"`
	Version   uint64             `json:"version"`
	Snapshot  *workflow.Snapshot `json:"snapshot,omitempty"`
	Change    *ChangeEvent       `json:"change,omitempty"`
	Result    *IntentResult      `json:"result,omitempty"`
	Error     *IntentError       `json:"error,omitempty"`
}

// ChangeEvent 文档变更，携带变更后的完整快照
type ChangeEvent struct {
	Op       workflow.ChangeOp `json:"op"`
	NodeIDs  []string          `json:"node_ids,omitempty"`
	EdgeIDs  []string          `json:"edge_ids,omitempty"`
	Snapshot workflow.Snapshot `json:"snapshot"`
}

// NewChangeMessage 将文档变更转换为推送消息
func NewChangeMessage(ch workflow.Change) ServerMessage {
	return ServerMessage{
		Type:    ServerChange,
		Version: ch.Version,
		Change: &ChangeEvent{
			Op:       ch.Op,
			NodeIDs:  ch.NodeIDs,
			EdgeIDs:  ch.EdgeIDs,
			Snapshot: ch.Snapshot,
		},
	}
}
