package handlers

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowcanvas/api"
	"github.com/BaSui01/flowcanvas/internal/session"
	"github.com/BaSui01/flowcanvas/types"
	"github.com/BaSui01/flowcanvas/workflow"
)

// =============================================================================
// 🗂️ 工作流 Handler
// =============================================================================

// WorkflowHandler 工作流文档处理器
type WorkflowHandler struct {
	sessions *session.Manager
	logger   *zap.Logger
}

// NewWorkflowHandler 创建工作流处理器
func NewWorkflowHandler(sessions *session.Manager, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		sessions: sessions,
		logger:   logger.With(zap.String("handler", "workflow")),
	}
}

func workflowID(r *http.Request) string {
	return r.PathValue("id")
}

// HandleList 处理 GET /api/v1/workflows
// @Summary 已保存工作流摘要
// @Tags 工作流
// @Produce json
// @Success 200 {object} Response{data=[]api.WorkflowSummary}
// @Router /api/v1/workflows [get]
func (h *WorkflowHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.sessions.List(r.Context())
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	out := make([]api.WorkflowSummary, len(list))
	for i, s := range list {
		out[i] = api.WorkflowSummary{
			ID:        s.ID,
			Version:   s.Version,
			NodeCount: s.NodeCount,
			EdgeCount: s.EdgeCount,
			UpdatedAt: s.UpdatedAt,
		}
	}
	WriteSuccess(w, r, out)
}

// HandleGet 处理 GET /api/v1/workflows/{id}，首次访问时打开会话
// @Summary 当前快照
// @Tags 工作流
// @Produce json
// @Param id path string true "工作流 ID"
// @Success 200 {object} Response{data=workflow.Snapshot}
// @Failure 422 {object} Response "已保存的文档损坏"
// @Router /api/v1/workflows/{id} [get]
func (h *WorkflowHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := h.sessions.Snapshot(r.Context(), workflowID(r))
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, snap)
}

// HandleReplace 处理 PUT /api/v1/workflows/{id}，请求体为 JSON 或 YAML 快照
// @Summary 替换文档
// @Tags 工作流
// @Accept json
// @Accept x-yaml
// @Produce json
// @Param id path string true "工作流 ID"
// @Success 200 {object} Response{data=workflow.Snapshot}
// @Failure 400 {object} Response "请求体无法解析"
// @Failure 422 {object} Response "快照违反文档不变量"
// @Router /api/v1/workflows/{id} [put]
func (h *WorkflowHandler) HandleReplace(w http.ResponseWriter, r *http.Request) {
	var snap workflow.Snapshot
	switch mediaType(r) {
	case "application/yaml", "application/x-yaml", "text/yaml":
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			WriteError(w, r, types.NewError(types.ErrInvalidRequest, "failed to read body").WithCause(err), h.logger)
			return
		}
		if snap, err = workflow.DecodeYAML(data); err != nil {
			WriteErr(w, r, err, h.logger)
			return
		}
	default:
		if !ValidateContentType(w, r, h.logger) {
			return
		}
		if err := DecodeJSONBody(w, r, &snap, h.logger); err != nil {
			return
		}
	}

	out, err := h.sessions.Replace(r.Context(), workflowID(r), snap)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, out)
}

// HandleDelete 处理 DELETE /api/v1/workflows/{id}
// @Summary 删除已保存文档
// @Tags 工作流
// @Param id path string true "工作流 ID"
// @Success 204
// @Failure 404 {object} Response
// @Router /api/v1/workflows/{id} [delete]
func (h *WorkflowHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), workflowID(r)); err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleIntent 处理 POST /api/v1/workflows/{id}/intents
// 被控制器拒绝的意图仍返回结果与快照，状态码按错误码映射
// @Summary 应用交互意图
// @Tags 工作流
// @Accept json
// @Produce json
// @Param id path string true "工作流 ID"
// @Param intent body workflow.Intent true "意图"
// @Success 200 {object} Response{data=api.IntentResponse}
// @Failure 409 {object} Response{data=api.IntentResponse} "手势冲突或非法状态转换"
// @Router /api/v1/workflows/{id}/intents [post]
func (h *WorkflowHandler) HandleIntent(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var in workflow.Intent
	if err := DecodeJSONBody(w, r, &in, h.logger); err != nil {
		return
	}

	res, snap, err := h.sessions.Apply(r.Context(), workflowID(r), in)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}

	body := api.IntentResponse{Result: api.NewIntentResult(res), Snapshot: snap}
	if res.Err != nil {
		writeErrorWithData(w, r, ToAPIError(res.Err), body, h.logger)
		return
	}
	WriteSuccess(w, r, body)
}

// HandleSave 处理 POST /api/v1/workflows/{id}/save
// @Summary 立即保存
// @Tags 工作流
// @Produce json
// @Param id path string true "工作流 ID"
// @Success 200 {object} Response{data=api.SaveResponse}
// @Failure 503 {object} Response "存储不可用"
// @Router /api/v1/workflows/{id}/save [post]
func (h *WorkflowHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	id := workflowID(r)
	snap, err := h.sessions.Save(r.Context(), id)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	WriteSuccess(w, r, api.SaveResponse{ID: id, Version: snap.Version, SavedAt: time.Now().UTC()})
}

// HandleExport 处理 GET /api/v1/workflows/{id}/export?format=json|yaml
// @Summary 下载快照
// @Tags 工作流
// @Produce json
// @Produce x-yaml
// @Param id path string true "工作流 ID"
// @Param format query string false "json 或 yaml，默认 json"
// @Success 200 {file} file
// @Router /api/v1/workflows/{id}/export [get]
func (h *WorkflowHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	var (
		encode      func(workflow.Snapshot) ([]byte, error)
		contentType string
	)
	switch format {
	case "json":
		encode, contentType = workflow.EncodeJSON, "application/json; charset=utf-8"
	case "yaml":
		encode, contentType = workflow.EncodeYAML, "application/x-yaml; charset=utf-8"
	default:
		WriteError(w, r, types.Errorf(types.ErrInvalidRequest, "unsupported export format %q", format), h.logger)
		return
	}

	id := workflowID(r)
	snap, err := h.sessions.Snapshot(r.Context(), id)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}
	data, err := encode(snap)
	if err != nil {
		WriteErr(w, r, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, id, format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
