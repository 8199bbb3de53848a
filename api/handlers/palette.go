package handlers

import (
	"net/http"

	"github.com/BaSui01/flowcanvas/api"
	"github.com/BaSui01/flowcanvas/workflow"
)

// PaletteHandler 调色板处理器
type PaletteHandler struct {
	palette api.PaletteResponse
}

// NewPaletteHandler 创建调色板处理器；注册表只读，响应在创建时构建
func NewPaletteHandler(registry *workflow.Registry) *PaletteHandler {
	return &PaletteHandler{palette: api.NewPaletteResponse(registry.Categories())}
}

// HandlePalette 处理 GET /api/v1/palette
// @Summary 节点调色板
// @Tags 编辑器
// @Produce json
// @Success 200 {object} Response{data=api.PaletteResponse}
// @Router /api/v1/palette [get]
func (h *PaletteHandler) HandlePalette(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, r, h.palette)
}
