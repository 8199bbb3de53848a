// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 FlowCanvas HTTP API 的请求处理器实现。

# 概述

handlers 包实现了编辑器所有 HTTP 端点的请求处理逻辑，
包括节点调色板、工作流文档读写、交互意图、实时编辑 WebSocket、
健康检查以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口，路径参数通过 r.PathValue 读取。

# 核心类型

  - PaletteHandler      — 节点调色板（GET /api/v1/palette）
  - WorkflowHandler     — 文档快照、替换、删除、意图、保存与导出
  - EditorSocketHandler — 实时编辑，推送 snapshot/change/result 消息
  - HealthHandler       — 服务健康检查（/health, /healthz, /ready, /version）
  - Response            — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo           — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter      — 包装 http.ResponseWriter 以捕获状态码，支持 Hijack

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteErr / WriteJSON
  - 请求验证：DecodeJSONBody（1 MB 限制 + 严格模式）、ValidateContentType
  - ErrorCode → HTTP 状态码映射（HTTPStatus）
  - 被拒绝的意图仍返回结果与当前快照
  - 每连接意图限流（golang.org/x/time/rate）
  - 可扩展健康检查：RegisterCheck 注册 HealthCheck 实现
*/
package handlers
