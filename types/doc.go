// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 FlowCanvas 编辑器的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、api、internal
等上层模块提供统一的错误码与 Context 传播契约，以避免循环依赖。

# 核心接口与类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码与底层 Cause

# 主要能力

  - 错误码：INVALID_CONNECTION / UNKNOWN_KIND / CORRUPT_DOCUMENT / NOT_FOUND 等
  - 错误工具链：NewError / Errorf / WrapError / AsError / IsCode
  - Context 传播：WithTraceID / WithRequestID / WithWorkflowID / WithSessionID
*/
package types
