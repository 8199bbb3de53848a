// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 FlowCanvas 服务端程序入口。

# 概述

cmd/flowcanvas 是工作流画布编辑器的可执行入口，提供 HTTP/WebSocket API 服务、
数据库迁移、健康检查和版本查询等子命令。程序支持 YAML 配置文件 + 环境变量加载、
结构化日志（zap）、Prometheus 指标、OpenTelemetry 追踪，以及可切换的文档存储
（memory、file、redis、database，可选 Redis 读缓存）。

# 核心类型

  - Server      — 主服务器，管理 API 与 Metrics 双端口及优雅关闭
  - Middleware  — HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、migrate、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    RequestLogger、CORS、RateLimiter（基于 IP）、Metrics（按路由模式打标签）
  - 优雅关闭：信号监听 → 关闭 API 与 Metrics → 保存脏文档 → 关闭存储 → 关闭遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
