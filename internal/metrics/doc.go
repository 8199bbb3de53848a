// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、编辑器会话、文档存储、缓存与数据库。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制。所有指标按 namespace 隔离。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - 编辑器指标：意图总数与耗时（按 type/outcome）、文档变更计数（按 op）、
    活跃会话数、WebSocket 连接数、丢弃的变更通知。
  - 存储指标：按 backend/operation 分组的操作耗时与失败计数。
  - 缓存与数据库指标：命中/未命中计数，连接池 Gauge。
*/
package metrics
