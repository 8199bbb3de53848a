// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 store 提供工作流文档的持久化边界 DocumentStore。

# 后端

  - memory   进程内存，默认后端
  - file     每个文档一个 JSON/YAML 文件，先写临时文件再原子重命名
  - redis    JSON 值 + id 集合索引
  - database gorm（postgres、mysql、sqlite），表 workflow_documents

# 装饰器

CachedStore 在任意后端前加 Redis 读穿/写穿缓存，缓存故障只记录日志。
InstrumentedStore 为每次调用加超时、链路追踪与 Prometheus 指标，
并把基础设施错误包装为 STORE_UNAVAILABLE。

New 根据 config.Store 组装完整的存储链。
*/
package store
