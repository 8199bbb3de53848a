// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 管理工作流文档表 workflow_documents 的 Schema 迁移，
支持 PostgreSQL、MySQL 与 SQLite，基于 golang-migrate 实现。

# 概述

各方言的 SQL 迁移文件通过 embed.FS 内嵌。迁移器运行在已打开的
*sql.DB 之上，连接由 internal/database 按驱动名创建，因此 SQLite
与文档存储使用同一个纯 Go 驱动。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/DownAll/Goto/Force/Version/Status/Info。
  - MigrationStatus / MigrationInfo：单个迁移状态与汇总。
  - CLI：flowcanvas migrate 子命令的格式化输出层。

# 工厂函数

  - NewMigratorFromConfig：从 config.DatabaseConfig 创建。
  - NewMigratorFromDSN：从方言与 DSN 创建。

当 database.auto_migrate 关闭时，部署前需执行 flowcanvas migrate up。
*/
package migration
