// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 提供基于 GORM 的数据库连接与连接池，工作流文档的数据库
存储后端与迁移命令都构建于其上。

Open 按驱动名（postgres、mysql、sqlite）建立连接，sqlite 采用纯 Go 实现。
Pool 应用连接池参数，后台定时探活并通过 StatsReporter 上报连接数。

InTxRetry 只重试瞬时冲突。Retryable 优先按驱动错误类型判断：
pgconn.PgError 的 SQLSTATE、MySQLError 的错误号以及 driver.ErrBadConn；
sqlite 忙等没有类型的错误按消息匹配。
*/
package database
