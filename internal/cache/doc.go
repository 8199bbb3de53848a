// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的版本化快照缓存。

每个键保存为一个 hash（v 版本号，d 内容）。Put 通过 Lua 脚本原子地比较
版本，只接受不低于当前缓存版本的写入，因此并发的读回填不会把新保存的
快照替换成旧的。

Manager 可以自建连接（NewManager），也可以复用 Redis 存储后端的客户端
（NewManagerWithClient），后者关闭时不会断开共享连接。

错误：ErrCacheMiss 表示键不存在，ErrCorruptEntry 表示条目无法解析，
ErrClosed 表示管理器已关闭。
*/
package cache
