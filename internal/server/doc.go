// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 HTTP 服务器的启动与优雅关闭。

Manager 非阻塞启动，监听 SIGINT/SIGTERM 或上下文取消后关闭。关闭顺序为：
停止接收并排空普通请求，取消所有请求共享的基础 context，等待已升级的
WebSocket 连接退出，最后按注册顺序执行 OnShutdown 钩子（编辑器在这里
保存未落盘的会话）。整个过程受 Config.ShutdownTimeout 约束。
*/
package server
