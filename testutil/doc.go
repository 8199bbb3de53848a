// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package testutil 提供 FlowCanvas 测试的共享工具和辅助函数。

# 概述

testutil 包为 API 与命令行层的测试提供统一的编辑会话构造与意图回放，
避免各包重复实现相似的测试基础设施。

# 核心能力

  - 上下文辅助: TestContext / TestContextWithTimeout，自动注册 Cleanup 防止泄漏
  - 编辑会话: EditorConfig / NewSessionManager，关闭自动保存与空闲回收
  - 意图回放: ApplyAll 依次应用意图，拒绝即失败
  - 通用工具: WaitForChannel / MustJSON

# 子包

  - testutil/fixtures: 示例快照、线性图、违反不变量的快照，
    以及画布初始化、拖放、连线等意图序列

internal/session 自身的测试不能导入本包（会形成循环依赖），
fixtures 子包只依赖 workflow，可被任意包使用。
*/
package testutil
