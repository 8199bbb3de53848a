// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供可视化工作流编辑器的图编辑模型与交互协议。

# 概述

workflow 包实现了 FlowCanvas 的编辑核心：节点与连线的创建、标识、连接、
移动与删除，以及把画布上的拖放/指针事件翻译为文档变更的手势状态机。
核心是单写者模型，每个编辑会话独占一个 Document，变更后以不可变快照
通知订阅者，由渲染端（Render Adapter）只读消费。

# 核心接口与类型

  - IDGenerator        — 会话级节点 ID 生成器（node_<n>，支持 Reserve）
  - Registry           — 节点种类注册表（有序调色板分类 + 内置种类）
  - NodeData           — 按种类区分的节点数据变体（validator/v10 校验）
  - CoordinateMapper   — 屏幕坐标与图坐标互转（平移/缩放，可选网格吸附）
  - Document           — 图文档（节点、连线、视口、版本号、变更订阅）
  - Snapshot           — 文档快照，支持 JSON / YAML 编解码
  - Controller         — 交互手势状态机（调色板拖放、节点拖动、连线、选择删除）

# 主要能力

  - 不变量：连线端点必须存在、ID 唯一、坐标有限
  - 级联删除：DeleteNode 原子地移除节点及其所有关联连线
  - 反序列化校验：悬挂连线、重复 ID、非法坐标或数据一律 CORRUPT_DOCUMENT
  - 手势取消：任何手势取消后文档内容与手势开始前一致
*/
package workflow
