// Package config 提供 FlowCanvas 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（FLOWCANVAS_ 前缀）的顺序叠加，
// 最后经 validator 标签与跨字段规则校验。调色板分类只能在 YAML 中配置。
package config
