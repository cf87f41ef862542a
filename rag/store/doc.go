// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package store 提供基于 GORM 的检索仓储实现。
//
// 表结构与 migrations/ 下的 SQL 保持一致；诊断日志表为追加式，
// 模型上的 BeforeUpdate 钩子拒绝任何修改。
package store
