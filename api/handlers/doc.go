// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 Groundwork HTTP API 的请求处理器实现。

# 核心类型

  - ChatHandler：检索增强对话（?debug=true 返回检索与 prompt 并写诊断日志）与纯检索
  - AnchorHandler：术语锚点列表、查询、更新与阶段推进（后退返回 409）
  - DiagnosticsHandler：诊断日志查询、锚点漂移报告、websocket 实时推送
  - HealthHandler：/health、/healthz、/ready、/version
  - Response：统一 JSON 响应结构（success + data + error + timestamp + request_id）
  - ResponseWriter：捕获状态码与响应大小，供日志与指标中间件使用

# 错误映射

WriteErrorFrom 将 types.Error 按错误码映射为 HTTP 状态码，rag.ErrNotFound
映射为 404，*rag.StageRegressionError 映射为 409，其余错误统一为 500 且不
暴露内部原因。
*/
package handlers
