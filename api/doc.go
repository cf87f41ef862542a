// Package api 定义 Groundwork HTTP API 的请求与响应结构。
//
// # API Overview
//
//   - POST /api/v1/assistants/{id}/chat[?debug=true]  检索增强对话
//   - POST /api/v1/assistants/{id}/retrieve           只执行检索
//   - GET  /api/v1/anchors, PUT /api/v1/anchors/{slug}, POST /api/v1/anchors/{slug}/stage
//   - GET  /api/v1/diagnostics/grounding-logs, /api/v1/diagnostics/grounding-logs/{id}
//   - GET  /api/v1/diagnostics/stream              websocket 实时诊断
//   - GET  /api/v1/diagnostics/drift
//   - GET  /health, /healthz, /ready, /version
//
// # Authentication
//
// 配置 server.api_keys 后需携带 X-API-Key 头；配置 server.jwt.secret 后
// 也接受 Authorization: Bearer <token>。
package api
