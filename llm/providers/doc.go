// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
包 providers 提供模型服务商适配的公共辅助：HTTP 错误映射、错误体解析
与模型选择。具体实现位于子包（openaicompat）。
*/
package providers
