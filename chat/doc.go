// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package chat 负责一轮对话的编排：检索分块，按 token 预算组装带
// "# Retrieved Context:" 与 "# Glossary Reference:" 段的系统提示词，
// 调用 LLM，并在调试模式下写入诊断与回放日志。
package chat
