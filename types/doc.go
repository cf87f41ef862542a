// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 Groundwork 服务的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 rag、chat、llm、api
等上层模块提供统一的错误码与 Context 键。

# 核心类型

  - Error / ErrorCode：结构化错误体系，含 HTTP 状态码与 Retryable 标记
  - contextKey：Context 传播键（trace / request / tenant / assistant / session）

# 主要能力

  - 错误工具链：WrapError / AsError / IsErrorCode / IsRetryable
  - 常用错误构造：NewInvalidRequestError / NewNotFoundError / NewInternalError
*/
package types
