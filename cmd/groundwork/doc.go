// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 Groundwork 服务端程序入口。

# 概述

cmd/groundwork 装配检索、术语锚点、对话编排与诊断日志，提供
HTTP API 服务以及迁移、向量修复、术语漂移、锚点导入等维护子命令。

# 核心类型

  - App：serve 命令的依赖容器，负责装配与逆序关闭
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、migrate、repair-embeddings、glossary-drift、anchors、health、version
  - 中间件链：Recovery、RequestID、OTelTracing、SecurityHeaders、Metrics、
    RequestLogger、CORS、RateLimiter（基于 IP）、Authenticate（X-API-Key / HS256 JWT）
  - 配置热重载：检索参数（glossary_min_score、boost_increment、top_n）无需重启
  - Metrics 服务器：独立端口暴露 /metrics（Prometheus）
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
