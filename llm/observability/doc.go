// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 observability 为 chat completion 调用提供 OpenTelemetry 指标与追踪。

# 核心类型

  - Metrics：基于 OpenTelemetry Meter 的请求数、Token 数、错误数、
    延迟直方图与活跃请求计数。
  - InstrumentedProvider：包装 llm.Provider，每次 Completion
    产生一个 llm.completion client span，并同步汇报给 Recorder
    （服务端为 prometheus Collector）。
*/
package observability
