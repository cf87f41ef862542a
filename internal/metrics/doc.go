// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集，覆盖 HTTP、LLM、检索、
缓存与数据库。

# 核心类型

  - Collector：实现 rag.Observer，同时记录 HTTP 与 LLM 调用指标。

# 主要能力

  - 检索指标：按 fallback/reason 分组的检索计数与耗时、候选数分布。
  - 诊断日志写入成功/失败计数，embedding 失败计数，修复任务计数。
  - 缓存命中/未命中（CacheObserver 适配 embedding 缓存回调）。
  - 数据库连接池 Gauge。

指标通过 promauto.With 注册到传入的 Registerer，测试可使用独立 Registry。
*/
package metrics
