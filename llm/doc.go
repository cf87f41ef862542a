// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 定义聊天补全的统一请求/响应模型与 Provider 接口。

# 子包

  - providers/openaicompat：OpenAI 兼容的 HTTP 实现
  - embedding：向量模型接入，可选 Redis 缓存
  - tokenizer：tiktoken 计数器，不可用时回退到字符估算
  - retry：指数退避重试
  - observability：为 Provider 包装 OpenTelemetry 指标与 span

上层（chat 包）只依赖 Provider，测试中用桩实现替换。
*/
package llm
