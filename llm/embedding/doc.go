// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 embedding 提供文本嵌入接口与 OpenAI 兼容实现，供检索（查询向量）
与向量修复（批量文档向量）使用。

# 核心类型

  - Provider：Embed / EmbedQuery / EmbedDocuments，满足 rag.Embedder
    与 rag.DocumentEmbedder。
  - BaseProvider：HTTP 请求、错误映射、批量切分与重试。
  - OpenAIProvider：POST /v1/embeddings。
  - CachedProvider：以 sha256(query) 为键在 Redis 中缓存查询向量，
    缓存故障时直接回源。
*/
package embedding
