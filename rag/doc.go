// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package rag 提供文档分块检索与术语锚点回退。

# 概述

检索器对助手作用域内已向量化的分块做暴力余弦打分，对命中查询锚点的
分块加分，过滤低 glossary_score 的术语块，并在主结果为空或被强制时
切换到锚点驱动的回退模式。每次检索的决策可写入追加式诊断日志。

# 核心类型

  - ChunkRetriever：GetRelevantChunks 负责打分、加分、排序、回退
  - BoostPolicy：锚点命中加分，封顶 1.0，不扣分
  - Anchor：术语锚点，阶段 unseen → exposed → acquired → reinforced 只进不退
  - GroundingLogger：诊断日志写入，失败只记录不返回
  - Feed：诊断记录实时广播
  - EmbeddingRepairer：修复 embedding_status 与向量不一致
  - DriftAnalyzer：锚点措辞漂移报告
  - MemoryStore：全部仓储接口的内存实现

# 主要能力

  - CosineSimilarity：维度不一致返回 *DimensionMismatchError
  - InferAnchors：基于 slug / label / alias 的查询锚点推断
  - 回退原因：no_documents / no_candidates / weak_glossary / forced
*/
package rag
