// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 提供基于 Redis 的缓存管理，当前用于查询向量缓存。

# 核心类型

  - Manager：持有 go-redis 客户端，提供 Get/Set/GetJSON/SetJSON/Delete，
    统计命中率，并可选后台 Ping 健康检查。
  - Config：地址、密码、连接池与默认 TTL，可由 config.RedisConfig 转换。

未命中返回 ErrCacheMiss；Close 会停止健康检查协程。
*/
package cache
