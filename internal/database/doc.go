// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 负责关系型存储的连接与连接池管理。

# 核心能力

  - Open / Dialector：按 driver 选择 postgres、mysql 或 sqlite（glebarez 纯 Go 驱动），
    GORM 日志通过 zap 输出慢查询。
  - PoolManager：连接池参数、后台健康检查（Close 时停止）、连接数回调、
    事务与可重试事务（死锁、序列化失败、sqlite busy）。
*/
package database
