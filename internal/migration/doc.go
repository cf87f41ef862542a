// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 migration 基于 golang-migrate 管理 gw_ 系列表的 Schema，支持
PostgreSQL、MySQL 与 SQLite。

# 概述

各方言的 SQL 文件通过 embed.FS 内嵌：000001 建立助手、文档、分块、
分块锚点关联与术语锚点表；000002 建立诊断日志与回放表，并用触发器
拒绝 UPDATE，保证日志只追加。

# 核心类型

  - Migrator / DefaultMigrator：Up/Down/DownAll/Reset/Steps/Goto/Force/
    Version/Status/Info/Close。
  - NewMigratorWithDB：复用已有 *sql.DB，sqlite 连接使用 glebarez 纯 Go 驱动。
  - CLI：面向终端的格式化输出，供 groundwork migrate 子命令使用。
*/
package migration
