// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

// Package config 提供 Groundwork 的配置管理功能。
//
// 包含配置加载（默认值、.env、YAML、环境变量）、校验，
// 以及基于 fsnotify 的配置文件热重载。检索参数
// （glossary_min_score / boost_increment / top_n）集中定义在 RetrievalConfig。
package config
