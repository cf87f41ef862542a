// Package tlsutil 集中定义出站连接的 TLS 设置：
// chat completion 与 embedding 的 HTTP 客户端、启用 redis.tls 时的缓存连接。
// 统一要求 TLS 1.2+ 且只使用 AEAD 密码套件。
package tlsutil
