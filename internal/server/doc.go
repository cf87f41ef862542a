// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 Groundwork 的 HTTP 服务器生命周期。

# 核心类型

  - Server：封装 net/http.Server，Listen 与 Serve 分离，
    支持 ":0" 随机端口并通过 Addr 返回实际地址。
  - Config：监听地址、读写超时、空闲超时、最大请求头与关闭超时。
  - Run：同时运行 API 与 metrics 服务器，ctx 取消或任一失败时
    在 ShutdownTimeout 内优雅关闭全部服务器。
*/
package server
