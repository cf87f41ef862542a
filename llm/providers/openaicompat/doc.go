// Package openaicompat 实现 OpenAI Chat Completions 兼容协议的 Provider。
//
// 适用于 OpenAI 以及任何暴露 /v1/chat/completions 的服务：
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "openai",
//	    APIKey:       cfg.APIKey,
//	    BaseURL:      "https://api.openai.com",
//	    DefaultModel: "gpt-4o-mini",
//	}, logger)
package openaicompat
