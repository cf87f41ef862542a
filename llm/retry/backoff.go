// Package retry 提供上游调用的指数退避重试。
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy 重试策略
type Policy struct {
	MaxRetries   int              // 最大重试次数（0 表示不重试）
	InitialDelay time.Duration    // 初始延迟
	MaxDelay     time.Duration    // 最大延迟
	Multiplier   float64          // 指数退避倍数
	Jitter       bool             // ±25% 随机抖动
	Retryable    func(error) bool // 为 nil 时所有错误都重试
	OnRetry      func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy 适用于 LLM / 向量接口的默认策略
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   2,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer 基于指数退避的重试器
type Retryer struct {
	policy Policy
	logger *zap.Logger
}

// NewRetryer 创建重试器，非法参数会被修正
func NewRetryer(policy Policy, logger *zap.Logger) *Retryer {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 500 * time.Millisecond
	}
	if policy.MaxDelay < policy.InitialDelay {
		policy.MaxDelay = policy.InitialDelay
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retryer{policy: policy, logger: logger}
}

// Do 执行 fn，失败时按策略重试
func (r *Retryer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delay(attempt)
			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if r.policy.Retryable != nil && !r.policy.Retryable(lastErr) {
			return lastErr
		}
	}

	if r.policy.MaxRetries == 0 {
		return lastErr
	}
	r.logger.Warn("retries exhausted", zap.Int("attempts", r.policy.MaxRetries+1), zap.Error(lastErr))
	return fmt.Errorf("failed after %d retries: %w", r.policy.MaxRetries, lastErr)
}

// delay = initial * multiplier^(attempt-1)，上限 MaxDelay
func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if d > float64(r.policy.MaxDelay) {
		d = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		d += (rand.Float64()*2 - 1) * d * 0.25
	}
	if d < float64(r.policy.InitialDelay) {
		d = float64(r.policy.InitialDelay)
	}
	return time.Duration(d)
}
