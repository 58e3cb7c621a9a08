// Package backoff 提供带抖动的指数退避。
// 交易所对频繁重连的客户端会触发限流甚至封禁，
// 重连间隔按指数增长并叠加随机抖动，避免多连接同步风暴。
package backoff

import (
	"math/rand"
	"time"
)

// Backoff 指数退避计算器
// 非并发安全，每条连接持有独立实例。
type Backoff struct {
	// base 首次重试的等待时间
	base time.Duration
	// max 等待时间上限（未计抖动）
	max time.Duration
	// jitter 抖动比例，0.2 表示 ±20%
	jitter float64
	// attempt 连续失败次数
	attempt int
}

// New 创建退避计算器
// 参数 base: 首次重试等待时间
// 参数 max: 等待时间上限
// 参数 jitter: 抖动比例（0 表示无抖动）
func New(base, max time.Duration, jitter float64) *Backoff {
	return &Backoff{base: base, max: max, jitter: jitter}
}

// NewDefault 创建默认退避计算器: 1s 起步，30s 封顶，±20% 抖动
func NewDefault() *Backoff {
	return New(time.Second, 30*time.Second, 0.2)
}

// Next 下一次重试的等待时间并推进失败计数
// 等待时间为 base * 2^attempt，封顶 max，再叠加 ±jitter 抖动。
func (b *Backoff) Next() time.Duration {
	delay := b.max
	// 位移超过 62 位必然越过任何合理上限，直接取 max
	if b.attempt < 62 {
		d := b.base << uint(b.attempt)
		if d < b.max {
			delay = d
		}
	}
	b.attempt++

	if b.jitter > 0 {
		spread := (rand.Float64()*2 - 1) * b.jitter
		delay = time.Duration(float64(delay) * (1 + spread))
	}
	return delay
}

// Reset 连接成功后清零失败计数
func (b *Backoff) Reset() {
	b.attempt = 0
}

// Attempt 当前连续失败次数
func (b *Backoff) Attempt() int {
	return b.attempt
}
