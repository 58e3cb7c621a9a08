// Package model 定义分析器中使用的核心数据结构。
// 包含订单簿事件、成交事件、跨交易所异常等核心类型。
package model

import (
	"time"
)

// Venue 交易所标识
type Venue string

const (
	// VenueBinance Binance 交易所
	VenueBinance Venue = "binance"
	// VenueBybit Bybit 交易所
	VenueBybit Venue = "bybit"
	// VenueOKX OKX 交易所
	VenueOKX Venue = "okx"
	// VenueCoinbase Coinbase 交易所
	VenueCoinbase Venue = "coinbase"
)

// AllVenues 支持的全部交易所
var AllVenues = []Venue{VenueBinance, VenueBybit, VenueOKX, VenueCoinbase}

// Side 成交主动方向（taker 方向）
type Side string

const (
	// SideBuy 主动买入（taker 吃掉卖单）
	SideBuy Side = "buy"
	// SideSell 主动卖出（taker 吃掉买单）
	SideSell Side = "sell"
)

// EventKind 订单簿事件类型
type EventKind string

const (
	// KindSnapshot 全量快照，整本替换
	KindSnapshot EventKind = "snapshot"
	// KindDelta 增量更新，按序列号拼接
	KindDelta EventKind = "delta"
)

// Level 订单簿单个价格档位
type Level struct {
	// Price 价格
	Price float64
	// Qty 数量；增量事件中 0 表示删除该档位
	Qty float64
}

// BookEvent 归一化订单簿事件
// 四家交易所的快照/增量消息统一转换为该结构，由调和器消费。
type BookEvent struct {
	// Venue 交易所标识
	Venue Venue
	// Symbol 统一交易对标识，如 BTCUSDT
	Symbol string
	// Kind 事件类型: snapshot 或 delta
	Kind EventKind
	// Bids 买盘档位（不保证有序）
	Bids []Level
	// Asks 卖盘档位（不保证有序）
	Asks []Level
	// FirstSeq 本事件覆盖的起始序列号
	// 快照事件中 FirstSeq == LastSeq == 快照序列号
	FirstSeq int64
	// LastSeq 本事件覆盖的结束序列号
	LastSeq int64
	// ExchTsUnixMs 交易所事件时间戳（毫秒），无此字段的交易所为 0
	ExchTsUnixMs int64
	// ArrivedAtUnixNs 本机收到消息的时间戳（纳秒）
	ArrivedAtUnixNs int64
}

// TradeEvent 归一化成交事件
type TradeEvent struct {
	// Venue 交易所标识
	Venue Venue
	// Symbol 统一交易对标识
	Symbol string
	// Price 成交价格
	Price float64
	// Qty 成交数量
	Qty float64
	// Side 主动方向
	Side Side
	// ExchTsUnixMs 交易所成交时间戳（毫秒）
	ExchTsUnixMs int64
	// ArrivedAtUnixNs 本机收到消息的时间戳（纳秒）
	ArrivedAtUnixNs int64
}

// IsValid 检查成交事件是否有效
// 有效条件: 价格和数量均为正
func (t *TradeEvent) IsValid() bool {
	return t.Price > 0 && t.Qty > 0
}

// SignedQty 按主动方向带符号的成交量
// 主动买为正，主动卖为负，用于 CVD 与 order-flow delta。
func (t *TradeEvent) SignedQty() float64 {
	if t.Side == SideSell {
		return -t.Qty
	}
	return t.Qty
}

// ExchTs 获取交易所时间的 time.Time 表示
// 若 ExchTsUnixMs 为 0，返回零值
func (t *TradeEvent) ExchTs() time.Time {
	if t.ExchTsUnixMs == 0 {
		return time.Time{}
	}
	return time.UnixMilli(t.ExchTsUnixMs)
}

// Clone 创建 BookEvent 的深拷贝
func (b *BookEvent) Clone() *BookEvent {
	clone := *b
	if b.Bids != nil {
		clone.Bids = make([]Level, len(b.Bids))
		copy(clone.Bids, b.Bids)
	}
	if b.Asks != nil {
		clone.Asks = make([]Level, len(b.Asks))
		copy(clone.Asks, b.Asks)
	}
	return &clone
}
