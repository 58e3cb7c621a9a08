// 订单簿状态与不变量检查。
package model

import (
	"fmt"
)

// OrderBook 单一 (交易所, 交易对) 的调和后订单簿
// 仅允许所属调和器修改；其他组件只读取发布的不可变快照。
type OrderBook struct {
	// Venue 交易所标识
	Venue Venue
	// Symbol 统一交易对标识
	Symbol string
	// Bids 买盘，按价格严格降序
	Bids []Level
	// Asks 卖盘，按价格严格升序
	Asks []Level
	// LastSeq 最后应用的序列号
	LastSeq int64
	// UpdatedAtUnixNs 最后一次成功应用事件的本机时间（纳秒）
	UpdatedAtUnixNs int64
}

// BestBid 最优买价档位
// 返回: 档位和是否存在
func (b *OrderBook) BestBid() (Level, bool) {
	if len(b.Bids) == 0 {
		return Level{}, false
	}
	return b.Bids[0], true
}

// BestAsk 最优卖价档位
// 返回: 档位和是否存在
func (b *OrderBook) BestAsk() (Level, bool) {
	if len(b.Asks) == 0 {
		return Level{}, false
	}
	return b.Asks[0], true
}

// MidPrice 计算中间价
// 买卖任一侧为空时返回 0
func (b *OrderBook) MidPrice() float64 {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0
	}
	return (bid.Price + ask.Price) / 2
}

// SpreadBps 计算买卖价差（基点）
func (b *OrderBook) SpreadBps() float64 {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return 0
	}
	mid := (bid.Price + ask.Price) / 2
	if mid == 0 {
		return 0
	}
	return (ask.Price - bid.Price) / mid * 10000
}

// TopDepth 计算前 n 档买卖双边的名义总量（价格×数量）
func (b *OrderBook) TopDepth(n int) float64 {
	var total float64
	for i, l := range b.Bids {
		if i >= n {
			break
		}
		total += l.Price * l.Qty
	}
	for i, l := range b.Asks {
		if i >= n {
			break
		}
		total += l.Price * l.Qty
	}
	return total
}

// ImbalanceRatio 计算前 n 档买卖量失衡度
// 返回值范围 [-1, 1]：正值买压占优，负值卖压占优，0 为平衡。
func (b *OrderBook) ImbalanceRatio(n int) float64 {
	var bidQty, askQty float64
	for i, l := range b.Bids {
		if i >= n {
			break
		}
		bidQty += l.Qty
	}
	for i, l := range b.Asks {
		if i >= n {
			break
		}
		askQty += l.Qty
	}
	total := bidQty + askQty
	if total == 0 {
		return 0
	}
	return (bidQty - askQty) / total
}

// CheckInvariant 检查订单簿不变量
// 不变量: 买盘严格降序、卖盘严格升序、所有数量为正、最优买价 < 最优卖价。
// 每次成功应用事件后必须满足。
func (b *OrderBook) CheckInvariant() error {
	for i, l := range b.Bids {
		if l.Qty <= 0 {
			return fmt.Errorf("买盘档位 %d 数量非正: %f", i, l.Qty)
		}
		if i > 0 && b.Bids[i-1].Price <= l.Price {
			return fmt.Errorf("买盘未按价格严格降序: bids[%d]=%f, bids[%d]=%f", i-1, b.Bids[i-1].Price, i, l.Price)
		}
	}
	for i, l := range b.Asks {
		if l.Qty <= 0 {
			return fmt.Errorf("卖盘档位 %d 数量非正: %f", i, l.Qty)
		}
		if i > 0 && b.Asks[i-1].Price >= l.Price {
			return fmt.Errorf("卖盘未按价格严格升序: asks[%d]=%f, asks[%d]=%f", i-1, b.Asks[i-1].Price, i, l.Price)
		}
	}
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if okBid && okAsk && bid.Price >= ask.Price {
		return fmt.Errorf("订单簿交叉: 最优买价 %f >= 最优卖价 %f", bid.Price, ask.Price)
	}
	return nil
}

// Clone 创建订单簿的深拷贝
// 发布快照时使用，保证读方永远看不到写入中间态。
func (b *OrderBook) Clone() *OrderBook {
	clone := *b
	clone.Bids = make([]Level, len(b.Bids))
	copy(clone.Bids, b.Bids)
	clone.Asks = make([]Level, len(b.Asks))
	copy(clone.Asks, b.Asks)
	return &clone
}

// View 下游消费的订单簿只读视图
type View struct {
	// Venue 交易所标识
	Venue Venue `json:"venue"`
	// Symbol 统一交易对标识
	Symbol string `json:"symbol"`
	// BestBidPx 最优买价
	BestBidPx float64 `json:"best_bid_px"`
	// BestBidQty 最优买量
	BestBidQty float64 `json:"best_bid_qty"`
	// BestAskPx 最优卖价
	BestAskPx float64 `json:"best_ask_px"`
	// BestAskQty 最优卖量
	BestAskQty float64 `json:"best_ask_qty"`
	// Depth 深度档位切片（买卖合并，买盘在前）
	Depth []Level `json:"depth"`
	// StalenessMs 距最后一次更新的时间（毫秒）
	StalenessMs int64 `json:"staleness_ms"`
}

// ViewAt 从订单簿生成只读视图
// 参数 depth: 保留的每侧档位数
// 参数 nowNs: 当前时间（纳秒），用于计算数据陈旧度
func (b *OrderBook) ViewAt(depth int, nowNs int64) View {
	v := View{
		Venue:  b.Venue,
		Symbol: b.Symbol,
	}
	if bid, ok := b.BestBid(); ok {
		v.BestBidPx = bid.Price
		v.BestBidQty = bid.Qty
	}
	if ask, ok := b.BestAsk(); ok {
		v.BestAskPx = ask.Price
		v.BestAskQty = ask.Qty
	}
	for i, l := range b.Bids {
		if i >= depth {
			break
		}
		v.Depth = append(v.Depth, l)
	}
	for i, l := range b.Asks {
		if i >= depth {
			break
		}
		v.Depth = append(v.Depth, l)
	}
	if b.UpdatedAtUnixNs > 0 {
		v.StalenessMs = (nowNs - b.UpdatedAtUnixNs) / 1_000_000
	}
	return v
}
