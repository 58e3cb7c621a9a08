// Package store 维护按 (交易所, 交易对) 索引的调和器注册表。
// 注册表在启动时一次性构建，之后只读，显式传给需要的组件；
// 禁止在调用点重新拼接字符串 key 做查找。
package store

import (
	"orderflow-analyzer/internal/core/book"
	"orderflow-analyzer/internal/core/model"
)

// Key 调和器索引键
type Key struct {
	// Venue 交易所标识
	Venue model.Venue
	// Symbol 统一交易对标识
	Symbol string
}

// Registry 调和器注册表
// 构建完成后不再增删条目，跨 goroutine 读取无需加锁；
// 订单簿快照本身通过调和器的原子指针获取。
type Registry struct {
	// reconcilers 全部调和器
	reconcilers map[Key]*book.Reconciler
	// symbols 跟踪的交易对（去重）
	symbols []string
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		reconcilers: make(map[Key]*book.Reconciler),
	}
}

// Register 注册一个调和器
// 仅允许在启动装配阶段调用。
func (r *Registry) Register(k Key, rec *book.Reconciler) {
	r.reconcilers[k] = rec

	for _, s := range r.symbols {
		if s == k.Symbol {
			return
		}
	}
	r.symbols = append(r.symbols, k.Symbol)
}

// Get 获取指定 (交易所, 交易对) 的调和器
// 返回值可能为 nil（未注册）。
func (r *Registry) Get(venue model.Venue, symbol string) *book.Reconciler {
	return r.reconcilers[Key{Venue: venue, Symbol: symbol}]
}

// Symbols 全部跟踪的交易对
func (r *Registry) Symbols() []string {
	return r.symbols
}

// SnapshotsFor 收集某交易对当前可用的全部订单簿快照
// 未同步的交易所不在结果中；返回的快照为只读。
func (r *Registry) SnapshotsFor(symbol string) map[model.Venue]*model.OrderBook {
	out := make(map[model.Venue]*model.OrderBook)
	for k, rec := range r.reconcilers {
		if k.Symbol != symbol {
			continue
		}
		if snap := rec.Snapshot(); snap != nil {
			out[k.Venue] = snap
		}
	}
	return out
}
