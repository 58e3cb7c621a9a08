// Package book 实现订单簿的快照/增量调和。
// 每个 (交易所, 交易对) 对应一个调和器实例，单写者模式：
// 只有所属 feed 适配器 goroutine 调用写方法，读方通过原子指针获取不可变快照。
package book

import (
	"fmt"
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"orderflow-analyzer/internal/core/model"
	"orderflow-analyzer/internal/util/timeutil"
)

// State 调和状态机状态
type State int32

const (
	// StateUnsynced 初始状态，尚未收到快照
	StateUnsynced State = iota
	// StateLoadingSnapshot 已请求快照，等待到达
	StateLoadingSnapshot
	// StateSynced 快照已锚定，增量按序应用中
	StateSynced
	// StateResyncing 检测到序列号缺口，等待重新锚定
	StateResyncing
)

// String 状态的可读表示
func (s State) String() string {
	switch s {
	case StateUnsynced:
		return "unsynced"
	case StateLoadingSnapshot:
		return "loading_snapshot"
	case StateSynced:
		return "synced"
	case StateResyncing:
		return "resyncing"
	default:
		return "unknown"
	}
}

// ApplyResult 单次事件应用的结果
type ApplyResult int

const (
	// ResultApplied 事件已应用，快照已发布
	ResultApplied ApplyResult = iota
	// ResultStale 事件过期被丢弃，状态不变
	ResultStale
	// ResultGap 检测到序列号缺口，事件被丢弃并触发重新同步
	ResultGap
	// ResultBuffered 未同步期间的增量已缓冲
	ResultBuffered
)

// maxPendingDeltas 未同步期间缓冲的最大增量数
// 超出后丢弃最旧的，快照到达时多余部分本来也会被序列号过滤掉。
const maxPendingDeltas = 256

// Reconciler 单一 (交易所, 交易对) 的订单簿调和器
type Reconciler struct {
	// venue 交易所标识
	venue model.Venue
	// symbol 统一交易对标识
	symbol string
	// depth 保留的每侧最大档位数
	depth int
	// logger 日志记录器
	logger *zap.Logger

	// state 当前状态（原子读写，读方可无锁观测）
	state atomic.Int32
	// book 工作订单簿，仅写者访问
	book *model.OrderBook
	// pending 未同步期间缓冲的增量事件（有界）
	pending []*model.BookEvent
	// published 最近发布的不可变快照
	published atomic.Pointer[model.OrderBook]
	// requestSnapshot 请求重新锚定的回调（如触发 REST 快照拉取）
	// 可为 nil：隐式快照的交易所会在下一条快照消息自动恢复。
	requestSnapshot func()

	// resyncCount 重新同步次数
	resyncCount atomic.Int64
	// appliedCount 成功应用的事件数
	appliedCount atomic.Int64
}

// NewReconciler 创建订单簿调和器
// 参数 venue: 交易所标识
// 参数 symbol: 统一交易对标识
// 参数 depth: 每侧保留的最大档位数
// 参数 requestSnapshot: 检测到缺口时的重锚定回调，可为 nil
// 参数 logger: 日志记录器
func NewReconciler(venue model.Venue, symbol string, depth int, requestSnapshot func(), logger *zap.Logger) *Reconciler {
	if depth <= 0 {
		depth = 50
	}
	return &Reconciler{
		venue:           venue,
		symbol:          symbol,
		depth:           depth,
		logger:          logger.Named("book").With(zap.String("venue", string(venue)), zap.String("symbol", symbol)),
		requestSnapshot: requestSnapshot,
	}
}

// State 当前状态机状态
func (r *Reconciler) State() State {
	return State(r.state.Load())
}

// Snapshot 最近发布的不可变订单簿快照
// 返回值可能为 nil（尚未同步）；返回的指针指向只读数据，任何组件不得修改。
func (r *Reconciler) Snapshot() *model.OrderBook {
	return r.published.Load()
}

// ResyncCount 累计重新同步次数
func (r *Reconciler) ResyncCount() int64 {
	return r.resyncCount.Load()
}

// AppliedCount 累计成功应用事件数
func (r *Reconciler) AppliedCount() int64 {
	return r.appliedCount.Load()
}

// Apply 应用一条归一化订单簿事件
// 仅允许所属适配器 goroutine 调用。
// 返回: 应用结果和可能的错误（错误意味着事件被拒绝且已触发重新同步）
func (r *Reconciler) Apply(ev *model.BookEvent) (ApplyResult, error) {
	if ev == nil {
		return ResultStale, fmt.Errorf("事件为空")
	}
	if ev.Venue != r.venue || ev.Symbol != r.symbol {
		return ResultStale, fmt.Errorf("事件归属不符: %s/%s", ev.Venue, ev.Symbol)
	}

	switch ev.Kind {
	case model.KindSnapshot:
		return r.applySnapshot(ev)
	case model.KindDelta:
		return r.applyDelta(ev)
	default:
		return ResultStale, fmt.Errorf("未知事件类型: %s", ev.Kind)
	}
}

// applySnapshot 整本替换订单簿并锚定序列号
func (r *Reconciler) applySnapshot(ev *model.BookEvent) (ApplyResult, error) {
	b := &model.OrderBook{
		Venue:  r.venue,
		Symbol: r.symbol,
		Bids:   normalizeSide(ev.Bids, true, r.depth),
		Asks:   normalizeSide(ev.Asks, false, r.depth),
	}
	b.LastSeq = ev.LastSeq
	b.UpdatedAtUnixNs = timeutil.NowNano()

	if err := b.CheckInvariant(); err != nil {
		// 快照本身非法：保持未同步并请求重新锚定
		r.toState(StateResyncing)
		r.triggerResync()
		return ResultGap, fmt.Errorf("快照不满足订单簿不变量: %w", err)
	}

	r.book = b
	r.state.Store(int32(StateSynced))

	// 回放缓冲的增量：序列号过滤交给 applyDelta 本身
	pending := r.pending
	r.pending = nil
	for _, d := range pending {
		if d.LastSeq <= b.LastSeq {
			continue
		}
		if _, err := r.applyDelta(d); err != nil {
			return ResultGap, fmt.Errorf("回放缓冲增量失败: %w", err)
		}
		if r.State() != StateSynced {
			// 回放过程中再次出现缺口
			return ResultGap, nil
		}
	}

	r.publish()
	r.appliedCount.Add(1)
	r.logger.Info("快照已锚定",
		zap.Int64("seq", b.LastSeq),
		zap.Int("bids", len(b.Bids)),
		zap.Int("asks", len(b.Asks)))
	return ResultApplied, nil
}

// applyDelta 应用一条增量事件
// 序列号协议:
// - lastSeq <= book.LastSeq: 过期，丢弃
// - firstSeq > book.LastSeq+1: 缺口，丢弃并重新同步
// - 否则应用并推进 LastSeq
func (r *Reconciler) applyDelta(ev *model.BookEvent) (ApplyResult, error) {
	if r.State() != StateSynced {
		r.buffer(ev)
		return ResultBuffered, nil
	}

	if ev.LastSeq <= r.book.LastSeq {
		return ResultStale, nil
	}
	if ev.FirstSeq > r.book.LastSeq+1 {
		r.toState(StateResyncing)
		r.resyncCount.Add(1)
		r.triggerResync()
		r.logger.Warn("检测到序列号缺口，丢弃增量并重新同步",
			zap.Int64("book_seq", r.book.LastSeq),
			zap.Int64("delta_first_seq", ev.FirstSeq))
		return ResultGap, nil
	}

	r.book.Bids = mergeSide(r.book.Bids, ev.Bids, true, r.depth)
	r.book.Asks = mergeSide(r.book.Asks, ev.Asks, false, r.depth)
	r.book.LastSeq = ev.LastSeq
	r.book.UpdatedAtUnixNs = timeutil.NowNano()

	if err := r.book.CheckInvariant(); err != nil {
		// 不变量破坏视同协议失步，整本作废
		r.toState(StateResyncing)
		r.resyncCount.Add(1)
		r.triggerResync()
		return ResultGap, fmt.Errorf("应用增量后不变量被破坏: %w", err)
	}

	r.publish()
	r.appliedCount.Add(1)
	return ResultApplied, nil
}

// Invalidate 作废当前订单簿并请求重新锚定
// 用于适配器重连后主动丢弃旧状态。
func (r *Reconciler) Invalidate() {
	r.book = nil
	r.pending = nil
	r.toState(StateUnsynced)
	r.triggerResync()
}

func (r *Reconciler) buffer(ev *model.BookEvent) {
	if len(r.pending) >= maxPendingDeltas {
		r.pending = r.pending[1:]
	}
	r.pending = append(r.pending, ev.Clone())
}

func (r *Reconciler) toState(s State) {
	r.state.Store(int32(s))
}

func (r *Reconciler) triggerResync() {
	if r.requestSnapshot != nil {
		r.toState(StateLoadingSnapshot)
		r.requestSnapshot()
	}
}

// publish 发布当前订单簿的不可变快照
// 值拷贝 + 原子指针交换，读方永远不会看到写入中间态，也不会阻塞写路径。
func (r *Reconciler) publish() {
	r.published.Store(r.book.Clone())
}

// normalizeSide 排序并截断一侧档位，过滤非法档位
// 参数 descending: true 为买盘（降序），false 为卖盘（升序）
func normalizeSide(levels []model.Level, descending bool, depth int) []model.Level {
	out := make([]model.Level, 0, len(levels))
	for _, l := range levels {
		if l.Price <= 0 || l.Qty <= 0 {
			continue
		}
		out = append(out, l)
	}
	sortSide(out, descending)
	if len(out) > depth {
		out = out[:depth]
	}
	return out
}

// mergeSide 将增量档位合并进现有一侧
// 数量 0 删除档位，正数插入或更新，然后重新排序并截断。
func mergeSide(side []model.Level, updates []model.Level, descending bool, depth int) []model.Level {
	if len(updates) == 0 {
		return side
	}

	byPrice := make(map[float64]float64, len(side)+len(updates))
	for _, l := range side {
		byPrice[l.Price] = l.Qty
	}
	for _, u := range updates {
		if u.Price <= 0 {
			continue
		}
		if u.Qty == 0 {
			delete(byPrice, u.Price)
			continue
		}
		if u.Qty > 0 {
			byPrice[u.Price] = u.Qty
		}
	}

	out := make([]model.Level, 0, len(byPrice))
	for px, qty := range byPrice {
		out = append(out, model.Level{Price: px, Qty: qty})
	}
	sortSide(out, descending)
	if len(out) > depth {
		out = out[:depth]
	}
	return out
}

func sortSide(levels []model.Level, descending bool) {
	if descending {
		sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
		return
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
}
