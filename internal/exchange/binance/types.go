// Package binance 定义 Binance 交易所消息类型。
package binance

// SubscribeRequest Binance WebSocket 订阅请求
type SubscribeRequest struct {
	// Method 订阅方法: SUBSCRIBE
	Method string `json:"method"`
	// Params 订阅参数列表，如 "btcusdt@depth@100ms"
	Params []string `json:"params"`
	// ID 请求 ID
	ID int64 `json:"id"`
}

// StreamEnvelope Binance 推送消息公共字段
// 用于在解析前区分消息类型。
type StreamEnvelope struct {
	// EventType 事件类型: depthUpdate / aggTrade
	EventType string `json:"e"`
}

// DepthUpdate Binance 增量深度消息（depthUpdate）
// 字段映射：
// - E: 事件时间（毫秒） -> BookEvent.ExchTsUnixMs
// - s: Symbol（如 BTCUSDT） -> BookEvent.Symbol
// - U: 本次增量起始 updateId -> BookEvent.FirstSeq
// - u: 本次增量结束 updateId -> BookEvent.LastSeq
// - b/a: [[price, qty], ...]（字符串），qty 为 0 表示删除档位
type DepthUpdate struct {
	// EventType 事件类型: depthUpdate
	EventType string `json:"e"`
	// EventTimeMs 事件时间（毫秒）
	EventTimeMs int64 `json:"E"`
	// Symbol 交易对（大写）
	Symbol string `json:"s"`
	// FirstUpdateID 起始 updateId
	FirstUpdateID int64 `json:"U"`
	// LastUpdateID 结束 updateId
	LastUpdateID int64 `json:"u"`
	// Bids 买盘增量
	Bids [][]string `json:"b"`
	// Asks 卖盘增量
	Asks [][]string `json:"a"`
}

// AggTrade Binance 归集成交消息（aggTrade）
// m 为 true 表示买方是 maker，即主动方向为卖出。
type AggTrade struct {
	// EventType 事件类型: aggTrade
	EventType string `json:"e"`
	// EventTimeMs 事件时间（毫秒）
	EventTimeMs int64 `json:"E"`
	// Symbol 交易对（大写）
	Symbol string `json:"s"`
	// Price 成交价格（字符串）
	Price string `json:"p"`
	// Qty 成交数量（字符串）
	Qty string `json:"q"`
	// IsBuyerMaker 买方是否为 maker
	IsBuyerMaker bool `json:"m"`
}

// DepthSnapshot Binance REST 深度快照响应
// GET /fapi/v1/depth?symbol=...&limit=...
type DepthSnapshot struct {
	// LastUpdateID 快照对应的 updateId
	LastUpdateID int64 `json:"lastUpdateId"`
	// Bids 买盘全量
	Bids [][]string `json:"bids"`
	// Asks 卖盘全量
	Asks [][]string `json:"asks"`
}

// ConnectionMetrics 连接质量指标
type ConnectionMetrics struct {
	// ReconnectCount 重连次数
	ReconnectCount int64
	// ParseErrorCount 解析错误次数
	ParseErrorCount int64
	// SnapshotFetchCount REST 快照拉取次数
	SnapshotFetchCount int64
	// UpdatesPerSec 每秒更新次数
	UpdatesPerSec float64
	// LastMessageAgeMs 最后消息距今时间（毫秒）
	LastMessageAgeMs int64
}
