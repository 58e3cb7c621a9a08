// Package bybit 定义 Bybit 交易所消息类型。
package bybit

// OpRequest Bybit WebSocket 操作请求（订阅 / 心跳）
type OpRequest struct {
	// Op 操作类型: subscribe / ping
	Op string `json:"op"`
	// Args 订阅参数列表，如 "orderbook.50.BTCUSDT"
	Args []string `json:"args,omitempty"`
}

// Envelope Bybit 推送消息公共字段
type Envelope struct {
	// Topic 频道，如 orderbook.50.BTCUSDT / publicTrade.BTCUSDT
	Topic string `json:"topic"`
	// Type 消息类型: snapshot / delta
	Type string `json:"type"`
	// TsMs 推送时间（毫秒）
	TsMs int64 `json:"ts"`
	// Op 操作响应类型，如 pong / subscribe
	Op string `json:"op"`
	// Success 操作是否成功
	Success bool `json:"success"`
	// RetMsg 操作返回信息
	RetMsg string `json:"ret_msg"`
}

// OrderbookData Bybit 订单簿消息 data 字段
// u 为更新 ID，逐条递增；u == 1 表示服务重启后的强制快照。
type OrderbookData struct {
	// Symbol 交易对，如 BTCUSDT
	Symbol string `json:"s"`
	// Bids 买盘 [[price, qty], ...]（字符串），qty 为 0 表示删除档位
	Bids [][]string `json:"b"`
	// Asks 卖盘
	Asks [][]string `json:"a"`
	// UpdateID 更新 ID
	UpdateID int64 `json:"u"`
	// Seq 撮合序号
	Seq int64 `json:"seq"`
}

// OrderbookMessage Bybit 订单簿推送消息
type OrderbookMessage struct {
	Envelope
	// Data 订单簿数据
	Data OrderbookData `json:"data"`
}

// TradeData Bybit 成交消息单条记录
type TradeData struct {
	// TsMs 成交时间（毫秒）
	TsMs int64 `json:"T"`
	// Symbol 交易对
	Symbol string `json:"s"`
	// Side 主动方向: Buy / Sell
	Side string `json:"S"`
	// Qty 成交数量（字符串）
	Qty string `json:"v"`
	// Price 成交价格（字符串）
	Price string `json:"p"`
}

// TradeMessage Bybit 成交推送消息
type TradeMessage struct {
	Envelope
	// Data 成交列表
	Data []TradeData `json:"data"`
}

// ConnectionMetrics 连接质量指标
type ConnectionMetrics struct {
	// ReconnectCount 重连次数
	ReconnectCount int64
	// ParseErrorCount 解析错误次数
	ParseErrorCount int64
	// UpdatesPerSec 每秒更新次数
	UpdatesPerSec float64
	// LastMessageAgeMs 最后消息距今时间（毫秒）
	LastMessageAgeMs int64
}
