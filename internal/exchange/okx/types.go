// Package okx 定义 OKX 交易所消息类型。
package okx

// SubscribeArg OKX 订阅参数
type SubscribeArg struct {
	// Channel 频道: books / trades
	Channel string `json:"channel"`
	// InstID 产品 ID，如 BTC-USDT
	InstID string `json:"instId"`
}

// SubscribeRequest OKX WebSocket 订阅请求
type SubscribeRequest struct {
	// Op 操作类型: subscribe
	Op string `json:"op"`
	// Args 订阅参数列表
	Args []SubscribeArg `json:"args"`
}

// Envelope OKX 推送消息公共字段
type Envelope struct {
	// Arg 频道参数
	Arg SubscribeArg `json:"arg"`
	// Action books 频道动作: snapshot / update
	Action string `json:"action"`
	// Event 事件类型，如 subscribe / error
	Event string `json:"event"`
	// Code 错误码
	Code string `json:"code"`
	// Msg 错误信息
	Msg string `json:"msg"`
}

// BookData OKX 订单簿数据
// 档位格式为 [price, qty, 弃用字段, 订单数]，qty 为 0 表示删除档位。
type BookData struct {
	// Bids 买盘
	Bids [][]string `json:"bids"`
	// Asks 卖盘
	Asks [][]string `json:"asks"`
	// TsMs 数据时间（毫秒，字符串）
	TsMs string `json:"ts"`
	// SeqID 本次更新序号
	SeqID int64 `json:"seqId"`
	// PrevSeqID 上次更新序号，用于缺口检测
	PrevSeqID int64 `json:"prevSeqId"`
}

// BookMessage OKX books 频道推送消息
type BookMessage struct {
	Envelope
	// Data 订单簿数据列表（通常单元素）
	Data []BookData `json:"data"`
}

// TradeData OKX 成交数据单条记录
type TradeData struct {
	// InstID 产品 ID
	InstID string `json:"instId"`
	// Price 成交价格（字符串）
	Price string `json:"px"`
	// Qty 成交数量（字符串）
	Qty string `json:"sz"`
	// Side 主动方向: buy / sell
	Side string `json:"side"`
	// TsMs 成交时间（毫秒，字符串）
	TsMs string `json:"ts"`
}

// TradeMessage OKX trades 频道推送消息
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
