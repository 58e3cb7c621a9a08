// Package coinbase 定义 Coinbase 交易所消息类型。
package coinbase

// SubscribeRequest Coinbase WebSocket 订阅请求
type SubscribeRequest struct {
	// Type 消息类型: subscribe
	Type string `json:"type"`
	// ProductIDs 产品 ID 列表，如 BTC-USD
	ProductIDs []string `json:"product_ids"`
	// Channels 频道列表: level2 / matches / heartbeat
	Channels []string `json:"channels"`
}

// Envelope Coinbase 推送消息公共字段
type Envelope struct {
	// Type 消息类型: snapshot / l2update / match / heartbeat / error
	Type string `json:"type"`
	// ProductID 产品 ID
	ProductID string `json:"product_id"`
	// Message 错误信息（type 为 error 时）
	Message string `json:"message"`
}

// SnapshotMessage Coinbase level2 全量快照
type SnapshotMessage struct {
	Envelope
	// Bids 买盘 [[price, size], ...]（字符串）
	Bids [][]string `json:"bids"`
	// Asks 卖盘
	Asks [][]string `json:"asks"`
}

// L2UpdateMessage Coinbase level2 增量更新
// changes 为 [[side, price, size], ...]，size 为该价位的绝对数量，0 表示删除。
type L2UpdateMessage struct {
	Envelope
	// Time 更新时间（RFC3339）
	Time string `json:"time"`
	// Changes 档位变更列表
	Changes [][]string `json:"changes"`
}

// MatchMessage Coinbase 成交消息
// side 为 maker 订单方向，主动方向与其相反。
type MatchMessage struct {
	Envelope
	// Time 成交时间（RFC3339）
	Time string `json:"time"`
	// Side maker 订单方向: buy / sell
	Side string `json:"side"`
	// Price 成交价格（字符串）
	Price string `json:"price"`
	// Size 成交数量（字符串）
	Size string `json:"size"`
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
