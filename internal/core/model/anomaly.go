// 跨交易所异常与验证结果类型。
package model

// AnomalyKind 市场异常类型
type AnomalyKind string

const (
	// AnomalyPriceDeviation 跨交易所价格偏离超阈值
	AnomalyPriceDeviation AnomalyKind = "price_deviation"
	// AnomalyArbitrage 跨交易所套利窗口（更严格的偏离阈值）
	AnomalyArbitrage AnomalyKind = "arbitrage"
	// AnomalyFlashCrash 多交易所同窗口闪崩
	AnomalyFlashCrash AnomalyKind = "flash_crash"
	// AnomalyPumpDump 成交量尖峰伴随相关价格剧烈波动
	AnomalyPumpDump AnomalyKind = "pump_dump"
)

// AnomalyEvent 检测到的市场异常
// 同一 (交易对, 类型) 在一个检测窗口内最多发布一次。
type AnomalyEvent struct {
	// Kind 异常类型
	Kind AnomalyKind `json:"kind"`
	// Symbol 统一交易对标识
	Symbol string `json:"symbol"`
	// Venues 涉及的交易所
	Venues []Venue `json:"venues"`
	// Magnitude 异常幅度（偏离比例、跌幅或量能倍数，视类型而定）
	Magnitude float64 `json:"magnitude"`
	// TsUnixMs 检测时间戳（毫秒）
	TsUnixMs int64 `json:"ts_unix_ms"`
}

// ValidationStatus 跨交易所验证状态
type ValidationStatus string

const (
	// StatusValid 各交易所数据一致
	StatusValid ValidationStatus = "valid"
	// StatusWarning 价格偏离超过告警阈值
	StatusWarning ValidationStatus = "warning"
	// StatusInvalid 价格偏离超过两倍告警阈值
	StatusInvalid ValidationStatus = "invalid"
	// StatusInsufficientData 可用交易所不足（少于 2 家）
	StatusInsufficientData ValidationStatus = "insufficient_data"
)

// PriceSample 单一交易所某时刻的价格/量采样
// 仅用于跨交易所比较，保留在有界窗口内。
type PriceSample struct {
	// Venue 交易所标识
	Venue Venue
	// Symbol 统一交易对标识
	Symbol string
	// Price 最新价格（通常为中间价）
	Price float64
	// Volume24h 24 小时成交量
	Volume24h float64
	// TsUnixMs 采样时间戳（毫秒）
	TsUnixMs int64
}

// ValidationResult 跨交易所验证结果
type ValidationResult struct {
	// Status 验证状态
	Status ValidationStatus `json:"status"`
	// Confidence 置信度（0-100）
	Confidence float64 `json:"confidence"`
	// VenueCount 参与验证的交易所数量
	VenueCount int `json:"venue_count"`
	// PriceDeviation 价格偏离度 (max-min)/mean
	PriceDeviation float64 `json:"price_deviation"`
	// VolumeCorrelation 简化量能相关性（0-1）
	VolumeCorrelation float64 `json:"volume_correlation"`
	// CheapestVenue 最低价交易所（存在套利窗口时填写）
	CheapestVenue Venue `json:"cheapest_venue,omitempty"`
	// ExpensiveVenue 最高价交易所（存在套利窗口时填写）
	ExpensiveVenue Venue `json:"expensive_venue,omitempty"`
	// Anomalies 检出的异常列表
	Anomalies []AnomalyEvent `json:"anomalies,omitempty"`
	// TsUnixMs 验证时间戳（毫秒）
	TsUnixMs int64 `json:"ts_unix_ms"`
}
