// Package profile 实现多交易所加权 Volume Profile 与订单流分析。
// 成交按交易所可靠性权重累计到价格桶，订单簿快照提供挂单侧的静态流动性，
// 两者合成 compositeVolume 后派生 POC、Value Area、冰山 / 吸收 / 衰竭等特征。
package profile

// Direction 拟议交易方向，用于 POC 偏移对齐和堆叠失衡统计
type Direction string

const (
	// DirectionLong 做多
	DirectionLong Direction = "long"
	// DirectionShort 做空
	DirectionShort Direction = "short"
)

// PriceLevelAggregate 单个价格桶的聚合状态
type PriceLevelAggregate struct {
	// Price 桶中心价格
	Price float64 `json:"price"`
	// ExecutedVolume 加权成交量
	ExecutedVolume float64 `json:"executed_volume"`
	// RestingLiquidity 最近一次观测到的加权挂单量
	RestingLiquidity float64 `json:"resting_liquidity"`
	// CompositeVolume 合成量 = ExecutedVolume + RestingLiquidity
	CompositeVolume float64 `json:"composite_volume"`
	// Delta 带方向的加权成交量（买为正）
	Delta float64 `json:"delta"`
	// TradeCount 成交笔数
	TradeCount int `json:"trade_count"`
	// IcebergDetected 是否被标记为冰山挂单
	IcebergDetected bool `json:"iceberg_detected"`
}

// LiquidityGap 流动性缺口（量能显著低于均值的价格桶）
type LiquidityGap struct {
	// Price 桶中心价格
	Price float64 `json:"price"`
	// Volume 桶内合成量
	Volume float64 `json:"volume"`
	// GapPct 相对均值的缺口比例（0-100）
	GapPct float64 `json:"gap_pct"`
}

// AccumulationZone 筹码堆积区（远离 POC 的高量桶）
type AccumulationZone struct {
	// Price 桶中心价格
	Price float64 `json:"price"`
	// Volume 桶内合成量
	Volume float64 `json:"volume"`
	// VolumeRatio 相对均值的量能倍数
	VolumeRatio float64 `json:"volume_ratio"`
	// Accumulation true 为吸筹（POC 下方），false 为派发（POC 上方）
	Accumulation bool `json:"accumulation"`
}

// IcebergLevel 检出的冰山挂单
// 挂单量持续超过动态价格缩放阈值达到配置次数后标记。
type IcebergLevel struct {
	// Price 桶中心价格
	Price float64 `json:"price"`
	// Volume 桶内合成量
	Volume float64 `json:"volume"`
	// Streak 连续超阈值的快照次数
	Streak int `json:"streak"`
}

// VolumeCluster 量能集群（合成量超过均值 1.5 倍的桶）
type VolumeCluster struct {
	// Price 桶中心价格
	Price float64 `json:"price"`
	// Volume 桶内合成量
	Volume float64 `json:"volume"`
	// Strength 相对均值的量能倍数
	Strength float64 `json:"strength"`
}

// InstitutionalFlow 机构活动汇总
type InstitutionalFlow struct {
	// Detected 是否检测到机构级成交
	Detected bool `json:"detected"`
	// Events 机构级成交事件数
	Events int `json:"events"`
	// BuyVolume 机构买入量
	BuyVolume float64 `json:"buy_volume"`
	// SellVolume 机构卖出量
	SellVolume float64 `json:"sell_volume"`
	// NetFlow 净流入 = BuyVolume - SellVolume
	NetFlow float64 `json:"net_flow"`
}

// VolumeProfile 某交易对的完整 Volume Profile
type VolumeProfile struct {
	// Symbol 统一交易对标识
	Symbol string `json:"symbol"`
	// POC 最大合成量所在价格（Point of Control）
	POC float64 `json:"poc"`
	// POCVolume POC 桶的合成量
	POCVolume float64 `json:"poc_volume"`
	// POCStrength POC 相对次高桶的强度（0-1）
	POCStrength float64 `json:"poc_strength"`
	// VAH Value Area 上界
	VAH float64 `json:"vah"`
	// VAL Value Area 下界
	VAL float64 `json:"val"`
	// ValueAreaVolume Value Area 内合成量
	ValueAreaVolume float64 `json:"value_area_volume"`
	// TotalVolume 全部桶的合成量之和
	TotalVolume float64 `json:"total_volume"`
	// CVD 累计量差（全历史）
	CVD float64 `json:"cvd"`
	// RollingCVD 滚动窗口量差
	RollingCVD float64 `json:"rolling_cvd"`
	// Clusters 量能集群（按量降序，至多 10 个）
	Clusters []VolumeCluster `json:"clusters,omitempty"`
	// LiquidityGaps 流动性缺口
	LiquidityGaps []LiquidityGap `json:"liquidity_gaps,omitempty"`
	// AccumulationZones 筹码堆积区（按量降序）
	AccumulationZones []AccumulationZone `json:"accumulation_zones,omitempty"`
	// Icebergs 检出的冰山挂单（至多 10 个）
	Icebergs []IcebergLevel `json:"icebergs,omitempty"`
	// Institutional 机构活动汇总
	Institutional InstitutionalFlow `json:"institutional"`
	// DataQuality 数据质量得分（0-1），由样本量与解析错误率决定
	DataQuality float64 `json:"data_quality"`
	// TsUnixMs 构建时间戳（毫秒）
	TsUnixMs int64 `json:"ts_unix_ms"`
}
