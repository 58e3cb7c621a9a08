// Package crossex 实现跨交易所价格验证与异常检测。
// 比较各交易所同一交易对的最新价格，计算偏离度与量能相关性，
// 检测价格偏离、套利窗口、闪崩和拉砸行为。
// 同一 (交易对, 异常类型) 在一个检测窗口内最多发布一次异常事件。
package crossex

import (
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"orderflow-analyzer/internal/config"
	"orderflow-analyzer/internal/core/history"
	"orderflow-analyzer/internal/core/model"
)

// seriesKey 价格 / 量能历史的定位键
type seriesKey struct {
	Symbol string
	Venue  model.Venue
}

// emitKey 异常发布限流的定位键
type emitKey struct {
	Symbol string
	Kind   model.AnomalyKind
}

// Validator 跨交易所验证器
type Validator struct {
	// cfg 异常检测配置
	cfg *config.AnomalyConfig
	// sampleCap 单条历史序列容量
	sampleCap int
	// logger 日志记录器
	logger *zap.Logger

	// mu 保护全部可变状态
	mu sync.Mutex
	// prices 各 (交易对, 交易所) 的价格采样历史
	prices map[seriesKey]*history.Ring[model.PriceSample]
	// lastEmitMs 各 (交易对, 异常类型) 的上次发布时间（毫秒）
	lastEmitMs map[emitKey]int64
	// anomalies 近期异常事件历史
	anomalies *history.Ring[model.AnomalyEvent]
}

// NewValidator 创建跨交易所验证器
// 参数 cfg: 异常检测配置
// 参数 hist: 历史容量配置
// 参数 logger: 日志记录器
func NewValidator(cfg *config.AnomalyConfig, hist *config.HistoryConfig, logger *zap.Logger) *Validator {
	return &Validator{
		cfg:        cfg,
		sampleCap:  hist.PriceSamples,
		logger:     logger.Named("crossex"),
		prices:     make(map[seriesKey]*history.Ring[model.PriceSample]),
		lastEmitMs: make(map[emitKey]int64),
		anomalies:  history.NewRing[model.AnomalyEvent](hist.Anomalies),
	}
}

// ValidatePrice 验证某交易对在各交易所间的价格一致性
// 参数 symbol: 统一交易对标识
// 参数 samples: 各交易所最新采样
// 参数 nowMs: 当前时间戳（毫秒）
// 采样不足 min_venues 家时返回 insufficient_data，置信度为 0。
func (v *Validator) ValidatePrice(symbol string, samples map[model.Venue]model.PriceSample, nowMs int64) *model.ValidationResult {
	v.mu.Lock()
	defer v.mu.Unlock()

	if len(samples) < v.cfg.MinVenues {
		return &model.ValidationResult{
			Status:     model.StatusInsufficientData,
			Confidence: 0,
			VenueCount: len(samples),
			TsUnixMs:   nowMs,
		}
	}

	// 更新历史并统计价格
	var (
		sum, minPrice, maxPrice float64
		cheapest, expensive     model.Venue
	)
	first := true
	for venue, s := range samples {
		v.seriesFor(symbol, venue).Push(s)

		sum += s.Price
		if first || s.Price < minPrice {
			minPrice = s.Price
			cheapest = venue
		}
		if first || s.Price > maxPrice {
			maxPrice = s.Price
			expensive = venue
		}
		first = false
	}

	mean := sum / float64(len(samples))
	var deviation float64
	if mean > 0 {
		deviation = (maxPrice - minPrice) / mean
	}

	result := &model.ValidationResult{
		VenueCount:        len(samples),
		PriceDeviation:    deviation,
		VolumeCorrelation: volumeCorrelation(samples),
		TsUnixMs:          nowMs,
	}

	if deviation > v.cfg.PriceDeviationThreshold {
		v.emit(result, model.AnomalyEvent{
			Kind:      model.AnomalyPriceDeviation,
			Symbol:    symbol,
			Venues:    sortedVenues(samples),
			Magnitude: deviation,
			TsUnixMs:  nowMs,
		})
	}
	if deviation > v.cfg.ArbitrageThreshold {
		result.CheapestVenue = cheapest
		result.ExpensiveVenue = expensive
		v.emit(result, model.AnomalyEvent{
			Kind:      model.AnomalyArbitrage,
			Symbol:    symbol,
			Venues:    []model.Venue{cheapest, expensive},
			Magnitude: deviation,
			TsUnixMs:  nowMs,
		})
	}

	if ev, ok := v.detectFlashCrash(symbol, nowMs); ok {
		v.emit(result, ev)
	}
	if ev, ok := v.detectPumpDump(symbol, nowMs); ok {
		v.emit(result, ev)
	}

	// 偏离度决定状态与基础置信度
	switch {
	case deviation > v.cfg.PriceDeviationThreshold*2:
		result.Status = model.StatusInvalid
		result.Confidence = 30
	case deviation > v.cfg.PriceDeviationThreshold:
		result.Status = model.StatusWarning
		result.Confidence = 60
	default:
		result.Status = model.StatusValid
		result.Confidence = 95
	}

	// 量能相关性高时提升置信度
	if result.VolumeCorrelation > 0.7 {
		result.Confidence = math.Min(100, result.Confidence+10)
	}

	return result
}

// Anomalies 获取近期异常事件（从旧到新）
func (v *Validator) Anomalies() []model.AnomalyEvent {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.anomalies.Snapshot()
}

// emit 发布异常事件，带窗口限流
// 同一 (交易对, 类型) 距上次发布不足一个检测窗口时静默丢弃。
func (v *Validator) emit(result *model.ValidationResult, ev model.AnomalyEvent) {
	key := emitKey{Symbol: ev.Symbol, Kind: ev.Kind}
	if last, ok := v.lastEmitMs[key]; ok && ev.TsUnixMs-last < int64(v.cfg.DetectionWindowMs) {
		return
	}
	v.lastEmitMs[key] = ev.TsUnixMs

	result.Anomalies = append(result.Anomalies, ev)
	v.anomalies.Push(ev)
	v.logger.Warn("检测到市场异常",
		zap.String("kind", string(ev.Kind)),
		zap.String("symbol", ev.Symbol),
		zap.Float64("magnitude", ev.Magnitude))
}

// detectFlashCrash 检测闪崩
// 条件: 至少 2 家交易所的最近两次采样间跌幅超过 flash_crash_drop。
func (v *Validator) detectFlashCrash(symbol string, nowMs int64) (model.AnomalyEvent, bool) {
	var crashed []model.Venue
	var worst float64

	for _, venue := range model.AllVenues {
		ring, ok := v.prices[seriesKey{Symbol: symbol, Venue: venue}]
		if !ok {
			continue
		}
		samples := ring.Snapshot()
		if len(samples) < 2 {
			continue
		}

		prev := samples[len(samples)-2].Price
		cur := samples[len(samples)-1].Price
		if prev <= 0 {
			continue
		}

		change := (cur - prev) / prev
		if change < -v.cfg.FlashCrashDrop {
			crashed = append(crashed, venue)
			if -change > worst {
				worst = -change
			}
		}
	}

	if len(crashed) < 2 {
		return model.AnomalyEvent{}, false
	}
	return model.AnomalyEvent{
		Kind:      model.AnomalyFlashCrash,
		Symbol:    symbol,
		Venues:    crashed,
		Magnitude: worst,
		TsUnixMs:  nowMs,
	}, true
}

// detectPumpDump 检测拉砸
// 条件: 至少 2 家交易所出现量能尖峰（超过窗口均值 volume_spike_multiplier 倍），
// 且这些交易所的平均价格变化幅度超过 pump_dump_swing。
func (v *Validator) detectPumpDump(symbol string, nowMs int64) (model.AnomalyEvent, bool) {
	var spiked []model.Venue
	var changeSum float64

	for _, venue := range model.AllVenues {
		ring, ok := v.prices[seriesKey{Symbol: symbol, Venue: venue}]
		if !ok {
			continue
		}
		samples := ring.Snapshot()
		if len(samples) < 5 {
			continue
		}

		var volSum float64
		for _, s := range samples[:len(samples)-1] {
			volSum += s.Volume24h
		}
		avgVol := volSum / float64(len(samples)-1)
		if avgVol <= 0 {
			continue
		}

		if samples[len(samples)-1].Volume24h/avgVol <= v.cfg.VolumeSpikeMultiplier {
			continue
		}

		prev := samples[len(samples)-2].Price
		if prev <= 0 {
			continue
		}
		changeSum += (samples[len(samples)-1].Price - prev) / prev
		spiked = append(spiked, venue)
	}

	if len(spiked) < 2 {
		return model.AnomalyEvent{}, false
	}

	avgChange := changeSum / float64(len(spiked))
	if math.Abs(avgChange) <= v.cfg.PumpDumpSwing {
		return model.AnomalyEvent{}, false
	}
	return model.AnomalyEvent{
		Kind:      model.AnomalyPumpDump,
		Symbol:    symbol,
		Venues:    spiked,
		Magnitude: avgChange,
		TsUnixMs:  nowMs,
	}, true
}

func (v *Validator) seriesFor(symbol string, venue model.Venue) *history.Ring[model.PriceSample] {
	key := seriesKey{Symbol: symbol, Venue: venue}
	ring, ok := v.prices[key]
	if !ok {
		ring = history.NewRing[model.PriceSample](v.sampleCap)
		v.prices[key] = ring
	}
	return ring
}

// volumeCorrelation 计算简化量能相关性（0-1）
// 以各交易所 24h 成交量标准化后的离散度衡量：离散度越小相关性越高，
// 全部相等时为 1。
func volumeCorrelation(samples map[model.Venue]model.PriceSample) float64 {
	volumes := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.Volume24h > 0 {
			volumes = append(volumes, s.Volume24h)
		}
	}
	if len(volumes) < 2 {
		return 0
	}

	var sum float64
	for _, v := range volumes {
		sum += v
	}
	mean := sum / float64(len(volumes))

	var variance float64
	for _, v := range volumes {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(len(volumes)))
	if std == 0 {
		return 1
	}

	// 标准化后再取离散度，相关性 = 1 - 离散度/2
	var nvar float64
	for _, v := range volumes {
		n := (v - mean) / std
		nvar += n * n
	}
	nstd := math.Sqrt(nvar / float64(len(volumes)))
	corr := 1 - nstd/2

	if corr < 0 {
		return 0
	}
	if corr > 1 {
		return 1
	}
	return corr
}

// sortedVenues 按固定顺序返回采样涉及的交易所
func sortedVenues(samples map[model.Venue]model.PriceSample) []model.Venue {
	out := make([]model.Venue, 0, len(samples))
	for venue := range samples {
		out = append(out, venue)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
