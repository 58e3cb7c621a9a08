// Volume Profile 引擎。
// 价格桶粒度随价格量级缩放：保留三位有效数字附近的精度，
// 即按 2-trunc(log10(price)) 位小数四舍五入。
package profile

import (
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"orderflow-analyzer/internal/config"
	"orderflow-analyzer/internal/core/history"
	"orderflow-analyzer/internal/core/model"
)

// pocHistoryCap POC 偏移追踪的历史长度
const pocHistoryCap = 20

// largeTradeCap 大单历史容量（吸收 / 衰竭检测用）
const largeTradeCap = 100

// imbalanceCap 盘口失衡历史容量（堆叠失衡检测用）
const imbalanceCap = 10

// defaultVenueWeight 未配置交易所的兜底权重
const defaultVenueWeight = 0.1

// weightedTrade 引擎内部的加权成交记录
type weightedTrade struct {
	// Price 成交价格
	Price float64
	// Qty 原始成交量
	Qty float64
	// WeightedQty 加权成交量
	WeightedQty float64
	// Delta 带方向的加权成交量（买为正）
	Delta float64
	// TsUnixMs 成交时间戳（毫秒）
	TsUnixMs int64
}

// bucketState 价格桶内部状态
type bucketState struct {
	// agg 对外暴露的聚合值
	agg PriceLevelAggregate
	// icebergStreak 连续超过冰山阈值的快照次数
	icebergStreak int
}

// symbolState 单交易对的引擎状态
type symbolState struct {
	// buckets 价格桶（key 为桶中心价格）
	buckets map[float64]*bucketState
	// trades 加权成交历史
	trades *history.Ring[weightedTrade]
	// largeTrades 机构级及以上的成交历史
	largeTrades *history.Ring[weightedTrade]
	// imbalances 盘口失衡历史（[-1,1]，买强为正）
	imbalances *history.Ring[float64]
	// pocHistory 近期 POC 历史
	pocHistory *history.Ring[float64]
	// snapshotCount 已摄入的订单簿快照数
	snapshotCount int
	// rejectCount 因字段非法被丢弃的输入数
	rejectCount int
	// instEvents 机构级成交事件数
	instEvents int
	// instBuy 机构买入量
	instBuy float64
	// instSell 机构卖出量
	instSell float64
}

// Engine Volume Profile 引擎
type Engine struct {
	// cfg 分析配置
	cfg *config.ProfileConfig
	// weights 各交易所可靠性权重
	weights map[model.Venue]float64
	// logger 日志记录器
	logger *zap.Logger
	// cvd 量差计算器
	cvd *CVDCalculator

	// mu 保护 symbols
	mu sync.Mutex
	// symbols 各交易对状态
	symbols map[string]*symbolState
	// tradeCap 成交历史容量
	tradeCap int
}

// NewEngine 创建 Volume Profile 引擎
// 参数 cfg: 分析配置
// 参数 hist: 历史容量配置
// 参数 weights: 各交易所可靠性权重
// 参数 logger: 日志记录器
func NewEngine(cfg *config.ProfileConfig, hist *config.HistoryConfig, weights map[model.Venue]float64, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		weights:  weights,
		logger:   logger.Named("profile"),
		cvd:      NewCVDCalculator(cfg.CVDWindow),
		symbols:  make(map[string]*symbolState),
		tradeCap: hist.Trades,
	}
}

// CVD 获取量差计算器
func (e *Engine) CVD() *CVDCalculator {
	return e.cvd
}

// BucketPrice 将价格归入桶中心
// 小数位数 = 2 - trunc(log10(price))，使桶宽约为价格的 0.1%。
func BucketPrice(price float64) float64 {
	if price <= 0 {
		return 0
	}
	digits := 2 - int(math.Trunc(math.Log10(price)))
	factor := math.Pow(10, float64(digits))
	return math.Round(price*factor) / factor
}

// AddTrade 摄入一笔成交
// 成交量按交易所权重折算后累计到价格桶；机构级成交另行记录。
func (e *Engine) AddTrade(ev *model.TradeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(ev.Symbol)

	if !ev.IsValid() {
		st.rejectCount++
		return
	}

	weight := e.weightFor(ev.Venue)
	wq := ev.Qty * weight
	delta := wq
	if ev.Side == model.SideSell {
		delta = -wq
	}

	bucket := e.bucketFor(st, ev.Price)
	bucket.agg.ExecutedVolume += wq
	bucket.agg.Delta += delta
	bucket.agg.TradeCount++
	bucket.agg.CompositeVolume = bucket.agg.ExecutedVolume + bucket.agg.RestingLiquidity

	tr := weightedTrade{
		Price:       ev.Price,
		Qty:         ev.Qty,
		WeightedQty: wq,
		Delta:       delta,
		TsUnixMs:    ev.ExchTsUnixMs,
	}
	st.trades.Push(tr)

	if ev.Qty >= e.cfg.InstitutionalVolume {
		st.largeTrades.Push(tr)
		st.instEvents++
		if ev.Side == model.SideBuy {
			st.instBuy += ev.Qty
		} else {
			st.instSell += ev.Qty
		}
	}

	e.cvd.Update(ev)
}

// AddBook 摄入一份订单簿快照
// 挂单量按交易所权重折算后覆盖对应桶的静态流动性，并推进冰山检测。
func (e *Engine) AddBook(book *model.OrderBook) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(book.Symbol)
	weight := e.weightFor(book.Venue)

	// 同一快照内先按桶聚合，再整体覆盖
	resting := make(map[float64]float64)
	for _, l := range book.Bids {
		if l.Price <= 0 || l.Qty <= 0 {
			st.rejectCount++
			continue
		}
		resting[BucketPrice(l.Price)] += l.Qty * weight
	}
	for _, l := range book.Asks {
		if l.Price <= 0 || l.Qty <= 0 {
			st.rejectCount++
			continue
		}
		resting[BucketPrice(l.Price)] += l.Qty * weight
	}

	for price, volume := range resting {
		bucket := e.bucketFor(st, price)
		bucket.agg.RestingLiquidity = volume
		bucket.agg.CompositeVolume = bucket.agg.ExecutedVolume + volume

		// 冰山检测：挂单量连续超过动态阈值
		if volume > e.icebergThreshold(price) {
			bucket.icebergStreak++
			if bucket.icebergStreak >= e.cfg.IcebergPersistCount && !bucket.agg.IcebergDetected {
				bucket.agg.IcebergDetected = true
				e.logger.Info("检测到冰山挂单",
					zap.String("symbol", book.Symbol),
					zap.Float64("price", price),
					zap.Float64("volume", volume))
			}
		} else {
			bucket.icebergStreak = 0
			bucket.agg.IcebergDetected = false
		}
	}

	st.imbalances.Push(book.ImbalanceRatio(5))
	st.snapshotCount++
}

// Build 构建某交易对的 Volume Profile
// 参数 symbol: 统一交易对标识
// 参数 nowMs: 构建时间戳（毫秒）
// 无数据时返回零值 profile（DataQuality 为 0）。
func (e *Engine) Build(symbol string, nowMs int64) *VolumeProfile {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(symbol)
	p := &VolumeProfile{Symbol: symbol, TsUnixMs: nowMs}

	active := make([]PriceLevelAggregate, 0, len(st.buckets))
	for _, b := range st.buckets {
		if b.agg.CompositeVolume > 0 {
			a := b.agg
			active = append(active, a)
		}
	}
	if len(active) == 0 {
		return p
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Price < active[j].Price })

	var total float64
	pocIdx := 0
	for i, a := range active {
		total += a.CompositeVolume
		if a.CompositeVolume > active[pocIdx].CompositeVolume {
			pocIdx = i
		}
	}

	p.POC = active[pocIdx].Price
	p.POCVolume = active[pocIdx].CompositeVolume
	p.POCStrength = pocStrength(active, pocIdx)
	p.TotalVolume = total

	lowIdx, highIdx, vaVolume := valueArea(active, pocIdx, total*0.70)
	p.VAL = active[lowIdx].Price
	p.VAH = active[highIdx].Price
	p.ValueAreaVolume = vaVolume

	avg := total / float64(len(active))
	p.Clusters = findClusters(active, avg)
	p.LiquidityGaps = findLiquidityGaps(active, avg)
	p.AccumulationZones = findAccumulationZones(active, avg, pocIdx)
	p.Icebergs = findIcebergs(st)

	p.Institutional = InstitutionalFlow{
		Detected:   st.instEvents > 0,
		Events:     st.instEvents,
		BuyVolume:  st.instBuy,
		SellVolume: st.instSell,
		NetFlow:    st.instBuy - st.instSell,
	}

	p.CVD = e.cvd.Cumulative(symbol)
	p.RollingCVD = e.cvd.Rolling(symbol)
	p.DataQuality = dataQuality(st)

	st.pocHistory.Push(p.POC)
	return p
}

// valueArea 从 POC 向两侧贪心扩张连续价格窗口
// 每步并入量更大的相邻桶，累计量严格超过目标后停止。
// 返回: 下界索引、上界索引、区间内合成量
func valueArea(levels []PriceLevelAggregate, pocIdx int, target float64) (int, int, float64) {
	lowIdx, highIdx := pocIdx, pocIdx
	volume := levels[pocIdx].CompositeVolume

	for volume <= target && (lowIdx > 0 || highIdx < len(levels)-1) {
		var lowerVol, upperVol float64
		if lowIdx > 0 {
			lowerVol = levels[lowIdx-1].CompositeVolume
		}
		if highIdx < len(levels)-1 {
			upperVol = levels[highIdx+1].CompositeVolume
		}

		if lowIdx > 0 && (lowerVol > upperVol || highIdx == len(levels)-1) {
			lowIdx--
			volume += lowerVol
		} else {
			highIdx++
			volume += upperVol
		}
	}
	return lowIdx, highIdx, volume
}

// pocStrength POC 相对次高桶的强度（0-1）
func pocStrength(levels []PriceLevelAggregate, pocIdx int) float64 {
	if len(levels) < 2 {
		return 1
	}
	var second float64
	for i, a := range levels {
		if i != pocIdx && a.CompositeVolume > second {
			second = a.CompositeVolume
		}
	}
	strength := levels[pocIdx].CompositeVolume / (second + 1e-6) / 2
	return math.Min(strength, 1)
}

// findClusters 量能集群：合成量超过均值 1.5 倍的桶，按量降序取前 10
func findClusters(levels []PriceLevelAggregate, avg float64) []VolumeCluster {
	if avg <= 0 {
		return nil
	}
	var out []VolumeCluster
	for _, a := range levels {
		if a.CompositeVolume > avg*1.5 {
			out = append(out, VolumeCluster{
				Price:    a.Price,
				Volume:   a.CompositeVolume,
				Strength: a.CompositeVolume / avg,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Volume > out[j].Volume })
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

// findLiquidityGaps 流动性缺口：合成量低于均值 20% 的桶
func findLiquidityGaps(levels []PriceLevelAggregate, avg float64) []LiquidityGap {
	if avg <= 0 {
		return nil
	}
	var out []LiquidityGap
	for _, a := range levels {
		if a.CompositeVolume < avg*0.2 {
			out = append(out, LiquidityGap{
				Price:  a.Price,
				Volume: a.CompositeVolume,
				GapPct: (1 - a.CompositeVolume/avg) * 100,
			})
		}
	}
	return out
}

// findAccumulationZones 筹码堆积区：高量桶且距 POC 超过 5 个桶
// POC 下方为吸筹，上方为派发；按量降序。
func findAccumulationZones(levels []PriceLevelAggregate, avg float64, pocIdx int) []AccumulationZone {
	if avg <= 0 {
		return nil
	}
	var out []AccumulationZone
	for i, a := range levels {
		dist := i - pocIdx
		if dist < 0 {
			dist = -dist
		}
		if a.CompositeVolume > avg*1.5 && dist > 5 {
			out = append(out, AccumulationZone{
				Price:        a.Price,
				Volume:       a.CompositeVolume,
				VolumeRatio:  a.CompositeVolume / avg,
				Accumulation: i < pocIdx,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Volume > out[j].Volume })
	return out
}

// findIcebergs 当前被标记的冰山挂单，按量降序取前 10
func findIcebergs(st *symbolState) []IcebergLevel {
	var out []IcebergLevel
	for _, b := range st.buckets {
		if b.agg.IcebergDetected {
			out = append(out, IcebergLevel{
				Price:  b.agg.Price,
				Volume: b.agg.CompositeVolume,
				Streak: b.icebergStreak,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Volume > out[j].Volume })
	if len(out) > 10 {
		out = out[:10]
	}
	return out
}

// dataQuality 数据质量得分（0-1）
// 成交样本量、快照样本量和非法输入率三项各占三分之一。
func dataQuality(st *symbolState) float64 {
	var scores [3]float64

	switch {
	case st.trades.Total() > 100:
		scores[0] = 1.0
	case st.trades.Total() > 50:
		scores[0] = 0.7
	default:
		scores[0] = 0.3
	}

	switch {
	case st.snapshotCount > 10:
		scores[1] = 1.0
	case st.snapshotCount > 5:
		scores[1] = 0.7
	default:
		scores[1] = 0.3
	}

	switch {
	case st.rejectCount < 10:
		scores[2] = 1.0
	case st.rejectCount < 50:
		scores[2] = 0.6
	default:
		scores[2] = 0.2
	}

	return (scores[0] + scores[1] + scores[2]) / 3
}

// icebergThreshold 冰山检测的动态阈值
// 基础阈值按价格量级缩放，系数限制在 [0.5, 2.0]。
func (e *Engine) icebergThreshold(price float64) float64 {
	factor := math.Max(0.5, math.Min(2.0, price/50000))
	return e.cfg.IcebergBaseThreshold * factor
}

func (e *Engine) weightFor(venue model.Venue) float64 {
	if w, ok := e.weights[venue]; ok && w > 0 {
		return w
	}
	return defaultVenueWeight
}

func (e *Engine) stateFor(symbol string) *symbolState {
	st, ok := e.symbols[symbol]
	if !ok {
		st = &symbolState{
			buckets:     make(map[float64]*bucketState),
			trades:      history.NewRing[weightedTrade](e.tradeCap),
			largeTrades: history.NewRing[weightedTrade](largeTradeCap),
			imbalances:  history.NewRing[float64](imbalanceCap),
			pocHistory:  history.NewRing[float64](pocHistoryCap),
		}
		e.symbols[symbol] = st
	}
	return st
}

func (e *Engine) bucketFor(st *symbolState, price float64) *bucketState {
	key := BucketPrice(price)
	b, ok := st.buckets[key]
	if !ok {
		b = &bucketState{agg: PriceLevelAggregate{Price: key}}
		st.buckets[key] = b
	}
	return b
}
