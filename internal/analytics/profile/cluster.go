// 集群分析：堆叠失衡、POC 偏移、吸收、衰竭及综合得分。
// 综合得分为 0-1 的加权和：堆叠失衡 0.4、POC 偏移对齐 0.3、
// 吸收 0.15、衰竭 0.15。
package profile

import (
	"math"

	"go.uber.org/zap"
)

// imbalanceThreshold 单次盘口失衡的显著性阈值
const imbalanceThreshold = 0.6

// minStackCount 构成堆叠的最小连续失衡次数
const minStackCount = 3

// maxStackCount 堆叠计数上限
const maxStackCount = 5

// pocShiftThresholdPct POC 偏移的显著性阈值（百分比）
const pocShiftThresholdPct = 0.5

// POCShiftResult POC 偏移检测结果
type POCShiftResult struct {
	// Shifted 偏移是否显著
	Shifted bool
	// Up 偏移方向是否向上
	Up bool
	// MagnitudePct 偏移幅度（百分比）
	MagnitudePct float64
}

// AbsorptionResult 吸收检测结果
type AbsorptionResult struct {
	// Detected 是否检测到吸收
	Detected bool
	// Price 吸收发生的价格桶
	Price float64
	// Volume 桶内大单成交量
	Volume float64
}

// ExhaustionResult 衰竭检测结果
type ExhaustionResult struct {
	// Detected 是否检测到衰竭
	Detected bool
	// Price 最近成交价格
	Price float64
	// Strength 衰竭强度（量能降幅，0-1）
	Strength float64
}

// StackedImbalances 统计与方向一致的连续盘口失衡次数
// 参数 symbol: 统一交易对标识
// 参数 dir: 拟议方向（做多要求买强失衡，做空要求卖强失衡）
// 返回: 最长连续次数（不足 minStackCount 记 0，上限 maxStackCount）
func (e *Engine) StackedImbalances(symbol string, dir Direction) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(symbol)
	imbalances := st.imbalances.Snapshot()
	if len(imbalances) < minStackCount {
		return 0
	}

	best, streak := 0, 0
	for _, v := range imbalances {
		aligned := (dir == DirectionLong && v > imbalanceThreshold) ||
			(dir == DirectionShort && v < -imbalanceThreshold)
		if aligned {
			streak++
			if streak > best {
				best = streak
			}
		} else {
			streak = 0
		}
	}

	if best < minStackCount {
		return 0
	}
	if best > maxStackCount {
		return maxStackCount
	}
	return best
}

// POCShift 检测 POC 相对近期均值的偏移
// 当前 POC 与此前 5 次 POC 均值比较，偏移超过 0.5% 视为显著。
func (e *Engine) POCShift(symbol string) POCShiftResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(symbol)
	pocs := st.pocHistory.Snapshot()
	if len(pocs) < 6 {
		return POCShiftResult{}
	}

	current := pocs[len(pocs)-1]
	prev := pocs[len(pocs)-6 : len(pocs)-1]

	var sum float64
	for _, p := range prev {
		sum += p
	}
	avg := sum / float64(len(prev))
	if avg <= 0 {
		return POCShiftResult{}
	}

	shiftPct := (current - avg) / avg * 100
	result := POCShiftResult{
		Shifted:      math.Abs(shiftPct) >= pocShiftThresholdPct,
		Up:           shiftPct > 0,
		MagnitudePct: math.Abs(shiftPct),
	}

	if result.Shifted {
		e.logger.Debug("POC 偏移",
			zap.String("symbol", symbol),
			zap.Bool("up", result.Up),
			zap.Float64("magnitude_pct", result.MagnitudePct))
	}
	return result
}

// Absorption 检测吸收区
// 最近 50 笔大单按价格桶聚合，某桶成交量超过桶均值
// absorption_multiplier 倍且笔数不少于 5 时判定为吸收。
func (e *Engine) Absorption(symbol string) AbsorptionResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(symbol)
	trades := st.largeTrades.Snapshot()
	if len(trades) > 50 {
		trades = trades[len(trades)-50:]
	}
	if len(trades) < 10 {
		return AbsorptionResult{}
	}

	type group struct {
		volume float64
		count  int
	}
	groups := make(map[float64]*group)
	for _, t := range trades {
		key := BucketPrice(t.Price)
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
		}
		g.volume += t.Qty
		g.count++
	}

	var total float64
	for _, g := range groups {
		total += g.volume
	}
	avg := total / float64(len(groups))
	threshold := avg * e.cfg.AbsorptionMultiplier

	for price, g := range groups {
		if g.volume >= threshold && g.count >= 5 {
			e.logger.Info("检测到吸收区",
				zap.String("symbol", symbol),
				zap.Float64("price", price),
				zap.Float64("volume", g.volume))
			return AbsorptionResult{Detected: true, Price: price, Volume: g.volume}
		}
	}
	return AbsorptionResult{}
}

// Exhaustion 检测量能衰竭
// 大单样本按 80/20 切分，尾段平均单笔量低于前段
// exhaustion_multiplier 倍时判定为衰竭；强度为量能降幅，上限 1.0。
func (e *Engine) Exhaustion(symbol string) ExhaustionResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(symbol)
	trades := st.largeTrades.Snapshot()
	if len(trades) < 20 {
		return ExhaustionResult{}
	}

	split := int(float64(len(trades)) * 0.8)
	old, recent := trades[:split], trades[split:]

	var oldSum, recentSum float64
	for _, t := range old {
		oldSum += t.Qty
	}
	for _, t := range recent {
		recentSum += t.Qty
	}
	oldAvg := oldSum / float64(len(old))
	recentAvg := recentSum / float64(len(recent))

	if oldAvg <= 0 || recentAvg >= oldAvg*e.cfg.ExhaustionMultiplier {
		return ExhaustionResult{}
	}

	strength := math.Min((oldAvg-recentAvg)/oldAvg, 1.0)
	price := recent[len(recent)-1].Price

	e.logger.Info("检测到量能衰竭",
		zap.String("symbol", symbol),
		zap.Float64("price", price),
		zap.Float64("strength", strength))

	return ExhaustionResult{Detected: true, Price: price, Strength: strength}
}

// ClusterScore 计算集群分析综合得分（0-1）
// 参数 symbol: 统一交易对标识
// 参数 dir: 拟议交易方向
func (e *Engine) ClusterScore(symbol string, dir Direction) float64 {
	stacked := e.StackedImbalances(symbol, dir)
	pocShift := e.POCShift(symbol)
	absorption := e.Absorption(symbol)
	exhaustion := e.Exhaustion(symbol)

	score := math.Min(float64(stacked)/float64(maxStackCount), 1.0) * 0.4

	if pocShift.Shifted && pocShift.Up == (dir == DirectionLong) {
		score += math.Min(pocShift.MagnitudePct/2.0, 1.0) * 0.3
	}
	if absorption.Detected {
		score += 0.15
	}
	if exhaustion.Detected {
		score += exhaustion.Strength * 0.15
	}
	return score
}
