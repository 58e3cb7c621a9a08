// 累计量差（CVD）计算。
// 累计值跨全历史，滚动值取最近 N 笔成交；
// 趋势方向由两者符号共同决定，强度为滚动量差占窗口总量的比例。
package profile

import (
	"math"
	"sync"

	"orderflow-analyzer/internal/core/history"
	"orderflow-analyzer/internal/core/model"
)

// CVDTrend CVD 趋势方向
type CVDTrend string

const (
	// TrendBullish 多头趋势
	TrendBullish CVDTrend = "bullish"
	// TrendBearish 空头趋势
	TrendBearish CVDTrend = "bearish"
	// TrendNeutral 中性
	TrendNeutral CVDTrend = "neutral"
)

// cvdEntry 滚动窗口内的单笔量差记录
type cvdEntry struct {
	// Delta 带方向的成交量（买为正）
	Delta float64
	// Volume 无方向成交量
	Volume float64
}

// CVDState 某交易对的 CVD 趋势快照
type CVDState struct {
	// Cumulative 累计量差
	Cumulative float64
	// Rolling 滚动窗口量差
	Rolling float64
	// Trend 趋势方向
	Trend CVDTrend
	// Strength 趋势强度（0-100）
	Strength int
}

// CVDCalculator 累计量差计算器
type CVDCalculator struct {
	// windowSize 滚动窗口大小（成交笔数）
	windowSize int

	// mu 保护全部可变状态
	mu sync.Mutex
	// cumulative 各交易对累计量差
	cumulative map[string]float64
	// rolling 各交易对滚动窗口
	rolling map[string]*history.Ring[cvdEntry]
}

// NewCVDCalculator 创建 CVD 计算器
// 参数 windowSize: 滚动窗口大小（成交笔数）
func NewCVDCalculator(windowSize int) *CVDCalculator {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &CVDCalculator{
		windowSize: windowSize,
		cumulative: make(map[string]float64),
		rolling:    make(map[string]*history.Ring[cvdEntry]),
	}
}

// Update 按新成交更新 CVD
// 参数 ev: 成交事件
// 返回: 更新后的累计量差
func (c *CVDCalculator) Update(ev *model.TradeEvent) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	delta := ev.SignedQty()
	c.cumulative[ev.Symbol] += delta

	ring, ok := c.rolling[ev.Symbol]
	if !ok {
		ring = history.NewRing[cvdEntry](c.windowSize)
		c.rolling[ev.Symbol] = ring
	}
	ring.Push(cvdEntry{Delta: delta, Volume: ev.Qty})

	return c.cumulative[ev.Symbol]
}

// Cumulative 获取累计量差
func (c *CVDCalculator) Cumulative(symbol string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cumulative[symbol]
}

// Rolling 获取滚动窗口量差
func (c *CVDCalculator) Rolling(symbol string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollingLocked(symbol)
}

// State 获取趋势快照
// 滚动量差与窗口均值同号时判定趋势，强度为滚动量差占窗口总量的比例。
func (c *CVDCalculator) State(symbol string) CVDState {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := CVDState{
		Cumulative: c.cumulative[symbol],
		Trend:      TrendNeutral,
		Strength:   50,
	}

	ring, ok := c.rolling[symbol]
	if !ok || ring.Len() == 0 {
		st.Strength = 0
		return st
	}

	entries := ring.Snapshot()
	var rolling, totalVolume float64
	for _, e := range entries {
		rolling += e.Delta
		totalVolume += e.Volume
	}
	st.Rolling = rolling

	switch {
	case rolling > 0:
		st.Trend = TrendBullish
	case rolling < 0:
		st.Trend = TrendBearish
	default:
		return st
	}

	if totalVolume > 0 {
		st.Strength = int(math.Min(100, math.Abs(rolling)/totalVolume*100))
	}
	return st
}

func (c *CVDCalculator) rollingLocked(symbol string) float64 {
	ring, ok := c.rolling[symbol]
	if !ok {
		return 0
	}
	var sum float64
	for _, e := range ring.Snapshot() {
		sum += e.Delta
	}
	return sum
}
