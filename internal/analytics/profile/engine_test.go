// Package profile Volume Profile 引擎测试
package profile

import (
	"math"
	"testing"

	"go.uber.org/zap"

	"orderflow-analyzer/internal/config"
	"orderflow-analyzer/internal/core/model"
)

func newTestEngine() *Engine {
	cfg := &config.ProfileConfig{
		InstitutionalVolume:  10.0,
		IcebergBaseThreshold: 50.0,
		IcebergPersistCount:  3,
		AbsorptionMultiplier: 2.0,
		ExhaustionMultiplier: 0.3,
		CVDWindow:            100,
	}
	hist := &config.HistoryConfig{Trades: 1000}
	// 权重取 1 便于断言绝对量
	weights := map[model.Venue]float64{model.VenueBinance: 1.0}
	return NewEngine(cfg, hist, weights, zap.NewNop())
}

func trade(price, qty float64, side model.Side) *model.TradeEvent {
	return &model.TradeEvent{
		Venue:        model.VenueBinance,
		Symbol:       "BTCUSDT",
		Price:        price,
		Qty:          qty,
		Side:         side,
		ExchTsUnixMs: 1_700_000_000_000,
	}
}

func TestBucketPrice(t *testing.T) {
	cases := []struct {
		price float64
		want  float64
	}{
		{45123.45, 45100},
		{45188.0, 45200},
		{123.456, 123},
		{9.876, 9.88},
		{0.1234, 0.12},
		{0, 0},
		{-5, 0},
	}
	for _, c := range cases {
		if got := BucketPrice(c.price); math.Abs(got-c.want) > 1e-9 {
			t.Fatalf("BucketPrice(%f)=%f, want %f", c.price, got, c.want)
		}
	}
}

func TestEngine_ValueArea(t *testing.T) {
	e := newTestEngine()

	// 桶量分布: 99:10, 100:50, 101:20, 102:5, 103:15
	for price, qty := range map[float64]float64{
		99: 10, 100: 50, 101: 20, 102: 5, 103: 15,
	} {
		e.AddTrade(trade(price, qty, model.SideBuy))
	}

	p := e.Build("BTCUSDT", 1_700_000_000_000)
	if p.POC != 100 {
		t.Fatalf("POC=%f, want 100", p.POC)
	}
	if p.POCVolume != 50 {
		t.Fatalf("POCVolume=%f, want 50", p.POCVolume)
	}
	if p.TotalVolume != 100 {
		t.Fatalf("TotalVolume=%f, want 100", p.TotalVolume)
	}
	// 70% 目标为 70：从 POC 并入 101（70，未严格超过继续），再并入 99（80，停止）
	if p.VAL != 99 {
		t.Fatalf("VAL=%f, want 99", p.VAL)
	}
	if p.VAH != 101 {
		t.Fatalf("VAH=%f, want 101", p.VAH)
	}
	if p.ValueAreaVolume != 80 {
		t.Fatalf("ValueAreaVolume=%f, want 80", p.ValueAreaVolume)
	}
	if p.VAL > p.POC || p.POC > p.VAH {
		t.Fatalf("应满足 VAL <= POC <= VAH: %f %f %f", p.VAL, p.POC, p.VAH)
	}
}

func TestEngine_EmptyProfile(t *testing.T) {
	e := newTestEngine()
	p := e.Build("BTCUSDT", 1_700_000_000_000)
	if p.TotalVolume != 0 || p.POC != 0 {
		t.Fatalf("无数据时应返回零值 profile: %+v", p)
	}
}

func TestEngine_RejectsInvalidTrades(t *testing.T) {
	e := newTestEngine()
	e.AddTrade(trade(0, 5, model.SideBuy))
	e.AddTrade(trade(100, -1, model.SideSell))

	p := e.Build("BTCUSDT", 1_700_000_000_000)
	if p.TotalVolume != 0 {
		t.Fatalf("非法成交不应累计: TotalVolume=%f", p.TotalVolume)
	}
}

func TestEngine_VenueWeighting(t *testing.T) {
	e := newTestEngine()

	// binance 权重 1.0，未配置的 okx 使用兜底权重 0.1
	e.AddTrade(trade(100, 10, model.SideBuy))
	e.AddTrade(&model.TradeEvent{
		Venue: model.VenueOKX, Symbol: "BTCUSDT",
		Price: 100, Qty: 10, Side: model.SideBuy,
	})

	p := e.Build("BTCUSDT", 1_700_000_000_000)
	if math.Abs(p.TotalVolume-11) > 1e-9 {
		t.Fatalf("TotalVolume=%f, want 11 (10*1.0 + 10*0.1)", p.TotalVolume)
	}
}

func TestEngine_IcebergPersistence(t *testing.T) {
	e := newTestEngine()

	// 价格 100 的动态阈值 = 50 * clamp(100/50000, 0.5, 2.0) = 25
	book := &model.OrderBook{
		Venue:  model.VenueBinance,
		Symbol: "BTCUSDT",
		Bids:   []model.Level{{Price: 100, Qty: 30}},
		Asks:   []model.Level{{Price: 101, Qty: 1}},
	}

	e.AddBook(book)
	e.AddBook(book)
	p := e.Build("BTCUSDT", 1_700_000_000_000)
	if len(p.Icebergs) != 0 {
		t.Fatalf("连续 2 次超阈值不应判定冰山")
	}

	e.AddBook(book)
	p = e.Build("BTCUSDT", 1_700_000_000_001)
	if len(p.Icebergs) == 0 {
		t.Fatalf("连续 3 次超阈值应判定冰山")
	}
	if p.Icebergs[0].Price != 100 {
		t.Fatalf("冰山价格=%f, want 100", p.Icebergs[0].Price)
	}

	// 挂单量跌破阈值后连击清零，标记撤销
	thin := &model.OrderBook{
		Venue:  model.VenueBinance,
		Symbol: "BTCUSDT",
		Bids:   []model.Level{{Price: 100, Qty: 1}},
		Asks:   []model.Level{{Price: 101, Qty: 1}},
	}
	e.AddBook(thin)
	p = e.Build("BTCUSDT", 1_700_000_000_002)
	if len(p.Icebergs) != 0 {
		t.Fatalf("挂单量回落后冰山标记应撤销")
	}
}

func TestEngine_InstitutionalFlow(t *testing.T) {
	e := newTestEngine()

	e.AddTrade(trade(100, 15, model.SideBuy))
	e.AddTrade(trade(100, 12, model.SideSell))
	e.AddTrade(trade(100, 5, model.SideBuy)) // 低于机构阈值

	p := e.Build("BTCUSDT", 1_700_000_000_000)
	if !p.Institutional.Detected || p.Institutional.Events != 2 {
		t.Fatalf("机构事件数=%d, want 2", p.Institutional.Events)
	}
	if p.Institutional.BuyVolume != 15 || p.Institutional.SellVolume != 12 {
		t.Fatalf("机构买卖量=%f/%f, want 15/12", p.Institutional.BuyVolume, p.Institutional.SellVolume)
	}
	if math.Abs(p.Institutional.NetFlow-3) > 1e-9 {
		t.Fatalf("NetFlow=%f, want 3", p.Institutional.NetFlow)
	}
}

func TestEngine_LiquidityGapsAndClusters(t *testing.T) {
	e := newTestEngine()

	// 均值 = (200+200+50+1)/4 ≈ 112.75：两个集群桶、一个缺口桶
	for _, price := range []float64{100, 101} {
		e.AddTrade(trade(price, 200, model.SideBuy))
	}
	e.AddTrade(trade(102, 50, model.SideBuy))
	e.AddTrade(trade(103, 1, model.SideBuy))

	p := e.Build("BTCUSDT", 1_700_000_000_000)
	if len(p.Clusters) != 2 {
		t.Fatalf("集群数=%d, want 2", len(p.Clusters))
	}
	if len(p.LiquidityGaps) != 1 || p.LiquidityGaps[0].Price != 103 {
		t.Fatalf("缺口=%+v, want 价格 103 的一个缺口", p.LiquidityGaps)
	}
}

func TestEngine_Absorption(t *testing.T) {
	e := newTestEngine()

	// 桶 100: 量 120、6 笔；其余 4 桶各 10
	// 均值 = 160/5 = 32，阈值 = 64
	for i := 0; i < 6; i++ {
		e.AddTrade(trade(100, 20, model.SideBuy))
	}
	for _, price := range []float64{200, 300, 400, 500} {
		e.AddTrade(trade(price, 10, model.SideSell))
	}

	res := e.Absorption("BTCUSDT")
	if !res.Detected {
		t.Fatalf("应检测到吸收区")
	}
	if res.Price != 100 || res.Volume != 120 {
		t.Fatalf("吸收区=%+v, want 价格 100 量 120", res)
	}
}

func TestEngine_AbsorptionNeedsSamples(t *testing.T) {
	e := newTestEngine()
	for i := 0; i < 9; i++ {
		e.AddTrade(trade(100, 20, model.SideBuy))
	}
	if res := e.Absorption("BTCUSDT"); res.Detected {
		t.Fatalf("大单样本不足 10 笔不应判定吸收")
	}
}

func TestEngine_Exhaustion(t *testing.T) {
	e := newTestEngine()

	// 前 16 笔平均 50，后 4 笔平均 10 < 50*0.3
	for i := 0; i < 16; i++ {
		e.AddTrade(trade(100, 50, model.SideBuy))
	}
	for i := 0; i < 4; i++ {
		e.AddTrade(trade(100, 10, model.SideBuy))
	}

	res := e.Exhaustion("BTCUSDT")
	if !res.Detected {
		t.Fatalf("应检测到量能衰竭")
	}
	if math.Abs(res.Strength-0.8) > 1e-9 {
		t.Fatalf("衰竭强度=%f, want 0.8", res.Strength)
	}
}

func TestEngine_ExhaustionSteadyFlow(t *testing.T) {
	e := newTestEngine()
	for i := 0; i < 30; i++ {
		e.AddTrade(trade(100, 50, model.SideBuy))
	}
	if res := e.Exhaustion("BTCUSDT"); res.Detected {
		t.Fatalf("量能平稳时不应判定衰竭")
	}
}

func TestEngine_StackedImbalances(t *testing.T) {
	e := newTestEngine()

	heavyBid := &model.OrderBook{
		Venue:  model.VenueBinance,
		Symbol: "BTCUSDT",
		Bids:   []model.Level{{Price: 100, Qty: 100}},
		Asks:   []model.Level{{Price: 101, Qty: 1}},
	}
	for i := 0; i < 3; i++ {
		e.AddBook(heavyBid)
	}

	if got := e.StackedImbalances("BTCUSDT", DirectionLong); got != 3 {
		t.Fatalf("做多堆叠失衡=%d, want 3", got)
	}
	if got := e.StackedImbalances("BTCUSDT", DirectionShort); got != 0 {
		t.Fatalf("做空方向不应有堆叠失衡, got %d", got)
	}

	// 堆叠计数不超过上限
	for i := 0; i < 10; i++ {
		e.AddBook(heavyBid)
	}
	if got := e.StackedImbalances("BTCUSDT", DirectionLong); got != 5 {
		t.Fatalf("堆叠计数应封顶 5, got %d", got)
	}
}

func TestEngine_POCShift(t *testing.T) {
	e := newTestEngine()

	e.AddTrade(trade(100, 50, model.SideBuy))
	for i := 0; i < 6; i++ {
		e.Build("BTCUSDT", 1_700_000_000_000+int64(i))
	}
	if res := e.POCShift("BTCUSDT"); res.Shifted {
		t.Fatalf("POC 稳定时不应判定偏移: %+v", res)
	}

	// 更高价位出现更大量能，POC 上移 2%
	e.AddTrade(trade(102, 100, model.SideBuy))
	e.Build("BTCUSDT", 1_700_000_000_010)

	res := e.POCShift("BTCUSDT")
	if !res.Shifted || !res.Up {
		t.Fatalf("POC 上移应被检测: %+v", res)
	}
	if math.Abs(res.MagnitudePct-2.0) > 1e-6 {
		t.Fatalf("偏移幅度=%f, want 2.0", res.MagnitudePct)
	}
}

func TestEngine_DataQuality(t *testing.T) {
	e := newTestEngine()

	// 样本稀少时三项均取最低档: (0.3+0.3+1.0)/3
	e.AddTrade(trade(100, 1, model.SideBuy))
	p := e.Build("BTCUSDT", 1_700_000_000_000)
	want := (0.3 + 0.3 + 1.0) / 3
	if math.Abs(p.DataQuality-want) > 1e-9 {
		t.Fatalf("DataQuality=%f, want %f", p.DataQuality, want)
	}

	// 样本充足后得分升至满分
	for i := 0; i < 150; i++ {
		e.AddTrade(trade(100, 1, model.SideBuy))
	}
	book := &model.OrderBook{
		Venue:  model.VenueBinance,
		Symbol: "BTCUSDT",
		Bids:   []model.Level{{Price: 100, Qty: 1}},
		Asks:   []model.Level{{Price: 101, Qty: 1}},
	}
	for i := 0; i < 11; i++ {
		e.AddBook(book)
	}
	p = e.Build("BTCUSDT", 1_700_000_000_001)
	if math.Abs(p.DataQuality-1.0) > 1e-9 {
		t.Fatalf("DataQuality=%f, want 1.0", p.DataQuality)
	}
}

func TestEngine_ClusterScoreRange(t *testing.T) {
	e := newTestEngine()

	heavyBid := &model.OrderBook{
		Venue:  model.VenueBinance,
		Symbol: "BTCUSDT",
		Bids:   []model.Level{{Price: 100, Qty: 100}},
		Asks:   []model.Level{{Price: 101, Qty: 1}},
	}
	for i := 0; i < 5; i++ {
		e.AddBook(heavyBid)
	}
	for i := 0; i < 6; i++ {
		e.AddTrade(trade(100, 20, model.SideBuy))
	}
	for _, price := range []float64{200, 300, 400, 500} {
		e.AddTrade(trade(price, 10, model.SideSell))
	}

	score := e.ClusterScore("BTCUSDT", DirectionLong)
	if score < 0 || score > 1 {
		t.Fatalf("综合得分超出 [0,1]: %f", score)
	}
	// 堆叠 5 次 (0.4) + 吸收 (0.15)，无 POC 偏移和衰竭
	if math.Abs(score-0.55) > 1e-9 {
		t.Fatalf("综合得分=%f, want 0.55", score)
	}
}
