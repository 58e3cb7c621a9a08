// Package binance Binance 解析器测试
package binance

import (
	"testing"

	"orderflow-analyzer/internal/core/model"
	"orderflow-analyzer/internal/metadata"
)

func createTestSymbolMaps() map[string]*metadata.SymbolMap {
	return map[string]*metadata.SymbolMap{
		"BTCUSDT": {Canon: "BTCUSDT", BinanceSym: "btcusdt"},
		"ETHUSDT": {Canon: "ETHUSDT", BinanceSym: "ethusdt"},
	}
}

func TestParser_DepthUpdate(t *testing.T) {
	parser := NewParser(createTestSymbolMaps())

	msg := `{
		"e":"depthUpdate",
		"E":1700000000000,
		"s":"BTCUSDT",
		"U":100,
		"u":102,
		"b":[["50000.5","1.5"],["49999.0","0"]],
		"a":[["50001.0","2.0"]]
	}`

	bookEv, tradeEv, err := parser.Parse([]byte(msg))
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if tradeEv != nil {
		t.Fatalf("depthUpdate 不应产生成交事件")
	}
	if bookEv == nil {
		t.Fatalf("应产生订单簿事件")
	}
	if bookEv.Kind != model.KindDelta {
		t.Fatalf("Kind=%s, want delta", bookEv.Kind)
	}
	if bookEv.Symbol != "BTCUSDT" || bookEv.Venue != model.VenueBinance {
		t.Fatalf("Symbol=%s Venue=%s", bookEv.Symbol, bookEv.Venue)
	}
	if bookEv.FirstSeq != 100 || bookEv.LastSeq != 102 {
		t.Fatalf("序列号=%d/%d, want 100/102", bookEv.FirstSeq, bookEv.LastSeq)
	}
	if bookEv.ExchTsUnixMs != 1700000000000 {
		t.Fatalf("ExchTsUnixMs=%d", bookEv.ExchTsUnixMs)
	}
	if len(bookEv.Bids) != 2 || bookEv.Bids[0].Price != 50000.5 || bookEv.Bids[0].Qty != 1.5 {
		t.Fatalf("Bids=%v", bookEv.Bids)
	}
	// 数量为 0 的档位保留，由调和器执行删除
	if bookEv.Bids[1].Qty != 0 {
		t.Fatalf("删除档位应保留 Qty=0: %v", bookEv.Bids[1])
	}
	if len(bookEv.Asks) != 1 || bookEv.Asks[0].Price != 50001.0 {
		t.Fatalf("Asks=%v", bookEv.Asks)
	}
}

func TestParser_AggTrade(t *testing.T) {
	parser := NewParser(createTestSymbolMaps())

	tests := []struct {
		name     string
		message  string
		wantSide model.Side
	}{
		{
			name:     "买方为 taker",
			message:  `{"e":"aggTrade","E":1700000000000,"s":"BTCUSDT","p":"50000.5","q":"0.25","m":false}`,
			wantSide: model.SideBuy,
		},
		{
			name:     "买方为 maker 时主动方向为卖出",
			message:  `{"e":"aggTrade","E":1700000000000,"s":"BTCUSDT","p":"50000.5","q":"0.25","m":true}`,
			wantSide: model.SideSell,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bookEv, tradeEv, err := parser.Parse([]byte(tt.message))
			if err != nil {
				t.Fatalf("解析失败: %v", err)
			}
			if bookEv != nil {
				t.Fatalf("aggTrade 不应产生订单簿事件")
			}
			if tradeEv == nil {
				t.Fatalf("应产生成交事件")
			}
			if tradeEv.Side != tt.wantSide {
				t.Errorf("Side=%s, want %s", tradeEv.Side, tt.wantSide)
			}
			if tradeEv.Price != 50000.5 || tradeEv.Qty != 0.25 {
				t.Errorf("Price=%f Qty=%f", tradeEv.Price, tradeEv.Qty)
			}
		})
	}
}

func TestParser_IgnoresUnknown(t *testing.T) {
	parser := NewParser(createTestSymbolMaps())

	// 订阅确认
	bookEv, tradeEv, err := parser.Parse([]byte(`{"result":null,"id":1}`))
	if err != nil || bookEv != nil || tradeEv != nil {
		t.Fatalf("订阅确认应被忽略: book=%v trade=%v err=%v", bookEv, tradeEv, err)
	}

	// 未配置的交易对
	bookEv, _, err = parser.Parse([]byte(`{"e":"depthUpdate","s":"SOLUSDT","U":1,"u":1,"b":[["1","1"]],"a":[["2","2"]]}`))
	if err != nil || bookEv != nil {
		t.Fatalf("未配置交易对应被忽略: %v", bookEv)
	}
}

func TestParser_MalformedLevelsSkipped(t *testing.T) {
	parser := NewParser(createTestSymbolMaps())

	msg := `{"e":"depthUpdate","s":"BTCUSDT","U":1,"u":1,"b":[["bad","1"],["50000","1.5"],["49999"]],"a":[]}`
	bookEv, _, err := parser.Parse([]byte(msg))
	if err != nil {
		t.Fatalf("非法档位不应中断整条消息: %v", err)
	}
	if len(bookEv.Bids) != 1 || bookEv.Bids[0].Price != 50000 {
		t.Fatalf("应只保留合法档位: %v", bookEv.Bids)
	}
}

func TestParser_InvalidJSON(t *testing.T) {
	parser := NewParser(createTestSymbolMaps())
	if _, _, err := parser.Parse([]byte(`{invalid json}`)); err == nil {
		t.Fatalf("期望错误但得到 nil")
	}
}

func TestParseSnapshot(t *testing.T) {
	snap := &DepthSnapshot{
		LastUpdateID: 555,
		Bids:         [][]string{{"50000", "1"}},
		Asks:         [][]string{{"50001", "2"}},
	}
	ev := ParseSnapshot("BTCUSDT", snap)
	if ev.Kind != model.KindSnapshot {
		t.Fatalf("Kind=%s, want snapshot", ev.Kind)
	}
	if ev.FirstSeq != 555 || ev.LastSeq != 555 {
		t.Fatalf("快照序列号=%d/%d, want 555/555", ev.FirstSeq, ev.LastSeq)
	}
	if len(ev.Bids) != 1 || len(ev.Asks) != 1 {
		t.Fatalf("档位数=%d/%d", len(ev.Bids), len(ev.Asks))
	}
}
