// Package coinbase Coinbase 解析器测试
package coinbase

import (
	"testing"

	"orderflow-analyzer/internal/core/model"
	"orderflow-analyzer/internal/metadata"
)

func createTestSymbolMaps() map[string]*metadata.SymbolMap {
	return map[string]*metadata.SymbolMap{
		"BTCUSDT": {Canon: "BTCUSDT", CoinbaseSym: "BTC-USD"},
	}
}

func TestParser_SnapshotAndSyntheticSeq(t *testing.T) {
	parser := NewParser(createTestSymbolMaps())

	snap := `{"type":"snapshot","product_id":"BTC-USD","bids":[["50000","1.5"]],"asks":[["50001","2.0"]]}`
	bookEv, tradeEv, err := parser.Parse([]byte(snap))
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if tradeEv != nil {
		t.Fatalf("snapshot 不应产生成交事件")
	}
	if bookEv.Kind != model.KindSnapshot || bookEv.Symbol != "BTCUSDT" {
		t.Fatalf("快照事件错误: %+v", bookEv)
	}
	if bookEv.FirstSeq != 1 || bookEv.LastSeq != 1 {
		t.Fatalf("快照合成序列号=%d/%d, want 1/1", bookEv.FirstSeq, bookEv.LastSeq)
	}

	// 后续 l2update 序列号逐条递增
	upd := `{"type":"l2update","product_id":"BTC-USD","time":"2023-11-14T22:13:20.000000Z","changes":[["buy","50000","0"],["sell","50002","1.0"]]}`
	for want := int64(2); want <= 4; want++ {
		bookEv, _, err = parser.Parse([]byte(upd))
		if err != nil {
			t.Fatalf("解析失败: %v", err)
		}
		if bookEv.Kind != model.KindDelta {
			t.Fatalf("Kind=%s, want delta", bookEv.Kind)
		}
		if bookEv.FirstSeq != want || bookEv.LastSeq != want {
			t.Fatalf("合成序列号=%d, want %d", bookEv.LastSeq, want)
		}
	}

	// changes 按 side 拆分到买卖盘
	if len(bookEv.Bids) != 1 || bookEv.Bids[0].Price != 50000 || bookEv.Bids[0].Qty != 0 {
		t.Fatalf("Bids=%v", bookEv.Bids)
	}
	if len(bookEv.Asks) != 1 || bookEv.Asks[0].Price != 50002 {
		t.Fatalf("Asks=%v", bookEv.Asks)
	}
	if bookEv.ExchTsUnixMs != 1700000000000 {
		t.Fatalf("ExchTsUnixMs=%d, want 1700000000000", bookEv.ExchTsUnixMs)
	}
}

func TestParser_ResetRestartsSequence(t *testing.T) {
	parser := NewParser(createTestSymbolMaps())

	snap := `{"type":"snapshot","product_id":"BTC-USD","bids":[],"asks":[]}`
	upd := `{"type":"l2update","product_id":"BTC-USD","changes":[["buy","50000","1"]]}`

	parser.Parse([]byte(snap))
	parser.Parse([]byte(upd))

	// 重连后重置，从快照重新计数
	parser.Reset()
	bookEv, _, err := parser.Parse([]byte(snap))
	if err != nil || bookEv.LastSeq != 1 {
		t.Fatalf("重置后快照序列号应回到 1: %+v", bookEv)
	}
	bookEv, _, _ = parser.Parse([]byte(upd))
	if bookEv.LastSeq != 2 {
		t.Fatalf("重置后首条增量序列号=%d, want 2", bookEv.LastSeq)
	}
}

func TestParser_MatchMakerSideInversion(t *testing.T) {
	parser := NewParser(createTestSymbolMaps())

	tests := []struct {
		name     string
		message  string
		wantSide model.Side
	}{
		{
			name:     "maker 为 buy 时主动方向为卖出",
			message:  `{"type":"match","product_id":"BTC-USD","time":"2023-11-14T22:13:20Z","side":"buy","price":"50000.5","size":"0.25"}`,
			wantSide: model.SideSell,
		},
		{
			name:     "maker 为 sell 时主动方向为买入",
			message:  `{"type":"last_match","product_id":"BTC-USD","time":"2023-11-14T22:13:20Z","side":"sell","price":"50000.5","size":"0.25"}`,
			wantSide: model.SideBuy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bookEv, tradeEv, err := parser.Parse([]byte(tt.message))
			if err != nil {
				t.Fatalf("解析失败: %v", err)
			}
			if bookEv != nil {
				t.Fatalf("match 不应产生订单簿事件")
			}
			if tradeEv == nil || tradeEv.Side != tt.wantSide {
				t.Fatalf("Side=%v, want %s", tradeEv, tt.wantSide)
			}
			if tradeEv.Price != 50000.5 || tradeEv.Qty != 0.25 {
				t.Errorf("Price=%f Qty=%f", tradeEv.Price, tradeEv.Qty)
			}
		})
	}
}

func TestParser_IgnoresHeartbeatAndUnknownProduct(t *testing.T) {
	parser := NewParser(createTestSymbolMaps())

	bookEv, tradeEv, err := parser.Parse([]byte(`{"type":"heartbeat","product_id":"BTC-USD","sequence":123}`))
	if err != nil || bookEv != nil || tradeEv != nil {
		t.Fatalf("heartbeat 应被忽略")
	}

	bookEv, _, err = parser.Parse([]byte(`{"type":"snapshot","product_id":"SOL-USD","bids":[],"asks":[]}`))
	if err != nil || bookEv != nil {
		t.Fatalf("未配置产品应被忽略: %+v", bookEv)
	}
}

func TestParser_ErrorMessage(t *testing.T) {
	parser := NewParser(createTestSymbolMaps())
	if _, _, err := parser.Parse([]byte(`{"type":"error","message":"Failed to subscribe"}`)); err == nil {
		t.Fatalf("error 消息应返回错误")
	}
}
