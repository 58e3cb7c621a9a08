// Package bybit Bybit 解析器测试
package bybit

import (
	"testing"

	"orderflow-analyzer/internal/core/model"
	"orderflow-analyzer/internal/metadata"
)

func createTestSymbolMaps() map[string]*metadata.SymbolMap {
	return map[string]*metadata.SymbolMap{
		"BTCUSDT": {Canon: "BTCUSDT", BybitSym: "BTCUSDT"},
	}
}

func TestParser_OrderbookKinds(t *testing.T) {
	parser := NewParser(createTestSymbolMaps())

	tests := []struct {
		name     string
		message  string
		wantKind model.EventKind
		wantSeq  int64
	}{
		{
			name:     "type 为 snapshot",
			message:  `{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1700000000000,"data":{"s":"BTCUSDT","b":[["50000","1.5"]],"a":[["50001","2"]],"u":18521288,"seq":7961638724}}`,
			wantKind: model.KindSnapshot,
			wantSeq:  18521288,
		},
		{
			name:     "type 为 delta",
			message:  `{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1700000000100,"data":{"s":"BTCUSDT","b":[["50000","0"]],"a":[],"u":18521289,"seq":7961638725}}`,
			wantKind: model.KindDelta,
			wantSeq:  18521289,
		},
		{
			name:     "u 回绕到 1 视为强制快照",
			message:  `{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1700000000200,"data":{"s":"BTCUSDT","b":[["50000","1"]],"a":[["50001","1"]],"u":1,"seq":7961638726}}`,
			wantKind: model.KindSnapshot,
			wantSeq:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bookEv, tradeEvs, err := parser.Parse([]byte(tt.message))
			if err != nil {
				t.Fatalf("解析失败: %v", err)
			}
			if tradeEvs != nil {
				t.Fatalf("orderbook 消息不应产生成交事件")
			}
			if bookEv == nil {
				t.Fatalf("应产生订单簿事件")
			}
			if bookEv.Kind != tt.wantKind {
				t.Errorf("Kind=%s, want %s", bookEv.Kind, tt.wantKind)
			}
			if bookEv.FirstSeq != tt.wantSeq || bookEv.LastSeq != tt.wantSeq {
				t.Errorf("序列号=%d/%d, want %d", bookEv.FirstSeq, bookEv.LastSeq, tt.wantSeq)
			}
			if bookEv.Venue != model.VenueBybit {
				t.Errorf("Venue=%s, want bybit", bookEv.Venue)
			}
		})
	}
}

func TestParser_PublicTrade(t *testing.T) {
	parser := NewParser(createTestSymbolMaps())

	msg := `{
		"topic":"publicTrade.BTCUSDT",
		"type":"snapshot",
		"ts":1700000000000,
		"data":[
			{"T":1700000000001,"s":"BTCUSDT","S":"Buy","v":"0.5","p":"50000.5"},
			{"T":1700000000002,"s":"BTCUSDT","S":"Sell","v":"0.3","p":"50000.0"},
			{"T":1700000000003,"s":"SOLUSDT","S":"Buy","v":"1","p":"100"}
		]
	}`

	bookEv, trs, err := parser.Parse([]byte(msg))
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if bookEv != nil {
		t.Fatalf("publicTrade 不应产生订单簿事件")
	}
	// 未配置的 SOLUSDT 被过滤
	if len(trs) != 2 {
		t.Fatalf("成交数=%d, want 2", len(trs))
	}
	if trs[0].Side != model.SideBuy || trs[0].Price != 50000.5 || trs[0].Qty != 0.5 {
		t.Fatalf("成交 0 解析错误: %+v", trs[0])
	}
	if trs[1].Side != model.SideSell {
		t.Fatalf("Side=%s, want sell", trs[1].Side)
	}
	if trs[1].ExchTsUnixMs != 1700000000002 {
		t.Fatalf("ExchTsUnixMs=%d", trs[1].ExchTsUnixMs)
	}
}

func TestParser_IgnoresOpResponses(t *testing.T) {
	parser := NewParser(createTestSymbolMaps())

	for _, msg := range []string{
		`{"op":"pong","success":true,"ret_msg":"pong"}`,
		`{"op":"subscribe","success":true}`,
	} {
		bookEv, trs, err := parser.Parse([]byte(msg))
		if err != nil || bookEv != nil || trs != nil {
			t.Fatalf("操作响应应被忽略: %s", msg)
		}
	}
}

func TestParser_InvalidJSON(t *testing.T) {
	parser := NewParser(createTestSymbolMaps())
	if _, _, err := parser.Parse([]byte(`not json`)); err == nil {
		t.Fatalf("期望错误但得到 nil")
	}
}
