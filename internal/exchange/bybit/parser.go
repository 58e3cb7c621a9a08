// Bybit 消息解析。
// 订单簿的快照 / 增量由 type 字段区分，快照随流推送，无需 REST 锚定。
package bybit

import (
	"encoding/json"
	"fmt"
	"strings"

	"orderflow-analyzer/internal/core/model"
	"orderflow-analyzer/internal/metadata"
	"orderflow-analyzer/internal/util/fastparse"
	"orderflow-analyzer/internal/util/timeutil"
)

// Parser Bybit 消息解析器
type Parser struct {
	// symbolMaps Symbol 映射表（key 为 Canon），用于过滤未配置交易对
	symbolMaps map[string]*metadata.SymbolMap
}

// NewParser 创建 Bybit 消息解析器
// 参数 symbolMaps: Symbol 映射表（key 为 Canon）
func NewParser(symbolMaps map[string]*metadata.SymbolMap) *Parser {
	return &Parser{symbolMaps: symbolMaps}
}

// Parse 解析 Bybit WebSocket 消息
// 参数 data: 原始消息字节
// 返回: 订单簿事件、成交事件列表（操作响应等非行情消息皆为 nil）
func (p *Parser) Parse(data []byte) (*model.BookEvent, []*model.TradeEvent, error) {
	arrivedAt := timeutil.NowNano()

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("解析 Bybit 消息失败: %w", err)
	}

	switch {
	case strings.HasPrefix(env.Topic, "orderbook."):
		ev, err := p.parseOrderbook(data, arrivedAt)
		return ev, nil, err
	case strings.HasPrefix(env.Topic, "publicTrade."):
		trs, err := p.parseTrades(data, arrivedAt)
		return nil, trs, err
	default:
		// pong、订阅确认等非行情消息，忽略
		return nil, nil, nil
	}
}

func (p *Parser) parseOrderbook(data []byte, arrivedAt int64) (*model.BookEvent, error) {
	var msg OrderbookMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析 Bybit orderbook 失败: %w", err)
	}

	canon := strings.ToUpper(msg.Data.Symbol)
	if _, ok := p.symbolMaps[canon]; !ok {
		return nil, nil
	}

	kind := model.KindDelta
	// type 为 snapshot 或 u 回绕到 1 时视为全量快照
	if msg.Type == "snapshot" || msg.Data.UpdateID == 1 {
		kind = model.KindSnapshot
	}

	return &model.BookEvent{
		Venue:           model.VenueBybit,
		Symbol:          canon,
		Kind:            kind,
		Bids:            parseLevels(msg.Data.Bids),
		Asks:            parseLevels(msg.Data.Asks),
		FirstSeq:        msg.Data.UpdateID,
		LastSeq:         msg.Data.UpdateID,
		ExchTsUnixMs:    msg.TsMs,
		ArrivedAtUnixNs: arrivedAt,
	}, nil
}

func (p *Parser) parseTrades(data []byte, arrivedAt int64) ([]*model.TradeEvent, error) {
	var msg TradeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析 Bybit publicTrade 失败: %w", err)
	}

	out := make([]*model.TradeEvent, 0, len(msg.Data))
	for _, t := range msg.Data {
		canon := strings.ToUpper(t.Symbol)
		if _, ok := p.symbolMaps[canon]; !ok {
			continue
		}

		price, err := fastparse.ParseFloat(t.Price)
		if err != nil {
			continue
		}
		qty, err := fastparse.ParseFloat(t.Qty)
		if err != nil {
			continue
		}

		side := model.SideBuy
		if strings.EqualFold(t.Side, "Sell") {
			side = model.SideSell
		}

		out = append(out, &model.TradeEvent{
			Venue:           model.VenueBybit,
			Symbol:          canon,
			Price:           price,
			Qty:             qty,
			Side:            side,
			ExchTsUnixMs:    t.TsMs,
			ArrivedAtUnixNs: arrivedAt,
		})
	}
	return out, nil
}

// parseLevels 解析 [[price, qty], ...] 形式的档位列表
// 单个档位解析失败时跳过该档位，不中断整条消息。
func parseLevels(raw [][]string) []model.Level {
	levels := make([]model.Level, 0, len(raw))
	for _, l := range raw {
		if len(l) < 2 {
			continue
		}
		px, err := fastparse.ParseFloat(l[0])
		if err != nil {
			continue
		}
		qty, err := fastparse.ParseFloat(l[1])
		if err != nil {
			continue
		}
		levels = append(levels, model.Level{Price: px, Qty: qty})
	}
	return levels
}
