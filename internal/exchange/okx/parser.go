// OKX 消息解析。
// books 频道以 action 字段区分 snapshot / update；
// seqId / prevSeqId 构成连续序列，prevSeqId 不衔接即为缺口。
package okx

import (
	"encoding/json"
	"fmt"
	"strings"

	"orderflow-analyzer/internal/core/model"
	"orderflow-analyzer/internal/metadata"
	"orderflow-analyzer/internal/util/fastparse"
	"orderflow-analyzer/internal/util/timeutil"
)

// Parser OKX 消息解析器
type Parser struct {
	// symbolMaps Symbol 映射表（key 为 Canon），用于过滤未配置交易对
	symbolMaps map[string]*metadata.SymbolMap
}

// NewParser 创建 OKX 消息解析器
// 参数 symbolMaps: Symbol 映射表（key 为 Canon）
func NewParser(symbolMaps map[string]*metadata.SymbolMap) *Parser {
	return &Parser{symbolMaps: symbolMaps}
}

// Parse 解析 OKX WebSocket 消息
// 参数 data: 原始消息字节
// 返回: 订单簿事件、成交事件列表（事件通知等非行情消息皆为 nil）
// 注意: 文本 "pong" 由客户端在进入解析前拦截。
func (p *Parser) Parse(data []byte) (*model.BookEvent, []*model.TradeEvent, error) {
	arrivedAt := timeutil.NowNano()

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("解析 OKX 消息失败: %w", err)
	}

	if env.Event == "error" {
		return nil, nil, fmt.Errorf("OKX 服务端错误: code=%s msg=%s", env.Code, env.Msg)
	}
	if env.Event != "" {
		// subscribe 确认等事件通知，忽略
		return nil, nil, nil
	}

	switch env.Arg.Channel {
	case "books":
		ev, err := p.parseBook(data, arrivedAt)
		return ev, nil, err
	case "trades":
		trs, err := p.parseTrades(data, arrivedAt)
		return nil, trs, err
	default:
		return nil, nil, nil
	}
}

func (p *Parser) parseBook(data []byte, arrivedAt int64) (*model.BookEvent, error) {
	var msg BookMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析 OKX books 失败: %w", err)
	}
	if len(msg.Data) == 0 {
		return nil, nil
	}

	canon := metadata.CanonFromOKX(msg.Arg.InstID)
	if _, ok := p.symbolMaps[canon]; !ok {
		return nil, nil
	}

	d := msg.Data[0]

	kind := model.KindDelta
	if msg.Action == "snapshot" {
		kind = model.KindSnapshot
	}

	ts, _ := fastparse.ParseInt(d.TsMs)

	return &model.BookEvent{
		Venue:           model.VenueOKX,
		Symbol:          canon,
		Kind:            kind,
		Bids:            parseLevels(d.Bids),
		Asks:            parseLevels(d.Asks),
		FirstSeq:        d.PrevSeqID + 1,
		LastSeq:         d.SeqID,
		ExchTsUnixMs:    ts,
		ArrivedAtUnixNs: arrivedAt,
	}, nil
}

func (p *Parser) parseTrades(data []byte, arrivedAt int64) ([]*model.TradeEvent, error) {
	var msg TradeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析 OKX trades 失败: %w", err)
	}

	out := make([]*model.TradeEvent, 0, len(msg.Data))
	for _, t := range msg.Data {
		canon := metadata.CanonFromOKX(t.InstID)
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
		if strings.EqualFold(t.Side, "sell") {
			side = model.SideSell
		}

		ts, _ := fastparse.ParseInt(t.TsMs)

		out = append(out, &model.TradeEvent{
			Venue:           model.VenueOKX,
			Symbol:          canon,
			Price:           price,
			Qty:             qty,
			Side:            side,
			ExchTsUnixMs:    ts,
			ArrivedAtUnixNs: arrivedAt,
		})
	}
	return out, nil
}

// parseLevels 解析 [price, qty, ...] 形式的档位列表
// OKX 档位含 4 个元素，只取前两个；单个档位解析失败时跳过。
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
