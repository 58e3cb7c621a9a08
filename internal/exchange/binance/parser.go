// Binance 消息解析。
// 字段映射: U -> FirstSeq, u -> LastSeq, E -> ExchTsUnixMs
package binance

import (
	"encoding/json"
	"fmt"
	"strings"

	"orderflow-analyzer/internal/core/model"
	"orderflow-analyzer/internal/metadata"
	"orderflow-analyzer/internal/util/fastparse"
	"orderflow-analyzer/internal/util/timeutil"
)

// Parser Binance 消息解析器
type Parser struct {
	// symbolMaps Symbol 映射表（key 为 Canon），用于过滤未配置交易对
	symbolMaps map[string]*metadata.SymbolMap
}

// NewParser 创建 Binance 消息解析器
// 参数 symbolMaps: Symbol 映射表（key 为 Canon）
func NewParser(symbolMaps map[string]*metadata.SymbolMap) *Parser {
	return &Parser{symbolMaps: symbolMaps}
}

// Parse 解析 Binance WebSocket 消息
// 参数 data: 原始消息字节
// 返回: 订单簿事件、成交事件（非行情消息两者皆为 nil）
func (p *Parser) Parse(data []byte) (*model.BookEvent, *model.TradeEvent, error) {
	arrivedAt := timeutil.NowNano()

	var env StreamEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("解析 Binance 消息失败: %w", err)
	}

	switch env.EventType {
	case "depthUpdate":
		ev, err := p.parseDepth(data, arrivedAt)
		return ev, nil, err
	case "aggTrade":
		tr, err := p.parseTrade(data, arrivedAt)
		return nil, tr, err
	default:
		// 订阅确认等非行情消息，忽略
		return nil, nil, nil
	}
}

func (p *Parser) parseDepth(data []byte, arrivedAt int64) (*model.BookEvent, error) {
	var msg DepthUpdate
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析 Binance depthUpdate 失败: %w", err)
	}

	canon := strings.ToUpper(msg.Symbol)
	if _, ok := p.symbolMaps[canon]; !ok {
		return nil, nil
	}

	return &model.BookEvent{
		Venue:           model.VenueBinance,
		Symbol:          canon,
		Kind:            model.KindDelta,
		Bids:            parseLevels(msg.Bids),
		Asks:            parseLevels(msg.Asks),
		FirstSeq:        msg.FirstUpdateID,
		LastSeq:         msg.LastUpdateID,
		ExchTsUnixMs:    msg.EventTimeMs,
		ArrivedAtUnixNs: arrivedAt,
	}, nil
}

func (p *Parser) parseTrade(data []byte, arrivedAt int64) (*model.TradeEvent, error) {
	var msg AggTrade
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析 Binance aggTrade 失败: %w", err)
	}

	canon := strings.ToUpper(msg.Symbol)
	if _, ok := p.symbolMaps[canon]; !ok {
		return nil, nil
	}

	price, err := fastparse.ParseFloat(msg.Price)
	if err != nil {
		return nil, fmt.Errorf("解析 Binance 成交价格失败: %w", err)
	}
	qty, err := fastparse.ParseFloat(msg.Qty)
	if err != nil {
		return nil, fmt.Errorf("解析 Binance 成交数量失败: %w", err)
	}

	side := model.SideBuy
	if msg.IsBuyerMaker {
		// 买方为 maker，主动方向为卖出
		side = model.SideSell
	}

	return &model.TradeEvent{
		Venue:           model.VenueBinance,
		Symbol:          canon,
		Price:           price,
		Qty:             qty,
		Side:            side,
		ExchTsUnixMs:    msg.EventTimeMs,
		ArrivedAtUnixNs: arrivedAt,
	}, nil
}

// ParseSnapshot 将 REST 深度快照转换为订单簿事件
// 参数 canon: 统一交易对标识
// 参数 snap: REST 快照响应
func ParseSnapshot(canon string, snap *DepthSnapshot) *model.BookEvent {
	return &model.BookEvent{
		Venue:           model.VenueBinance,
		Symbol:          canon,
		Kind:            model.KindSnapshot,
		Bids:            parseLevels(snap.Bids),
		Asks:            parseLevels(snap.Asks),
		FirstSeq:        snap.LastUpdateID,
		LastSeq:         snap.LastUpdateID,
		ArrivedAtUnixNs: timeutil.NowNano(),
	}
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
