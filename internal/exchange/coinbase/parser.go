// Coinbase 消息解析。
// level2 频道不携带序列号，解析器按产品合成单调递增序列；
// 流内顺序由连接本身保证，重连后从快照重新开始计数。
package coinbase

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"orderflow-analyzer/internal/core/model"
	"orderflow-analyzer/internal/metadata"
	"orderflow-analyzer/internal/util/fastparse"
	"orderflow-analyzer/internal/util/timeutil"
)

// Parser Coinbase 消息解析器
// 只在读取协程内使用，序列计数无需加锁。
type Parser struct {
	// symbolMaps Symbol 映射表（key 为 Canon），用于过滤未配置交易对
	symbolMaps map[string]*metadata.SymbolMap
	// seq 各交易对的合成序列号（key 为 Canon）
	seq map[string]int64
}

// NewParser 创建 Coinbase 消息解析器
// 参数 symbolMaps: Symbol 映射表（key 为 Canon）
func NewParser(symbolMaps map[string]*metadata.SymbolMap) *Parser {
	return &Parser{
		symbolMaps: symbolMaps,
		seq:        make(map[string]int64),
	}
}

// Reset 重置序列计数
// 重连后调用，下一条快照重新开始计数。
func (p *Parser) Reset() {
	p.seq = make(map[string]int64)
}

// Parse 解析 Coinbase WebSocket 消息
// 参数 data: 原始消息字节
// 返回: 订单簿事件、成交事件（心跳等非行情消息皆为 nil）
func (p *Parser) Parse(data []byte) (*model.BookEvent, *model.TradeEvent, error) {
	arrivedAt := timeutil.NowNano()

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, nil, fmt.Errorf("解析 Coinbase 消息失败: %w", err)
	}

	switch env.Type {
	case "snapshot":
		ev, err := p.parseSnapshot(data, arrivedAt)
		return ev, nil, err
	case "l2update":
		ev, err := p.parseL2Update(data, arrivedAt)
		return ev, nil, err
	case "match", "last_match":
		tr, err := p.parseMatch(data, arrivedAt)
		return nil, tr, err
	case "error":
		return nil, nil, fmt.Errorf("Coinbase 服务端错误: %s", env.Message)
	default:
		// heartbeat、订阅确认等非行情消息，忽略
		return nil, nil, nil
	}
}

func (p *Parser) parseSnapshot(data []byte, arrivedAt int64) (*model.BookEvent, error) {
	var msg SnapshotMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析 Coinbase snapshot 失败: %w", err)
	}

	canon := metadata.CanonFromCoinbase(msg.ProductID, p.symbolMaps)
	if canon == "" {
		return nil, nil
	}

	p.seq[canon] = 1

	return &model.BookEvent{
		Venue:           model.VenueCoinbase,
		Symbol:          canon,
		Kind:            model.KindSnapshot,
		Bids:            parseLevels(msg.Bids),
		Asks:            parseLevels(msg.Asks),
		FirstSeq:        1,
		LastSeq:         1,
		ArrivedAtUnixNs: arrivedAt,
	}, nil
}

func (p *Parser) parseL2Update(data []byte, arrivedAt int64) (*model.BookEvent, error) {
	var msg L2UpdateMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析 Coinbase l2update 失败: %w", err)
	}

	canon := metadata.CanonFromCoinbase(msg.ProductID, p.symbolMaps)
	if canon == "" {
		return nil, nil
	}

	var bids, asks []model.Level
	for _, ch := range msg.Changes {
		if len(ch) < 3 {
			continue
		}
		px, err := fastparse.ParseFloat(ch[1])
		if err != nil {
			continue
		}
		sz, err := fastparse.ParseFloat(ch[2])
		if err != nil {
			continue
		}
		if strings.EqualFold(ch[0], "buy") {
			bids = append(bids, model.Level{Price: px, Qty: sz})
		} else {
			asks = append(asks, model.Level{Price: px, Qty: sz})
		}
	}

	p.seq[canon]++
	seq := p.seq[canon]

	return &model.BookEvent{
		Venue:           model.VenueCoinbase,
		Symbol:          canon,
		Kind:            model.KindDelta,
		Bids:            bids,
		Asks:            asks,
		FirstSeq:        seq,
		LastSeq:         seq,
		ExchTsUnixMs:    parseRFC3339Ms(msg.Time),
		ArrivedAtUnixNs: arrivedAt,
	}, nil
}

func (p *Parser) parseMatch(data []byte, arrivedAt int64) (*model.TradeEvent, error) {
	var msg MatchMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("解析 Coinbase match 失败: %w", err)
	}

	canon := metadata.CanonFromCoinbase(msg.ProductID, p.symbolMaps)
	if canon == "" {
		return nil, nil
	}

	price, err := fastparse.ParseFloat(msg.Price)
	if err != nil {
		return nil, fmt.Errorf("解析 Coinbase 成交价格失败: %w", err)
	}
	qty, err := fastparse.ParseFloat(msg.Size)
	if err != nil {
		return nil, fmt.Errorf("解析 Coinbase 成交数量失败: %w", err)
	}

	// side 为 maker 方向，buy maker 意味着主动卖出
	side := model.SideBuy
	if strings.EqualFold(msg.Side, "buy") {
		side = model.SideSell
	}

	return &model.TradeEvent{
		Venue:           model.VenueCoinbase,
		Symbol:          canon,
		Price:           price,
		Qty:             qty,
		Side:            side,
		ExchTsUnixMs:    parseRFC3339Ms(msg.Time),
		ArrivedAtUnixNs: arrivedAt,
	}, nil
}

// parseRFC3339Ms 将 RFC3339 时间字符串转换为毫秒时间戳
// 解析失败时返回 0，由下游按到达时间兜底。
func parseRFC3339Ms(s string) int64 {
	if s == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

// parseLevels 解析 [[price, size], ...] 形式的档位列表
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
