// Package metadata 负责统一交易对标识与各交易所 instrument 格式的映射。
// 统一标识（Canon）形如 BTCUSDT；各交易所的订阅 topic 和消息字段使用各自格式：
// Binance: btcusdt（小写）
// Bybit:   BTCUSDT
// OKX:     BTC-USDT
// Coinbase: BTC-USD（现货，USDT 折算为 USD）
package metadata

import (
	"fmt"
	"strings"
)

// knownQuotes 按匹配优先级排列的计价货币后缀
var knownQuotes = []string{"USDT", "USDC", "USD", "BTC", "ETH"}

// SymbolMap 单个交易对在各交易所的标识映射
type SymbolMap struct {
	// Canon 统一标识，如 BTCUSDT
	Canon string
	// Base 基础货币，如 BTC
	Base string
	// Quote 计价货币，如 USDT
	Quote string
	// BinanceSym Binance 格式（小写），如 btcusdt
	BinanceSym string
	// BybitSym Bybit 格式，如 BTCUSDT
	BybitSym string
	// OKXSym OKX 格式，如 BTC-USDT
	OKXSym string
	// CoinbaseSym Coinbase 格式，如 BTC-USD
	CoinbaseSym string
}

// Split 将统一标识拆分为基础货币和计价货币
// 参数 canon: 统一标识，如 BTCUSDT
// 返回: 基础货币、计价货币和可能的错误
func Split(canon string) (base, quote string, err error) {
	c := strings.ToUpper(strings.TrimSpace(canon))
	for _, q := range knownQuotes {
		if strings.HasSuffix(c, q) && len(c) > len(q) {
			return c[:len(c)-len(q)], q, nil
		}
	}
	return "", "", fmt.Errorf("无法识别交易对 %q 的计价货币", canon)
}

// Build 构建单个交易对的映射
// 参数 canon: 统一标识
func Build(canon string) (*SymbolMap, error) {
	base, quote, err := Split(canon)
	if err != nil {
		return nil, err
	}

	c := base + quote

	// Coinbase 为现货市场，稳定币计价折算为 USD
	cbQuote := quote
	if quote == "USDT" || quote == "USDC" {
		cbQuote = "USD"
	}

	return &SymbolMap{
		Canon:       c,
		Base:        base,
		Quote:       quote,
		BinanceSym:  strings.ToLower(c),
		BybitSym:    c,
		OKXSym:      base + "-" + quote,
		CoinbaseSym: base + "-" + cbQuote,
	}, nil
}

// BuildAll 构建全部交易对的映射表（key 为 Canon）
// 参数 canons: 统一标识列表
// 返回: 映射表和可能的错误（任一交易对非法即失败）
func BuildAll(canons []string) (map[string]*SymbolMap, error) {
	out := make(map[string]*SymbolMap, len(canons))
	for _, c := range canons {
		m, err := Build(c)
		if err != nil {
			return nil, fmt.Errorf("构建 symbol 映射失败: %w", err)
		}
		out[m.Canon] = m
	}
	return out, nil
}

// CanonFromOKX 将 OKX instId 还原为统一标识
// 如 BTC-USDT -> BTCUSDT
func CanonFromOKX(instID string) string {
	return strings.ToUpper(strings.ReplaceAll(instID, "-", ""))
}

// CanonFromCoinbase 在映射表中查找 Coinbase product_id 对应的统一标识
// Coinbase 的 USD 计价无法机械还原为 USDT，必须查表。
// 返回: 统一标识，未配置时为空串
func CanonFromCoinbase(productID string, maps map[string]*SymbolMap) string {
	for _, m := range maps {
		if m.CoinbaseSym == productID {
			return m.Canon
		}
	}
	return ""
}
