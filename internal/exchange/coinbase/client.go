// Coinbase WebSocket 客户端。
// 订阅频道: level2（订单簿）、matches（成交）、heartbeat
// 心跳机制: 服务端 heartbeat 频道推送，客户端只监测消息间隔
// 快照机制: 订阅后首条消息为全量 snapshot，重连后重新推送。
package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"orderflow-analyzer/internal/config"
	"orderflow-analyzer/internal/core/model"
	"orderflow-analyzer/internal/metadata"
	"orderflow-analyzer/internal/util/backoff"
	"orderflow-analyzer/internal/util/timeutil"
)

// Client Coinbase WebSocket 客户端
type Client struct {
	// cfg 交易所配置
	cfg *config.VenueConfig
	// symbolMaps Symbol 映射表（key 为 Canon）
	symbolMaps map[string]*metadata.SymbolMap
	// logger 日志记录器
	logger *zap.Logger
	// parser 消息解析器
	parser *Parser

	// conn WebSocket 连接
	conn *websocket.Conn
	// connMu 连接锁
	connMu sync.Mutex

	// bookCh 订单簿事件输出通道
	bookCh chan *model.BookEvent
	// tradeCh 成交事件输出通道
	tradeCh chan *model.TradeEvent

	// metrics 连接指标
	metrics ConnectionMetrics
	// metricsMu 指标锁
	metricsMu sync.RWMutex

	// lastMsgTime 最后消息时间（纳秒）
	lastMsgTime int64
	// updateCount 更新计数（用于计算 QPS）
	updateCount int64
	// backoff 重连退避
	backoff *backoff.Backoff
	// closed 是否已关闭
	closed int32

	// parseErrSampleCount 解析错误计数（用于采样日志）
	parseErrSampleCount uint64
	// lastParseErrLogNs 上次解析错误日志时间（纳秒）
	lastParseErrLogNs int64
}

// NewClient 创建 Coinbase WebSocket 客户端
// 参数 cfg: 交易所配置
// 参数 symbolMaps: Symbol 映射表（key 为 Canon）
// 参数 logger: 日志记录器
func NewClient(cfg *config.VenueConfig, symbolMaps map[string]*metadata.SymbolMap, logger *zap.Logger) *Client {
	return &Client{
		cfg:        cfg,
		symbolMaps: symbolMaps,
		logger:     logger.Named("coinbase"),
		parser:     NewParser(symbolMaps),
		bookCh:     make(chan *model.BookEvent, 1000),
		tradeCh:    make(chan *model.TradeEvent, 1000),
		backoff:    backoff.NewDefault(),
	}
}

// Connect 建立 WebSocket 连接
// 参数 ctx: 上下文，用于取消连接
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	header := http.Header{}
	header.Set("User-Agent", "orderflow-analyzer/1.0")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("连接 Coinbase WebSocket 失败: %w", err)
	}

	readTimeout := time.Duration(c.readTimeoutMs()) * time.Millisecond
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	c.conn = conn
	c.backoff.Reset()
	c.logger.Info("Coinbase WebSocket 连接成功", zap.String("url", c.cfg.URL))
	return nil
}

// Subscribe 订阅全部配置交易对的订单簿、成交和心跳频道
func (c *Client) Subscribe() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("WebSocket 未连接")
	}

	productIDs := make([]string, 0, len(c.symbolMaps))
	for _, m := range c.symbolMaps {
		productIDs = append(productIDs, m.CoinbaseSym)
	}

	req := SubscribeRequest{
		Type:       "subscribe",
		ProductIDs: productIDs,
		Channels:   []string{"level2", "matches", "heartbeat"},
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("序列化订阅请求失败: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("发送订阅请求失败: %w", err)
	}

	c.logger.Info("Coinbase 订阅请求已发送", zap.Strings("products", productIDs))
	return nil
}

// Run 启动客户端主循环
func (c *Client) Run(ctx context.Context) {
	go c.metricsLoop(ctx)
	c.readLoop(ctx)
}

func (c *Client) readLoop(ctx context.Context) {
	readTimeout := time.Duration(c.readTimeoutMs()) * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if atomic.LoadInt32(&c.closed) == 1 {
			return
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			c.reconnect(ctx)
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Warn("读取 Coinbase 消息失败", zap.Error(err))
			c.incrementReconnectCount()
			c.reconnect(ctx)
			continue
		}

		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		atomic.StoreInt64(&c.lastMsgTime, timeutil.NowNano())

		bookEv, tradeEv, err := c.parser.Parse(data)
		if err != nil {
			c.incrementParseErrorCount()
			c.maybeLogParseError(err, data)
			continue
		}

		if bookEv != nil {
			atomic.AddInt64(&c.updateCount, 1)
			select {
			case c.bookCh <- bookEv:
			default:
				c.logger.Warn("Coinbase bookCh 已满，丢弃事件")
			}
		}
		if tradeEv != nil {
			select {
			case c.tradeCh <- tradeEv:
			default:
				c.logger.Warn("Coinbase tradeCh 已满，丢弃事件")
			}
		}
	}
}

func (c *Client) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastCount int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}

			count := atomic.LoadInt64(&c.updateCount)
			qps := float64(count - lastCount)
			lastCount = count

			lastMsg := atomic.LoadInt64(&c.lastMsgTime)
			var ageMs int64
			if lastMsg > 0 {
				ageMs = (timeutil.NowNano() - lastMsg) / 1_000_000
			}

			c.metricsMu.Lock()
			c.metrics.UpdatesPerSec = qps
			c.metrics.LastMessageAgeMs = ageMs
			c.metricsMu.Unlock()
		}
	}
}

// reconnect 断线重连
// 重连前重置合成序列，重新订阅后服务端重新推送 snapshot。
func (c *Client) reconnect(ctx context.Context) {
	c.closeConn()
	c.parser.Reset()

	delay := c.backoff.Next()
	c.logger.Info("Coinbase 准备重连", zap.Duration("delay", delay))

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	if err := c.Connect(ctx); err != nil {
		c.logger.Error("Coinbase 重连失败", zap.Error(err))
		return
	}
	if err := c.Subscribe(); err != nil {
		c.logger.Error("Coinbase 重新订阅失败", zap.Error(err))
		return
	}
}

// ForceResync 强制重新同步
// Coinbase 只在重新订阅后推送 snapshot，断开连接触发重连即可重新锚定。
func (c *Client) ForceResync() {
	c.closeConn()
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close 关闭客户端
func (c *Client) Close() error {
	atomic.StoreInt32(&c.closed, 1)
	c.closeConn()
	close(c.bookCh)
	close(c.tradeCh)
	c.logger.Info("Coinbase 客户端已关闭")
	return nil
}

// BookCh 获取订单簿事件通道
func (c *Client) BookCh() <-chan *model.BookEvent {
	return c.bookCh
}

// TradeCh 获取成交事件通道
func (c *Client) TradeCh() <-chan *model.TradeEvent {
	return c.tradeCh
}

// Metrics 获取连接指标
func (c *Client) Metrics() ConnectionMetrics {
	c.metricsMu.RLock()
	defer c.metricsMu.RUnlock()
	return c.metrics
}

func (c *Client) incrementReconnectCount() {
	c.metricsMu.Lock()
	c.metrics.ReconnectCount++
	c.metricsMu.Unlock()
}

func (c *Client) incrementParseErrorCount() {
	c.metricsMu.Lock()
	c.metrics.ParseErrorCount++
	c.metricsMu.Unlock()
}

func (c *Client) readTimeoutMs() int {
	if c.cfg.ReadTimeoutMs > 0 {
		return c.cfg.ReadTimeoutMs
	}
	return 30000
}

// maybeLogParseError 采样记录解析错误原始消息，避免刷盘
// 采样策略：每 100 次错误记录 1 条，且同一类日志至少间隔 1 分钟。
func (c *Client) maybeLogParseError(err error, data []byte) {
	count := atomic.AddUint64(&c.parseErrSampleCount, 1)
	if count%100 != 0 {
		return
	}

	nowNs := timeutil.NowNano()
	last := atomic.LoadInt64(&c.lastParseErrLogNs)
	if last > 0 && nowNs-last < int64(time.Minute) {
		return
	}
	atomic.StoreInt64(&c.lastParseErrLogNs, nowNs)

	sample := data
	if len(sample) > 200 {
		sample = sample[:200]
	}
	c.logger.Warn("解析 Coinbase 消息失败（采样）", zap.Error(err), zap.ByteString("data", sample))
}
