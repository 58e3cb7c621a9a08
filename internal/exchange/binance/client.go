// Binance WebSocket 客户端。
// 订阅频道: <symbol>@depth@100ms（增量深度）、<symbol>@aggTrade（归集成交）
// 心跳机制: 协议层 ping/pong
// 快照锚定: 增量流没有隐式快照，连接建立后以及检测到缺口时
// 通过 REST 拉取深度快照注入事件流（先订阅缓冲增量，再锚定快照）。
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
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

// Client Binance WebSocket 客户端
type Client struct {
	// cfg 交易所配置
	cfg *config.VenueConfig
	// symbolMaps Symbol 映射表（key 为 Canon）
	symbolMaps map[string]*metadata.SymbolMap
	// logger 日志记录器
	logger *zap.Logger
	// parser 消息解析器
	parser *Parser
	// httpClient REST 快照客户端
	httpClient *http.Client

	// conn WebSocket 连接
	conn *websocket.Conn
	// connMu 连接锁
	connMu sync.Mutex

	// bookCh 订单簿事件输出通道
	bookCh chan *model.BookEvent
	// tradeCh 成交事件输出通道
	tradeCh chan *model.TradeEvent

	// snapReqCh 快照拉取请求通道（元素为 Canon）
	snapReqCh chan string
	// lastSnapshot 最近一次成功的快照缓存（按 Canon），429 降级时使用
	lastSnapshot map[string]*DepthSnapshot
	// snapMu 快照缓存锁
	snapMu sync.Mutex

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

// NewClient 创建 Binance WebSocket 客户端
// 参数 cfg: 交易所配置
// 参数 symbolMaps: Symbol 映射表（key 为 Canon）
// 参数 logger: 日志记录器
func NewClient(cfg *config.VenueConfig, symbolMaps map[string]*metadata.SymbolMap, logger *zap.Logger) *Client {
	return &Client{
		cfg:          cfg,
		symbolMaps:   symbolMaps,
		logger:       logger.Named("binance"),
		parser:       NewParser(symbolMaps),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		bookCh:       make(chan *model.BookEvent, 1000),
		tradeCh:      make(chan *model.TradeEvent, 1000),
		snapReqCh:    make(chan string, 16),
		lastSnapshot: make(map[string]*DepthSnapshot),
		backoff:      backoff.NewDefault(),
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
		return fmt.Errorf("连接 Binance WebSocket 失败: %w", err)
	}

	readTimeout := time.Duration(c.readTimeoutMs()) * time.Millisecond
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		atomic.StoreInt64(&c.lastMsgTime, timeutil.NowNano())
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	c.conn = conn
	c.backoff.Reset()
	c.logger.Info("Binance WebSocket 连接成功", zap.String("url", c.cfg.URL))
	return nil
}

// Subscribe 订阅全部配置交易对的深度和成交流
func (c *Client) Subscribe() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("WebSocket 未连接")
	}

	params := make([]string, 0, len(c.symbolMaps)*2)
	for _, m := range c.symbolMaps {
		params = append(params,
			fmt.Sprintf("%s@depth@100ms", m.BinanceSym),
			fmt.Sprintf("%s@aggTrade", m.BinanceSym))
	}

	req := SubscribeRequest{Method: "SUBSCRIBE", Params: params, ID: 1}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("序列化订阅请求失败: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("发送订阅请求失败: %w", err)
	}

	c.logger.Info("Binance 订阅请求已发送", zap.Int("streams", len(params)))
	return nil
}

// RequestSnapshot 请求拉取某交易对的 REST 深度快照
// 调和器检测到缺口时通过该方法触发重新锚定；非阻塞，请求排队后由后台处理。
func (c *Client) RequestSnapshot(canon string) {
	select {
	case c.snapReqCh <- canon:
	default:
		// 队列已满说明同一交易对已有待处理请求，丢弃即可
	}
}

// Run 启动客户端主循环
// 包含读取循环、心跳、指标统计和快照拉取。
// 连接建立后自动为全部交易对请求初始快照。
func (c *Client) Run(ctx context.Context) {
	for canon := range c.symbolMaps {
		c.RequestSnapshot(canon)
	}
	go c.pingLoop(ctx)
	go c.metricsLoop(ctx)
	go c.snapshotLoop(ctx)
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
			c.logger.Warn("读取 Binance 消息失败", zap.Error(err))
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
				c.logger.Warn("Binance bookCh 已满，丢弃事件")
			}
		}
		if tradeEv != nil {
			select {
			case c.tradeCh <- tradeEv:
			default:
				c.logger.Warn("Binance tradeCh 已满，丢弃事件")
			}
		}
	}
}

// snapshotLoop 处理 REST 快照拉取请求
// 每次拉取失败按指数退避重试；429 时优先使用服务端 Retry-After 提示，
// 并以最近一次成功快照降级注入，避免调和器长期无锚。
func (c *Client) snapshotLoop(ctx context.Context) {
	bo := backoff.NewDefault()
	for {
		select {
		case <-ctx.Done():
			return
		case canon := <-c.snapReqCh:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}

			snap, retryAfter, err := c.fetchSnapshot(ctx, canon)
			if err != nil {
				delay := bo.Next()
				if retryAfter > delay {
					delay = retryAfter
				}
				c.logger.Warn("拉取 Binance 快照失败",
					zap.String("symbol", canon),
					zap.Duration("retry_in", delay),
					zap.Error(err))

				// 降级：有缓存快照时先用旧锚顶上
				c.snapMu.Lock()
				cached := c.lastSnapshot[canon]
				c.snapMu.Unlock()
				if cached != nil {
					c.emitSnapshot(canon, cached)
				}

				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
				c.RequestSnapshot(canon)
				continue
			}

			bo.Reset()
			c.snapMu.Lock()
			c.lastSnapshot[canon] = snap
			c.snapMu.Unlock()
			c.emitSnapshot(canon, snap)
		}
	}
}

// fetchSnapshot 通过 REST 拉取深度快照
// 返回: 快照、429 时的 Retry-After 提示、可能的错误
func (c *Client) fetchSnapshot(ctx context.Context, canon string) (*DepthSnapshot, time.Duration, error) {
	m, ok := c.symbolMaps[canon]
	if !ok {
		return nil, 0, fmt.Errorf("未配置的交易对: %s", canon)
	}

	url := fmt.Sprintf("%s?symbol=%s&limit=%d", c.cfg.RestURL, strings.ToUpper(m.BinanceSym), c.depth())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("构建快照请求失败: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("请求 Binance 快照失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		var retryAfter time.Duration
		if sec, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && sec > 0 {
			retryAfter = time.Duration(sec) * time.Second
		}
		return nil, retryAfter, fmt.Errorf("Binance 快照接口限流 (429)")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("Binance 快照接口返回状态 %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("读取快照响应失败: %w", err)
	}

	var snap DepthSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, 0, fmt.Errorf("解析快照响应失败: %w", err)
	}

	c.metricsMu.Lock()
	c.metrics.SnapshotFetchCount++
	c.metricsMu.Unlock()

	return &snap, 0, nil
}

func (c *Client) emitSnapshot(canon string, snap *DepthSnapshot) {
	ev := ParseSnapshot(canon, snap)
	select {
	case c.bookCh <- ev:
		c.logger.Info("Binance 快照已注入",
			zap.String("symbol", canon),
			zap.Int64("last_update_id", snap.LastUpdateID))
	default:
		c.logger.Warn("Binance bookCh 已满，丢弃快照", zap.String("symbol", canon))
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	intervalMs := c.cfg.PingIntervalMs
	if intervalMs <= 0 {
		intervalMs = 15000
	}

	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if atomic.LoadInt32(&c.closed) == 1 {
				return
			}

			c.connMu.Lock()
			conn := c.conn
			if conn == nil {
				c.connMu.Unlock()
				continue
			}

			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				c.connMu.Unlock()
				c.logger.Warn("发送 Binance ping 失败", zap.Error(err))
				continue
			}
			c.connMu.Unlock()
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
// 重连成功后订单簿锚点已失效，重新为全部交易对请求快照。
func (c *Client) reconnect(ctx context.Context) {
	c.closeConn()

	delay := c.backoff.Next()
	c.logger.Info("Binance 准备重连", zap.Duration("delay", delay))

	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	if err := c.Connect(ctx); err != nil {
		c.logger.Error("Binance 重连失败", zap.Error(err))
		return
	}
	if err := c.Subscribe(); err != nil {
		c.logger.Error("Binance 重新订阅失败", zap.Error(err))
		return
	}
	for canon := range c.symbolMaps {
		c.RequestSnapshot(canon)
	}
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
	c.logger.Info("Binance 客户端已关闭")
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
	// 未配置时使用 30s
	return 30000
}

func (c *Client) depth() int {
	if c.cfg.Depth > 0 {
		return c.cfg.Depth
	}
	return 50
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
	c.logger.Warn("解析 Binance 消息失败（采样）", zap.Error(err), zap.ByteString("data", sample))
}
