// Package main 是订单流分析器的入口点。
// 连接 Binance/Bybit/OKX/Coinbase 四家交易所的订单簿与成交流，
// 按交易所协议调和出一致的订单簿，在其上做跨交易所价格验证
// 和加权 Volume Profile / 订单流分析，结果落盘为 JSONL。
//
// 重要：本系统仅做数据分析，不产生任何交易指令。
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"orderflow-analyzer/internal/analytics/crossex"
	"orderflow-analyzer/internal/analytics/profile"
	"orderflow-analyzer/internal/config"
	"orderflow-analyzer/internal/core/book"
	"orderflow-analyzer/internal/core/model"
	"orderflow-analyzer/internal/core/store"
	"orderflow-analyzer/internal/exchange/binance"
	"orderflow-analyzer/internal/exchange/bybit"
	"orderflow-analyzer/internal/exchange/coinbase"
	"orderflow-analyzer/internal/exchange/okx"
	"orderflow-analyzer/internal/metadata"
	"orderflow-analyzer/internal/output/jsonl"
	"orderflow-analyzer/internal/util/timeutil"
)

// feed 行情源的能力接口，四家交易所客户端都满足
type feed interface {
	Connect(ctx context.Context) error
	Subscribe() error
	Run(ctx context.Context)
	Close() error
	BookCh() <-chan *model.BookEvent
	TradeCh() <-chan *model.TradeEvent
}

// venueFeed 单个交易所的接入状态
type venueFeed struct {
	// venue 交易所标识
	venue model.Venue
	// client 客户端
	client feed
	// requestSnapshot 按交易对触发重新锚定
	requestSnapshot func(canon string)
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "配置文件路径")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "配置验证失败: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.App.LogLevel)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 捕获 SIGINT/SIGTERM，触发优雅退出
	sigCh := make(chan os.Signal, 2)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("收到退出信号，开始优雅关闭")
		cancel()
	}()

	symbolMaps, err := metadata.BuildAll(cfg.Symbols)
	if err != nil {
		logger.Error("构建 symbol 映射失败", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("symbol 映射完成", zap.Int("symbols", len(symbolMaps)))

	feeds := buildFeeds(cfg, symbolMaps, logger)
	if len(feeds) == 0 {
		logger.Error("没有启用任何交易所")
		os.Exit(1)
	}

	registry := buildRegistry(cfg, feeds, logger)

	validator := crossex.NewValidator(&cfg.Anomaly, &cfg.History, logger)
	engine := profile.NewEngine(&cfg.Profile, &cfg.History, venueWeights(cfg), logger)

	var profilesWriter, anomaliesWriter *jsonl.Writer
	if cfg.Output.ProfilesEnabled {
		profilesWriter, err = jsonl.NewWriter(fmt.Sprintf("%s/profiles.jsonl", cfg.Output.Dir), cfg.Output.BufferSize)
		if err != nil {
			logger.Error("创建 profiles writer 失败", zap.Error(err))
			os.Exit(1)
		}
	}
	if cfg.Output.AnomaliesEnabled {
		anomaliesWriter, err = jsonl.NewWriter(fmt.Sprintf("%s/anomalies.jsonl", cfg.Output.Dir), cfg.Output.BufferSize)
		if err != nil {
			logger.Error("创建 anomalies writer 失败", zap.Error(err))
			os.Exit(1)
		}
	}

	// 逐个交易所连接并订阅；单个交易所失败不影响其他交易所
	startCtx, startCancel := context.WithTimeout(ctx, 10*time.Second)
	defer startCancel()

	active := feeds[:0]
	for _, vf := range feeds {
		if err := vf.client.Connect(startCtx); err != nil {
			logger.Error("交易所连接失败，跳过",
				zap.String("venue", string(vf.venue)), zap.Error(err))
			continue
		}
		if err := vf.client.Subscribe(); err != nil {
			logger.Error("交易所订阅失败，跳过",
				zap.String("venue", string(vf.venue)), zap.Error(err))
			_ = vf.client.Close()
			continue
		}
		active = append(active, vf)
	}
	if len(active) == 0 {
		logger.Error("全部交易所接入失败")
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, vf := range active {
		client := vf.client
		g.Go(func() error {
			client.Run(gctx)
			return nil
		})
	}

	agg := &aggregator{
		cfg:             cfg,
		logger:          logger,
		registry:        registry,
		validator:       validator,
		engine:          engine,
		feeds:           active,
		profilesWriter:  profilesWriter,
		anomaliesWriter: anomaliesWriter,
		tradedVolume:    make(map[store.Key]float64),
	}
	g.Go(func() error {
		return agg.run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("运行出错", zap.Error(err))
	}

	// 优雅关闭（10s 超时）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, vf := range active {
			_ = vf.client.Close()
		}
		if profilesWriter != nil {
			_ = profilesWriter.Close()
		}
		if anomaliesWriter != nil {
			_ = anomaliesWriter.Close()
		}
	}()

	select {
	case <-shutdownCtx.Done():
		logger.Warn("关闭超时，强制退出")
	case <-done:
		logger.Info("关闭完成")
	}
}

// buildFeeds 按配置创建启用的交易所客户端
func buildFeeds(cfg *config.Config, symbolMaps map[string]*metadata.SymbolMap, logger *zap.Logger) []venueFeed {
	var feeds []venueFeed

	if cfg.Venues.Binance.Enabled {
		c := binance.NewClient(&cfg.Venues.Binance, symbolMaps, logger)
		feeds = append(feeds, venueFeed{
			venue:           model.VenueBinance,
			client:          c,
			requestSnapshot: c.RequestSnapshot,
		})
	}
	if cfg.Venues.Bybit.Enabled {
		c := bybit.NewClient(&cfg.Venues.Bybit, symbolMaps, logger)
		feeds = append(feeds, venueFeed{
			venue:           model.VenueBybit,
			client:          c,
			requestSnapshot: func(string) { c.ForceResync() },
		})
	}
	if cfg.Venues.OKX.Enabled {
		c := okx.NewClient(&cfg.Venues.OKX, symbolMaps, logger)
		feeds = append(feeds, venueFeed{
			venue:           model.VenueOKX,
			client:          c,
			requestSnapshot: func(string) { c.ForceResync() },
		})
	}
	if cfg.Venues.Coinbase.Enabled {
		c := coinbase.NewClient(&cfg.Venues.Coinbase, symbolMaps, logger)
		feeds = append(feeds, venueFeed{
			venue:           model.VenueCoinbase,
			client:          c,
			requestSnapshot: func(string) { c.ForceResync() },
		})
	}
	return feeds
}

// buildRegistry 为每个 (交易所, 交易对) 组装调和器
func buildRegistry(cfg *config.Config, feeds []venueFeed, logger *zap.Logger) *store.Registry {
	registry := store.NewRegistry()
	for _, vf := range feeds {
		depth := venueConfig(cfg, vf.venue).Depth
		request := vf.requestSnapshot
		for _, canon := range cfg.Symbols {
			canon := canon
			rec := book.NewReconciler(vf.venue, canon, depth,
				func() { request(canon) }, logger)
			registry.Register(store.Key{Venue: vf.venue, Symbol: canon}, rec)
		}
	}
	return registry
}

func venueConfig(cfg *config.Config, venue model.Venue) *config.VenueConfig {
	switch venue {
	case model.VenueBinance:
		return &cfg.Venues.Binance
	case model.VenueBybit:
		return &cfg.Venues.Bybit
	case model.VenueOKX:
		return &cfg.Venues.OKX
	default:
		return &cfg.Venues.Coinbase
	}
}

// venueWeights 各交易所的可靠性权重
func venueWeights(cfg *config.Config) map[model.Venue]float64 {
	return map[model.Venue]float64{
		model.VenueBinance:  cfg.Venues.Binance.Weight,
		model.VenueBybit:    cfg.Venues.Bybit.Weight,
		model.VenueOKX:      cfg.Venues.OKX.Weight,
		model.VenueCoinbase: cfg.Venues.Coinbase.Weight,
	}
}

func newLogger(level string) *zap.Logger {
	lvl := zapcore.InfoLevel
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// aggregator 汇聚各交易所事件并驱动分析
type aggregator struct {
	cfg             *config.Config
	logger          *zap.Logger
	registry        *store.Registry
	validator       *crossex.Validator
	engine          *profile.Engine
	feeds           []venueFeed
	profilesWriter  *jsonl.Writer
	anomaliesWriter *jsonl.Writer
	// tradedVolume 各 (交易所, 交易对) 的累计成交量，作为量能相关性的输入
	tradedVolume map[store.Key]float64
}

// run 聚合器主循环
// 订单簿事件进调和器，成交事件进 Volume Profile 引擎；
// 跨交易所验证与 profile 重算按固定节奏触发，避免被高频更新拖垮。
func (a *aggregator) run(ctx context.Context) error {
	bookCh := make(chan *model.BookEvent, 2000)
	tradeCh := make(chan *model.TradeEvent, 2000)
	for _, vf := range a.feeds {
		go forward(ctx, vf.client.BookCh(), bookCh)
		go forward(ctx, vf.client.TradeCh(), tradeCh)
	}

	validateTicker := time.NewTicker(time.Duration(a.cfg.Anomaly.DetectionWindowMs) * time.Millisecond)
	defer validateTicker.Stop()
	profileTicker := time.NewTicker(time.Duration(a.cfg.Profile.RecomputeIntervalMs) * time.Millisecond)
	defer profileTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-bookCh:
			rec := a.registry.Get(ev.Venue, ev.Symbol)
			if rec == nil {
				continue
			}
			if _, err := rec.Apply(ev); err != nil {
				a.logger.Warn("应用订单簿事件失败",
					zap.String("venue", string(ev.Venue)),
					zap.String("symbol", ev.Symbol),
					zap.Error(err))
			}

		case ev := <-tradeCh:
			a.engine.AddTrade(ev)
			a.tradedVolume[store.Key{Venue: ev.Venue, Symbol: ev.Symbol}] += ev.Qty

		case <-validateTicker.C:
			a.validate()

		case <-profileTicker.C:
			a.recomputeProfiles()
		}
	}
}

// validate 对每个交易对做一轮跨交易所验证
// 价格取各交易所当前已发布订单簿的中间价，量能取累计成交量。
func (a *aggregator) validate() {
	nowMs := timeutil.NowNano() / 1_000_000
	for _, symbol := range a.cfg.Symbols {
		samples := make(map[model.Venue]model.PriceSample)
		for venue, bk := range a.registry.SnapshotsFor(symbol) {
			mid := bk.MidPrice()
			if mid <= 0 {
				continue
			}
			samples[venue] = model.PriceSample{
				Venue:     venue,
				Symbol:    symbol,
				Price:     mid,
				Volume24h: a.tradedVolume[store.Key{Venue: venue, Symbol: symbol}],
				TsUnixMs:  nowMs,
			}
		}

		result := a.validator.ValidatePrice(symbol, samples, nowMs)
		if a.anomaliesWriter != nil {
			for _, anomaly := range result.Anomalies {
				if err := a.anomaliesWriter.Write(anomaly); err != nil {
					a.logger.Warn("写入异常事件失败", zap.Error(err))
				}
			}
		}
		if result.Status == model.StatusInvalid {
			a.logger.Warn("跨交易所价格验证失败",
				zap.String("symbol", symbol),
				zap.Float64("deviation", result.PriceDeviation),
				zap.Int("venues", result.VenueCount))
		}
	}
}

// recomputeProfiles 重算全部交易对的 Volume Profile
// 先把各交易所当前订单簿注入引擎，再构建 profile 并落盘。
func (a *aggregator) recomputeProfiles() {
	nowMs := timeutil.NowNano() / 1_000_000
	for _, symbol := range a.cfg.Symbols {
		for _, bk := range a.registry.SnapshotsFor(symbol) {
			a.engine.AddBook(bk)
		}

		p := a.engine.Build(symbol, nowMs)
		if p.TotalVolume <= 0 {
			continue
		}
		if a.profilesWriter != nil {
			if err := a.profilesWriter.Write(p); err != nil {
				a.logger.Warn("写入 profile 失败", zap.Error(err))
			}
		}
	}
}

// forward 将单个交易所通道转发到聚合通道
// 源通道关闭（客户端退出）时结束。
func forward[T any](ctx context.Context, src <-chan T, dst chan<- T) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-src:
			if !ok {
				return
			}
			select {
			case dst <- v:
			case <-ctx.Done():
				return
			}
		}
	}
}
