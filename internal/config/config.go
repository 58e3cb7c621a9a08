// Package config 负责加载和验证 YAML 配置文件。
// 提供交易所连接、调和深度、异常检测阈值、Volume Profile 参数等全部配置项。
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 应用配置根结构
type Config struct {
	// App 应用基础配置
	App AppConfig `yaml:"app"`
	// Symbols 跟踪的交易对列表（统一格式，如 BTCUSDT）
	Symbols []string `yaml:"symbols"`
	// Venues 各交易所连接配置
	Venues VenuesConfig `yaml:"venues"`
	// Anomaly 跨交易所异常检测配置
	Anomaly AnomalyConfig `yaml:"anomaly"`
	// Profile Volume Profile 引擎配置
	Profile ProfileConfig `yaml:"profile"`
	// History 有界历史容量配置
	History HistoryConfig `yaml:"history"`
	// Output 输出配置
	Output OutputConfig `yaml:"output"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	// Name 应用名称，用于日志标识
	Name string `yaml:"name"`
	// LogLevel 日志级别: debug, info, warn, error
	LogLevel string `yaml:"log_level"`
}

// VenuesConfig 各交易所连接配置
type VenuesConfig struct {
	// Binance Binance 配置
	Binance VenueConfig `yaml:"binance"`
	// Bybit Bybit 配置
	Bybit VenueConfig `yaml:"bybit"`
	// OKX OKX 配置
	OKX VenueConfig `yaml:"okx"`
	// Coinbase Coinbase 配置
	Coinbase VenueConfig `yaml:"coinbase"`
}

// VenueConfig 单个交易所的连接配置
type VenueConfig struct {
	// Enabled 是否启用该交易所
	Enabled bool `yaml:"enabled"`
	// URL WebSocket 连接地址
	URL string `yaml:"url"`
	// RestURL REST 快照接口地址（需要外部锚定的交易所使用）
	RestURL string `yaml:"rest_url"`
	// Depth 调和保留的每侧档位数
	Depth int `yaml:"depth"`
	// PingIntervalMs 心跳间隔（毫秒）
	PingIntervalMs int `yaml:"ping_interval_ms"`
	// ReadTimeoutMs 读取超时（毫秒），超时视为静默断连并强制重连
	ReadTimeoutMs int `yaml:"read_timeout_ms"`
	// Weight 可靠性权重（0-1），Volume Profile 按权重聚合该交易所数据
	Weight float64 `yaml:"weight"`
}

// AnomalyConfig 跨交易所异常检测配置
type AnomalyConfig struct {
	// PriceDeviationThreshold 价格偏离告警阈值（比例，默认 0.001 即 0.1%）
	PriceDeviationThreshold float64 `yaml:"price_deviation_threshold"`
	// ArbitrageThreshold 套利窗口阈值（比例，默认 0.002 即 0.2%）
	ArbitrageThreshold float64 `yaml:"arbitrage_threshold"`
	// VolumeSpikeMultiplier 量能尖峰倍数（默认 3.0）
	VolumeSpikeMultiplier float64 `yaml:"volume_spike_multiplier"`
	// FlashCrashDrop 闪崩跌幅阈值（比例，默认 0.03 即 3%）
	FlashCrashDrop float64 `yaml:"flash_crash_drop"`
	// PumpDumpSwing pump/dump 价格波动阈值（比例，默认 0.05 即 5%）
	PumpDumpSwing float64 `yaml:"pump_dump_swing"`
	// MinVenues 验证所需的最少交易所数（默认 2）
	MinVenues int `yaml:"min_venues"`
	// DetectionWindowMs 同类异常的发布抑制窗口（毫秒，默认 60000）
	DetectionWindowMs int `yaml:"detection_window_ms"`
}

// ProfileConfig Volume Profile 引擎配置
type ProfileConfig struct {
	// InstitutionalVolume 机构单笔阈值；≥10 倍判定为 whale
	InstitutionalVolume float64 `yaml:"institutional_volume"`
	// IcebergBaseThreshold iceberg 检测基础阈值（按价格动态缩放）
	IcebergBaseThreshold float64 `yaml:"iceberg_base_threshold"`
	// IcebergPersistCount iceberg 判定所需的连续簿更新次数
	IcebergPersistCount int `yaml:"iceberg_persist_count"`
	// AbsorptionMultiplier absorption 量能倍数（默认 2.0）
	AbsorptionMultiplier float64 `yaml:"absorption_multiplier"`
	// ExhaustionMultiplier exhaustion 量能比例（默认 0.3）
	ExhaustionMultiplier float64 `yaml:"exhaustion_multiplier"`
	// CVDWindow rolling CVD 窗口（成交笔数，默认 100）
	CVDWindow int `yaml:"cvd_window"`
	// RecomputeIntervalMs Profile 重算最小间隔（毫秒，默认 5000）
	RecomputeIntervalMs int `yaml:"recompute_interval_ms"`
}

// HistoryConfig 有界历史容量配置
type HistoryConfig struct {
	// Trades 成交历史容量
	Trades int `yaml:"trades"`
	// Snapshots 订单簿快照历史容量
	Snapshots int `yaml:"snapshots"`
	// PriceSamples 每交易所价格采样窗口容量
	PriceSamples int `yaml:"price_samples"`
	// Anomalies 异常事件历史容量
	Anomalies int `yaml:"anomalies"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// Dir 输出目录
	Dir string `yaml:"dir"`
	// ProfilesEnabled 是否输出 Volume Profile 快照
	ProfilesEnabled bool `yaml:"profiles_enabled"`
	// AnomaliesEnabled 是否输出异常事件
	AnomaliesEnabled bool `yaml:"anomalies_enabled"`
	// BufferSize 异步写入缓冲区大小
	BufferSize int `yaml:"buffer_size"`
}

// Load 从文件加载配置并验证
// 参数 path: 配置文件路径
// 返回: 解析后的配置对象，若失败则返回错误
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// SetDefaults 设置配置默认值
func (c *Config) SetDefaults() {
	if c.App.Name == "" {
		c.App.Name = "orderflow-analyzer"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}

	// 交易所默认值
	// 可靠性权重沿用生产标定值：binance 0.35, bybit 0.30, okx 0.20, coinbase 0.15
	setVenueDefaults(&c.Venues.Binance, 0.35)
	setVenueDefaults(&c.Venues.Bybit, 0.30)
	setVenueDefaults(&c.Venues.OKX, 0.20)
	setVenueDefaults(&c.Venues.Coinbase, 0.15)

	// 异常检测默认值
	if c.Anomaly.PriceDeviationThreshold == 0 {
		c.Anomaly.PriceDeviationThreshold = 0.001 // 0.1%
	}
	if c.Anomaly.ArbitrageThreshold == 0 {
		c.Anomaly.ArbitrageThreshold = 0.002 // 0.2%
	}
	if c.Anomaly.VolumeSpikeMultiplier == 0 {
		c.Anomaly.VolumeSpikeMultiplier = 3.0
	}
	if c.Anomaly.FlashCrashDrop == 0 {
		c.Anomaly.FlashCrashDrop = 0.03 // 3%
	}
	if c.Anomaly.PumpDumpSwing == 0 {
		c.Anomaly.PumpDumpSwing = 0.05 // 5%
	}
	if c.Anomaly.MinVenues == 0 {
		c.Anomaly.MinVenues = 2
	}
	if c.Anomaly.DetectionWindowMs == 0 {
		c.Anomaly.DetectionWindowMs = 60000 // 60 秒
	}

	// Profile 默认值
	if c.Profile.InstitutionalVolume == 0 {
		c.Profile.InstitutionalVolume = 10.0
	}
	if c.Profile.IcebergBaseThreshold == 0 {
		c.Profile.IcebergBaseThreshold = 50.0
	}
	if c.Profile.IcebergPersistCount == 0 {
		c.Profile.IcebergPersistCount = 3
	}
	if c.Profile.AbsorptionMultiplier == 0 {
		c.Profile.AbsorptionMultiplier = 2.0
	}
	if c.Profile.ExhaustionMultiplier == 0 {
		c.Profile.ExhaustionMultiplier = 0.3
	}
	if c.Profile.CVDWindow == 0 {
		c.Profile.CVDWindow = 100
	}
	if c.Profile.RecomputeIntervalMs == 0 {
		c.Profile.RecomputeIntervalMs = 5000 // 5 秒
	}

	// 历史容量默认值
	if c.History.Trades == 0 {
		c.History.Trades = 50000
	}
	if c.History.Snapshots == 0 {
		c.History.Snapshots = 5000
	}
	if c.History.PriceSamples == 0 {
		c.History.PriceSamples = 100
	}
	if c.History.Anomalies == 0 {
		c.History.Anomalies = 100
	}

	// 输出默认值
	if c.Output.Dir == "" {
		c.Output.Dir = "./output"
	}
	if c.Output.BufferSize == 0 {
		c.Output.BufferSize = 1000
	}
}

func setVenueDefaults(v *VenueConfig, weight float64) {
	if v.Depth == 0 {
		v.Depth = 50
	}
	if v.PingIntervalMs == 0 {
		v.PingIntervalMs = 20000 // 20 秒
	}
	if v.ReadTimeoutMs == 0 {
		v.ReadTimeoutMs = 30000 // 30 秒
	}
	if v.Weight == 0 {
		v.Weight = weight
	}
}

// Validate 验证配置合法性
// 检查所有必填项和数值范围
// 返回: 若配置无效则返回描述性错误
func (c *Config) Validate() error {
	var errs []string

	if len(c.Symbols) == 0 {
		errs = append(errs, "symbols: 至少需要配置一个交易对")
	}
	for i, sym := range c.Symbols {
		if sym == "" {
			errs = append(errs, fmt.Sprintf("symbols[%d]: 交易对不能为空", i))
		}
	}

	// 启用的交易所必须配置连接地址
	enabled := 0
	for name, v := range map[string]*VenueConfig{
		"binance":  &c.Venues.Binance,
		"bybit":    &c.Venues.Bybit,
		"okx":      &c.Venues.OKX,
		"coinbase": &c.Venues.Coinbase,
	} {
		if !v.Enabled {
			continue
		}
		enabled++
		if v.URL == "" {
			errs = append(errs, fmt.Sprintf("venues.%s.url: 启用的交易所必须配置 WebSocket 地址", name))
		}
		if v.Weight < 0 || v.Weight > 1 {
			errs = append(errs, fmt.Sprintf("venues.%s.weight: 权重必须在 0-1 之间，当前值: %f", name, v.Weight))
		}
		if v.Depth < 0 {
			errs = append(errs, fmt.Sprintf("venues.%s.depth: 深度不能为负数", name))
		}
	}
	if enabled == 0 {
		errs = append(errs, "venues: 至少需要启用一个交易所")
	}
	if c.Venues.Binance.Enabled && c.Venues.Binance.RestURL == "" {
		errs = append(errs, "venues.binance.rest_url: Binance 增量流需要 REST 快照锚定，必须配置")
	}

	// 阈值范围
	if c.Anomaly.PriceDeviationThreshold < 0 {
		errs = append(errs, "anomaly.price_deviation_threshold: 阈值不能为负数")
	}
	if c.Anomaly.ArbitrageThreshold < c.Anomaly.PriceDeviationThreshold {
		errs = append(errs, "anomaly.arbitrage_threshold: 套利阈值必须不低于价格偏离阈值")
	}
	if c.Anomaly.MinVenues < 2 {
		errs = append(errs, "anomaly.min_venues: 跨交易所验证至少需要 2 家交易所")
	}
	if c.Profile.ExhaustionMultiplier <= 0 || c.Profile.ExhaustionMultiplier >= 1 {
		errs = append(errs, "profile.exhaustion_multiplier: 比例必须在 (0, 1) 之间")
	}
	if c.Profile.AbsorptionMultiplier <= 1 {
		errs = append(errs, "profile.absorption_multiplier: 倍数必须大于 1")
	}

	// 历史容量必须为正
	for field, v := range map[string]int{
		"history.trades":        c.History.Trades,
		"history.snapshots":     c.History.Snapshots,
		"history.price_samples": c.History.PriceSamples,
		"history.anomalies":     c.History.Anomalies,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Sprintf("%s: 容量必须为正数", field))
		}
	}

	// 日志级别
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.App.LogLevel)] {
		errs = append(errs, fmt.Sprintf("app.log_level: 无效的日志级别 '%s'，有效值: debug, info, warn, error", c.App.LogLevel))
	}

	if len(errs) > 0 {
		return fmt.Errorf("配置验证错误:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// EnabledVenues 启用的交易所名称列表
func (c *Config) EnabledVenues() []string {
	var out []string
	if c.Venues.Binance.Enabled {
		out = append(out, "binance")
	}
	if c.Venues.Bybit.Enabled {
		out = append(out, "bybit")
	}
	if c.Venues.OKX.Enabled {
		out = append(out, "okx")
	}
	if c.Venues.Coinbase.Enabled {
		out = append(out, "coinbase")
	}
	return out
}
