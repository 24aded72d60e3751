package models

import "fmt"

// Config 定义了行情核心的所有配置参数。
// 可识别的配置项即下列字段，未知字段在加载时直接拒绝。
type Config struct {
	Source   SourceConfig   `json:"source"`
	Receiver ReceiverConfig `json:"receiver"`
	Memory   MemoryConfig   `json:"memory"`
	Cache    CacheConfig    `json:"cache"`
	Engine   EngineConfig   `json:"engine"`
	Session  SessionConfig  `json:"session"`
	Journal  JournalConfig  `json:"journal"`
	Log      LogConfig      `json:"log"`
}

// SourceConfig 上游行情源连接配置
type SourceConfig struct {
	Host               string `json:"host"`  // 必填
	Port               int    `json:"port"`  // 必填
	Token              string `json:"token"` // 必填，可由环境变量 SOURCE_TOKEN 覆盖
	HeartbeatIntervalS int    `json:"heartbeat_interval_s"` // 默认30
	NoDataTimeoutS     int    `json:"no_data_timeout_s"`    // 默认90
	MaxFrameBytes      int    `json:"max_frame_bytes"`      // 默认10MB
}

// ReceiverConfig 接收器配置
type ReceiverConfig struct {
	StagingCapacity int `json:"staging_capacity"` // 暂存环形队列容量，默认50000
}

// MemoryConfig 内存水位线配置。上游会掐断未确认缓冲超过约100MB的客户端，
// 这里的两级清理必须把常驻内存压在该上限之下。
type MemoryConfig struct {
	SoftCleanupMB int `json:"soft_cleanup_mb"` // 默认80，丢弃暂存队列的一半
	HardCleanupMB int `json:"hard_cleanup_mb"` // 默认90，清空暂存队列
}

// CacheConfig 行情缓存配置
type CacheConfig struct {
	HistoryLength  int `json:"history_length"`   // 默认100
	StaleEvictS    int `json:"stale_evict_s"`    // 默认300
	SweepIntervalS int `json:"sweep_interval_s"` // 默认60
}

// EngineConfig 决策引擎配置
type EngineConfig struct {
	IntervalS         int           `json:"interval_s"`           // 默认30
	MaxSymbolsPerTick int           `json:"max_symbols_per_tick"` // 默认100
	EnableBeijing     bool          `json:"enable_beijing"`       // 默认false，北交所股票不参与决策
	Filters           FiltersConfig `json:"filters"`
}

// FiltersConfig 决策前的数据质量过滤阈值
type FiltersConfig struct {
	MaxChangePercent float64 `json:"max_change_percent"` // 默认9.8，涨跌停附近视为不可交易
	MinPrice         float64 `json:"min_price"`          // 默认0.01
	MaxPrice         float64 `json:"max_price"`          // 默认1000
	MinVolume        int64   `json:"min_volume"`         // 默认1000
	MinAmount        float64 `json:"min_amount"`         // 默认10000
}

// SessionConfig 会话管理器配置
type SessionConfig struct {
	ListenAddr        string `json:"listen_addr"`         // 代理/观察端接入地址，默认127.0.0.1:7700
	CommandTimeoutS   int    `json:"command_timeout_s"`   // 默认30
	HeartbeatTimeoutS int    `json:"heartbeat_timeout_s"` // 默认300
	CleanupIntervalS  int    `json:"cleanup_interval_s"`  // 默认60
}

// JournalConfig 本地决策日志配置。Path为空时完全关闭，核心保持纯内存运行。
type JournalConfig struct {
	Path string `json:"path"`
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// ApplyDefaults 为未设置的配置项填入默认值
func (c *Config) ApplyDefaults() {
	if c.Source.HeartbeatIntervalS == 0 {
		c.Source.HeartbeatIntervalS = 30
	}
	if c.Source.NoDataTimeoutS == 0 {
		c.Source.NoDataTimeoutS = 90
	}
	if c.Source.MaxFrameBytes == 0 {
		c.Source.MaxFrameBytes = 10 << 20
	}
	if c.Receiver.StagingCapacity == 0 {
		c.Receiver.StagingCapacity = 50000
	}
	if c.Memory.SoftCleanupMB == 0 {
		c.Memory.SoftCleanupMB = 80
	}
	if c.Memory.HardCleanupMB == 0 {
		c.Memory.HardCleanupMB = 90
	}
	if c.Cache.HistoryLength == 0 {
		c.Cache.HistoryLength = 100
	}
	if c.Cache.StaleEvictS == 0 {
		c.Cache.StaleEvictS = 300
	}
	if c.Cache.SweepIntervalS == 0 {
		c.Cache.SweepIntervalS = 60
	}
	if c.Engine.IntervalS == 0 {
		c.Engine.IntervalS = 30
	}
	if c.Engine.MaxSymbolsPerTick == 0 {
		c.Engine.MaxSymbolsPerTick = 100
	}
	if c.Engine.Filters.MaxChangePercent == 0 {
		c.Engine.Filters.MaxChangePercent = 9.8
	}
	if c.Engine.Filters.MinPrice == 0 {
		c.Engine.Filters.MinPrice = 0.01
	}
	if c.Engine.Filters.MaxPrice == 0 {
		c.Engine.Filters.MaxPrice = 1000
	}
	if c.Engine.Filters.MinVolume == 0 {
		c.Engine.Filters.MinVolume = 1000
	}
	if c.Engine.Filters.MinAmount == 0 {
		c.Engine.Filters.MinAmount = 10000
	}
	if c.Session.ListenAddr == "" {
		c.Session.ListenAddr = "127.0.0.1:7700"
	}
	if c.Session.CommandTimeoutS == 0 {
		c.Session.CommandTimeoutS = 30
	}
	if c.Session.HeartbeatTimeoutS == 0 {
		c.Session.HeartbeatTimeoutS = 300
	}
	if c.Session.CleanupIntervalS == 0 {
		c.Session.CleanupIntervalS = 60
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Output == "" {
		c.Log.Output = "console"
	}
}

// Validate 校验必填项
func (c *Config) Validate() error {
	if c.Source.Host == "" {
		return fmt.Errorf("缺少必填配置项 source.host")
	}
	if c.Source.Port <= 0 || c.Source.Port > 65535 {
		return fmt.Errorf("source.port 非法: %d", c.Source.Port)
	}
	if c.Source.Token == "" {
		return fmt.Errorf("缺少必填配置项 source.token（或环境变量 SOURCE_TOKEN）")
	}
	if c.Memory.SoftCleanupMB >= c.Memory.HardCleanupMB {
		return fmt.Errorf("memory.soft_cleanup_mb (%d) 必须小于 memory.hard_cleanup_mb (%d)",
			c.Memory.SoftCleanupMB, c.Memory.HardCleanupMB)
	}
	return nil
}
