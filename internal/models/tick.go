package models

import "time"

// Market 表示股票所属的交易所市场
type Market string

const (
	MarketSZ Market = "SZ" // 深圳
	MarketSH Market = "SH" // 上海
	MarketBJ Market = "BJ" // 北京
)

// DepthLevels 五档买卖盘的固定档位数
const DepthLevels = 5

// Tick 表示单只股票的一次行情快照。构造完成后不可再修改。
type Tick struct {
	Symbol    string  `json:"symbol"` // 6位股票代码
	Name      string  `json:"name,omitempty"`
	Market    Market  `json:"market"`
	Timestamp int64   `json:"timestamp"` // 秒级时间戳；源未提供时为接收时间
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Last      float64 `json:"last"`
	PrevClose float64 `json:"prev_close"`
	Volume    int64   `json:"volume"` // 成交量（手）
	Amount    float64 `json:"amount"` // 成交额（元）

	// 仅沪深两市提供
	TurnoverRate float64 `json:"turnover_rate,omitempty"`
	LimitUp      float64 `json:"limit_up,omitempty"`
	LimitDown    float64 `json:"limit_down,omitempty"`

	// 五档盘口，长度固定为5，不足补0
	AskPrices  [DepthLevels]float64 `json:"ask_prices"`
	AskVolumes [DepthLevels]int64   `json:"ask_volumes"`
	BidPrices  [DepthLevels]float64 `json:"bid_prices"`
	BidVolumes [DepthLevels]int64   `json:"bid_volumes"`
}

// Change 返回涨跌额（现价 - 昨收）。昨收缺失时返回0。
func (t *Tick) Change() float64 {
	if t.PrevClose == 0 {
		return 0
	}
	return t.Last - t.PrevClose
}

// ChangePercent 返回涨跌幅（百分比）。昨收缺失时返回0。
func (t *Tick) ChangePercent() float64 {
	if t.PrevClose == 0 {
		return 0
	}
	return (t.Last - t.PrevClose) / t.PrevClose * 100
}

// Time 返回行情时间
func (t *Tick) Time() time.Time {
	return time.Unix(t.Timestamp, 0)
}

// PricePoint 是价格/成交量滚动历史中的一个采样点
type PricePoint struct {
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
}

// RawFrame 是接收器交给解析器的一帧原始数据
type RawFrame struct {
	Data   []byte
	RecvTS int64 // 接收时间（秒）
}
