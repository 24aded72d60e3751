// Package parser 把接收器暂存的原始帧解析为规范化的Tick。
// 解析是帧字节的纯函数，不做任何I/O。
package parser

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"ashare-quote-core/internal/logger"
	"ashare-quote-core/internal/models"
)

// 沪深两市管道分隔行的固定字段数
const szshFieldCount = 33

// Counters 解析计数器。跨goroutine读取（报表、测试），用原子量。
type Counters struct {
	ParsedSZSH       atomic.Int64 // 解析成功的沪深行数
	ParsedBJ         atomic.Int64 // 解析成功的北交所行数
	DroppedMalformed atomic.Int64 // 整帧或整行格式非法
	DroppedTooSmall  atomic.Int64 // 字段数不足的行
}

// Parser 无状态解析器，只持有计数器
type Parser struct {
	counters Counters
}

func New() *Parser {
	return &Parser{}
}

// Counters 返回计数器，供报表与测试读取
func (p *Parser) Counters() *Counters {
	return &p.counters
}

// ParseFrame 把一帧字节解析为零或多个Tick。
// 非法UTF-8丢弃整帧；行级错误只丢弃该行，绝不让一条坏数据拖垮整帧。
func (p *Parser) ParseFrame(frame models.RawFrame) []models.Tick {
	if !utf8.Valid(frame.Data) {
		p.counters.DroppedMalformed.Add(1)
		return nil
	}

	var ticks []models.Tick
	for _, line := range strings.Split(string(frame.Data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var (
			tick models.Tick
			ok   bool
		)
		switch {
		case strings.HasPrefix(line, "{") && strings.HasSuffix(line, "}"):
			tick, ok = p.parseBJLine(line)
		case strings.Contains(line, "$"):
			tick, ok = p.parseSZSHLine(line)
		default:
			p.counters.DroppedMalformed.Add(1)
			continue
		}
		if !ok {
			continue
		}

		if tick.Timestamp == 0 {
			tick.Timestamp = frame.RecvTS
		}
		// 上游偶发残缺记录，高低价倒挂只记日志，不拒收
		if tick.High < tick.Open || tick.High < tick.Last || tick.Low > tick.Open || tick.Low > tick.Last {
			logger.S().Debugf("行情高低价异常: %s high=%.3f low=%.3f open=%.3f last=%.3f",
				tick.Symbol, tick.High, tick.Low, tick.Open, tick.Last)
		}
		ticks = append(ticks, tick)
	}
	return ticks
}

// bjLine 是北交所JSON行的线格式
type bjLine struct {
	StockCode *string   `json:"stock_code"`
	Time      *int64    `json:"time"` // 毫秒
	LastPrice *float64  `json:"lastPrice"`
	Open      *float64  `json:"open"`
	High      *float64  `json:"high"`
	Low       *float64  `json:"low"`
	LastClose *float64  `json:"lastClose"`
	Volume    *int64    `json:"volume"`
	Amount    *float64  `json:"amount"`
	AskPrice  []float64 `json:"askPrice"`
	BidPrice  []float64 `json:"bidPrice"`
	AskVol    []int64   `json:"askVol"`
	BidVol    []int64   `json:"bidVol"`
}

// parseBJLine 解析北交所JSON行。必填键缺一即弃行。
func (p *Parser) parseBJLine(line string) (models.Tick, bool) {
	var raw bjLine
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		p.counters.DroppedMalformed.Add(1)
		return models.Tick{}, false
	}
	if raw.StockCode == nil || raw.Time == nil || raw.LastPrice == nil || raw.Open == nil ||
		raw.High == nil || raw.Low == nil || raw.LastClose == nil || raw.Volume == nil || raw.Amount == nil {
		p.counters.DroppedMalformed.Add(1)
		return models.Tick{}, false
	}

	// "430001.BJ" → "430001"
	symbol := *raw.StockCode
	if idx := strings.IndexByte(symbol, '.'); idx >= 0 {
		symbol = symbol[:idx]
	}

	tick := models.Tick{
		Symbol:    symbol,
		Market:    models.MarketBJ,
		Timestamp: *raw.Time / 1000,
		Open:      *raw.Open,
		High:      *raw.High,
		Low:       *raw.Low,
		Last:      *raw.LastPrice,
		PrevClose: *raw.LastClose,
		Volume:    *raw.Volume,
		Amount:    *raw.Amount,
	}
	copyDepthFloats(tick.AskPrices[:], raw.AskPrice)
	copyDepthFloats(tick.BidPrices[:], raw.BidPrice)
	copyDepthInts(tick.AskVolumes[:], raw.AskVol)
	copyDepthInts(tick.BidVolumes[:], raw.BidVol)

	p.counters.ParsedBJ.Add(1)
	return tick, true
}

// parseSZSHLine 解析沪深两市的管道分隔行，字段顺序固定33列
func (p *Parser) parseSZSHLine(line string) (models.Tick, bool) {
	fields := strings.Split(line, "$")
	if len(fields) < szshFieldCount {
		p.counters.DroppedTooSmall.Add(1)
		return models.Tick{}, false
	}

	tick := models.Tick{
		Symbol:       fields[0],
		Name:         fields[1],
		Market:       inferMarket(fields[0]),
		Timestamp:    parseInt(fields[2]),
		Open:         parseFloat(fields[3]),
		High:         parseFloat(fields[4]),
		Low:          parseFloat(fields[5]),
		Last:         parseFloat(fields[6]),
		Volume:       parseInt(fields[7]),
		Amount:       parseFloat(fields[8]),
		TurnoverRate: parseFloat(fields[29]),
		PrevClose:    parseFloat(fields[30]),
		LimitUp:      parseFloat(fields[31]),
		LimitDown:    parseFloat(fields[32]),
	}
	for i := 0; i < models.DepthLevels; i++ {
		tick.AskPrices[i] = parseFloat(fields[9+i])
		tick.AskVolumes[i] = parseInt(fields[14+i])
		tick.BidPrices[i] = parseFloat(fields[19+i])
		tick.BidVolumes[i] = parseInt(fields[24+i])
	}

	p.counters.ParsedSZSH.Add(1)
	return tick, true
}

// inferMarket 按股票代码前缀推断市场：6开头为沪市，0/3开头为深市，其余按深市处理
func inferMarket(symbol string) models.Market {
	if strings.HasPrefix(symbol, "6") {
		return models.MarketSH
	}
	return models.MarketSZ
}

// parseFloat 解析数值字段。空串或非法数值一律按0处理，上游的脏字段不构成错误。
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseInt(s string) int64 {
	if s == "" {
		return 0
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v
	}
	// 部分源把整数字段发成浮点写法
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	return 0
}

// copyDepthFloats 把源盘口数组右补0到固定5档，超长截断
func copyDepthFloats(dst []float64, src []float64) {
	for i := 0; i < len(dst) && i < len(src); i++ {
		dst[i] = src[i]
	}
}

func copyDepthInts(dst []int64, src []int64) {
	for i := 0; i < len(dst) && i < len(src); i++ {
		dst[i] = src[i]
	}
}
