package strategy

import (
	"context"
	"fmt"
	"math"
	"time"

	"gridmesh/exchange"
	"gridmesh/indicators"
	"gridmesh/logger"
)

// TrendDirection 趋势方向
type TrendDirection string

const (
	TrendStrongUp   TrendDirection = "strong_up"
	TrendUp         TrendDirection = "up"
	TrendSideways   TrendDirection = "sideways"
	TrendDown       TrendDirection = "down"
	TrendStrongDown TrendDirection = "strong_down"
)

// TrendSignal 趋势判定结果
type TrendSignal struct {
	Symbol     string         `json:"symbol"`
	Direction  TrendDirection `json:"direction"`
	Strength   float64        `json:"strength"`   // 0-100，基于 ADX
	Confidence float64        `json:"confidence"` // 0-1，基于方向指标分离度
	Time       time.Time      `json:"time"`
}

// TrendOverseer 趋势判定器。方向由短/长期 EMA 交叉判定，
// 强度取自 ADX，置信度取方向指标分离度，并据此收窄风控状态。
type TrendOverseer struct {
	ex            exchange.IExchange
	interval      string
	adxPeriod     int
	emaShort      int
	emaLong       int
	cache         *SignalCache
	minConfidence float64
	minStrength   float64
}

// NewTrendOverseer 创建趋势判定器
func NewTrendOverseer(ex exchange.IExchange, interval string, adxPeriod, emaShort, emaLong int, cacheTTL time.Duration, minConfidence, minStrength float64) *TrendOverseer {
	if adxPeriod <= 0 {
		adxPeriod = 14
	}
	if emaShort <= 0 {
		emaShort = 10
	}
	if emaLong <= emaShort {
		emaLong = 30
	}
	if interval == "" {
		interval = "4h"
	}
	return &TrendOverseer{
		ex:            ex,
		interval:      interval,
		adxPeriod:     adxPeriod,
		emaShort:      emaShort,
		emaLong:       emaLong,
		cache:         NewSignalCache(cacheTTL),
		minConfidence: minConfidence,
		minStrength:   minStrength,
	}
}

// Detect 判定趋势，优先返回缓存内的有效信号
func (t *TrendOverseer) Detect(ctx context.Context, symbol string) (*TrendSignal, error) {
	if sig, ok := t.cache.Get(symbol); ok {
		return sig, nil
	}

	// 保证 ADX 的 EMA 链条有足够预热数据
	limit := t.adxPeriod*5 + 10
	if limit < 100 {
		limit = 100
	}

	klines, err := t.ex.GetKlines(ctx, symbol, t.interval, limit)
	if err != nil {
		return nil, fmt.Errorf("获取 %s K线失败: %w", symbol, err)
	}

	candles := make([]indicators.Candle, len(klines))
	closes := make([]float64, len(klines))
	for i, k := range klines {
		candles[i] = indicators.Candle{
			Time:   k.OpenTime,
			Open:   k.Open,
			High:   k.High,
			Low:    k.Low,
			Close:  k.Close,
			Volume: k.Volume,
		}
		closes[i] = k.Close
	}

	adx := indicators.NewADX(t.adxPeriod)
	values := adx.CalculateMulti(candles)
	if values == nil {
		return nil, fmt.Errorf("%s K线数量不足，无法计算 ADX", symbol)
	}

	sig := buildSignal(symbol, closes, t.emaShort, t.emaLong,
		values["adx"], values["plus_di"], values["minus_di"])
	t.cache.Set(symbol, sig)

	logger.Debug("📈 %s 趋势: %s 强度=%.1f 置信度=%.2f",
		symbol, sig.Direction, sig.Strength, sig.Confidence)
	return sig, nil
}

func buildSignal(symbol string, closes []float64, emaShort, emaLong int, adxSeries, plusSeries, minusSeries []float64) *TrendSignal {
	sig := &TrendSignal{
		Symbol:    symbol,
		Direction: TrendSideways,
		Time:      time.Now(),
	}
	if len(adxSeries) == 0 || len(plusSeries) == 0 || len(minusSeries) == 0 {
		return sig
	}

	adx := adxSeries[len(adxSeries)-1]
	plusDI := plusSeries[len(plusSeries)-1]
	minusDI := minusSeries[len(minusSeries)-1]

	sig.Strength = math.Min(100, math.Max(0, adx))
	if plusDI+minusDI > 0 {
		sig.Confidence = math.Abs(plusDI-minusDI) / (plusDI + minusDI)
	}

	// ADX 低于20视为震荡
	if adx < 20 {
		return sig
	}

	// 方向优先看均线交叉，收盘价需站稳短期均线；
	// K线不足以计算长期均线时退化为方向指标比较
	up := plusDI > minusDI
	if emaLong > 0 && len(closes) >= emaLong {
		shortE := indicators.EMA(closes, emaShort)
		longE := indicators.EMA(closes, emaLong)
		if len(shortE) > 0 && len(longE) > 0 {
			s := shortE[len(shortE)-1]
			l := longE[len(longE)-1]
			last := closes[len(closes)-1]
			switch {
			case s > l && last > s:
				up = true
			case s < l && last < s:
				up = false
			default:
				// 均线方向不一致，视为震荡
				return sig
			}
		}
	}

	if up {
		if adx >= 40 {
			sig.Direction = TrendStrongUp
		} else {
			sig.Direction = TrendUp
		}
	} else {
		if adx >= 40 {
			sig.Direction = TrendStrongDown
		} else {
			sig.Direction = TrendDown
		}
	}
	return sig
}

// Override 由趋势信号推导风控覆盖状态。
// 只有强度和置信度都达标的强趋势才产生覆盖，覆盖只用于收窄 ALLOW_ALL。
func (t *TrendOverseer) Override(sig *TrendSignal) RiskState {
	if sig == nil {
		return RiskAllowAll
	}
	if sig.Confidence < t.minConfidence || sig.Strength < t.minStrength {
		return RiskAllowAll
	}

	switch sig.Direction {
	case TrendStrongDown:
		// 强下跌趋势中暂停接刀式买入
		return RiskAllowSellOnly
	case TrendStrongUp:
		// 强上涨趋势中持仓惜售
		return RiskAllowBuyOnly
	default:
		return RiskAllowAll
	}
}

// Invalidate 清除某交易对的信号缓存
func (t *TrendOverseer) Invalidate(symbol string) {
	t.cache.Invalidate(symbol)
}
