package analysis

import (
	"errors"

	"github.com/markcheno/go-talib"

	"signal_bot/config"
	"signal_bot/internal/models"
)

// ADX needs roughly twice its period to produce stable values; the +3
// leaves room for the two closed candles the engine inspects.
const MinCandles = 2*config.ADXPeriod + 3

var ErrNotEnoughData = errors.New("analysis: not enough candles")

// Columns holds the full indicator series aligned with the input
// candles. Warm-up rows carry zeros; callers only ever read the tail.
type Columns struct {
	Close  []float64
	High   []float64
	Low    []float64
	EMA    []float64
	RSI    []float64
	ADX    []float64
	ATR    []float64
	StochK []float64
	StochD []float64
}

// Snapshot is one row of Columns, the view the entry rules consume.
type Snapshot struct {
	Close  float64
	EMA    float64
	RSI    float64
	ADX    float64
	ATR    float64
	StochK float64
	StochD float64
}

// Calculate computes every indicator series over the candle history.
func Calculate(candles []models.Candle) (*Columns, error) {
	if len(candles) < MinCandles {
		return nil, ErrNotEnoughData
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
	}

	k, d := talib.Stoch(highs, lows, closes,
		config.StochKPeriod, config.StochSmooth, talib.SMA, config.StochDPeriod, talib.SMA)

	return &Columns{
		Close:  closes,
		High:   highs,
		Low:    lows,
		EMA:    talib.Ema(closes, config.MAMediumPeriod),
		RSI:    talib.Rsi(closes, config.RSIPeriod),
		ADX:    talib.Adx(highs, lows, closes, config.ADXPeriod),
		ATR:    talib.Atr(highs, lows, closes, config.ATRPeriod),
		StochK: k,
		StochD: d,
	}, nil
}

func (c *Columns) Len() int {
	return len(c.Close)
}

// Snapshot extracts row i. Panics on out-of-range like a slice would.
func (c *Columns) Snapshot(i int) Snapshot {
	return Snapshot{
		Close:  c.Close[i],
		EMA:    c.EMA[i],
		RSI:    c.RSI[i],
		ADX:    c.ADX[i],
		ATR:    c.ATR[i],
		StochK: c.StochK[i],
		StochD: c.StochD[i],
	}
}

// Ready reports whether row i is past every indicator's warm-up.
func (s Snapshot) Ready() bool {
	return s.EMA != 0 && s.RSI != 0 && s.ADX != 0
}
