package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"signal_bot/config"
	"signal_bot/internal/analysis"
	"signal_bot/internal/models"
)

// TickEvent is what one price observation did to an open signal.
type TickEvent int

const (
	EventNone TickEvent = iota
	EventTP1
	EventWin
	EventLoss
	EventBreakEven
)

func (e TickEvent) String() string {
	switch e {
	case EventTP1:
		return "TP1"
	case EventWin:
		return "WIN"
	case EventLoss:
		return "LOSS"
	case EventBreakEven:
		return "BREAK_EVEN"
	}
	return "NONE"
}

// Levels derives the TP1/TP2/SL ladder from an entry price. Decimal
// arithmetic keeps the dollar offsets exact (2650 + 4.50 must be
// 2654.5, not 2654.4999...).
func Levels(dir models.Direction, entry float64) (tp1, tp2, sl float64) {
	e := decimal.NewFromFloat(entry)
	tp := decimal.NewFromFloat(config.FixedTPUSD)
	tp2Off := tp.Mul(decimal.NewFromFloat(config.TP2Factor))
	slOff := decimal.NewFromFloat(config.FixedSLUSD)

	if dir == models.Buy {
		tp1, _ = e.Add(tp).Float64()
		tp2, _ = e.Add(tp2Off).Float64()
		sl, _ = e.Sub(slOff).Float64()
	} else {
		tp1, _ = e.Sub(tp).Float64()
		tp2, _ = e.Sub(tp2Off).Float64()
		sl, _ = e.Add(slOff).Float64()
	}
	return tp1, tp2, sl
}

// NewSignal builds an open signal at the given entry price.
func NewSignal(dir models.Direction, entry float64, now time.Time) *models.Signal {
	tp1, tp2, sl := Levels(dir, entry)
	return &models.Signal{
		ID:         uuid.NewString(),
		Direction:  dir,
		EntryPrice: entry,
		TP1Level:   tp1,
		TP2Level:   tp2,
		SLLevel:    sl,
		Status:     models.StatusActive,
		StartTime:  now,
	}
}

// ApplyTick advances the position state machine with one price
// observation. On EventTP1 the signal is mutated in place: status
// becomes tp1_hit and the stop moves to entry. Terminal events leave
// the signal untouched; the caller closes it out.
//
// TP2 is checked before SL so a tick that gaps through both resolves in
// the subscriber's favor, matching how the levels are quoted.
func ApplyTick(sig *models.Signal, price float64) TickEvent {
	if sig == nil {
		return EventNone
	}

	favorable := func(level float64) bool {
		if sig.Direction == models.Buy {
			return price >= level
		}
		return price <= level
	}
	adverse := func(level float64) bool {
		if sig.Direction == models.Buy {
			return price <= level
		}
		return price >= level
	}

	switch sig.Status {
	case models.StatusActive:
		if favorable(sig.TP2Level) {
			return EventWin
		}
		if favorable(sig.TP1Level) {
			sig.Status = models.StatusTP1Hit
			sig.SLLevel = sig.EntryPrice
			return EventTP1
		}
		if adverse(sig.SLLevel) {
			return EventLoss
		}
	case models.StatusTP1Hit:
		if favorable(sig.TP2Level) {
			return EventWin
		}
		if adverse(sig.SLLevel) {
			return EventBreakEven
		}
	}
	return EventNone
}

// EvaluateEntry applies the entry rules to the two most recent closed
// candles. A BUY needs price above the EMA50 trend line, trend strength
// (ADX) above threshold, and RSI crossing up out of the oversold band
// between the two candles; SELL is the mirror.
func EvaluateEntry(prev, latest analysis.Snapshot) (models.Direction, bool) {
	if !prev.Ready() || !latest.Ready() {
		return "", false
	}
	if latest.ADX < config.ADXThreshold {
		return "", false
	}

	if latest.Close > latest.EMA &&
		prev.RSI <= config.RSIOversold && latest.RSI > config.RSIOversold {
		return models.Buy, true
	}
	if latest.Close < latest.EMA &&
		prev.RSI >= config.RSIOverbought && latest.RSI < config.RSIOverbought {
		return models.Sell, true
	}
	return "", false
}

// CooldownElapsed reports whether enough time has passed since the last
// signal. A zero last time means no signal has ever fired.
func CooldownElapsed(last, now time.Time, cooldown time.Duration) bool {
	if last.IsZero() {
		return true
	}
	return now.Sub(last) >= cooldown
}

// TrendEntry is the fallback for manual signals: when the strict rules
// do not fire, follow the EMA50 side of the latest close.
func TrendEntry(latest analysis.Snapshot) models.Direction {
	if latest.Close >= latest.EMA {
		return models.Buy
	}
	return models.Sell
}
