package models

import "time"

type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

type TradeStatus string

const (
	StatusActive TradeStatus = "active"
	StatusTP1Hit TradeStatus = "tp1_hit"
)

type Outcome string

const (
	OutcomeWin       Outcome = "WIN"
	OutcomeLoss      Outcome = "LOSS"
	OutcomeBreakEven Outcome = "BREAK_EVEN"
	OutcomePending   Outcome = "PENDING"
)

// Signal is one open recommendation with its level ladder. After TP1 the
// stop is moved to entry, so SLLevel is mutable while the rest is fixed
// at creation.
type Signal struct {
	ID         string      `json:"id"`
	Direction  Direction   `json:"direction"`
	EntryPrice float64     `json:"entry_price"`
	TP1Level   float64     `json:"tp1_level"`
	TP2Level   float64     `json:"tp2_level"`
	SLLevel    float64     `json:"sl_level"`
	Status     TradeStatus `json:"status"`
	StartTime  time.Time   `json:"start_time"`
}

func (s *Signal) Clone() *Signal {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// UserState is everything tracked per subscriber: lifetime counters, the
// trade currently copied into their account and the id of the tracking
// message being edited in place.
type UserState struct {
	WinCount          int     `json:"win_count"`
	LossCount         int     `json:"loss_count"`
	BECount           int     `json:"be_count"`
	ActiveTrade       *Signal `json:"active_trade,omitempty"`
	TrackingMessageID int     `json:"tracking_message_id,omitempty"`
}

func (u *UserState) TotalTrades() int {
	return u.WinCount + u.LossCount + u.BECount
}

// HistoryEntry records one issued signal and, once closed, its outcome.
type HistoryEntry struct {
	ID         string    `json:"id"`
	Direction  Direction `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	TP1Level   float64   `json:"tp1_level"`
	TP2Level   float64   `json:"tp2_level"`
	SLLevel    float64   `json:"sl_level"`
	Outcome    Outcome   `json:"outcome"`
	ExitPrice  float64   `json:"exit_price,omitempty"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at,omitempty"`
}

// Candle is one OHLC bar from the price feed.
type Candle struct {
	Epoch int64   `json:"epoch"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

// Tick is one streaming quote.
type Tick struct {
	Symbol string
	Price  float64
	Epoch  int64
}

// WinRate returns the win percentage over decided trades (break-evens
// excluded), 0 when nothing is decided yet.
func WinRate(wins, losses int) float64 {
	decided := wins + losses
	if decided == 0 {
		return 0
	}
	return float64(wins) / float64(decided) * 100
}
