package telegram

import (
	"errors"
	"strings"
	"testing"
	"time"

	tele "gopkg.in/telebot.v3"

	"signal_bot/internal/engine"
	"signal_bot/internal/models"
)

func TestClassifySendError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want sendClass
	}{
		{"no error", nil, sendOK},
		{"blocked", tele.ErrBlockedByUser, sendPermanent},
		{"chat gone", tele.ErrChatNotFound, sendPermanent},
		{"deactivated", tele.ErrUserIsDeactivated, sendPermanent},
		{"flood", tele.FloodError{RetryAfter: 5}, sendFlood},
		{"network blip", errors.New("dial tcp: timeout"), sendTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifySendError(tt.err); got != tt.want {
				t.Errorf("classifySendError(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestClassifyWrappedError(t *testing.T) {
	wrapped := errorWrapper{tele.ErrBlockedByUser}
	if classifySendError(wrapped) != sendPermanent {
		t.Fatal("wrapped permanent error not recognized")
	}
}

type errorWrapper struct{ inner error }

func (e errorWrapper) Error() string { return "send failed: " + e.inner.Error() }
func (e errorWrapper) Unwrap() error { return e.inner }

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{3 * time.Minute, "3m 0s"},
		{3*time.Minute + 20*time.Second, "3m 20s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestStatsTextWinRate(t *testing.T) {
	st := models.UserState{WinCount: 7, LossCount: 3, BECount: 2}
	text := statsText(st)
	if !strings.Contains(text, "70.0%") {
		t.Errorf("stats text missing win rate: %q", text)
	}
	if !strings.Contains(text, "Total: 12") {
		t.Errorf("stats text missing total: %q", text)
	}
}

func TestSignalOpenTextLevels(t *testing.T) {
	sig := &models.Signal{
		Direction:  models.Buy,
		EntryPrice: 2650,
		TP1Level:   2653,
		TP2Level:   2654.5,
		SLLevel:    2647,
		Status:     models.StatusActive,
		StartTime:  time.Now(),
	}
	text := signalOpenText(sig)
	for _, want := range []string{"BUY", "2650.00", "2653.00", "2654.50", "2647.00"} {
		if !strings.Contains(text, want) {
			t.Errorf("signal text missing %q:\n%s", want, text)
		}
	}
}

func TestStatusTextShowsIndicators(t *testing.T) {
	st := engine.StrategyStatus{
		State:     "WAITING_ENTRY",
		Price:     2650.25,
		EMA:       2645.10,
		RSI:       35.2,
		PrevRSI:   28.4,
		ADX:       25.7,
		ATR:       2.31,
		StochK:    81.5,
		StochD:    76.2,
		UpdatedAt: time.Now(),
	}
	text := statusText(st, true, "XAU/USD market is active")
	for _, want := range []string{"WAITING_ENTRY", "terhubung", "2650.25", "81.5", "76.2", "Stoch"} {
		if !strings.Contains(text, want) {
			t.Errorf("status text missing %q:\n%s", want, text)
		}
	}
	if down := statusText(st, false, "closed"); !strings.Contains(down, "terputus") {
		t.Errorf("disconnected feed not reflected: %q", down)
	}
}

func TestTodayTextEmpty(t *testing.T) {
	if text := todayText(0, 0, 0); !strings.Contains(text, "Belum ada") {
		t.Errorf("empty day text: %q", text)
	}
}

func TestTrackingTextStatus(t *testing.T) {
	sig := &models.Signal{
		Direction:  models.Sell,
		EntryPrice: 2650,
		TP1Level:   2647,
		TP2Level:   2645.5,
		SLLevel:    2650,
		Status:     models.StatusTP1Hit,
	}
	text := trackingText(sig, 2646.5)
	if !strings.Contains(text, "TP1 ✔") {
		t.Errorf("tracking text missing tp1 status: %q", text)
	}
	// Favorable distance for a sell is entry minus price.
	if !strings.Contains(text, "+3.50") {
		t.Errorf("tracking text missing distance: %q", text)
	}
}
