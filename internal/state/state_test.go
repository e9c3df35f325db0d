package state

import (
	"fmt"
	"testing"
	"time"

	"signal_bot/config"
	"signal_bot/internal/models"
)

func newTestSignal(id string) *models.Signal {
	return &models.Signal{
		ID:         id,
		Direction:  models.Buy,
		EntryPrice: 2650,
		TP1Level:   2653,
		TP2Level:   2654.5,
		SLLevel:    2647,
		Status:     models.StatusActive,
		StartTime:  time.Now(),
	}
}

func TestSubscriberRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	if !m.AddSubscriber(100) {
		t.Fatal("first add should succeed")
	}
	if m.AddSubscriber(100) {
		t.Fatal("second add should be a no-op")
	}
	m.AddSubscriber(200)

	// Reload from disk into a fresh manager.
	m2 := NewManager(dir)
	if err := m2.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	subs := m2.Subscribers()
	if len(subs) != 2 || subs[0] != 100 || subs[1] != 200 {
		t.Fatalf("subscribers after reload: %v", subs)
	}

	if !m2.RemoveSubscriber(100) {
		t.Fatal("remove should succeed")
	}
	if m2.RemoveSubscriber(100) {
		t.Fatal("second remove should be a no-op")
	}
	if m2.IsSubscriber(100) {
		t.Fatal("100 still reported as subscriber")
	}
}

func TestLoadMissingFiles(t *testing.T) {
	m := NewManager(t.TempDir())
	if err := m.Load(); err != nil {
		t.Fatalf("load of empty dir: %v", err)
	}
	if m.SubscriberCount() != 0 || m.HistoryLen() != 0 {
		t.Fatal("fresh manager not empty")
	}
}

func TestUserCountersAndReset(t *testing.T) {
	m := NewManager(t.TempDir())
	m.AddSubscriber(1)

	m.RecordUserOutcome(1, models.OutcomeWin)
	m.RecordUserOutcome(1, models.OutcomeWin)
	m.RecordUserOutcome(1, models.OutcomeLoss)
	m.RecordUserOutcome(1, models.OutcomeBreakEven)

	st := m.GetUserState(1)
	if st.WinCount != 2 || st.LossCount != 1 || st.BECount != 1 {
		t.Fatalf("counters: %+v", st)
	}
	if st.TotalTrades() != 4 {
		t.Fatalf("total: %d", st.TotalTrades())
	}

	m.ResetUser(1)
	st = m.GetUserState(1)
	if st.TotalTrades() != 0 || st.ActiveTrade != nil {
		t.Fatalf("state after reset: %+v", st)
	}
}

func TestActiveTradeFanOutAndPromotion(t *testing.T) {
	m := NewManager(t.TempDir())
	m.AddSubscriber(1)
	m.AddSubscriber(2)

	sig := newTestSignal("sig-1")
	m.SetActiveTradeForAll(sig)

	trades := m.UserTrades()
	if len(trades) != 2 {
		t.Fatalf("trades fanned out to %d users", len(trades))
	}

	// Mutating the returned copy must not touch the stored trade.
	trades[1].SLLevel = 0
	if got := m.GetUserState(1).ActiveTrade.SLLevel; got != 2647 {
		t.Fatalf("stored trade mutated through copy: sl %.2f", got)
	}

	m.PromoteTradesToTP1("sig-1")
	for id := int64(1); id <= 2; id++ {
		tr := m.GetUserState(id).ActiveTrade
		if tr.Status != models.StatusTP1Hit || tr.SLLevel != tr.EntryPrice {
			t.Fatalf("user %d trade after promotion: %+v", id, tr)
		}
	}

	if n := m.ClearAllActiveTrades(); n != 2 {
		t.Fatalf("cleared %d trades, want 2", n)
	}
	if len(m.UserTrades()) != 0 {
		t.Fatal("trades remain after clear")
	}
}

func TestCurrentSignalIsolation(t *testing.T) {
	m := NewManager(t.TempDir())
	if m.CurrentSignal() != nil {
		t.Fatal("expected no current signal")
	}

	sig := newTestSignal("sig-2")
	m.SetCurrentSignal(sig)

	cp := m.CurrentSignal()
	cp.EntryPrice = 0
	if m.CurrentSignal().EntryPrice != 2650 {
		t.Fatal("stored signal mutated through copy")
	}

	m.MarkCurrentTP1()
	cur := m.CurrentSignal()
	if cur.Status != models.StatusTP1Hit || cur.SLLevel != cur.EntryPrice {
		t.Fatalf("signal after tp1 mark: %+v", cur)
	}

	m.ClearCurrentSignal()
	if m.CurrentSignal() != nil {
		t.Fatal("signal remains after clear")
	}
}

func TestHistoryCapAndResolve(t *testing.T) {
	m := NewManager(t.TempDir())

	for i := 0; i < config.SignalHistoryCap+10; i++ {
		m.AppendHistory(newTestSignal(fmt.Sprintf("sig-%d", i)))
	}
	if m.HistoryLen() != config.SignalHistoryCap {
		t.Fatalf("history len %d, want cap %d", m.HistoryLen(), config.SignalHistoryCap)
	}

	sig := newTestSignal("resolve-me")
	m.AppendHistory(sig)
	closedAt := time.Now()
	m.ResolveHistory("resolve-me", models.OutcomeWin, 2654.5, closedAt)

	last, ok := m.LastHistory()
	if !ok {
		t.Fatal("no history")
	}
	if last.ID != "resolve-me" || last.Outcome != models.OutcomeWin || last.ExitPrice != 2654.5 {
		t.Fatalf("resolved entry: %+v", last)
	}
}

func TestTodayStats(t *testing.T) {
	m := NewManager(t.TempDir())
	now := time.Now()

	sig := newTestSignal("today-win")
	m.AppendHistory(sig)
	m.ResolveHistory("today-win", models.OutcomeWin, 2654.5, now)

	old := newTestSignal("old-loss")
	m.AppendHistory(old)
	m.ResolveHistory("old-loss", models.OutcomeLoss, 2647, now.AddDate(0, 0, -2))

	wins, losses, bes := m.TodayStats(now)
	if wins != 1 || losses != 0 || bes != 0 {
		t.Fatalf("today stats: %d/%d/%d", wins, losses, bes)
	}
}

func TestTrackingMessages(t *testing.T) {
	m := NewManager(t.TempDir())
	m.SetTrackingMessage(5, 42)
	if m.TrackingMessage(5) != 42 {
		t.Fatal("tracking message not stored")
	}
	m.ClearTrackingMessages()
	if m.TrackingMessage(5) != 0 {
		t.Fatal("tracking message not cleared")
	}
}

func TestUserStatePersistsAcrossReload(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)
	m.AddSubscriber(7)
	m.RecordUserOutcome(7, models.OutcomeWin)
	m.SetUserTrade(7, newTestSignal("manual"))

	m2 := NewManager(dir)
	if err := m2.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	st := m2.GetUserState(7)
	if st.WinCount != 1 {
		t.Fatalf("win count after reload: %d", st.WinCount)
	}
	if st.ActiveTrade == nil || st.ActiveTrade.ID != "manual" {
		t.Fatalf("active trade after reload: %+v", st.ActiveTrade)
	}
}
