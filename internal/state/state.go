package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"signal_bot/config"
	"signal_bot/internal/models"
)

// Manager owns every piece of durable bot state: the subscriber set,
// per-user counters and trades, the current global signal and the
// signal history. All mutations persist whole-file JSON atomically, so
// a crash never leaves a half-written file behind.
type Manager struct {
	mu sync.RWMutex

	dir         string
	subscribers map[int64]struct{}
	users       map[int64]*models.UserState
	history     []models.HistoryEntry

	current      *models.Signal
	lastSignalAt time.Time
}

func NewManager(dir string) *Manager {
	return &Manager{
		dir:         dir,
		subscribers: make(map[int64]struct{}),
		users:       make(map[int64]*models.UserState),
	}
}

// Load reads all three state files, tolerating absent ones (first run).
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var subs []int64
	if err := m.readJSON(config.SubscribersFile, &subs); err != nil {
		return err
	}
	for _, id := range subs {
		m.subscribers[id] = struct{}{}
	}

	raw := make(map[string]*models.UserState)
	if err := m.readJSON(config.UserStatesFile, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			log.Warnf("Skipping malformed user id %q in state file", k)
			continue
		}
		if v == nil {
			v = &models.UserState{}
		}
		m.users[id] = v
	}

	if err := m.readJSON(config.SignalHistoryFile, &m.history); err != nil {
		return err
	}

	log.Infof("📦 State loaded: %d subscribers, %d user states, %d history entries",
		len(m.subscribers), len(m.users), len(m.history))
	return nil
}

func (m *Manager) readJSON(name string, v interface{}) error {
	data, err := os.ReadFile(filepath.Join(m.dir, name))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("state: read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("state: parse %s: %w", name, err)
	}
	return nil
}

// writeJSONAtomic persists v as pretty JSON via a temp file + rename.
// Callers hold the write lock.
func (m *Manager) writeJSONAtomic(name string, v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Errorf("State marshal %s failed: %v", name, err)
		return
	}
	path := filepath.Join(m.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Errorf("State write %s failed: %v", name, err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Errorf("State rename %s failed: %v", name, err)
	}
}

func (m *Manager) persistSubscribers() {
	subs := make([]int64, 0, len(m.subscribers))
	for id := range m.subscribers {
		subs = append(subs, id)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i] < subs[j] })
	m.writeJSONAtomic(config.SubscribersFile, subs)
}

func (m *Manager) persistUsers() {
	raw := make(map[string]*models.UserState, len(m.users))
	for id, st := range m.users {
		raw[strconv.FormatInt(id, 10)] = st
	}
	m.writeJSONAtomic(config.UserStatesFile, raw)
}

func (m *Manager) persistHistory() {
	m.writeJSONAtomic(config.SignalHistoryFile, m.history)
}

// userLocked returns the state for id, creating it if needed. Callers
// hold the write lock.
func (m *Manager) userLocked(id int64) *models.UserState {
	st, ok := m.users[id]
	if !ok {
		st = &models.UserState{}
		m.users[id] = st
	}
	return st
}

// --- subscribers ---

// AddSubscriber registers a chat id; returns false if already present.
func (m *Manager) AddSubscriber(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscribers[id]; ok {
		return false
	}
	m.subscribers[id] = struct{}{}
	m.userLocked(id)
	m.persistSubscribers()
	m.persistUsers()
	return true
}

// RemoveSubscriber deregisters a chat id; returns false if absent.
// The user's counters survive so a resubscribe keeps their record.
func (m *Manager) RemoveSubscriber(id int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscribers[id]; !ok {
		return false
	}
	delete(m.subscribers, id)
	m.persistSubscribers()
	return true
}

func (m *Manager) IsSubscriber(id int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.subscribers[id]
	return ok
}

// Subscribers returns the subscriber ids sorted ascending.
func (m *Manager) Subscribers() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, 0, len(m.subscribers))
	for id := range m.subscribers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// --- per-user state ---

// GetUserState returns a copy of the user's state (zero value if new).
func (m *Manager) GetUserState(id int64) models.UserState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.users[id]; ok {
		cp := *st
		cp.ActiveTrade = st.ActiveTrade.Clone()
		return cp
	}
	return models.UserState{}
}

// ResetUser zeroes a user's counters and clears any tracked trade.
func (m *Manager) ResetUser(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = &models.UserState{}
	m.persistUsers()
}

// RecordUserOutcome bumps the user's counter for a decided trade and
// clears their active trade.
func (m *Manager) RecordUserOutcome(id int64, outcome models.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.userLocked(id)
	switch outcome {
	case models.OutcomeWin:
		st.WinCount++
	case models.OutcomeLoss:
		st.LossCount++
	case models.OutcomeBreakEven:
		st.BECount++
	}
	st.ActiveTrade = nil
	m.persistUsers()
}

// SetActiveTradeForAll copies the signal into every subscriber's state.
func (m *Manager) SetActiveTradeForAll(sig *models.Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.subscribers {
		m.userLocked(id).ActiveTrade = sig.Clone()
	}
	m.persistUsers()
}

// SetUserTrade stores a trade for one user only (manual signals).
func (m *Manager) SetUserTrade(id int64, sig *models.Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userLocked(id).ActiveTrade = sig.Clone()
	m.persistUsers()
}

// UserTrades returns the users currently tracking a trade, as copies.
func (m *Manager) UserTrades() map[int64]*models.Signal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]*models.Signal)
	for id, st := range m.users {
		if st.ActiveTrade != nil {
			out[id] = st.ActiveTrade.Clone()
		}
	}
	return out
}

// PromoteTradesToTP1 moves every copy of the signal to tp1_hit with the
// stop at entry, mirroring the global transition.
func (m *Manager) PromoteTradesToTP1(signalID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.users {
		if st.ActiveTrade != nil && st.ActiveTrade.ID == signalID {
			st.ActiveTrade.Status = models.StatusTP1Hit
			st.ActiveTrade.SLLevel = st.ActiveTrade.EntryPrice
		}
	}
	m.persistUsers()
}

// ClearAllActiveTrades drops every tracked trade (restart safety: stale
// levels must not be tracked against a fresh feed).
func (m *Manager) ClearAllActiveTrades() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, st := range m.users {
		if st.ActiveTrade != nil {
			st.ActiveTrade = nil
			st.TrackingMessageID = 0
			n++
		}
	}
	if n > 0 {
		m.persistUsers()
	}
	return n
}

// --- tracking messages ---

func (m *Manager) SetTrackingMessage(id int64, messageID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userLocked(id).TrackingMessageID = messageID
	m.persistUsers()
}

func (m *Manager) TrackingMessage(id int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.users[id]; ok {
		return st.TrackingMessageID
	}
	return 0
}

func (m *Manager) ClearTrackingMessages() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, st := range m.users {
		st.TrackingMessageID = 0
	}
	m.persistUsers()
}

// --- current signal ---

// CurrentSignal returns a copy of the open signal, nil if none.
func (m *Manager) CurrentSignal() *models.Signal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

func (m *Manager) SetCurrentSignal(sig *models.Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = sig.Clone()
	m.lastSignalAt = sig.StartTime
}

// MarkCurrentTP1 applies the TP1 transition to the stored signal.
func (m *Manager) MarkCurrentTP1() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != nil {
		m.current.Status = models.StatusTP1Hit
		m.current.SLLevel = m.current.EntryPrice
	}
}

func (m *Manager) ClearCurrentSignal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = nil
}

func (m *Manager) LastSignalTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSignalAt
}

// --- history ---

// AppendHistory records a freshly issued signal as PENDING, trimming
// the oldest entries past the cap.
func (m *Manager) AppendHistory(sig *models.Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, models.HistoryEntry{
		ID:         sig.ID,
		Direction:  sig.Direction,
		EntryPrice: sig.EntryPrice,
		TP1Level:   sig.TP1Level,
		TP2Level:   sig.TP2Level,
		SLLevel:    sig.SLLevel,
		Outcome:    models.OutcomePending,
		OpenedAt:   sig.StartTime,
	})
	if len(m.history) > config.SignalHistoryCap {
		m.history = m.history[len(m.history)-config.SignalHistoryCap:]
	}
	m.persistHistory()
}

// ResolveHistory marks the pending entry for signalID with its outcome.
func (m *Manager) ResolveHistory(signalID string, outcome models.Outcome, exitPrice float64, closedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].ID == signalID {
			m.history[i].Outcome = outcome
			m.history[i].ExitPrice = exitPrice
			m.history[i].ClosedAt = closedAt
			m.persistHistory()
			return
		}
	}
}

// LastHistory returns the most recent entry, ok=false when empty.
func (m *Manager) LastHistory() (models.HistoryEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) == 0 {
		return models.HistoryEntry{}, false
	}
	return m.history[len(m.history)-1], true
}

func (m *Manager) HistoryLen() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.history)
}

// TodayStats counts decided signals whose close fell on today's WIB
// calendar day.
func (m *Manager) TodayStats(now time.Time) (wins, losses, breakEvens int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	wib := config.WIB()
	y, mo, d := now.In(wib).Date()
	for _, h := range m.history {
		if h.Outcome == models.OutcomePending || h.ClosedAt.IsZero() {
			continue
		}
		hy, hmo, hd := h.ClosedAt.In(wib).Date()
		if hy != y || hmo != mo || hd != d {
			continue
		}
		switch h.Outcome {
		case models.OutcomeWin:
			wins++
		case models.OutcomeLoss:
			losses++
		case models.OutcomeBreakEven:
			breakEvens++
		}
	}
	return wins, losses, breakEvens
}

// Totals sums every user's lifetime counters.
func (m *Manager) Totals() (wins, losses, breakEvens int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, st := range m.users {
		wins += st.WinCount
		losses += st.LossCount
		breakEvens += st.BECount
	}
	return wins, losses, breakEvens
}
