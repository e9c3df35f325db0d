package telegram

import (
	"fmt"
	"strings"
	"time"

	"signal_bot/config"
	"signal_bot/internal/engine"
	"signal_bot/internal/models"
)

func dirEmoji(d models.Direction) string {
	if d == models.Buy {
		return "🟢📈"
	}
	return "🔴📉"
}

func outcomeEmoji(o models.Outcome) string {
	switch o {
	case models.OutcomeWin:
		return "✅🏆"
	case models.OutcomeLoss:
		return "❌"
	case models.OutcomeBreakEven:
		return "⚖️"
	}
	return "⏳"
}

func wibTime(t time.Time) string {
	return t.In(config.WIB()).Format("15:04:05") + " WIB"
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func signalOpenText(sig *models.Signal) string {
	return fmt.Sprintf(`%s *SINYAL %s XAU/USD*

💵 Entry: %.2f
🎯 TP1: %.2f
🎯 TP2: %.2f
🛡 SL: %.2f

📏 Lot: %.2f | Risk: $%.2f
⏰ %s

_Amankan sebagian profit di TP1, SL pindah ke entry._`,
		dirEmoji(sig.Direction), sig.Direction,
		sig.EntryPrice, sig.TP1Level, sig.TP2Level, sig.SLLevel,
		config.LotSize, config.RiskPerTradeUSD,
		wibTime(sig.StartTime))
}

func tp1Text(sig *models.Signal, price float64) string {
	return fmt.Sprintf(`🎯 *TP1 TERCAPAI!* %s

Harga: %.2f
SL dipindah ke entry (%.2f) — posisi sekarang bebas risiko.
Target berikutnya: TP2 %.2f`,
		dirEmoji(sig.Direction), price, sig.EntryPrice, sig.TP2Level)
}

func signalCloseText(sig *models.Signal, outcome models.Outcome, price float64, held time.Duration) string {
	var headline string
	switch outcome {
	case models.OutcomeWin:
		headline = "TP2 TERCAPAI — WIN!"
	case models.OutcomeLoss:
		headline = "STOP LOSS — LOSS"
	case models.OutcomeBreakEven:
		headline = "BREAK EVEN"
	default:
		headline = string(outcome)
	}
	return fmt.Sprintf(`%s *%s*

%s %s @ %.2f → keluar %.2f
⏱ Durasi: %s
⏰ %s`,
		outcomeEmoji(outcome), headline,
		dirEmoji(sig.Direction), sig.Direction, sig.EntryPrice, price,
		formatDuration(held), wibTime(time.Now()))
}

func trackingText(sig *models.Signal, price float64) string {
	var dist float64
	if sig.Direction == models.Buy {
		dist = price - sig.EntryPrice
	} else {
		dist = sig.EntryPrice - price
	}
	status := "aktif"
	if sig.Status == models.StatusTP1Hit {
		status = "TP1 ✔, menuju TP2"
	}
	return fmt.Sprintf(`📡 *Tracking %s XAU/USD* (%s)

Harga: %.2f (%+.2f)
🎯 TP1 %.2f | TP2 %.2f | 🛡 SL %.2f
⏰ %s`,
		sig.Direction, status,
		price, dist,
		sig.TP1Level, sig.TP2Level, sig.SLLevel,
		wibTime(time.Now()))
}

func statusText(st engine.StrategyStatus, feedUp bool, market string) string {
	feed := "🔴 terputus"
	if feedUp {
		feed = "🟢 terhubung"
	}
	return fmt.Sprintf(`ℹ️ *Status Strategi*

🧠 State: %s
📶 Feed: %s
🏛 Market: %s

💵 Harga: %.2f
📈 EMA50: %.2f
🌀 RSI(3): %.2f (sebelumnya %.2f)
💪 ADX(55): %.2f
📏 ATR(14): %.2f
🎢 Stoch(14,3,3): %.1f / %.1f

⏰ Diperbarui: %s`,
		st.State, feed, market,
		st.Price, st.EMA, st.RSI, st.PrevRSI, st.ADX, st.ATR,
		st.StochK, st.StochD,
		wibTime(st.UpdatedAt))
}

func statsText(st models.UserState) string {
	total := st.TotalTrades()
	return fmt.Sprintf(`📊 *Statistik Anda*

✅ Win: %d
❌ Loss: %d
⚖️ Break Even: %d
Σ Total: %d
🏆 Win rate: %.1f%%`,
		st.WinCount, st.LossCount, st.BECount, total,
		models.WinRate(st.WinCount, st.LossCount))
}

func todayText(wins, losses, breakEvens int) string {
	total := wins + losses + breakEvens
	if total == 0 {
		return "📅 Belum ada sinyal yang selesai hari ini."
	}
	return fmt.Sprintf(`📅 *Hasil hari ini*

✅ Win: %d | ❌ Loss: %d | ⚖️ BE: %d
🏆 Win rate: %.1f%%`,
		wins, losses, breakEvens, models.WinRate(wins, losses))
}

func historyEntryText(h models.HistoryEntry) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s *Sinyal terakhir: %s XAU/USD*\n\n", dirEmoji(h.Direction), h.Direction))
	sb.WriteString(fmt.Sprintf("💵 Entry: %.2f\n🎯 TP1: %.2f | TP2: %.2f\n🛡 SL: %.2f\n", h.EntryPrice, h.TP1Level, h.TP2Level, h.SLLevel))
	if h.Outcome == models.OutcomePending {
		sb.WriteString("\n⏳ Masih berjalan")
	} else {
		sb.WriteString(fmt.Sprintf("\n%s Hasil: %s @ %.2f", outcomeEmoji(h.Outcome), h.Outcome, h.ExitPrice))
	}
	sb.WriteString("\n⏰ " + wibTime(h.OpenedAt))
	return sb.String()
}
