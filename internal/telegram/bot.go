package telegram

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	tele "gopkg.in/telebot.v3"

	"signal_bot/config"
	"signal_bot/internal/engine"
	"signal_bot/internal/models"
	"signal_bot/internal/state"
)

type trackState struct {
	lastPrice float64
	updates   int
}

type Bot struct {
	bot         *tele.Bot
	engine      *engine.SignalEngine
	store       *state.Manager
	adminChatID int64
	startTime   time.Time

	trackMu sync.Mutex
	tracked map[int64]*trackState
}

func NewBot(cfg *config.Config, eng *engine.SignalEngine, store *state.Manager) (*Bot, error) {
	pref := tele.Settings{
		Token:  cfg.TelegramToken,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}

	b, err := tele.NewBot(pref)
	if err != nil {
		return nil, err
	}

	var adminID int64
	if cfg.AdminChatID != "" {
		adminID, err = strconv.ParseInt(cfg.AdminChatID, 10, 64)
		if err != nil {
			log.Warnf("ADMIN_CHAT_ID %q is not a chat id, admin notices disabled", cfg.AdminChatID)
		}
	}

	bot := &Bot{
		bot:         b,
		engine:      eng,
		store:       store,
		adminChatID: adminID,
		startTime:   time.Now(),
		tracked:     make(map[int64]*trackState),
	}

	bot.setupHandlers()
	return bot, nil
}

func (b *Bot) Start() {
	log.Info("📱 Telegram bot started")
	b.bot.Start()
}

func (b *Bot) Stop() {
	b.bot.Stop()
}

var (
	btnSubscribe   = tele.Btn{Text: "🔔 Subscribe", Unique: "subscribe"}
	btnUnsubscribe = tele.Btn{Text: "🔕 Unsubscribe", Unique: "unsubscribe"}
	btnStats       = tele.Btn{Text: "📊 Statistik", Unique: "stats"}
	btnToday       = tele.Btn{Text: "📅 Hari ini", Unique: "today"}
	btnDashboard   = tele.Btn{Text: "🖥 Dashboard", Unique: "dashboard"}
	btnLastSignal  = tele.Btn{Text: "📡 Sinyal terakhir", Unique: "last_signal"}
	btnManual      = tele.Btn{Text: "✍️ Sinyal manual", Unique: "manual_signal"}
	btnBack        = tele.Btn{Text: "🔙 Menu", Unique: "back"}
)

func (b *Bot) setupHandlers() {
	b.bot.Handle("/start", b.handleStart)
	b.bot.Handle("/subscribe", b.handleSubscribe)
	b.bot.Handle("/unsubscribe", b.handleUnsubscribe)
	b.bot.Handle("/stats", b.handleStats)
	b.bot.Handle("/today", b.handleToday)
	b.bot.Handle("/riset", b.handleReset)
	b.bot.Handle("/info", b.handleInfo)
	b.bot.Handle("/dashboard", b.handleDashboard)
	b.bot.Handle("/signal", b.handleLastSignal)
	b.bot.Handle("/send", b.handleManualSignal)

	b.bot.Handle(&btnSubscribe, b.handleSubscribe)
	b.bot.Handle(&btnUnsubscribe, b.handleUnsubscribe)
	b.bot.Handle(&btnStats, b.handleStats)
	b.bot.Handle(&btnToday, b.handleToday)
	b.bot.Handle(&btnDashboard, b.handleDashboard)
	b.bot.Handle(&btnLastSignal, b.handleLastSignal)
	b.bot.Handle(&btnManual, b.handleManualSignal)
	b.bot.Handle(&btnBack, b.handleStart)
}

func (b *Bot) mainMenu(userID int64) *tele.ReplyMarkup {
	menu := &tele.ReplyMarkup{}
	subBtn := btnSubscribe
	if b.store.IsSubscriber(userID) {
		subBtn = btnUnsubscribe
	}
	menu.Inline(
		menu.Row(subBtn),
		menu.Row(btnStats, btnToday),
		menu.Row(btnLastSignal, btnDashboard),
		menu.Row(btnManual),
	)
	return menu
}

func (b *Bot) handleStart(c tele.Context) error {
	userID := c.Sender().ID
	if b.store.AddSubscriber(userID) {
		log.Infof("➕ New subscriber %d via /start", userID)
	}

	msg := fmt.Sprintf(`🤖 *Bot Sinyal Scalping XAU/USD*

Selamat datang! Anda otomatis berlangganan sinyal.

Setiap sinyal berisi entry, TP1, TP2 dan SL.
Setelah TP1 tercapai, SL pindah ke entry.

👥 Subscriber: %d`, b.store.SubscriberCount())

	return c.Send(msg, b.mainMenu(userID), tele.ModeMarkdown)
}

func (b *Bot) handleSubscribe(c tele.Context) error {
	userID := c.Sender().ID
	if b.store.AddSubscriber(userID) {
		return c.Send("🔔 Berhasil berlangganan. Anda akan menerima setiap sinyal baru.", b.mainMenu(userID))
	}
	return c.Send("ℹ️ Anda sudah berlangganan.", b.mainMenu(userID))
}

func (b *Bot) handleUnsubscribe(c tele.Context) error {
	userID := c.Sender().ID
	if b.store.RemoveSubscriber(userID) {
		return c.Send("🔕 Berhenti berlangganan. Statistik Anda tetap tersimpan.", b.mainMenu(userID))
	}
	return c.Send("ℹ️ Anda belum berlangganan.", b.mainMenu(userID))
}

func (b *Bot) handleStats(c tele.Context) error {
	st := b.store.GetUserState(c.Sender().ID)
	return c.Send(statsText(st), b.mainMenu(c.Sender().ID), tele.ModeMarkdown)
}

func (b *Bot) handleToday(c tele.Context) error {
	wins, losses, bes := b.store.TodayStats(time.Now())
	return c.Send(todayText(wins, losses, bes), b.mainMenu(c.Sender().ID), tele.ModeMarkdown)
}

func (b *Bot) handleReset(c tele.Context) error {
	b.store.ResetUser(c.Sender().ID)
	return c.Send("🧹 Statistik Anda di-reset ke nol.")
}

func (b *Bot) handleInfo(c tele.Context) error {
	st := b.engine.Status()
	market := config.GetMarketStatus(time.Now())
	msg := statusText(st, b.engine.FeedConnected(), market.Message)
	return c.Send(msg, b.mainMenu(c.Sender().ID), tele.ModeMarkdown)
}

func (b *Bot) handleDashboard(c tele.Context) error {
	wins, losses, bes := b.store.Totals()
	tWins, tLosses, tBEs := b.store.TodayStats(time.Now())
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	active := "—"
	if sig := b.store.CurrentSignal(); sig != nil {
		active = fmt.Sprintf("%s @ %.2f (%s)", sig.Direction, sig.EntryPrice, sig.Status)
	}

	msg := fmt.Sprintf(`🖥 *Dashboard*

👥 Subscriber: %d
📡 Sinyal aktif: %s
💵 Harga: %.2f

📅 Hari ini: ✅%d ❌%d ⚖️%d
📊 Total: ✅%d ❌%d ⚖️%d (win rate %.1f%%)

⏱ Uptime: %s
💾 Memori: %.1f MB`,
		b.store.SubscriberCount(), active, b.engine.CurrentPrice(),
		tWins, tLosses, tBEs,
		wins, losses, bes, models.WinRate(wins, losses),
		formatDuration(time.Since(b.startTime)),
		float64(mem.Alloc)/1024/1024)

	return c.Send(msg, b.mainMenu(c.Sender().ID), tele.ModeMarkdown)
}

func (b *Bot) handleLastSignal(c tele.Context) error {
	if sig := b.store.CurrentSignal(); sig != nil {
		return c.Send(signalOpenText(sig), b.mainMenu(c.Sender().ID), tele.ModeMarkdown)
	}
	if h, ok := b.store.LastHistory(); ok {
		return c.Send(historyEntryText(h), b.mainMenu(c.Sender().ID), tele.ModeMarkdown)
	}
	return c.Send("📭 Belum ada sinyal yang tercatat.")
}

func (b *Bot) handleManualSignal(c tele.Context) error {
	userID := c.Sender().ID
	if !config.IsMarketOpen(time.Now()) {
		return c.Send("🛑 " + config.GetMarketStatus(time.Now()).Message)
	}

	if err := c.Send("⏳ Menganalisis pasar..."); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sig, err := b.engine.ManualSignal(ctx, userID)
	if err != nil {
		log.Warnf("Manual signal for %d failed: %v", userID, err)
		return c.Send("⚠️ Gagal membuat sinyal, coba lagi sebentar lagi.")
	}
	return c.Send(signalOpenText(sig), tele.ModeMarkdown)
}
