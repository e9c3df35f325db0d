package telegram

import (
	"errors"
	"math"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
	tele "gopkg.in/telebot.v3"

	"signal_bot/config"
	"signal_bot/internal/models"
)

type sendClass int

const (
	sendOK sendClass = iota
	sendPermanent
	sendFlood
	sendTransient
)

// classifySendError maps a Telegram API failure to what the sender
// should do about it, using telebot's exported error values rather
// than message substrings.
func classifySendError(err error) sendClass {
	if err == nil {
		return sendOK
	}
	if errors.Is(err, tele.ErrBlockedByUser) ||
		errors.Is(err, tele.ErrChatNotFound) ||
		errors.Is(err, tele.ErrUserIsDeactivated) {
		return sendPermanent
	}
	var flood tele.FloodError
	if errors.As(err, &flood) {
		return sendFlood
	}
	return sendTransient
}

// sendTo delivers one message with retry. Permanent failures
// deregister the recipient; a flood wait honors the advised delay once.
func (b *Bot) sendTo(userID int64, what interface{}, opts ...interface{}) (*tele.Message, bool) {
	rcpt := &tele.User{ID: userID}
	var lastErr error

	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		msg, err := b.bot.Send(rcpt, what, opts...)
		switch classifySendError(err) {
		case sendOK:
			return msg, true
		case sendPermanent:
			log.Infof("👋 Removing unreachable subscriber %d: %v", userID, err)
			b.store.RemoveSubscriber(userID)
			return nil, false
		case sendFlood:
			var flood tele.FloodError
			errors.As(err, &flood)
			wait := time.Duration(flood.RetryAfter) * time.Second
			log.Warnf("Flood limit for %d, waiting %s", userID, wait)
			time.Sleep(wait)
		default:
			lastErr = err
			time.Sleep(config.RetryDelay)
		}
	}
	log.Warnf("Giving up sending to %d: %v", userID, lastErr)
	return nil, false
}

// broadcast fans a message out to every subscriber in rate-limited
// batches.
func (b *Bot) broadcast(text string, opts ...interface{}) {
	subs := b.store.Subscribers()
	if len(subs) == 0 {
		return
	}
	sent := 0
	for i, userID := range subs {
		if i > 0 && i%config.TelegramBatchSize == 0 {
			time.Sleep(config.TelegramBatchDelay)
		}
		if _, ok := b.sendTo(userID, text, opts...); ok {
			sent++
		}
		time.Sleep(config.TelegramSendGap)
	}
	log.Infof("📢 Broadcast delivered to %d/%d subscribers", sent, len(subs))
}

// --- engine callbacks ---

func (b *Bot) BroadcastSignalOpen(sig *models.Signal) {
	b.resetTracking()
	b.broadcast(signalOpenText(sig), tele.ModeMarkdown)
}

func (b *Bot) BroadcastTP1(sig *models.Signal, price float64) {
	b.broadcast(tp1Text(sig, price), tele.ModeMarkdown)
}

func (b *Bot) BroadcastSignalClose(sig *models.Signal, outcome models.Outcome, price float64, held time.Duration) {
	b.resetTracking()
	b.broadcast(signalCloseText(sig, outcome, price, held), tele.ModeMarkdown)
}

func (b *Bot) NotifyUserTP1(userID int64, sig *models.Signal, price float64) {
	b.sendTo(userID, tp1Text(sig, price), tele.ModeMarkdown)
}

func (b *Bot) NotifyUserClose(userID int64, sig *models.Signal, outcome models.Outcome, price float64) {
	b.sendTo(userID, signalCloseText(sig, outcome, price, time.Since(sig.StartTime)), tele.ModeMarkdown)
}

func (b *Bot) BroadcastNotice(text string) {
	b.broadcast(text)
}

// NotifyAdmin sends to the configured admin chat, if any.
func (b *Bot) NotifyAdmin(text string) {
	if b.adminChatID == 0 {
		return
	}
	if _, err := b.bot.Send(&tele.User{ID: b.adminChatID}, text); err != nil {
		log.Warnf("Admin notice failed: %v", err)
	}
}

// --- tracking updates ---

// BroadcastTracking edits each subscriber's tracking message in place,
// debounced per user so tiny price moves do not spam edits. Every tenth
// call forces a refresh regardless.
func (b *Bot) BroadcastTracking(sig *models.Signal, price float64) {
	text := trackingText(sig, price)

	for i, userID := range b.store.Subscribers() {
		if i > 0 && i%config.TelegramBatchSize == 0 {
			time.Sleep(config.TelegramBatchDelay)
		}
		b.updateTracking(userID, text, price)
		time.Sleep(config.TelegramSendGap)
	}
}

func (b *Bot) updateTracking(userID int64, text string, price float64) {
	b.trackMu.Lock()
	tr := b.tracked[userID]
	if tr == nil {
		tr = &trackState{}
		b.tracked[userID] = tr
	}
	tr.updates++
	forced := tr.updates%10 == 0
	moved := math.Abs(price-tr.lastPrice) >= config.TrackingPriceDelta
	if !forced && !moved && tr.lastPrice != 0 {
		b.trackMu.Unlock()
		return
	}
	tr.lastPrice = price
	b.trackMu.Unlock()

	if msgID := b.store.TrackingMessage(userID); msgID != 0 {
		stored := tele.StoredMessage{
			MessageID: strconv.Itoa(msgID),
			ChatID:    userID,
		}
		if _, err := b.bot.Edit(stored, text, tele.ModeMarkdown); err == nil {
			return
		}
		// message gone or uneditable, fall through to a fresh send
	}

	if msg, ok := b.sendTo(userID, text, tele.ModeMarkdown); ok && msg != nil {
		b.store.SetTrackingMessage(userID, msg.ID)
	}
}

func (b *Bot) resetTracking() {
	b.trackMu.Lock()
	b.tracked = make(map[int64]*trackState)
	b.trackMu.Unlock()
}
