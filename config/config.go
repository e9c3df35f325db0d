package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

// Strategy constants. Deliberately compile-time: the EMA50 + RSI(3) +
// ADX(55) rule set with fixed-dollar TP/SL is the strategy, not an
// operator knob.
const (
	MAMediumPeriod = 50

	RSIPeriod     = 3
	RSIOverbought = 70.0
	RSIOversold   = 30.0

	ADXPeriod    = 55
	ADXThreshold = 22.0

	ATRPeriod = 14

	StochKPeriod = 14
	StochSmooth  = 3
	StochDPeriod = 3

	FixedSLUSD      = 3.0
	FixedTPUSD      = 3.0
	TP2Factor       = 1.5
	LotSize         = 0.01
	RiskPerTradeUSD = 3.00

	CandleCount       = 200
	CandleGranularity = 60 // seconds

	AnalysisInterval    = 30 * time.Second
	AnalysisJitter      = 5 * time.Second
	TrackingInterval    = 2 * time.Second
	SignalCooldown      = 120 * time.Second
	MarketCheckInterval = 5 * time.Minute
	TrackingPriceDelta  = 0.10

	TelegramBatchSize  = 25
	TelegramBatchDelay = 500 * time.Millisecond
	TelegramSendGap    = 50 * time.Millisecond
	MaxRetries         = 3
	RetryDelay         = time.Second

	SignalHistoryCap = 100

	SubscribersFile   = "subscribers.json"
	UserStatesFile    = "user_states.json"
	SignalHistoryFile = "signal_history.json"
	LogFile           = "bot_scalping.log"
)

type Config struct {
	TelegramToken     string
	AdminChatID       string
	DerivAppID        string
	DerivAPIToken     string
	GoldSymbol        string
	Port              string
	KeepAliveInterval time.Duration
	DataDir           string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, using environment variables")
	}

	appID := os.Getenv("DERIV_APP_ID")
	if appID == "" {
		appID = "1089"
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "5000"
	}

	keepAlive := 300
	if v := os.Getenv("KEEP_ALIVE_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			keepAlive = n
		}
	}

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "."
	}

	return &Config{
		TelegramToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		AdminChatID:       os.Getenv("ADMIN_CHAT_ID"),
		DerivAppID:        appID,
		DerivAPIToken:     os.Getenv("DERIV_API_TOKEN"),
		GoldSymbol:        "frxXAUUSD",
		Port:              port,
		KeepAliveInterval: time.Duration(keepAlive) * time.Second,
		DataDir:           dataDir,
	}
}

// Validate returns every misconfiguration at once so the operator can
// fix them in a single pass.
func (c *Config) Validate() []error {
	var errs []error
	if c.TelegramToken == "" {
		errs = append(errs, fmt.Errorf("TELEGRAM_BOT_TOKEN is not set"))
	}
	if c.DerivAppID == "" {
		errs = append(errs, fmt.Errorf("DERIV_APP_ID is empty"))
	}
	if c.Port == "" {
		errs = append(errs, fmt.Errorf("PORT is empty"))
	}
	return errs
}

var (
	tzOnce sync.Once
	nyTZ   *time.Location
	wibTZ  *time.Location
)

func loadZones() {
	tzOnce.Do(func() {
		var err error
		nyTZ, err = time.LoadLocation("America/New_York")
		if err != nil {
			nyTZ = time.FixedZone("EST", -5*3600)
		}
		wibTZ, err = time.LoadLocation("Asia/Jakarta")
		if err != nil {
			wibTZ = time.FixedZone("WIB", 7*3600)
		}
	})
}

// NewYork is the exchange reference zone for the XAU/USD trading week.
func NewYork() *time.Location {
	loadZones()
	return nyTZ
}

// WIB is the display zone used in subscriber-facing messages.
func WIB() *time.Location {
	loadZones()
	return wibTZ
}

// The week pivots on 17:00 New York, both for the Friday close and the
// Sunday reopen.
const marketPivotHour = 17

// IsMarketOpen reports whether XAU/USD trades at the given instant.
func IsMarketOpen(now time.Time) bool {
	ny := now.In(NewYork())
	switch ny.Weekday() {
	case time.Saturday:
		return false
	case time.Friday:
		return ny.Hour() < marketPivotHour
	case time.Sunday:
		return ny.Hour() >= marketPivotHour
	}
	return true
}

type MarketStatus struct {
	IsOpen   bool
	Message  string
	NextOpen time.Time
}

func GetMarketStatus(now time.Time) MarketStatus {
	if IsMarketOpen(now) {
		return MarketStatus{IsOpen: true, Message: "XAU/USD market is active"}
	}

	ny := now.In(NewYork())
	daysUntil := (int(time.Sunday) - int(ny.Weekday()) + 7) % 7
	if daysUntil == 0 && ny.Hour() >= marketPivotHour {
		daysUntil = 7
	}
	open := time.Date(ny.Year(), ny.Month(), ny.Day(), marketPivotHour, 0, 0, 0, NewYork()).
		AddDate(0, 0, daysUntil)

	until := open.Sub(ny)
	hours := int(until.Hours())
	mins := int(until.Minutes()) % 60

	return MarketStatus{
		IsOpen:   false,
		Message:  fmt.Sprintf("Market closed (weekend), opens in ~%dh %dm", hours, mins),
		NextOpen: open,
	}
}
