package analysis

import (
	"math"
	"testing"

	"signal_bot/internal/models"
)

func syntheticCandles(n int) []models.Candle {
	candles := make([]models.Candle, n)
	price := 2600.0
	for i := range candles {
		// Gentle oscillation so every indicator has movement to chew on.
		price += 2 * math.Sin(float64(i)/7)
		candles[i] = models.Candle{
			Epoch: int64(i * 60),
			Open:  price - 0.5,
			High:  price + 1.5,
			Low:   price - 1.5,
			Close: price,
		}
	}
	return candles
}

func TestCalculateRejectsShortHistory(t *testing.T) {
	_, err := Calculate(syntheticCandles(MinCandles - 1))
	if err != ErrNotEnoughData {
		t.Fatalf("got %v, want ErrNotEnoughData", err)
	}
}

func TestCalculateSeriesAlignment(t *testing.T) {
	candles := syntheticCandles(200)
	cols, err := Calculate(candles)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	if cols.Len() != len(candles) {
		t.Fatalf("column length %d, want %d", cols.Len(), len(candles))
	}
	for name, series := range map[string][]float64{
		"ema": cols.EMA, "rsi": cols.RSI, "adx": cols.ADX,
		"atr": cols.ATR, "stoch_k": cols.StochK, "stoch_d": cols.StochD,
	} {
		if len(series) != len(candles) {
			t.Errorf("%s series length %d, want %d", name, len(series), len(candles))
		}
	}
}

func TestSnapshotTailIsReady(t *testing.T) {
	cols, err := Calculate(syntheticCandles(200))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	n := cols.Len()
	latest := cols.Snapshot(n - 2)
	prev := cols.Snapshot(n - 3)
	if !latest.Ready() || !prev.Ready() {
		t.Fatalf("tail snapshots not ready: latest=%+v prev=%+v", latest, prev)
	}
	if latest.Close != cols.Close[n-2] {
		t.Fatal("snapshot close not aligned with source row")
	}
	if latest.RSI <= 0 || latest.RSI >= 100 {
		t.Errorf("rsi out of range: %f", latest.RSI)
	}
	if latest.ADX < 0 || latest.ADX > 100 {
		t.Errorf("adx out of range: %f", latest.ADX)
	}
	if latest.ATR <= 0 {
		t.Errorf("atr not positive: %f", latest.ATR)
	}
}

func TestWarmUpRowsNotReady(t *testing.T) {
	cols, err := Calculate(syntheticCandles(200))
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if cols.Snapshot(0).Ready() {
		t.Fatal("first row should be warm-up")
	}
}
