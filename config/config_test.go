package config

import (
	"testing"
	"time"
)

func nyTime(t *testing.T, year int, month time.Month, day, hour int) time.Time {
	t.Helper()
	return time.Date(year, month, day, hour, 0, 0, 0, NewYork())
}

func TestIsMarketOpen(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		// 2026-08-28 is a Friday.
		{"friday morning", nyTime(t, 2026, time.August, 28, 9), true},
		{"friday 16:59", nyTime(t, 2026, time.August, 28, 16), true},
		{"friday 17:00 close", nyTime(t, 2026, time.August, 28, 17), false},
		{"friday evening", nyTime(t, 2026, time.August, 28, 21), false},
		{"saturday", nyTime(t, 2026, time.August, 29, 12), false},
		{"sunday before open", nyTime(t, 2026, time.August, 30, 12), false},
		{"sunday 17:00 open", nyTime(t, 2026, time.August, 30, 17), true},
		{"monday", nyTime(t, 2026, time.August, 31, 3), true},
		{"wednesday midnight", nyTime(t, 2026, time.August, 26, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsMarketOpen(tt.at); got != tt.want {
				t.Errorf("IsMarketOpen(%s) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestGetMarketStatusNextOpen(t *testing.T) {
	saturday := nyTime(t, 2026, time.August, 29, 12)
	st := GetMarketStatus(saturday)
	if st.IsOpen {
		t.Fatal("saturday reported open")
	}
	wantOpen := nyTime(t, 2026, time.August, 30, 17)
	if !st.NextOpen.Equal(wantOpen) {
		t.Errorf("next open %s, want %s", st.NextOpen, wantOpen)
	}

	// Just after Friday close the next open is still that Sunday.
	friday := nyTime(t, 2026, time.August, 28, 18)
	st = GetMarketStatus(friday)
	if !st.NextOpen.Equal(wantOpen) {
		t.Errorf("next open from friday %s, want %s", st.NextOpen, wantOpen)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{TelegramToken: "t", DerivAppID: "1089", Port: "5000"}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Fatalf("valid config rejected: %v", errs)
	}

	cfg = &Config{}
	if errs := cfg.Validate(); len(errs) != 3 {
		t.Fatalf("want 3 errors for empty config, got %d: %v", len(errs), errs)
	}
}
