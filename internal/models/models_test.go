package models

import "testing"

func TestWinRate(t *testing.T) {
	tests := []struct {
		name         string
		wins, losses int
		want         float64
	}{
		{"no decided trades", 0, 0, 0},
		{"seven of ten", 7, 3, 70.0},
		{"all wins", 5, 0, 100.0},
		{"all losses", 0, 4, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WinRate(tt.wins, tt.losses); got != tt.want {
				t.Errorf("WinRate(%d, %d) = %.1f, want %.1f", tt.wins, tt.losses, got, tt.want)
			}
		})
	}
}

func TestSignalClone(t *testing.T) {
	var nilSig *Signal
	if nilSig.Clone() != nil {
		t.Fatal("clone of nil should be nil")
	}

	sig := &Signal{ID: "x", Direction: Buy, EntryPrice: 2650, SLLevel: 2647}
	cp := sig.Clone()
	cp.SLLevel = 2650
	if sig.SLLevel != 2647 {
		t.Fatal("clone shares storage with original")
	}
}

func TestUserStateTotals(t *testing.T) {
	st := UserState{WinCount: 2, LossCount: 1, BECount: 3}
	if st.TotalTrades() != 6 {
		t.Fatalf("total trades: %d", st.TotalTrades())
	}
}
