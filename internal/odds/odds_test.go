package odds

import "testing"

func TestQuote(t *testing.T) {
	tests := []struct {
		name      string
		sidePool  int64
		totalPool int64
		want      float64
	}{
		{"empty market", 0, 0, 2.0},
		{"empty side", 0, 500, 2.0},
		{"balanced pool floors at minimum", 100, 100, 1.1},
		{"longshot side", 50, 200, 4.0},
		{"heavy favourite floors", 900, 1000, 1.1},
		{"slightly above floor", 100, 120, 1.2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Quote(tt.sidePool, tt.totalPool)
			if got != tt.want {
				t.Errorf("Quote(%d, %d) = %v, want %v", tt.sidePool, tt.totalPool, got, tt.want)
			}
		})
	}
}

func TestQuoteDeterministic(t *testing.T) {
	for i := 0; i < 10; i++ {
		if got := Quote(37, 411); got != Quote(37, 411) {
			t.Fatalf("Quote not deterministic: %v", got)
		}
	}
}

func TestPotentialPayout(t *testing.T) {
	tests := []struct {
		amount     int64
		multiplier float64
		want       int64
	}{
		{100, 2.0, 200},
		{100, 1.1, 110},
		{30, 4.0, 120},
		{33, 1.1, 36}, // rounds down
		{0, 2.0, 0},
		{-5, 2.0, 0},
	}

	for _, tt := range tests {
		if got := PotentialPayout(tt.amount, tt.multiplier); got != tt.want {
			t.Errorf("PotentialPayout(%d, %v) = %d, want %d", tt.amount, tt.multiplier, got, tt.want)
		}
	}
}
