package domain

import (
	"encoding/json"
	"math"
	"testing"
)

func TestRatioJSON(t *testing.T) {
	tests := []struct {
		in   Ratio
		want string
	}{
		{Ratio(1.5), `1.5`},
		{Ratio(math.Inf(1)), `"Infinity"`},
		{Ratio(math.Inf(-1)), `"-Infinity"`},
		{Ratio(math.NaN()), `null`},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.in)
		if err != nil {
			t.Fatalf("marshal %v: %v", tt.in, err)
		}
		if string(b) != tt.want {
			t.Errorf("marshal %v = %s, want %s", tt.in, b, tt.want)
		}
	}

	var s PerformanceStats
	if err := json.Unmarshal([]byte(`{"profit_factor":"Infinity","sharpe_ratio":0.75}`), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !s.ProfitFactor.IsInf() || s.SharpeRatio != 0.75 {
		t.Fatalf("decoded %+v", s)
	}
}
