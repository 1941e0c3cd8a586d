package marketdata

import (
	"encoding/json"
	"testing"
	"time"
)

func TestBarTimeWireFormat(t *testing.T) {
	noon := time.Date(2024, 6, 3, 12, 30, 0, 0, time.UTC)

	daily := NewBarTime(noon, Timeframe1D)
	encoded, err := json.Marshal(daily)
	if err != nil {
		t.Fatalf("marshal daily: %v", err)
	}
	if string(encoded) != `"2024-06-03"` {
		t.Errorf("daily encoding = %s, want \"2024-06-03\"", encoded)
	}

	intraday := NewBarTime(noon, Timeframe1H)
	encoded, err = json.Marshal(intraday)
	if err != nil {
		t.Fatalf("marshal intraday: %v", err)
	}
	if string(encoded) != "1717417800" {
		t.Errorf("intraday encoding = %s, want 1717417800", encoded)
	}
}

func TestBarTimeUnmarshalBothForms(t *testing.T) {
	var fromDate BarTime
	if err := json.Unmarshal([]byte(`"2024-06-03"`), &fromDate); err != nil {
		t.Fatalf("unmarshal date: %v", err)
	}
	if !fromDate.Daily {
		t.Error("date string should decode as a daily bar time")
	}
	if want := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC); !fromDate.Equal(want) {
		t.Errorf("decoded date = %v, want %v", fromDate.Time, want)
	}

	var fromSeconds BarTime
	if err := json.Unmarshal([]byte("1717417800"), &fromSeconds); err != nil {
		t.Fatalf("unmarshal seconds: %v", err)
	}
	if fromSeconds.Daily {
		t.Error("numeric timestamp should decode as intraday")
	}
	if want := time.Date(2024, 6, 3, 12, 30, 0, 0, time.UTC); !fromSeconds.Equal(want) {
		t.Errorf("decoded timestamp = %v, want %v", fromSeconds.Time, want)
	}

	for _, bad := range []string{`"03/06/2024"`, `"not a date"`, "1.5"} {
		var bt BarTime
		if err := json.Unmarshal([]byte(bad), &bt); err == nil {
			t.Errorf("unmarshal %s should fail", bad)
		}
	}
}

func TestValidateSeries(t *testing.T) {
	base := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	bar := func(offset int, o, h, l, c float64) OHLCBar {
		return OHLCBar{
			Time:  NewBarTime(base.Add(time.Duration(offset)*time.Hour), Timeframe1H),
			Open:  o, High: h, Low: l, Close: c,
			Volume: 100,
		}
	}

	good := []OHLCBar{bar(0, 100, 102, 99, 101), bar(1, 101, 103, 100, 102)}
	if err := ValidateSeries(good); err != nil {
		t.Errorf("valid series rejected: %v", err)
	}

	tests := []struct {
		name string
		bars []OHLCBar
	}{
		{"open above high", []OHLCBar{bar(0, 105, 102, 99, 101)}},
		{"close below low", []OHLCBar{bar(0, 100, 102, 99, 98)}},
		{"negative volume", []OHLCBar{{
			Time: NewBarTime(base, Timeframe1H),
			Open: 100, High: 102, Low: 99, Close: 101, Volume: -1,
		}}},
		{"out of order", []OHLCBar{bar(1, 100, 102, 99, 101), bar(0, 100, 102, 99, 101)}},
		{"duplicate time", []OHLCBar{bar(0, 100, 102, 99, 101), bar(0, 100, 102, 99, 101)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateSeries(tt.bars); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestTimeframeIntradaySplit(t *testing.T) {
	for _, tf := range Timeframes {
		coarse := tf == Timeframe1D || tf == Timeframe1W || tf == Timeframe1M
		if tf.Intraday() == coarse {
			t.Errorf("%s: Intraday() = %v", tf, tf.Intraday())
		}
	}
}
