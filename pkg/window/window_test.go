package window

import (
	"testing"
	"time"
)

func TestHour_Bounds(t *testing.T) {
	start := time.Date(2025, time.March, 10, 14, 0, 0, 0, time.UTC)
	w := Hour(start)

	if !w.Start.Equal(start) {
		t.Errorf("Start = %v, want %v", w.Start, start)
	}
	wantEnd := start.Add(time.Hour - time.Millisecond)
	if !w.End.Equal(wantEnd) {
		t.Errorf("End = %v, want %v", w.End, wantEnd)
	}
	if w.ToMillis()-w.FromMillis() != 3599999 {
		t.Errorf("span in millis = %d, want 3599999", w.ToMillis()-w.FromMillis())
	}
	if w.Duration() != time.Hour {
		t.Errorf("Duration() = %v, want 1h", w.Duration())
	}
}

func TestMinutes_TileHour(t *testing.T) {
	hour := Hour(time.Date(2025, time.March, 10, 14, 0, 0, 0, time.UTC))
	minutes := hour.Minutes()

	if len(minutes) != 60 {
		t.Fatalf("len(Minutes()) = %d, want 60", len(minutes))
	}
	if !minutes[0].Start.Equal(hour.Start) {
		t.Errorf("first minute starts at %v, want %v", minutes[0].Start, hour.Start)
	}
	if !minutes[59].End.Equal(hour.End) {
		t.Errorf("last minute ends at %v, want %v", minutes[59].End, hour.End)
	}
	for i := 1; i < len(minutes); i++ {
		gap := minutes[i].FromMillis() - minutes[i-1].ToMillis()
		if gap != 1 {
			t.Errorf("minute %d: gap to previous = %dms, want 1ms", i, gap)
		}
	}
}

func TestDayHours_TileDay(t *testing.T) {
	loc := time.FixedZone("BRT", -3*60*60)
	hours := DayHours(2025, time.March, 10, loc)

	if len(hours) != 24 {
		t.Fatalf("len(DayHours()) = %d, want 24", len(hours))
	}
	for i := 1; i < len(hours); i++ {
		if hours[i].FromMillis()-hours[i-1].ToMillis() != 1 {
			t.Errorf("hour %d does not start 1ms after hour %d", i, i-1)
		}
	}
	// Local midnight in UTC-3 is 03:00 UTC.
	if got := hours[0].Start.UTC().Hour(); got != 3 {
		t.Errorf("first hour UTC = %d, want 3", got)
	}
}

func TestDayHours_DaylightSavingTransitions(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("time zone data unavailable: %v", err)
	}

	tests := []struct {
		name  string
		month time.Month
		day   int
		want  int
	}{
		{"spring forward", time.March, 9, 23},
		{"regular day", time.June, 15, 24},
		{"fall back", time.November, 2, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hours := DayHours(2025, tt.month, tt.day, loc)
			if len(hours) != tt.want {
				t.Fatalf("len(DayHours()) = %d, want %d", len(hours), tt.want)
			}

			midnight := time.Date(2025, tt.month, tt.day, 0, 0, 0, 0, loc)
			next := time.Date(2025, tt.month, tt.day+1, 0, 0, 0, 0, loc)
			if !hours[0].Start.Equal(midnight) {
				t.Errorf("first hour starts %v, want %v", hours[0].Start, midnight)
			}
			if got := hours[len(hours)-1].ToMillis() + 1; got != next.UnixMilli() {
				t.Errorf("last hour ends at %d, want %d", got, next.UnixMilli())
			}

			var covered time.Duration
			for i, h := range hours {
				covered += h.Duration()
				if i > 0 && h.FromMillis()-hours[i-1].ToMillis() != 1 {
					t.Errorf("hour %d (%v) does not start 1ms after hour %d (%v)", i, h.Start, i-1, hours[i-1].Start)
				}
			}
			if covered != next.Sub(midnight) {
				t.Errorf("hours cover %v, day is %v", covered, next.Sub(midnight))
			}
		})
	}
}

func TestContains(t *testing.T) {
	w := Minute(time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC))

	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"start", w.Start, true},
		{"end", w.End, true},
		{"before", w.Start.Add(-time.Millisecond), false},
		{"after", w.End.Add(time.Millisecond), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.Contains(tt.at); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestMonthDays(t *testing.T) {
	tests := []struct {
		name    string
		year    int
		month   time.Month
		day     int
		wantLen int
		wantErr bool
	}{
		{"single day", 2025, time.March, 5, 1, false},
		{"whole month", 2025, time.March, 0, 31, false},
		{"leap february", 2024, time.February, 0, 29, false},
		{"february", 2025, time.February, 0, 28, false},
		{"day out of range", 2025, time.April, 31, 0, true},
		{"negative day", 2025, time.April, -1, 0, true},
		{"bad month", 2025, 13, 1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			days, err := MonthDays(tt.year, tt.month, tt.day)
			if (err != nil) != tt.wantErr {
				t.Fatalf("MonthDays() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(days) != tt.wantLen {
				t.Errorf("len(days) = %d, want %d", len(days), tt.wantLen)
			}
		})
	}
}
