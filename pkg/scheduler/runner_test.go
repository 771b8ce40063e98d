package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Sternrassler/activity-export/internal/testutil"
	"github.com/Sternrassler/activity-export/pkg/sink"
	"github.com/rs/zerolog"
)

type recordedWrite struct {
	dest   sink.Destination
	events int
}

func TestRunner_FlushesEveryHour(t *testing.T) {
	h := newHarness(t, 1000, DefaultConfig())
	day := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	h.api.AddEvents(testutil.SyntheticEvents(day.Add(3*time.Hour), time.Hour, 7)...)
	h.api.AddEvents(testutil.SyntheticEvents(day.Add(20*time.Hour), time.Hour, 5)...)

	var writes []recordedWrite
	s := sink.Func(func(ctx context.Context, dest sink.Destination, events []json.RawMessage) error {
		writes = append(writes, recordedWrite{dest: dest, events: len(events)})
		return nil
	})

	runner := NewRunner(h.scheduler, s, "run-1", testLogger())
	summary, _, err := runner.Run(context.Background(), h.cred, RunRequest{
		Year:        2025,
		Month:       time.March,
		Days:        []int{14},
		Location:    time.UTC,
		Destination: "activity_2025_03",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(writes) != 24 {
		t.Fatalf("writes = %d, want one per hour", len(writes))
	}
	if writes[3].events != 7 || writes[20].events != 5 || writes[0].events != 0 {
		t.Errorf("writes = %+v", writes)
	}
	for i, w := range writes {
		if w.dest.Name != "activity_2025_03" {
			t.Errorf("write %d destination = %q", i, w.dest.Name)
		}
		if !w.dest.Hour.Start.Equal(day.Add(time.Duration(i) * time.Hour)) {
			t.Errorf("write %d hour = %s", i, w.dest.Hour)
		}
	}

	if summary.Hours != 24 || summary.Events != 12 || summary.RunID != "run-1" {
		t.Errorf("summary = %+v", summary)
	}
	if summary.MinuteFallbacks != 0 || len(summary.Gaps) != 0 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestRunner_FallBackDayWritesRepeatedHour(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("time zone data unavailable: %v", err)
	}

	h := newHarness(t, 1000, DefaultConfig())
	midnight := time.Date(2025, time.November, 2, 0, 0, 0, 0, loc)
	// 01:00 EDT to 02:00 EST spans the repeated wall-clock hour twice.
	h.api.AddEvents(testutil.SyntheticEvents(midnight.Add(time.Hour), 2*time.Hour, 8)...)

	var writes []recordedWrite
	s := sink.Func(func(ctx context.Context, dest sink.Destination, events []json.RawMessage) error {
		writes = append(writes, recordedWrite{dest: dest, events: len(events)})
		return nil
	})

	runner := NewRunner(h.scheduler, s, "run-dst", testLogger())
	summary, _, err := runner.Run(context.Background(), h.cred, RunRequest{
		Year:        2025,
		Month:       time.November,
		Days:        []int{2},
		Location:    loc,
		Destination: "activity_2025_11",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(writes) != 25 || summary.Hours != 25 {
		t.Fatalf("writes = %d, summary hours = %d, want 25", len(writes), summary.Hours)
	}
	if writes[1].events != 4 || writes[2].events != 4 {
		t.Errorf("repeated hour events = %d and %d, want 4 and 4", writes[1].events, writes[2].events)
	}
	if summary.Events != 8 {
		t.Errorf("summary events = %d, want 8", summary.Events)
	}
	seen := make(map[int64]bool)
	for _, w := range writes {
		if seen[w.dest.Hour.FromMillis()] {
			t.Errorf("hour %s written twice", w.dest.Hour)
		}
		seen[w.dest.Hour.FromMillis()] = true
	}
}

func TestRunner_StopsOnSinkError(t *testing.T) {
	h := newHarness(t, 1000, DefaultConfig())

	calls := 0
	boom := errors.New("disk full")
	s := sink.Func(func(ctx context.Context, dest sink.Destination, events []json.RawMessage) error {
		calls++
		if calls == 3 {
			return boom
		}
		return nil
	})

	runner := NewRunner(h.scheduler, s, "run-2", testLogger())
	summary, _, err := runner.Run(context.Background(), h.cred, RunRequest{
		Year: 2025, Month: time.March, Days: []int{1, 2}, Location: time.UTC,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want %v", err, boom)
	}
	if summary.Hours != 2 {
		t.Errorf("hours = %d, want 2 written before the failure", summary.Hours)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
