package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CSVColumns is the header of every CSV file.
var CSVColumns = []string{"year", "month", "day", "hour", "timestamp", "event"}

// CSVSink appends events to "<dir>/<destination>.csv". The header is written
// only when the file is created. The event column holds the record as
// compact JSON; the time columns are empty when the event carries no time.
type CSVSink struct {
	mu       sync.Mutex
	dir      string
	location *time.Location
	logger   zerolog.Logger
}

// NewCSVSink creates a CSV sink writing into dir. Event times are rendered in loc.
func NewCSVSink(dir string, loc *time.Location, logger zerolog.Logger) (*CSVSink, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	if loc == nil {
		loc = time.Local
	}
	return &CSVSink{
		dir:      dir,
		location: loc,
		logger:   logger.With().Str("component", "csv-sink").Logger(),
	}, nil
}

// Path returns the file a destination is written to.
func (s *CSVSink) Path(dest Destination) string {
	return filepath.Join(s.dir, dest.Name+".csv")
}

// Write implements EventSink.
func (s *CSVSink) Write(ctx context.Context, dest Destination, events []json.RawMessage) (err error) {
	defer func() { record("csv", len(events), err) }()

	if dest.Name == "" {
		return fmt.Errorf("csv sink: destination name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(dest)
	_, statErr := os.Stat(path)
	isNew := errors.Is(statErr, fs.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(CSVColumns); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}

	for _, raw := range events {
		if err := w.Write(s.row(raw)); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}

	s.logger.Debug().
		Str("path", path).
		Time("window_start", dest.Hour.Start).
		Int("events", len(events)).
		Msg("Appended events")
	return nil
}

func (s *CSVSink) row(raw json.RawMessage) []string {
	event := string(raw)
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err == nil {
		event = compact.String()
	}

	t, ok := EventTime(raw, s.location)
	if !ok {
		return []string{"", "", "", "", "", event}
	}
	return []string{
		strconv.Itoa(t.Year()),
		strconv.Itoa(int(t.Month())),
		strconv.Itoa(t.Day()),
		strconv.Itoa(t.Hour()),
		t.Format(time.RFC3339Nano),
		event,
	}
}
