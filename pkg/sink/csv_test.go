package sink

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/Sternrassler/activity-export/pkg/window"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVSink_AppendsWithSingleHeader(t *testing.T) {
	s, err := NewCSVSink(t.TempDir(), time.UTC, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	hour := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	dest := Destination{Name: "activity_2025_03", Hour: window.Hour(hour)}

	require.NoError(t, s.Write(ctx, dest, []json.RawMessage{
		json.RawMessage(`{"timestamp": 1741946400000, "domain": "example.com"}`),
	}))
	dest.Hour = window.Hour(hour.Add(time.Hour))
	require.NoError(t, s.Write(ctx, dest, []json.RawMessage{
		json.RawMessage(`{"timestamp":"2025-03-14T11:30:00Z"}`),
		json.RawMessage(`{"id":7}`),
	}))

	rows := readCSV(t, s.Path(dest))
	require.Len(t, rows, 4)
	assert.Equal(t, CSVColumns, rows[0])
	assert.Equal(t, []string{"2025", "3", "14", "10", "2025-03-14T10:00:00Z", `{"timestamp":1741946400000,"domain":"example.com"}`}, rows[1])
	assert.Equal(t, "11", rows[2][3])
	assert.Equal(t, []string{"", "", "", "", "", `{"id":7}`}, rows[3])
}

func TestCSVSink_EmptyHourCreatesHeader(t *testing.T) {
	s, err := NewCSVSink(t.TempDir(), time.UTC, zerolog.Nop())
	require.NoError(t, err)

	dest := Destination{Name: "activity_2025_03"}
	require.NoError(t, s.Write(context.Background(), dest, nil))
	require.NoError(t, s.Write(context.Background(), dest, nil))

	rows := readCSV(t, s.Path(dest))
	assert.Equal(t, [][]string{CSVColumns}, rows)
}

func TestCSVSink_ExistingFileGetsNoHeader(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCSVSink(dir, time.UTC, zerolog.Nop())
	require.NoError(t, err)

	dest := Destination{Name: "existing"}
	require.NoError(t, os.WriteFile(s.Path(dest), []byte("year,month,day,hour,timestamp,event\n"), 0o644))
	require.NoError(t, s.Write(context.Background(), dest, []json.RawMessage{json.RawMessage(`{"id":1}`)}))

	rows := readCSV(t, s.Path(dest))
	assert.Len(t, rows, 2)
}

func TestCSVSink_RequiresName(t *testing.T) {
	s, err := NewCSVSink(t.TempDir(), nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Error(t, s.Write(context.Background(), Destination{}, nil))
}
