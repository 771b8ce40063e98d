package main

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/activity-export/internal/testutil"
	"github.com/Sternrassler/activity-export/pkg/pagination"
	"github.com/Sternrassler/activity-export/pkg/scheduler"
	"github.com/Sternrassler/activity-export/pkg/window"
	"github.com/zalando/go-keyring"
)

const (
	testClientID     = "client-id"
	testClientSecret = "client-secret"
)

var exportDay = time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC)

// writeConfig writes a config file pointing at the mock API and returns its
// path and the csv output directory.
func writeConfig(t *testing.T, api *testutil.MockActivityAPI, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	out := filepath.Join(dir, "out")

	content := fmt.Sprintf(`api:
  base_url: %s
  token_url: %s
credentials:
  client_id: %s
  client_secret: %s
  interactive: false
sink:
  kinds: [csv]
  dir: %s
timezone: UTC
%s`, api.URL(), api.TokenURL(), testClientID, testClientSecret, out, extra)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path, out
}

func TestMain(m *testing.M) {
	keyring.MockInit()
	os.Exit(m.Run())
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(&bytes.Buffer{})
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), err
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return rows
}

func TestRunCommand_ExportsDayToCSV(t *testing.T) {
	api := testutil.NewMockActivityAPI(testClientID, testClientSecret)
	defer api.Close()
	api.AddEvents(testutil.SyntheticEvents(exportDay, 24*time.Hour, 48)...)

	cfgPath, out := writeConfig(t, api, "")

	stdout, err := execute(t, "", "--config", cfgPath, "run", "--year", "2025", "--month", "3", "--day", "14")
	if err != nil {
		t.Fatalf("run error = %v", err)
	}

	rows := readRows(t, filepath.Join(out, "activity_2025_03.csv"))
	if len(rows) != 49 {
		t.Errorf("csv rows = %d, want header + 48 events", len(rows))
	}
	if rows[1][3] != "0" || rows[48][3] != "23" {
		t.Errorf("hour column spans %s..%s, want 0..23", rows[1][3], rows[48][3])
	}

	if got := len(api.Requests()); got != 24 {
		t.Errorf("activity requests = %d, want one per hour", got)
	}
	if !strings.Contains(stdout, "events:           48") {
		t.Errorf("summary missing event count:\n%s", stdout)
	}
}

func TestRunCommand_PromptsForDate(t *testing.T) {
	api := testutil.NewMockActivityAPI(testClientID, testClientSecret)
	defer api.Close()

	cfgPath, out := writeConfig(t, api, "")

	if _, err := execute(t, "2025\n3\n14\n", "--config", cfgPath, "run"); err != nil {
		t.Fatalf("run error = %v", err)
	}

	rows := readRows(t, filepath.Join(out, "activity_2025_03.csv"))
	if len(rows) != 1 {
		t.Errorf("csv rows = %d, want header only", len(rows))
	}
	if got := len(api.Requests()); got != 24 {
		t.Errorf("activity requests = %d, want 24", got)
	}
}

func TestRunCommand_CategoryFilter(t *testing.T) {
	api := testutil.NewMockActivityAPI(testClientID, testClientSecret)
	defer api.Close()
	api.SetCategories(`{"data":[{"id":42,"type":"security","label":"Phishing"},{"id":7,"type":"security","label":"Malware"}]}`)

	cfgPath, _ := writeConfig(t, api, "")

	_, err := execute(t, "", "--config", cfgPath, "run",
		"--year", "2025", "--month", "3", "--day", "14",
		"--event-type", "dns", "--categories", "malware,Phishing,Unknown")
	if err != nil {
		t.Fatalf("run error = %v", err)
	}

	requests := api.Requests()
	if len(requests) == 0 {
		t.Fatal("no activity requests")
	}
	if got := requests[0].Query["categories"]; got != "7,42" {
		t.Errorf("categories = %q, want 7,42", got)
	}
	if !strings.HasSuffix(requests[0].Path, "/dns") {
		t.Errorf("path = %q, want dns activity", requests[0].Path)
	}
}

func TestRunCommand_InvalidDay(t *testing.T) {
	api := testutil.NewMockActivityAPI(testClientID, testClientSecret)
	defer api.Close()

	cfgPath, _ := writeConfig(t, api, "")

	_, err := execute(t, "", "--config", cfgPath, "run", "--year", "2025", "--month", "2", "--day", "30")
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Errorf("run error = %v, want day out of range", err)
	}
	if len(api.Requests()) != 0 {
		t.Error("no request should be sent for an invalid date")
	}
}

func TestRunCommand_RejectedCredentials(t *testing.T) {
	api := testutil.NewMockActivityAPI("other-id", "other-secret")
	defer api.Close()

	cfgPath, _ := writeConfig(t, api, "")

	_, err := execute(t, "", "--config", cfgPath, "run", "--year", "2025", "--month", "3", "--day", "14")
	if err == nil {
		t.Fatal("expected authentication error")
	}
	if len(api.Requests()) != 0 {
		t.Error("no activity request should be sent without a token")
	}
}

func TestCategoriesCommand(t *testing.T) {
	api := testutil.NewMockActivityAPI(testClientID, testClientSecret)
	defer api.Close()
	api.SetCategories(`{"data":[{"id":42,"type":"security","label":"Phishing"},{"id":7,"type":"security","label":"Malware"}]}`)

	cfgPath, _ := writeConfig(t, api, "")

	stdout, err := execute(t, "", "--config", cfgPath, "categories", "malware")
	if err != nil {
		t.Fatalf("categories error = %v", err)
	}
	if !strings.Contains(stdout, "Malware") {
		t.Errorf("output missing Malware:\n%s", stdout)
	}
	if strings.Contains(stdout, "Phishing") {
		t.Errorf("output should be filtered:\n%s", stdout)
	}
}

func TestCredentialsCommand_StoreAndDelete(t *testing.T) {
	stdout, err := execute(t, "stored-id\nstored-secret\n", "--profile", "work", "credentials", "store")
	if err != nil {
		t.Fatalf("store error = %v", err)
	}
	if !strings.Contains(stdout, `profile "work"`) {
		t.Errorf("stdout = %q", stdout)
	}

	keyringStored, err := keyring.Get("activity-export", "client_work")
	if err != nil {
		t.Fatalf("keyring.Get() error = %v", err)
	}
	if !strings.Contains(keyringStored, "stored-secret") {
		t.Errorf("stored value = %q", keyringStored)
	}

	if _, err := execute(t, "", "--profile", "work", "credentials", "delete"); err != nil {
		t.Fatalf("delete error = %v", err)
	}
	if _, err := keyring.Get("activity-export", "client_work"); !errors.Is(err, keyring.ErrNotFound) {
		t.Errorf("keyring.Get() after delete error = %v, want ErrNotFound", err)
	}

	if _, err := execute(t, "", "--profile", "work", "credentials", "delete"); err == nil {
		t.Error("second delete should report missing credentials")
	}
}

func TestPromptDate(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		year    int
		month   time.Month
		day     int
		wantErr bool
	}{
		{"single day", "2025\n3\n14\n", 2025, time.March, 14, false},
		{"whole month", " 2024 \n 12 \n0", 2024, time.December, 0, false},
		{"not a number", "2025\nmarch\n1\n", 0, 0, 0, true},
		{"missing day", "2025\n3\n", 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			year, month, day, err := promptDate(strings.NewReader(tt.input), &bytes.Buffer{})
			if (err != nil) != tt.wantErr {
				t.Fatalf("promptDate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if year != tt.year || month != tt.month || day != tt.day {
				t.Errorf("promptDate() = %d-%d-%d, want %d-%d-%d", year, month, day, tt.year, tt.month, tt.day)
			}
		})
	}
}

func TestPrintSummary(t *testing.T) {
	buf := &bytes.Buffer{}
	printSummary(buf, scheduler.Summary{
		RunID:           "run-1",
		Hours:           24,
		Events:          1200,
		MinuteFallbacks: 1,
		Gaps: []scheduler.Gap{{
			Window: window.Minute(exportDay.Add(17 * time.Minute)),
			State:  pagination.StateAborted,
			Reason: errors.New("retries exhausted"),
			Events: 3,
		}},
		Elapsed: 90 * time.Second,
	})

	out := buf.String()
	for _, want := range []string{"run-1", "hours:            24", "gaps:             1", "ABORTED", "retries exhausted", "3 events kept"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
