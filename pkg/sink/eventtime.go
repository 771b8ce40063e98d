package sink

import (
	"encoding/json"
	"strings"
	"time"
)

// eventTimeFields are the fields EventTime looks at.
type eventTimeFields struct {
	Timestamp json.RawMessage `json:"timestamp"`
	Date      json.RawMessage `json:"date"`
	Time      json.RawMessage `json:"time"`
}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// EventTime extracts the instant of an event. It accepts a "timestamp" that
// is either an ISO-8601 string or epoch milliseconds, and otherwise combines
// "date" (YYYY-MM-DD) and "time" (HH:MM:SS). Values without a zone are read
// in loc; nil loc means UTC. ok is false when no usable field exists.
func EventTime(raw json.RawMessage, loc *time.Location) (t time.Time, ok bool) {
	if loc == nil {
		loc = time.UTC
	}

	var fields eventTimeFields
	if err := json.Unmarshal(raw, &fields); err != nil {
		return time.Time{}, false
	}

	if ts := strings.TrimSpace(string(fields.Timestamp)); ts != "" && ts != "null" {
		var s string
		if err := json.Unmarshal(fields.Timestamp, &s); err == nil {
			if parsed, ok := parseISO(s, loc); ok {
				return parsed, true
			}
		} else {
			var millis json.Number
			if err := json.Unmarshal(fields.Timestamp, &millis); err == nil {
				if ms, err := millis.Int64(); err == nil {
					return time.UnixMilli(ms).In(loc), true
				}
			}
		}
	}

	date, dateOK := jsonString(fields.Date)
	clock, clockOK := jsonString(fields.Time)
	if dateOK && clockOK {
		if parsed, ok := parseISO(date+"T"+clock, loc); ok {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// jsonString decodes raw as a non-empty JSON string. Other JSON types are ignored.
func jsonString(raw json.RawMessage) (string, bool) {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil || s == "" {
		return "", false
	}
	return s, true
}

func parseISO(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
