package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/betterme-app/betterme/internal/domain"
)

// Epoch-ms bounds accepted for persisted instants (the ECMAScript Date range).
const maxEpochMilli = 8_640_000_000_000_000

// Encode serializes a snapshot in the persisted wire shape.
func Encode(s domain.State) ([]byte, error) {
	return json.Marshal(s)
}

// Decode parses a persisted snapshot, repairing each field independently.
// It never fails: every malformed or missing field falls back to its default
// (level 0, lastUpdate now, empty logs) and is reported in repairs.
func Decode(data []byte, now time.Time) (s domain.State, repairs []string) {
	s = domain.State{LastUpdate: now}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil || top == nil {
		return s, []string{"snapshot"}
	}

	if raw, ok := top["level"]; !ok || isNull(raw) {
		repairs = append(repairs, "level")
	} else if n, ok := decodeNumber(raw); !ok {
		repairs = append(repairs, "level")
	} else if n < 0 || n > math.MaxInt32 {
		repairs = append(repairs, "level")
	} else {
		s.Level = int(n)
	}

	if raw, ok := top["lastUpdate"]; !ok || isNull(raw) {
		repairs = append(repairs, "lastUpdate")
	} else if ms, ok := decodeEpochMilli(raw); !ok {
		repairs = append(repairs, "lastUpdate")
	} else {
		s.LastUpdate = time.UnixMilli(ms)
	}

	raw, ok := top["logs"]
	if !ok || isNull(raw) {
		repairs = append(repairs, "logs")
		return s, repairs
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		repairs = append(repairs, "logs")
		return s, repairs
	}
	for i, item := range items {
		e, err := decodeEntry(item)
		if err != nil {
			repairs = append(repairs, fmt.Sprintf("logs[%d]", i))
			e = salvageEntry(item)
		}
		s.Logs.Append(e)
	}
	return s, repairs
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// decodeNumber accepts any finite JSON number and truncates it toward zero.
func decodeNumber(raw json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return math.Trunc(f), true
}

func decodeEpochMilli(raw json.RawMessage) (int64, bool) {
	n, ok := decodeNumber(raw)
	if !ok || n < -maxEpochMilli || n > maxEpochMilli {
		return 0, false
	}
	return int64(n), true
}

func decodeEntry(raw json.RawMessage) (domain.ReportEntry, error) {
	var e struct {
		Type      string                     `json:"type"`
		Timestamp json.RawMessage            `json:"timestamp"`
		Data      map[string]json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &e); err != nil {
		return domain.ReportEntry{}, err
	}

	kind, err := domain.ParseEntryKind(e.Type)
	if err != nil {
		return domain.ReportEntry{}, err
	}
	ts, ok := decodeEpochMilli(e.Timestamp)
	if !ok {
		return domain.ReportEntry{}, fmt.Errorf("%w: entry timestamp", domain.ErrCorruptSnapshot)
	}

	return domain.ReportEntry{
		Kind:      kind,
		Timestamp: time.UnixMilli(ts),
		Data:      decodeData(e.Data),
	}, nil
}

// salvageEntry keeps an undecodable entry verbatim, recovering what it can
// field by field for display.
func salvageEntry(raw json.RawMessage) domain.ReportEntry {
	e := domain.ReportEntry{
		Kind: domain.KindUnknown,
		Data: domain.Answers{},
		Raw:  bytes.TrimSpace(raw),
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return e
	}
	var typ string
	if err := json.Unmarshal(fields["type"], &typ); err == nil {
		if kind, err := domain.ParseEntryKind(typ); err == nil {
			e.Kind = kind
		}
	}
	if ms, ok := decodeEpochMilli(fields["timestamp"]); ok {
		e.Timestamp = time.UnixMilli(ms)
	}
	var data map[string]json.RawMessage
	if err := json.Unmarshal(fields["data"], &data); err == nil {
		e.Data = decodeData(data)
	}
	return e
}

func decodeData(in map[string]json.RawMessage) domain.Answers {
	data := make(domain.Answers, len(in))
	for k, v := range in {
		if isNull(v) {
			continue
		}
		var str string
		if err := json.Unmarshal(v, &str); err == nil {
			data[k] = str
			continue
		}
		data[k] = string(bytes.TrimSpace(v))
	}
	return data
}
