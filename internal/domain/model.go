// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture; it depends on nothing.
package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ─── Entry Kinds ────────────────────────────────────────────────────────────

// EntryKind tags a ReportEntry as one of the three report variants.
type EntryKind int

const (
	KindRegular  EntryKind = iota // On-time report
	KindRecovery                  // Backfilled report for a missed window
	KindReset                     // Level reset marker
	KindUnknown                   // Stored entry that could not be decoded
)

// String returns the wire name of the kind.
func (k EntryKind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindRecovery:
		return "recovery"
	case KindReset:
		return "reset"
	case KindUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("EntryKind(%d)", int(k))
	}
}

// ParseEntryKind parses a wire name into an EntryKind.
func ParseEntryKind(s string) (EntryKind, error) {
	switch s {
	case "regular":
		return KindRegular, nil
	case "recovery":
		return KindRecovery, nil
	case "reset":
		return KindReset, nil
	default:
		return 0, fmt.Errorf("unknown entry type %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k EntryKind) MarshalText() ([]byte, error) {
	switch k {
	case KindRegular, KindRecovery, KindReset:
		return []byte(k.String()), nil
	default:
		return nil, fmt.Errorf("invalid entry kind %d", int(k))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EntryKind) UnmarshalText(b []byte) error {
	parsed, err := ParseEntryKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ─── Categories & Answers ───────────────────────────────────────────────────

// CategorySet is the fixed, ordered list of categories a report must cover.
type CategorySet []string

// Contains reports whether name is one of the categories.
func (c CategorySet) Contains(name string) bool {
	for _, n := range c {
		if n == name {
			return true
		}
	}
	return false
}

// Answers maps a category name to the user's answer for it.
type Answers map[string]string

// Clone returns an independent copy.
func (a Answers) Clone() Answers {
	if a == nil {
		return nil
	}
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Missing returns the categories with no answer or a blank one, in set order.
func (a Answers) Missing(cats CategorySet) []string {
	var missing []string
	for _, c := range cats {
		if strings.TrimSpace(a[c]) == "" {
			missing = append(missing, c)
		}
	}
	return missing
}

// Normalize keeps only the categories in cats, trimming whitespace.
func (a Answers) Normalize(cats CategorySet) Answers {
	out := make(Answers, len(cats))
	for _, c := range cats {
		if v, ok := a[c]; ok {
			out[c] = strings.TrimSpace(v)
		}
	}
	return out
}

// ─── Report Entries ─────────────────────────────────────────────────────────

// ReportEntry is a single line of the history log. Immutable once appended.
//
// Raw is set only on entries salvaged from a corrupt snapshot. Such an entry
// carries whatever fields could be recovered for display and is written back
// exactly as it was read.
type ReportEntry struct {
	Kind      EntryKind
	Timestamp time.Time
	Data      Answers
	Raw       json.RawMessage
}

// Salvaged reports whether the entry was kept verbatim from a corrupt snapshot.
func (e ReportEntry) Salvaged() bool { return len(e.Raw) > 0 }

type reportEntryJSON struct {
	Type      EntryKind `json:"type"`
	Timestamp int64     `json:"timestamp"`
	Data      Answers   `json:"data"`
}

// MarshalJSON encodes the entry in the persisted wire shape (epoch-ms timestamps).
func (e ReportEntry) MarshalJSON() ([]byte, error) {
	if e.Salvaged() {
		return append([]byte(nil), e.Raw...), nil
	}
	data := e.Data
	if data == nil {
		data = Answers{}
	}
	return json.Marshal(reportEntryJSON{
		Type:      e.Kind,
		Timestamp: e.Timestamp.UnixMilli(),
		Data:      data,
	})
}

// UnmarshalJSON decodes the persisted wire shape strictly.
func (e *ReportEntry) UnmarshalJSON(b []byte) error {
	var raw reportEntryJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	e.Kind = raw.Type
	e.Timestamp = time.UnixMilli(raw.Timestamp)
	e.Data = raw.Data
	if e.Data == nil {
		e.Data = Answers{}
	}
	return nil
}

// ─── Logbook (Log Store) ────────────────────────────────────────────────────

// Logbook is the append-only collection of report entries.
// Insertion order is preserved; Descending gives the display order.
type Logbook struct {
	entries []ReportEntry
}

// NewLogbook builds a logbook from entries in insertion order.
func NewLogbook(entries ...ReportEntry) Logbook {
	var lb Logbook
	for _, e := range entries {
		lb.Append(e)
	}
	return lb
}

// Append adds an entry. The entry's data is copied so callers cannot mutate it.
func (l *Logbook) Append(e ReportEntry) {
	e.Data = e.Data.Clone()
	if e.Raw != nil {
		e.Raw = append(json.RawMessage(nil), e.Raw...)
	}
	if e.Data == nil {
		e.Data = Answers{}
	}
	l.entries = append(l.entries, e)
}

// Len returns the number of entries.
func (l Logbook) Len() int { return len(l.entries) }

// At returns a copy of the i-th entry in insertion order.
func (l Logbook) At(i int) ReportEntry {
	e := l.entries[i]
	e.Data = e.Data.Clone()
	return e
}

// Last returns the most recently appended entry.
func (l Logbook) Last() (ReportEntry, bool) {
	if len(l.entries) == 0 {
		return ReportEntry{}, false
	}
	return l.At(len(l.entries) - 1), true
}

// Entries returns a copy of all entries in insertion order.
func (l Logbook) Entries() []ReportEntry {
	out := make([]ReportEntry, len(l.entries))
	for i := range l.entries {
		out[i] = l.At(i)
	}
	return out
}

// Descending returns a copy sorted newest first. Entries sharing a timestamp
// keep their relative insertion order. The logbook itself is not reordered.
func (l Logbook) Descending() []ReportEntry {
	out := l.Entries()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// Clone returns an independent copy.
func (l Logbook) Clone() Logbook {
	return Logbook{entries: l.Entries()}
}

// MarshalJSON encodes the entries as a JSON array in insertion order.
func (l Logbook) MarshalJSON() ([]byte, error) {
	if l.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.entries)
}

// ─── Persisted State ────────────────────────────────────────────────────────

// State is the persisted snapshot {level, lastUpdate, logs}.
type State struct {
	Level      int
	LastUpdate time.Time
	Logs       Logbook
}

type stateJSON struct {
	Level      int     `json:"level"`
	LastUpdate int64   `json:"lastUpdate"`
	Logs       Logbook `json:"logs"`
}

// Clone returns a deep copy.
func (s State) Clone() State {
	return State{Level: s.Level, LastUpdate: s.LastUpdate, Logs: s.Logs.Clone()}
}

// MarshalJSON encodes the snapshot in the persisted wire shape.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(stateJSON{
		Level:      s.Level,
		LastUpdate: s.LastUpdate.UnixMilli(),
		Logs:       s.Logs,
	})
}

// NextDue returns the instant the next report is due.
func (s State) NextDue(interval time.Duration) time.Time {
	return s.LastUpdate.Add(interval)
}
