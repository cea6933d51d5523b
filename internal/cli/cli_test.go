package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/betterme-app/betterme/internal/app/engagement"
	"github.com/betterme-app/betterme/internal/domain"
	"github.com/betterme-app/betterme/internal/testutil"
)

var t0 = time.UnixMilli(1_700_000_000_000)

var fullFlags = []string{"-a", "health=si", "-a", "focus=si", "-a", "income=no", "-a", "control=si"}

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// useClock swaps the command clock for a fake one for the duration of t.
func useClock(t *testing.T) *testutil.FakeClock {
	t.Helper()
	fc := testutil.NewFakeClock(t0)
	prev := clock
	clock = fc
	t.Cleanup(func() { clock = prev })
	return fc
}

func run(t *testing.T, home, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--home", home}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, home, stdin string, args ...string) string {
	t.Helper()
	out, err := run(t, home, stdin, args...)
	if err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out)
	}
	return out
}

// ─── status / report ────────────────────────────────────────────────────────

func TestStatus_Fresh(t *testing.T) {
	useClock(t)
	out := mustRun(t, t.TempDir(), "", "status")
	if !strings.Contains(out, "Level 1") || !strings.Contains(out, "on track") {
		t.Errorf("status output = %q", out)
	}
	if !strings.Contains(out, "60:00") {
		t.Errorf("status output missing countdown: %q", out)
	}
	if strings.Contains(out, "Last entry") {
		t.Errorf("fresh status should not show a last entry: %q", out)
	}
}

func TestStatus_ShowsLastEntry(t *testing.T) {
	fc := useClock(t)
	home := t.TempDir()
	mustRun(t, home, "", append([]string{"report"}, fullFlags...)...)
	fc.Advance(20 * time.Minute)

	out := mustRun(t, home, "", "status")
	if !strings.Contains(out, "Last entry: ON TIME (20 minutes ago)") {
		t.Errorf("status output = %q", out)
	}
}

func TestReport_WithFlags(t *testing.T) {
	useClock(t)
	out := mustRun(t, t.TempDir(), "", append([]string{"report"}, fullFlags...)...)
	if !strings.Contains(out, "Report saved.") || !strings.Contains(out, "Level 2") {
		t.Errorf("report output = %q", out)
	}
}

func TestReport_Interactive(t *testing.T) {
	useClock(t)
	home := t.TempDir()
	// The blank line re-asks focus.
	out := mustRun(t, home, "si\n\nsi\nno\nsi\n", "report")
	if strings.Count(out, "focus: ") != 2 {
		t.Errorf("focus should be asked twice: %q", out)
	}
	if !strings.Contains(out, "Level 2") {
		t.Errorf("report output = %q", out)
	}

	raw := mustRun(t, home, "", "log", "--format", "json")
	var entries []map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		t.Fatalf("log json: %v\n%s", err, raw)
	}
	data := entries[0]["data"].(map[string]interface{})
	if data["focus"] != "si" || data["income"] != "no" {
		t.Errorf("stored data = %v", data)
	}
}

func TestReport_Abandoned(t *testing.T) {
	useClock(t)
	if _, err := run(t, t.TempDir(), "si\n", "report"); err == nil {
		t.Error("expected error when input ends early")
	}
}

func TestReport_Incomplete(t *testing.T) {
	useClock(t)
	_, err := run(t, t.TempDir(), "", "report", "-a", "health=si")
	if !errors.Is(err, domain.ErrIncompleteAnswers) {
		t.Errorf("err = %v, want ErrIncompleteAnswers", err)
	}
}

func TestReport_BadAnswerFlag(t *testing.T) {
	useClock(t)
	if _, err := run(t, t.TempDir(), "", "report", "-a", "health"); err == nil {
		t.Error("expected error for flag without '='")
	}
}

func TestReport_BlockedByBacklog(t *testing.T) {
	fc := useClock(t)
	home := t.TempDir()
	mustRun(t, home, "", "status")
	fc.Advance(3 * time.Hour)

	_, err := run(t, home, "", append([]string{"report"}, fullFlags...)...)
	if !errors.Is(err, domain.ErrBacklogOutstanding) {
		t.Errorf("err = %v, want ErrBacklogOutstanding", err)
	}
	out := mustRun(t, home, "", "status")
	if !strings.Contains(out, "3 reports owed") {
		t.Errorf("status output = %q", out)
	}
}

// ─── backlog ────────────────────────────────────────────────────────────────

func TestBacklog_ClearsEveryWindow(t *testing.T) {
	fc := useClock(t)
	home := t.TempDir()
	mustRun(t, home, "", "status")
	fc.Advance(3*time.Hour + 30*time.Minute)

	out := mustRun(t, home, "", append([]string{"backlog"}, fullFlags...)...)
	if !strings.Contains(out, "Backlog cleared: 3 windows recovered.") {
		t.Errorf("backlog output = %q", out)
	}
	if !strings.Contains(out, "Level 4") || !strings.Contains(out, "on track") {
		t.Errorf("backlog output = %q", out)
	}
	if strings.Count(out, "Window ") != 3 {
		t.Errorf("expected 3 window headings: %q", out)
	}
}

func TestBacklog_InteractiveStopsOnEOF(t *testing.T) {
	fc := useClock(t)
	home := t.TempDir()
	mustRun(t, home, "", "status")
	fc.Advance(2 * time.Hour)

	out := mustRun(t, home, "si\nsi\nsi\nsi\n", "backlog")
	if !strings.Contains(out, "Stopped with 1 report still owed.") {
		t.Errorf("backlog output = %q", out)
	}

	raw := mustRun(t, home, "", "log", "--format", "json", "--order", "insert")
	var entries []map[string]interface{}
	json.Unmarshal([]byte(raw), &entries)
	if len(entries) != 1 || entries[0]["type"] != "recovery" {
		t.Fatalf("entries = %v", entries)
	}
	if entries[0]["timestamp"] != float64(t0.Add(time.Hour).UnixMilli()) {
		t.Errorf("timestamp = %v, want slot t0+1h", entries[0]["timestamp"])
	}
}

func TestBacklog_NothingOwed(t *testing.T) {
	useClock(t)
	out := mustRun(t, t.TempDir(), "", "backlog")
	if !strings.Contains(out, "Nothing owed.") {
		t.Errorf("backlog output = %q", out)
	}
}

// ─── reset ──────────────────────────────────────────────────────────────────

func TestReset(t *testing.T) {
	fc := useClock(t)
	home := t.TempDir()
	mustRun(t, home, "", append([]string{"report"}, fullFlags...)...)
	fc.Advance(5 * time.Hour)

	_, err := run(t, home, "n\n", "reset")
	if !errors.Is(err, domain.ErrResetNotConfirmed) {
		t.Fatalf("err = %v, want ErrResetNotConfirmed", err)
	}

	out := mustRun(t, home, "y\n", "reset")
	if !strings.Contains(out, "Level reset to 1.") || !strings.Contains(out, "on track") {
		t.Errorf("reset output = %q", out)
	}

	fc.Advance(time.Minute)
	mustRun(t, home, "", "reset", "--yes")

	raw := mustRun(t, home, "", "log", "--format", "json", "--order", "insert")
	var entries []map[string]interface{}
	json.Unmarshal([]byte(raw), &entries)
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	data := entries[1]["data"].(map[string]interface{})
	if entries[1]["type"] != "reset" || data["health"] != "FAIL" || data["control"] != "LEVEL RESET" {
		t.Errorf("reset entry = %v", entries[1])
	}
}

// ─── log ────────────────────────────────────────────────────────────────────

func TestLog_Formats(t *testing.T) {
	fc := useClock(t)
	home := t.TempDir()

	out := mustRun(t, home, "", "log")
	if !strings.Contains(out, "No reports yet.") {
		t.Errorf("empty table = %q", out)
	}
	if out := mustRun(t, home, "", "log", "--format", "json"); strings.TrimSpace(out) != "[]" {
		t.Errorf("empty json = %q", out)
	}

	mustRun(t, home, "", append([]string{"report"}, fullFlags...)...)
	fc.Advance(2*time.Hour + time.Minute)
	mustRun(t, home, "", append([]string{"backlog"}, fullFlags...)...)

	out = mustRun(t, home, "", "log")
	for _, want := range []string{"TIME", "KIND", "HEALTH", "CONTROL", "ON TIME", "RECOVERED"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 || !strings.Contains(lines[1], "RECOVERED") || !strings.Contains(lines[3], "ON TIME") {
		t.Errorf("table rows not newest first:\n%s", out)
	}

	out = mustRun(t, home, "", "log", "--format", "yaml", "--order", "insert", "-n", "1")
	if !strings.Contains(out, "type: regular") || strings.Contains(out, "recovery") {
		t.Errorf("yaml = %q", out)
	}
	if !strings.Contains(out, "income: \"no\"") {
		t.Errorf("yaml should quote the answer no: %q", out)
	}

	if _, err := run(t, home, "", "log", "--format", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
	if _, err := run(t, home, "", "log", "--order", "random"); err == nil {
		t.Error("expected error for unknown order")
	}
}

// ─── config ─────────────────────────────────────────────────────────────────

func TestConfig(t *testing.T) {
	home := t.TempDir()
	out := mustRun(t, home, "", "config")
	if !strings.Contains(out, `interval = "1h"`) {
		t.Errorf("config output = %q", out)
	}
	out = mustRun(t, home, "", "config", "--path")
	if strings.TrimSpace(out) != home+"/config.toml" {
		t.Errorf("config --path = %q", out)
	}
}

func TestConfig_FileOverridesInterval(t *testing.T) {
	fc := useClock(t)
	home := t.TempDir()
	os.WriteFile(home+"/config.toml", []byte("[tracker]\ninterval = \"30m\"\nlevel_floor = 0\n"), 0o600)

	mustRun(t, home, "", "status")
	fc.Advance(45 * time.Minute)
	out := mustRun(t, home, "", "status")
	if !strings.Contains(out, "1 report owed") {
		t.Errorf("status = %q", out)
	}
	out = mustRun(t, home, "", "reset", "--yes")
	if !strings.Contains(out, "Level reset to 0.") {
		t.Errorf("reset = %q", out)
	}
}

// ─── helpers ────────────────────────────────────────────────────────────────

func TestParseAnswers(t *testing.T) {
	tests := []struct {
		in      []string
		want    domain.Answers
		wantErr bool
	}{
		{nil, nil, false},
		{[]string{"health=si"}, domain.Answers{"health": "si"}, false},
		{[]string{" focus =a=b"}, domain.Answers{"focus": "a=b"}, false},
		{[]string{"health"}, nil, true},
		{[]string{"=si"}, nil, true},
	}
	for _, tt := range tests {
		got, err := parseAnswers(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseAnswers(%v) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if len(got) != len(tt.want) {
			t.Errorf("parseAnswers(%v) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for k, v := range tt.want {
			if got[k] != v {
				t.Errorf("parseAnswers(%v)[%q] = %q, want %q", tt.in, k, got[k], v)
			}
		}
	}
}

func TestPrompter_KeepsPartialUntilClear(t *testing.T) {
	cats := domain.CategorySet{"a", "b"}
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader("one\n"), &out)

	if _, ok := p.Answers(cats); ok {
		t.Fatal("expected abandoned prompt")
	}
	// Supply the rest on a new reader; "a" is remembered.
	p.in.Reset(strings.NewReader("two\n"))
	got, ok := p.Answers(cats)
	if !ok || got["a"] != "one" || got["b"] != "two" {
		t.Errorf("Answers() = %v, %v", got, ok)
	}

	p.Clear()
	p.in.Reset(strings.NewReader("x\ny\n"))
	got, _ = p.Answers(cats)
	if got["a"] != "x" {
		t.Errorf("after Clear a = %q, want x", got["a"])
	}
}

func TestTerminalNotifier(t *testing.T) {
	var out bytes.Buffer
	n := &terminalNotifier{out: &out}
	n.Alert(2, t0)
	if !strings.HasPrefix(out.String(), bell) || !strings.Contains(out.String(), "2 reports owed") {
		t.Errorf("alert output = %q", out.String())
	}

	out.Reset()
	n.quiet = true
	n.Alert(1, t0)
	n.Dismiss()
	if strings.Contains(out.String(), bell) {
		t.Error("quiet notifier rang the bell")
	}
	if !strings.Contains(out.String(), "1 report owed") || !strings.Contains(out.String(), "All caught up.") {
		t.Errorf("output = %q", out.String())
	}
}

func TestTickLine(t *testing.T) {
	line := tickLine(engagement.Tick{Text: "12:34", Status: engagement.Status{Level: 7}})
	if !strings.Contains(line, "12:34") || !strings.Contains(line, "level 7") {
		t.Errorf("tickLine = %q", line)
	}
}

func TestKindLabel_Exhaustive(t *testing.T) {
	seen := map[string]bool{}
	for _, k := range []domain.EntryKind{domain.KindRegular, domain.KindRecovery, domain.KindReset, domain.KindUnknown} {
		label := kindLabel(k)
		if label == "" || seen[label] {
			t.Errorf("kindLabel(%v) = %q, want distinct label", k, label)
		}
		seen[label] = true
	}
}

func TestLevelColor_Thresholds(t *testing.T) {
	cyan := color.New(color.FgHiCyan, color.Bold)
	green := color.New(color.FgHiGreen, color.Bold)
	magenta := color.New(color.FgHiMagenta, color.Bold)

	tests := []struct {
		level int
		want  *color.Color
	}{
		{0, cyan},
		{10, cyan},
		{11, green},
		{20, green},
		{21, magenta},
		{150, magenta},
	}
	for _, tt := range tests {
		if got := levelColor(tt.level); !got.Equals(tt.want) {
			t.Errorf("levelColor(%d) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
