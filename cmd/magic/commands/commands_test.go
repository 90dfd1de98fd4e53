package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{
		"state=COMPLETE",
		"count=3",
		"ok=true",
		`owner={"name":"ops"}`,
		"note=a=b",
		"empty=",
	})
	if err != nil {
		t.Fatalf("parseAssignments: %v", err)
	}
	want := map[string]any{
		"state": "COMPLETE",
		"count": float64(3),
		"ok":    true,
		"owner": map[string]any{"name": "ops"},
		"note":  "a=b",
		"empty": "",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("parseAssignments = %#v\nwant %#v", got, want)
	}

	for _, bad := range []string{"noequals", "=value"} {
		if _, err := parseAssignments([]string{bad}); err == nil {
			t.Errorf("parseAssignments(%q) should fail", bad)
		}
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{"hello", "hello"},
		{`"quoted"`, "quoted"},
		{"1.5", 1.5},
		{"null", nil},
		{"[1,2]", []any{float64(1), float64(2)}},
		{"{broken", "{broken"},
	}
	for _, tt := range tests {
		if got := parseValue(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseValue(%q) = %#v, want %#v", tt.raw, got, tt.want)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := splitList([]string{"coffee, hungry", "", " late ,"})
	if !reflect.DeepEqual(got, []string{"coffee", "hungry", "late"}) {
		t.Fatalf("splitList = %v", got)
	}
	if got := splitList(nil); got == nil || len(got) != 0 {
		t.Fatalf("splitList(nil) = %#v, want empty non-nil", got)
	}
}

func TestFormatLogLevel(t *testing.T) {
	tests := map[string]string{
		"debug": "DBG",
		"info":  "INF",
		"warn":  "WRN",
		"error": "ERR",
		"fatal": "FAT",
		"":      "???",
	}
	for in, want := range tests {
		if got := formatLogLevel(in); got != want {
			t.Errorf("formatLogLevel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReadLastLines(t *testing.T) {
	dir := t.TempDir()
	older := filepath.Join(dir, "magic-2024-01-01.log")
	newer := filepath.Join(dir, "magic-2024-01-02.log")
	if err := os.WriteFile(older, []byte("a\nb\nc\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(newer, []byte("d\ne\n"), 0644); err != nil {
		t.Fatal(err)
	}

	all := func(string) bool { return true }
	got := readLastLines([]string{newer, older}, 3, all)
	if !reflect.DeepEqual(got, []string{"c", "d", "e"}) {
		t.Fatalf("readLastLines = %v", got)
	}

	noB := func(l string) bool { return l != "b" && l != "c" }
	got = readLastLines([]string{newer, older}, 3, noB)
	if !reflect.DeepEqual(got, []string{"a", "d", "e"}) {
		t.Fatalf("filtered readLastLines = %v", got)
	}
}

func TestLogPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := logPrinter{out: &buf, task: "t1"}

	line := `{"level":"info","time":"2024-03-01T12:00:00Z","message":"task created","component":"engine","task":"t1"}`
	if !p.keep(line) {
		t.Fatal("entry for t1 should be kept")
	}
	if p.keep(`{"level":"info","message":"x","task":"t2"}`) {
		t.Fatal("entry for t2 should be dropped")
	}

	p.print(line)
	if got := buf.String(); got != "12:00:00 INF [engine] task created\n" {
		t.Fatalf("print = %q", got)
	}

	buf.Reset()
	p.print("not json")
	if buf.String() != "not json\n" {
		t.Fatalf("raw print = %q", buf.String())
	}
}

// writeTestConfig points a config file at a temp store and the shared
// breakfast catalog.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	catalogPath, err := filepath.Abs("../../../internal/catalog/testdata/groupedbfast.json")
	if err != nil {
		t.Fatal(err)
	}
	cfg := fmt.Sprintf(`catalog:
  path: %s
store:
  driver: sqlite
  path: %s
logging:
  path: %s
maintenance:
  purge_cron: ""
`, catalogPath, filepath.Join(dir, "magic.db"), filepath.Join(dir, "logs"))

	path := filepath.Join(dir, "magic.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestCommandsEndToEnd(t *testing.T) {
	cfgPath := writeTestConfig(t)
	exportPath := filepath.Join(t.TempDir(), "t1.json")
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	steps := []struct {
		args []string
		want string
	}{
		{[]string{"catalog", "check"}, "groupedbfast.json"},
		{[]string{"catalog", "order", "--require", "coffee", "go_to_work"}, "go_to_work <- "},
		{[]string{"task", "create", "--require", "coffee", "--uuid", "t1"}, "created task t1"},
		{[]string{"task", "list"}, "t1"},
		{[]string{"item", "claim", "t1", "wake_up"}, "claimed wake_up: INCOMPLETE -> IN_PROGRESS"},
		{[]string{"item", "update", "t1", "wake_up", "state=COMPLETE", "--onlyif", "state=IN_PROGRESS"}, `"state": "COMPLETE"`},
		{[]string{"task", "ready", "t1", "--json"}, `"name": "get_up"`},
		{[]string{"watch", "t1", "--once"}, "ready: get_up"},
		{[]string{"task", "export", "t1", "-o", exportPath}, "exported task t1"},
		{[]string{"task", "delete", "t1"}, "deleted task t1"},
		{[]string{"task", "import", exportPath}, "imported task t1"},
		{[]string{"task", "show", "t1"}, "wake_up"},
		{[]string{"stats"}, "Total:        1"},
	}

	for _, step := range steps {
		args := append([]string{"--config", cfgPath}, step.args...)
		out, err := execute(t, args...)
		if err != nil {
			t.Fatalf("magic %s: %v\n%s", strings.Join(step.args, " "), err, out)
		}
		if !strings.Contains(out, step.want) {
			t.Fatalf("magic %s output missing %q:\n%s", strings.Join(step.args, " "), step.want, out)
		}
	}
}
