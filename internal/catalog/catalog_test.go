package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/marcus/makemagic/internal/logging"
	"github.com/marcus/makemagic/internal/predicate"
)

func loadBreakfast(t *testing.T) *Catalog {
	t.Helper()
	cat, err := Load(filepath.Join("testdata", "groupedbfast.json"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return cat
}

func TestLoadGroupedBreakfast(t *testing.T) {
	cat := loadBreakfast(t)

	if cat.Len() != 9 {
		t.Errorf("Len() = %d, want 9", cat.Len())
	}
	if got := cat.Groups(); !reflect.DeepEqual(got, []string{"have_breakfast"}) {
		t.Errorf("Groups() = %v", got)
	}
	if len(cat.Items()) != 8 {
		t.Errorf("Items() = %v, want 8 items", cat.Items())
	}

	coffee, ok := cat.Lookup("make_coffee")
	if !ok {
		t.Fatal("make_coffee not found")
	}
	if !coffee.Predicate().Eval(predicate.NewRequirements("coffee", "tv")) {
		t.Error("make_coffee should be relevant when coffee is wanted")
	}
	if coffee.Predicate().Eval(predicate.NewRequirements("fish", "tv")) {
		t.Error("make_coffee should not be relevant without coffee")
	}

	work, _ := cat.Lookup("go_to_work")
	if work.Description() != "Leave to go to work" {
		t.Errorf("description = %q", work.Description())
	}
	if !predicate.IsDefault(work.Predicate()) {
		t.Error("go_to_work should use the default predicate")
	}

	if got := cat.Summary(); got != "8 items, 1 groups, predicates [coffee]" {
		t.Errorf("Summary() = %q", got)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"wake_up", "wake_up"},
		{"wake up!", "wakeup"},
		{"9lives", "_9lives"},
		{"go-to-work", "gotowork"},
		{"***", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizedReferences(t *testing.T) {
	cat, err := Parse([]byte(`[
		{"name": "wake up"},
		{"name": "get-up", "depends": ["wake up"]}
	]`))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	getUp, ok := cat.Lookup("getup")
	if !ok {
		t.Fatalf("getup missing from %v", cat.Names())
	}
	if !reflect.DeepEqual(getUp.Depends(), []string{"wakeup"}) {
		t.Errorf("Depends() = %v", getUp.Depends())
	}
}

func TestDefinitionErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		problem string
	}{
		{"neither name nor group", `[{"depends": []}]`, "neither name nor group"},
		{"both name and group", `[{"name": "a", "group": "b", "contains": ["a"]}]`, "both name"},
		{"undefined dependency", `[{"name": "a", "depends": ["ghost"]}]`, `depends on undefined "ghost"`},
		{"undefined member", `[{"name": "a"}, {"group": "g", "contains": ["a", "ghost"]}]`, `contains undefined "ghost"`},
		{"duplicate", `[{"name": "a"}, {"name": "a"}]`, `duplicate identity "a"`},
		{"group without contains", `[{"group": "g"}]`, "no contains key"},
		{"group with empty contains", `[{"group": "g", "contains": []}]`, "contains list is empty"},
		{"item with contains", `[{"name": "a", "contains": ["a"]}]`, "cannot have contains"},
		{"sentinel reserved", `[{"name": "TaskComplete"}]`, "reserved for the completion sentinel"},
		{"bad predicate", `[{"name": "a", "if": "coffee and"}]`, `"a"`},
		{"reserved data key", `[{"name": "a", "state": "COMPLETE"}]`, `data key "state" is reserved`},
		{"no identifier characters", `[{"name": "!!"}]`, "no identifier characters"},
		{"not a list", `{"name": "a"}`, "parsing json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if !errors.Is(err, ErrDefinition) {
				t.Fatalf("error = %v, want ErrDefinition", err)
			}
			if !strings.Contains(err.Error(), tt.problem) {
				t.Errorf("error %q does not mention %q", err, tt.problem)
			}
		})
	}
}

func TestAllProblemsReported(t *testing.T) {
	_, err := Parse([]byte(`[
		{"name": "a", "depends": ["x"]},
		{"name": "b", "depends": ["y"]}
	]`))
	var de *DefinitionError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *DefinitionError", err)
	}
	if len(de.Problems) != 2 {
		t.Errorf("Problems = %v, want 2 entries", de.Problems)
	}
}

func TestExtraKeysBecomeData(t *testing.T) {
	cat, err := Parse([]byte(`[{"name": "deploy", "owner": "ops", "retries": 3}]`))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	deploy, _ := cat.Lookup("deploy")
	data := deploy.Data()
	if data["owner"] != "ops" {
		t.Errorf("owner = %v", data["owner"])
	}
	if data["retries"] != json.Number("3") {
		t.Errorf("retries = %#v, want json.Number(\"3\")", data["retries"])
	}
	data["owner"] = "changed"
	if d := deploy.Data(); d["owner"] != "ops" {
		t.Error("Data() should return a copy")
	}
}

func TestDataKeepsLargeIntegers(t *testing.T) {
	cat, err := Parse([]byte(`[{"name": "deploy", "build": 9007199254740993, "limits": {"max": 9007199254740995}}]`))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	deploy, _ := cat.Lookup("deploy")
	data := deploy.Data()
	if data["build"] != json.Number("9007199254740993") {
		t.Errorf("build = %#v", data["build"])
	}
	limits, ok := data["limits"].(map[string]any)
	if !ok || limits["max"] != json.Number("9007199254740995") {
		t.Errorf("limits = %#v", data["limits"])
	}

	out, err := cat.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON error: %v", err)
	}
	if !bytes.Contains(out, []byte("9007199254740993")) {
		t.Errorf("marshalled catalog lost precision:\n%s", out)
	}
}

func TestRoundTrip(t *testing.T) {
	cat := loadBreakfast(t)
	out, err := cat.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON error: %v", err)
	}
	again, err := Parse(out)
	if err != nil {
		t.Fatalf("re-Parse error: %v\n%s", err, out)
	}

	first, err := cat.Definitions()
	if err != nil {
		t.Fatal(err)
	}
	second, err := again.Definitions()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("round trip changed definitions:\n%v\n%v", first, second)
	}
}

func TestNativePredicateNotSerializable(t *testing.T) {
	cat, err := New(NewItem("custom", WithPredicate(predicate.Func(func(predicate.Requirements) bool {
		return true
	}))))
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if _, err := cat.MarshalJSON(); !errors.Is(err, predicate.ErrNotSerializable) {
		t.Errorf("error = %v, want ErrNotSerializable", err)
	}
}

func TestClosure(t *testing.T) {
	cat := loadBreakfast(t)
	got := cat.Closure("walk_out_door")
	want := []string{
		"drink_coffee", "eat_breakfast", "get_up", "have_breakfast",
		"make_breakfast", "make_coffee", "wake_up", "walk_out_door",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Closure = %v, want %v", got, want)
	}
	if got := cat.Closure("nobody"); len(got) != 0 {
		t.Errorf("Closure(unknown) = %v", got)
	}
}

func TestLint(t *testing.T) {
	if issues := loadBreakfast(t).Lint(); len(issues) != 0 {
		t.Errorf("clean catalog has issues: %v", issues)
	}

	cyclic, err := Parse([]byte(`[
		{"name": "a", "depends": ["b"]},
		{"name": "b", "depends": ["a"]},
		{"name": "leaf"},
		{"group": "g1", "contains": ["g2", "leaf"]},
		{"group": "g2", "contains": ["g1"]}
	]`))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	issues := cyclic.Lint()
	var dep, member bool
	for _, issue := range issues {
		s := issue.String()
		if strings.HasPrefix(s, "group membership:") {
			member = true
		} else if strings.Contains(s, "dependency cycle") {
			dep = true
		}
	}
	if !dep || !member {
		t.Errorf("Lint() = %v, want dependency and membership cycles", issues)
	}

	panicky, err := New(NewItem("boom", WithPredicate(predicate.Func(func(predicate.Requirements) bool {
		panic("no")
	}))))
	if err != nil {
		t.Fatal(err)
	}
	if issues := panicky.Lint(); len(issues) != 1 || issues[0].Name != "boom" {
		t.Errorf("Lint() = %v, want one issue for boom", issues)
	}
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "items.json")
	if err := os.WriteFile(path, []byte(`[{"name": "a"}]`), 0644); err != nil {
		t.Fatal(err)
	}

	loaded := make(chan *Catalog, 16)
	failed := make(chan error, 16)
	w := NewWatcher(path,
		func(c *Catalog) {
			select {
			case loaded <- c:
			default:
			}
		},
		WithDebounce(20*time.Millisecond),
		WithErrorHandler(func(err error) {
			select {
			case failed <- err:
			default:
			}
		}),
		WithLogger(logging.Discard()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Keep rewriting until the watcher is registered and reacts.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	write := func(doc string) {
		if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
			t.Fatal(err)
		}
	}

	write(`[{"name": "a"}, {"name": "b", "depends": ["a"]}]`)
wait:
	for {
		select {
		case c := <-loaded:
			if c.Len() == 2 {
				break wait
			}
		case <-tick.C:
			write(`[{"name": "a"}, {"name": "b", "depends": ["a"]}]`)
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}

	// Drain anything left over from the first phase.
	for len(failed) > 0 {
		<-failed
	}
	write(`[{"name": "a", "depends": ["ghost"]}]`)
	for {
		select {
		case err := <-failed:
			if !errors.Is(err, ErrDefinition) {
				t.Errorf("reload error = %v, want ErrDefinition", err)
			}
			return
		case c := <-loaded:
			if c.Len() != 2 {
				t.Fatalf("invalid catalog was loaded: %v", c.Names())
			}
		case <-tick.C:
			write(`[{"name": "a", "depends": ["ghost"]}]`)
		case <-deadline:
			t.Fatal("timed out waiting for rejected reload")
		}
	}
}
