package task

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/marcus/makemagic/internal/catalog"
	"github.com/marcus/makemagic/internal/deps"
	"github.com/marcus/makemagic/internal/digraph"
	"github.com/marcus/makemagic/internal/predicate"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		in      string
		want    State
		wantErr bool
	}{
		{"INCOMPLETE", Incomplete, false},
		{"IN_PROGRESS", InProgress, false},
		{"FAILED", Failed, false},
		{"CANNOT_AUTOMATE", CannotAutomate, false},
		{"COMPLETE", Complete, false},
		{"COMPLETED", "", true},
		{"complete", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseState(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseState(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrInvalidState) {
				t.Errorf("error = %v, want ErrInvalidState", err)
			}
			if got != tt.want {
				t.Errorf("ParseState(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestItemJSON(t *testing.T) {
	it := Item{
		Name:    "deploy",
		Depends: []string{"build"},
		State:   InProgress,
		Data:    map[string]any{"owner": "ops"},
	}
	b, err := json.Marshal(it)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["owner"] != "ops" || doc["state"] != "IN_PROGRESS" || doc["name"] != "deploy" {
		t.Errorf("document not flat: %v", doc)
	}
	if _, ok := doc["description"]; ok {
		t.Error("empty description should be omitted")
	}

	var back Item
	if err := json.Unmarshal([]byte(`{"name": "x", "state": "COMPLETE", "if": "coffee", "group": "g", "note": "hi"}`), &back); err != nil {
		t.Fatal(err)
	}
	if back.State != Complete || back.Data["note"] != "hi" {
		t.Errorf("decoded %+v", back)
	}
	if _, ok := back.Data["if"]; ok {
		t.Error("reserved keys must not enter Data")
	}

	if err := json.Unmarshal([]byte(`{"name": "x", "state": "DONE"}`), &back); !errors.Is(err, ErrInvalidState) {
		t.Errorf("error = %v, want ErrInvalidState", err)
	}
	if err := json.Unmarshal([]byte(`{"state": "COMPLETE"}`), &back); err == nil {
		t.Error("document without name should fail")
	}
}

func TestDecodeItemDefaultsState(t *testing.T) {
	it, err := DecodeItem(map[string]any{"name": "a", "depends": []any{"b"}})
	if err != nil {
		t.Fatal(err)
	}
	if it.State != Incomplete || !reflect.DeepEqual(it.Depends, []string{"b"}) {
		t.Errorf("decoded %+v", it)
	}
}

func breakfastItems() []Item {
	return []Item{
		{Name: "wake_up", State: Complete},
		{Name: "get_up", Depends: []string{"wake_up"}, State: Complete},
		{Name: "make_breakfast", Depends: []string{"get_up"}, State: Incomplete},
		{Name: "eat_breakfast", Depends: []string{"make_breakfast"}, State: Incomplete},
		{Name: catalog.SentinelName, Depends: []string{"eat_breakfast"}, State: Incomplete},
	}
}

func names(items []Item) []string {
	var out []string
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

func TestReadyToRun(t *testing.T) {
	items := breakfastItems()
	ready, err := ReadyToRun(items)
	if err != nil {
		t.Fatalf("ReadyToRun error: %v", err)
	}
	if got := names(ready.Items); !reflect.DeepEqual(got, []string{"make_breakfast"}) {
		t.Errorf("ready = %v, want [make_breakfast]", got)
	}
	if ready.SentinelReady || ready.Finished {
		t.Error("task should not be done yet")
	}

	// In-progress and failed items are not ready, and block dependents.
	items[2].State = InProgress
	ready, _ = ReadyToRun(items)
	if len(ready.Items) != 0 {
		t.Errorf("ready = %v, want none", names(ready.Items))
	}

	items[2].State = Complete
	items[3].State = Complete
	ready, _ = ReadyToRun(items)
	if len(ready.Items) != 0 || !ready.SentinelReady {
		t.Errorf("ready = %v sentinelReady=%v, want only the sentinel", names(ready.Items), ready.SentinelReady)
	}

	items[4].State = Complete
	ready, _ = ReadyToRun(items)
	if ready.SentinelReady || !ready.Finished || len(ready.Items) != 0 {
		t.Errorf("finished task: %+v", ready)
	}
}

func TestReadyToRunErrors(t *testing.T) {
	_, err := ReadyToRun([]Item{{Name: "a", Depends: []string{"ghost"}}})
	if !errors.Is(err, digraph.ErrDanglingEdge) {
		t.Errorf("error = %v, want ErrDanglingEdge", err)
	}
	_, err = ReadyToRun([]Item{
		{Name: "a", Depends: []string{"b"}},
		{Name: "b", Depends: []string{"a"}},
	})
	if !errors.Is(err, digraph.ErrCycle) {
		t.Errorf("error = %v, want ErrCycle", err)
	}
}

func TestNewFromResolution(t *testing.T) {
	cat, err := catalog.Parse([]byte(`[
		{"name": "a", "owner": "ops"},
		{"name": "b", "depends": ["a"], "description": "second"}
	]`))
	if err != nil {
		t.Fatal(err)
	}
	res, err := deps.Resolve(cat, predicate.NewRequirements("y", "x"))
	if err != nil {
		t.Fatal(err)
	}

	tk := New(res, "", map[string]any{"uuid": "forged", "requirements": "forged", "who": "me"})
	if tk.UUID == "" || tk.UUID == "forged" {
		t.Errorf("UUID = %q, want a generated uuid", tk.UUID)
	}
	if tk.Metadata[MetaUUID] != tk.UUID || tk.Metadata["who"] != "me" {
		t.Errorf("metadata = %v", tk.Metadata)
	}
	if !reflect.DeepEqual(RequirementsOf(tk.Metadata), []string{"x", "y"}) {
		t.Errorf("requirements = %v", tk.Metadata[MetaRequirements])
	}
	if got := names(tk.Items); !reflect.DeepEqual(got, []string{"a", "b", catalog.SentinelName}) {
		t.Errorf("items = %v", got)
	}
	for _, it := range tk.Items {
		if it.State != Incomplete {
			t.Errorf("%s state = %s", it.Name, it.State)
		}
	}
	a, _ := tk.Item("a")
	if a.Data["owner"] != "ops" {
		t.Errorf("template data not copied: %v", a.Data)
	}
	if !reflect.DeepEqual(tk.Goals(), []string{"b"}) {
		t.Errorf("Goals = %v", tk.Goals())
	}

	fixed := New(res, "abc", nil)
	if fixed.UUID != "abc" {
		t.Errorf("UUID = %q, want abc", fixed.UUID)
	}
}

func TestFromDocuments(t *testing.T) {
	meta := map[string]any{"uuid": "t1", "requirements": []any{"b", "a"}}

	tk, err := FromDocuments(breakfastItems(), meta)
	if err != nil {
		t.Fatalf("FromDocuments error: %v", err)
	}
	if tk.UUID != "t1" || !reflect.DeepEqual(tk.Requirements, []string{"a", "b"}) {
		t.Errorf("task = %+v", tk)
	}
	if tk.Complete() {
		t.Error("task should not be complete")
	}

	tests := []struct {
		name  string
		items []Item
		meta  map[string]any
		want  error
	}{
		{"no uuid", breakfastItems(), map[string]any{}, ErrNoUUID},
		{"no sentinel", breakfastItems()[:4], meta, ErrSentinel},
		{"two sentinels", append(breakfastItems(), Item{Name: catalog.SentinelName}), meta, ErrDuplicate},
		{"dangling", append(breakfastItems(), Item{Name: "z", Depends: []string{"ghost"}}), meta, digraph.ErrDanglingEdge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := FromDocuments(tt.items, tt.meta); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCounts(t *testing.T) {
	counts := Counts(breakfastItems())
	if counts[Complete] != 2 || counts[Incomplete] != 2 {
		t.Errorf("Counts = %v", counts)
	}
}
