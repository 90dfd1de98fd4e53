package magic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/marcus/makemagic/internal/catalog"
	"github.com/marcus/makemagic/internal/logging"
	"github.com/marcus/makemagic/internal/store"
	"github.com/marcus/makemagic/internal/task"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	cat, err := catalog.Load("../catalog/testdata/groupedbfast.json")
	if err != nil {
		t.Fatalf("loading catalog: %v", err)
	}
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	return New(cat, st, opts...)
}

func names(items []task.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

func TestCreateTask(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	tk, err := e.CreateTask(ctx, []string{"coffee"}, map[string]any{"owner": "ops"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if tk.UUID == "" {
		t.Fatal("no uuid generated")
	}
	if !reflect.DeepEqual(tk.Requirements, []string{"coffee"}) {
		t.Errorf("Requirements = %v", tk.Requirements)
	}
	if tk.Metadata["owner"] != "ops" || tk.Metadata[task.MetaCreatedAt] == nil {
		t.Errorf("Metadata = %v", tk.Metadata)
	}
	if _, ok := tk.Item("have_breakfast"); ok {
		t.Error("groups must not appear in a task")
	}
	if _, ok := tk.Item("drink_coffee"); !ok {
		t.Error("drink_coffee should be kept with coffee requirement")
	}
	if !reflect.DeepEqual(tk.Goals(), []string{"go_to_work"}) {
		t.Errorf("Goals = %v", tk.Goals())
	}
	for _, it := range tk.Items {
		if it.State != task.Incomplete {
			t.Errorf("%s starts in %s", it.Name, it.State)
		}
	}

	ids, err := e.Tasks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []string{tk.UUID}) {
		t.Errorf("Tasks = %v", ids)
	}
}

func TestCreateTaskWithoutRequirement(t *testing.T) {
	e := newTestEngine(t)
	tk, err := e.CreateTask(context.Background(), []string{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tk.Item("make_coffee"); ok {
		t.Error("make_coffee should be pruned without coffee")
	}
	walk, _ := tk.Item("walk_out_door")
	if !reflect.DeepEqual(walk.Depends, []string{"eat_breakfast", "get_up"}) {
		t.Errorf("walk_out_door depends = %v", walk.Depends)
	}
}

func TestCreateTaskErrors(t *testing.T) {
	ctx := context.Background()

	e := newTestEngine(t)
	if _, err := e.CreateTask(ctx, nil, nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("nil requirements error = %v", err)
	}

	if _, err := e.CreateTask(ctx, []string{}, map[string]any{"uuid": "fixed"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateTask(ctx, []string{}, map[string]any{"uuid": "fixed"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("duplicate uuid error = %v", err)
	}

	bare := New(nil, store.NewMemory(), WithLogger(logging.Discard()))
	if _, err := bare.CreateTask(ctx, []string{}, nil); !errors.Is(err, ErrNoCatalog) {
		t.Errorf("no catalog error = %v", err)
	}
}

func TestSetCatalog(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	before, err := e.CreateTask(ctx, []string{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	cat, err := catalog.Parse([]byte(`[{"name": "only"}]`))
	if err != nil {
		t.Fatal(err)
	}
	e.SetCatalog(cat)

	after, err := e.CreateTask(ctx, []string{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := names(after.Items); !reflect.DeepEqual(got, []string{"only", catalog.SentinelName}) {
		t.Errorf("new task items = %v", got)
	}
	reloaded, err := e.Task(ctx, before.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.Items) != len(before.Items) {
		t.Errorf("existing task changed after catalog swap: %d items, want %d", len(reloaded.Items), len(before.Items))
	}
}

func TestUpdateItem(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	tk, err := e.CreateTask(ctx, []string{"coffee"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	it, err := e.UpdateItem(ctx, tk.UUID, "wake_up", map[string]any{"state": "IN_PROGRESS", "worker": "w1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if it.State != task.InProgress || it.Data["worker"] != "w1" {
		t.Errorf("item = %+v", it)
	}

	// Nested onlyif that does not hold leaves the item alone.
	it, err = e.UpdateItem(ctx, tk.UUID, "wake_up",
		map[string]any{"state": "COMPLETE", "onlyif": map[string]any{"worker": "w2"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if it.State != task.InProgress {
		t.Errorf("state = %s after failed onlyif", it.State)
	}
	if _, ok := it.Data["onlyif"]; ok {
		t.Error("onlyif must not be written to the item")
	}

	it, _ = e.UpdateItem(ctx, tk.UUID, "wake_up",
		map[string]any{"state": "COMPLETE"}, map[string]any{"worker": "w1"})
	if it.State != task.Complete {
		t.Errorf("state = %s after matching onlyif", it.State)
	}
}

func TestUpdateItemRejects(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	tk, err := e.CreateTask(ctx, []string{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		item    string
		set     map[string]any
		wantErr error
	}{
		{"name", "wake_up", map[string]any{"name": "x"}, ErrImmutableField},
		{"depends", "wake_up", map[string]any{"depends": []string{}}, ErrImmutableField},
		{"if", "wake_up", map[string]any{"if": "coffee"}, ErrImmutableField},
		{"group", "wake_up", map[string]any{"group": "g"}, ErrImmutableField},
		{"contains", "wake_up", map[string]any{"contains": []string{}}, ErrImmutableField},
		{"non-string description", "wake_up", map[string]any{"description": 5}, ErrInvalidInput},
		{"object description", "wake_up", map[string]any{"description": map[string]any{"a": 1}}, ErrInvalidInput},
		{"bad state", "wake_up", map[string]any{"state": "COMPLETED"}, ErrInvalidState},
		{"non-string state", "wake_up", map[string]any{"state": 3}, ErrInvalidState},
		{"onlyif not object", "wake_up", map[string]any{"onlyif": "x"}, ErrInvalidInput},
		{"bad key", "wake_up", map[string]any{`a"b`: 1}, ErrInvalidInput},
		{"unknown item", "nope", map[string]any{"x": 1}, ErrItemNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.UpdateItem(ctx, tk.UUID, tt.item, tt.set, nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := e.UpdateItem(ctx, "nope", "wake_up", map[string]any{"x": 1}, nil); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("unknown task error = %v", err)
	}

	// Rejected writes must leave the task loadable.
	if _, err := e.Task(ctx, tk.UUID); err != nil {
		t.Fatalf("task unreadable after rejected updates: %v", err)
	}
	if _, err := e.ReadyToRun(ctx, tk.UUID); err != nil {
		t.Fatalf("ReadyToRun after rejected updates: %v", err)
	}
	it, err := e.UpdateItem(ctx, tk.UUID, "wake_up", map[string]any{"description": "alarm"}, nil)
	if err != nil {
		t.Fatalf("string description: %v", err)
	}
	if it.Description != "alarm" {
		t.Errorf("description = %q", it.Description)
	}
}

func TestUpdateMetadata(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	tk, err := e.CreateTask(ctx, []string{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	meta, err := e.UpdateMetadata(ctx, tk.UUID, map[string]any{"owner": "ops"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if meta["owner"] != "ops" {
		t.Errorf("metadata = %v", meta)
	}

	meta, _ = e.UpdateMetadata(ctx, tk.UUID,
		map[string]any{"owner": "dev", "onlyif": map[string]any{"owner": "nobody"}}, nil)
	if meta["owner"] != "ops" {
		t.Errorf("metadata changed despite onlyif: %v", meta)
	}

	// Setting uuid to its own value is allowed.
	if _, err := e.UpdateMetadata(ctx, tk.UUID, map[string]any{"uuid": tk.UUID}, nil); err != nil {
		t.Errorf("same uuid rejected: %v", err)
	}
	if _, err := e.UpdateMetadata(ctx, tk.UUID, map[string]any{"uuid": "other"}, nil); !errors.Is(err, ErrImmutableField) {
		t.Errorf("uuid change error = %v", err)
	}
	if _, err := e.UpdateMetadata(ctx, tk.UUID, map[string]any{"requirements": []string{"x"}}, nil); !errors.Is(err, ErrImmutableField) {
		t.Errorf("requirements change error = %v", err)
	}
}

func TestClaimConcurrent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	tk, err := e.CreateTask(ctx, []string{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	const workers = 10
	var wg sync.WaitGroup
	won := make([]bool, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, won[i], errs[i] = e.Claim(ctx, tk.UUID, "wake_up", task.Incomplete, task.InProgress)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := range won {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if won[i] {
			winners++
		}
	}
	if winners != 1 {
		t.Errorf("%d winners, want 1", winners)
	}

	it, err := e.Item(ctx, tk.UUID, "wake_up")
	if err != nil {
		t.Fatal(err)
	}
	if it.State != task.InProgress {
		t.Errorf("state = %s", it.State)
	}
}

func TestUpdateItemState(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	tk, _ := e.CreateTask(ctx, []string{}, nil)

	it, err := e.UpdateItemState(ctx, tk.UUID, "wake_up", task.InProgress, task.Complete)
	if err != nil {
		t.Fatal(err)
	}
	if it.State != task.Incomplete {
		t.Errorf("transition from wrong state applied: %s", it.State)
	}
	it, _ = e.UpdateItemState(ctx, tk.UUID, "wake_up", task.Incomplete, task.Complete)
	if it.State != task.Complete {
		t.Errorf("state = %s", it.State)
	}
}

// TestRunToCompletion drives a task the way a polling worker would.
func TestRunToCompletion(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	tk, err := e.CreateTask(ctx, []string{"coffee"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	var completedOrder []string
	for round := 0; round < 20; round++ {
		avail, err := e.Available(ctx, tk.UUID)
		if err != nil {
			t.Fatal(err)
		}
		if len(avail) == 0 {
			break
		}
		for _, it := range avail {
			if it.IsSentinel() {
				t.Fatal("sentinel must never be offered")
			}
			if _, won, err := e.Claim(ctx, tk.UUID, it.Name, task.Incomplete, task.InProgress); err != nil || !won {
				t.Fatalf("claim %s: won=%v err=%v", it.Name, won, err)
			}
			if _, err := e.UpdateItemState(ctx, tk.UUID, it.Name, task.InProgress, task.Complete); err != nil {
				t.Fatal(err)
			}
			completedOrder = append(completedOrder, it.Name)
		}
	}

	if len(completedOrder) != len(tk.Items)-1 {
		t.Errorf("completed %v, want every non-sentinel item", completedOrder)
	}
	if completedOrder[0] != "wake_up" || completedOrder[len(completedOrder)-1] != "go_to_work" {
		t.Errorf("completion order = %v", completedOrder)
	}

	done, err := e.Task(ctx, tk.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if !done.Complete() {
		t.Error("task should be complete once the last goal finished")
	}
	if done.Metadata[task.MetaCompletedAt] != "2024-03-01T12:00:00Z" {
		t.Errorf("completed_at = %v", done.Metadata[task.MetaCompletedAt])
	}

	again, err := e.CompleteTask(ctx, tk.UUID)
	if err != nil || again {
		t.Errorf("second CompleteTask = %v, %v", again, err)
	}
}

func TestCompleteTaskNotReady(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	tk, _ := e.CreateTask(ctx, []string{}, nil)

	if _, err := e.CompleteTask(ctx, tk.UUID); !errors.Is(err, ErrNotReady) {
		t.Errorf("error = %v, want ErrNotReady", err)
	}
	if _, err := e.CompleteTask(ctx, "nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("error = %v, want ErrTaskNotFound", err)
	}
}

func TestCompleteTaskConcurrent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	cat, _ := catalog.Parse([]byte(`[{"name": "a"}]`))
	e.SetCatalog(cat)
	tk, err := e.CreateTask(ctx, []string{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpdateItemState(ctx, tk.UUID, "a", task.Incomplete, task.Complete); err != nil {
		t.Fatal(err)
	}

	const callers = 6
	var wg sync.WaitGroup
	results := make([]bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = e.CompleteTask(ctx, tk.UUID)
		}(i)
	}
	wg.Wait()

	count := 0
	for _, r := range results {
		if r {
			count++
		}
	}
	if count != 1 {
		t.Errorf("%d callers completed the task, want 1", count)
	}
}

func TestReadyToRunDoesNotWrite(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	cat, _ := catalog.Parse([]byte(`[{"name": "a"}]`))
	e.SetCatalog(cat)
	tk, _ := e.CreateTask(ctx, []string{}, nil)
	_, _ = e.UpdateItemState(ctx, tk.UUID, "a", task.Incomplete, task.Complete)

	ready, err := e.ReadyToRun(ctx, tk.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if !ready.SentinelReady || ready.Finished || len(ready.Items) != 0 {
		t.Errorf("ready = %+v", ready)
	}
	s, _ := e.Item(ctx, tk.UUID, catalog.SentinelName)
	if s.State != task.Incomplete {
		t.Errorf("ReadyToRun changed sentinel to %s", s.State)
	}
}

func TestPurgeFinished(t *testing.T) {
	clock := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEngine(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()
	cat, _ := catalog.Parse([]byte(`[{"name": "a"}]`))
	e.SetCatalog(cat)

	finish := func(id string) {
		t.Helper()
		if _, err := e.CreateTask(ctx, []string{}, map[string]any{"uuid": id}); err != nil {
			t.Fatal(err)
		}
		_, _ = e.UpdateItemState(ctx, id, "a", task.Incomplete, task.Complete)
		if ok, err := e.CompleteTask(ctx, id); err != nil || !ok {
			t.Fatalf("complete %s: %v %v", id, ok, err)
		}
	}

	finish("old")
	clock = clock.Add(48 * time.Hour)
	finish("recent")
	if _, err := e.CreateTask(ctx, []string{}, map[string]any{"uuid": "open"}); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(time.Hour)

	purged, err := e.PurgeFinished(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(purged, []string{"old"}) {
		t.Errorf("purged = %v", purged)
	}
	ids, _ := e.Tasks(ctx)
	if !reflect.DeepEqual(ids, []string{"open", "recent"}) {
		t.Errorf("remaining = %v", ids)
	}
}

func TestPurgeFinishedRestampsCompletion(t *testing.T) {
	clock := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEngine(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()
	cat, _ := catalog.Parse([]byte(`[{"name": "a"}]`))
	e.SetCatalog(cat)

	if _, err := e.CreateTask(ctx, []string{}, map[string]any{"uuid": "lost"}); err != nil {
		t.Fatal(err)
	}
	_, _ = e.UpdateItemState(ctx, "lost", "a", task.Incomplete, task.Complete)
	if ok, err := e.CompleteTask(ctx, "lost"); err != nil || !ok {
		t.Fatalf("complete: %v %v", ok, err)
	}
	// Simulate a completion whose stamp never landed.
	if _, err := e.store.UpdateMetadata(ctx, "lost", map[string]any{task.MetaCompletedAt: nil}, nil); err != nil {
		t.Fatal(err)
	}

	clock = clock.Add(48 * time.Hour)
	purged, err := e.PurgeFinished(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if len(purged) != 0 {
		t.Errorf("purged on first pass = %v", purged)
	}
	meta, err := e.store.Metadata(ctx, "lost")
	if err != nil {
		t.Fatal(err)
	}
	done, ok := CompletedAt(meta)
	if !ok || !done.Equal(clock) {
		t.Fatalf("completed_at = %v %v, want %v", done, ok, clock)
	}

	clock = clock.Add(25 * time.Hour)
	purged, err = e.PurgeFinished(ctx, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(purged, []string{"lost"}) {
		t.Errorf("purged = %v", purged)
	}
}

func TestImportExport(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	tk, err := e.CreateTask(ctx, []string{"coffee"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = e.UpdateItemState(ctx, tk.UUID, "wake_up", task.Incomplete, task.Complete)

	loaded, _ := e.Task(ctx, tk.UUID)
	b, err := json.Marshal(loaded)
	if err != nil {
		t.Fatal(err)
	}

	other := New(nil, store.NewMemory(), WithLogger(logging.Discard()))
	var imported task.Task
	if err := json.Unmarshal(b, &imported); err != nil {
		t.Fatal(err)
	}
	if err := other.ImportTask(ctx, &imported); err != nil {
		t.Fatal(err)
	}
	got, err := other.Task(ctx, tk.UUID)
	if err != nil {
		t.Fatal(err)
	}
	wake, _ := got.Item("wake_up")
	if wake.State != task.Complete {
		t.Errorf("imported wake_up state = %s", wake.State)
	}
	if fmt.Sprint(names(got.Items)) != fmt.Sprint(names(loaded.Items)) {
		t.Errorf("imported items = %v", names(got.Items))
	}

	if err := other.ImportTask(ctx, &imported); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("re-import error = %v", err)
	}
}

func TestDeleteTask(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	tk, _ := e.CreateTask(ctx, []string{}, nil)
	if err := e.DeleteTask(ctx, tk.UUID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Task(ctx, tk.UUID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("error = %v", err)
	}
	if err := e.DeleteTask(ctx, tk.UUID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("second delete error = %v", err)
	}
}
