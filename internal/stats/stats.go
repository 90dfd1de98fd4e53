// Package stats computes aggregate statistics over stored tasks.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/marcus/makemagic/internal/task"
)

// Duration wraps time.Duration for clean JSON serialization as seconds.
type Duration struct {
	time.Duration
}

// MarshalJSON serializes Duration as integer seconds.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(d.Seconds()))
}

// UnmarshalJSON deserializes Duration from integer seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var secs int64
	if err := json.Unmarshal(b, &secs); err != nil {
		return err
	}
	d.Duration = time.Duration(secs) * time.Second
	return nil
}

// String returns a human-readable duration string.
func (d Duration) String() string {
	dur := d.Duration
	if dur < time.Minute {
		return fmt.Sprintf("%ds", int(dur.Seconds()))
	}
	if dur < time.Hour {
		return fmt.Sprintf("%dm %ds", int(dur.Minutes()), int(dur.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(dur.Hours()), int(dur.Minutes())%60)
}

// Result holds all computed statistics, JSON-serializable.
type Result struct {
	// Task overview
	TotalTasks     int        `json:"total_tasks"`
	OpenTasks      int        `json:"open_tasks"`
	CompletedTasks int        `json:"completed_tasks"`
	FirstCreatedAt *time.Time `json:"first_created_at,omitempty"`
	LastCreatedAt  *time.Time `json:"last_created_at,omitempty"`

	// Time from created_at to completed_at, completed tasks only
	AvgCompletion Duration `json:"avg_completion"`
	MaxCompletion Duration `json:"max_completion"`

	// Items across every task, sentinel excluded
	TotalItems  int            `json:"total_items"`
	ItemStates  map[string]int `json:"item_states"`
	Blocked     int            `json:"blocked_tasks"` // open, nothing ready, goals not done
	Unreadable  int            `json:"unreadable_tasks,omitempty"`

	RequirementBreakdown []RequirementStats `json:"requirement_breakdown,omitempty"`
}

// RequirementStats counts tasks created with one requirement.
type RequirementStats struct {
	Name      string `json:"name"`
	Tasks     int    `json:"tasks"`
	Completed int    `json:"completed"`
}

// Source is the slice of the engine stats reads from.
type Source interface {
	Tasks(ctx context.Context) ([]string, error)
	Task(ctx context.Context, uuid string) (*task.Task, error)
}

// ErrNoSource is returned when Compute has nothing to read.
var ErrNoSource = errors.New("stats: no task source")

// Stats computes aggregate statistics from a task source.
type Stats struct {
	src Source
}

// New creates a Stats instance.
func New(src Source) *Stats {
	return &Stats{src: src}
}

// Compute walks every stored task. Tasks deleted or unreadable mid-walk
// are counted in Unreadable and otherwise ignored.
func (s *Stats) Compute(ctx context.Context) (*Result, error) {
	if s.src == nil {
		return nil, ErrNoSource
	}
	ids, err := s.src.Tasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}

	result := &Result{ItemStates: make(map[string]int, len(task.States))}
	for _, st := range task.States {
		result.ItemStates[string(st)] = 0
	}
	reqs := make(map[string]*RequirementStats)

	var totalCompletion time.Duration
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, err := s.src.Task(ctx, id)
		if err != nil {
			result.Unreadable++
			continue
		}
		result.TotalTasks++
		done := t.Complete()
		if done {
			result.CompletedTasks++
		} else {
			result.OpenTasks++
		}

		for st, n := range task.Counts(t.Items) {
			result.ItemStates[string(st)] += n
			result.TotalItems += n
		}

		created, hasCreated := timestamp(t.Metadata, task.MetaCreatedAt)
		if hasCreated {
			if result.FirstCreatedAt == nil || created.Before(*result.FirstCreatedAt) {
				c := created
				result.FirstCreatedAt = &c
			}
			if result.LastCreatedAt == nil || created.After(*result.LastCreatedAt) {
				c := created
				result.LastCreatedAt = &c
			}
		}
		if completed, ok := timestamp(t.Metadata, task.MetaCompletedAt); ok && hasCreated && done {
			d := completed.Sub(created)
			totalCompletion += d
			if d > result.MaxCompletion.Duration {
				result.MaxCompletion = Duration{d}
			}
		}

		if !done {
			if ready, err := task.ReadyToRun(t.Items); err == nil && len(ready.Items) == 0 && !ready.SentinelReady {
				result.Blocked++
			}
		}

		for _, r := range t.Requirements {
			rs, ok := reqs[r]
			if !ok {
				rs = &RequirementStats{Name: r}
				reqs[r] = rs
			}
			rs.Tasks++
			if done {
				rs.Completed++
			}
		}
	}

	if result.CompletedTasks > 0 {
		result.AvgCompletion = Duration{totalCompletion / time.Duration(result.CompletedTasks)}
	}

	for _, rs := range reqs {
		result.RequirementBreakdown = append(result.RequirementBreakdown, *rs)
	}
	sort.Slice(result.RequirementBreakdown, func(i, j int) bool {
		a, b := result.RequirementBreakdown[i], result.RequirementBreakdown[j]
		if a.Tasks != b.Tasks {
			return a.Tasks > b.Tasks
		}
		return a.Name < b.Name
	})

	return result, nil
}

func timestamp(meta map[string]any, key string) (time.Time, bool) {
	s, _ := meta[key].(string)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
