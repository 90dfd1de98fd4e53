package magic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/makemagic/internal/catalog"
	"github.com/marcus/makemagic/internal/store"
	"github.com/marcus/makemagic/internal/task"
)

func newToken() string {
	return uuid.NewString()
}

// UpdateItem sets fields on an item, only if every field in onlyif (plus
// any object nested under "onlyif" in set) currently matches. Structural
// fields cannot be set and a state must be one of the allowed values. The
// item is returned as it is after the attempt; a failed match is not an
// error.
func (e *Engine) UpdateItem(ctx context.Context, id, name string, set, onlyif map[string]any) (task.Item, error) {
	fields, match, err := splitOnlyIf(set, onlyif)
	if err != nil {
		return task.Item{}, err
	}
	for _, k := range immutableItemFields {
		if _, ok := fields[k]; ok {
			return task.Item{}, fmt.Errorf("%w: cannot modify item attribute %q", ErrImmutableField, k)
		}
	}
	if v, ok := fields[task.KeyState]; ok {
		s, isString := v.(string)
		if !isString {
			return task.Item{}, fmt.Errorf("%w: state must be a string", ErrInvalidState)
		}
		if _, err := task.ParseState(s); err != nil {
			return task.Item{}, err
		}
	}
	if v, ok := fields[catalog.KeyDescription]; ok && v != nil {
		if _, isString := v.(string); !isString {
			return task.Item{}, fmt.Errorf("%w: description must be a string", ErrInvalidInput)
		}
	}

	doc, err := e.store.UpdateItem(ctx, id, name, fields, match)
	if err != nil {
		return task.Item{}, storeErr(err)
	}
	return task.DecodeItem(doc)
}

// UpdateItemState moves an item from one state to another. It does not tell
// the caller whether its own write applied; use Claim for that.
func (e *Engine) UpdateItemState(ctx context.Context, id, name string, from, to task.State) (task.Item, error) {
	return e.UpdateItem(ctx, id, name,
		map[string]any{task.KeyState: string(to)},
		map[string]any{task.KeyState: string(from)})
}

// Claim is UpdateItemState paired with a token unique to this call. won is
// true only if this call's write is the one that applied.
func (e *Engine) Claim(ctx context.Context, id, name string, from, to task.State) (item task.Item, won bool, err error) {
	tok := e.token()
	item, err = e.UpdateItem(ctx, id, name,
		map[string]any{task.KeyState: string(to), TokenKey: tok},
		map[string]any{task.KeyState: string(from)})
	if err != nil {
		return task.Item{}, false, err
	}
	return item, item.Data[TokenKey] == tok, nil
}

// UpdateMetadata sets task metadata under the same conditional rules as
// items. The uuid and requirements of a task cannot change.
func (e *Engine) UpdateMetadata(ctx context.Context, id string, set, onlyif map[string]any) (map[string]any, error) {
	fields, match, err := splitOnlyIf(set, onlyif)
	if err != nil {
		return nil, err
	}
	if v, ok := fields[task.MetaUUID]; ok && v != id {
		return nil, fmt.Errorf("%w: cannot change uuid for a task", ErrImmutableField)
	}
	if _, ok := fields[task.MetaRequirements]; ok {
		return nil, fmt.Errorf("%w: requirements are fixed at creation", ErrImmutableField)
	}

	doc, err := e.store.UpdateMetadata(ctx, id, fields, match)
	if err != nil {
		return nil, storeErr(err)
	}
	return doc, nil
}

// ReadyToRun reports which items can start now. It never writes.
func (e *Engine) ReadyToRun(ctx context.Context, id string) (task.Ready, error) {
	t, err := e.Task(ctx, id)
	if err != nil {
		return task.Ready{}, err
	}
	return task.ReadyToRun(t.Items)
}

// Available is ReadyToRun for pollers: when every goal is complete it
// completes the task first, then returns the ready items.
func (e *Engine) Available(ctx context.Context, id string) ([]task.Item, error) {
	ready, err := e.ReadyToRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if ready.SentinelReady {
		if _, err := e.CompleteTask(ctx, id); err != nil && !errors.Is(err, ErrNotReady) {
			return nil, err
		}
		if ready, err = e.ReadyToRun(ctx, id); err != nil {
			return nil, err
		}
	}
	if ready.Items == nil {
		return []task.Item{}, nil
	}
	return ready.Items, nil
}

// CompleteTask marks the sentinel COMPLETE once every goal is COMPLETE and
// stamps completed_at in the metadata. completed is false when the task was
// already complete or another caller completed it first.
func (e *Engine) CompleteTask(ctx context.Context, id string) (completed bool, err error) {
	ready, err := e.ReadyToRun(ctx, id)
	if err != nil {
		return false, err
	}
	if ready.Finished {
		return false, nil
	}
	if !ready.SentinelReady {
		return false, fmt.Errorf("%w: %s", ErrNotReady, id)
	}

	_, won, err := e.Claim(ctx, id, catalog.SentinelName, task.Incomplete, task.Complete)
	if err != nil || !won {
		return false, err
	}

	stamp, err := e.stampCompleted(ctx, id)
	if err != nil {
		return true, err
	}
	e.log.WithTask(id).InfoCtx("task complete", map[string]any{"completed_at": stamp})
	return true, nil
}

// stampCompleted writes completed_at unless a stamp is already present.
// PurgeFinished calls it again for tasks whose first stamp never landed.
func (e *Engine) stampCompleted(ctx context.Context, id string) (string, error) {
	stamp := e.now().UTC().Format(time.RFC3339)
	if _, err := e.store.UpdateMetadata(ctx, id,
		map[string]any{task.MetaCompletedAt: stamp},
		map[string]any{task.MetaCompletedAt: nil}); err != nil {
		return "", storeErr(err)
	}
	return stamp, nil
}

func storeErr(err error) error {
	if errors.Is(err, store.ErrInvalidKey) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return err
}
