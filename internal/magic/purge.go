package magic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marcus/makemagic/internal/catalog"
	"github.com/marcus/makemagic/internal/task"
)

// PurgeFinished deletes tasks whose completed_at is older than retention.
// Tasks that never completed are kept regardless of age. A task whose
// sentinel is COMPLETE but carries no stamp is stamped now and becomes
// eligible once retention has passed. It returns the uuids removed.
func (e *Engine) PurgeFinished(ctx context.Context, retention time.Duration) ([]string, error) {
	ids, err := e.store.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}

	cutoff := e.now().Add(-retention)
	var purged []string
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		meta, err := e.store.Metadata(ctx, id)
		if errors.Is(err, ErrTaskNotFound) {
			continue
		}
		if err != nil {
			return purged, err
		}
		done, ok := CompletedAt(meta)
		if !ok {
			if err := e.restamp(ctx, id); err != nil {
				return purged, err
			}
			continue
		}
		if done.After(cutoff) {
			continue
		}
		if err := e.store.DeleteTask(ctx, id); err != nil && !errors.Is(err, ErrTaskNotFound) {
			return purged, err
		}
		purged = append(purged, id)
	}

	if len(purged) > 0 {
		e.log.InfoCtx("purged finished tasks", map[string]any{
			"count":     len(purged),
			"retention": retention.String(),
		})
	}
	return purged, nil
}

// restamp stamps completed_at on a task whose sentinel is already COMPLETE.
func (e *Engine) restamp(ctx context.Context, id string) error {
	doc, err := e.store.Item(ctx, id, catalog.SentinelName)
	if errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrItemNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if doc[task.KeyState] != string(task.Complete) {
		return nil
	}
	stamp, err := e.stampCompleted(ctx, id)
	if err != nil {
		return fmt.Errorf("stamping %s: %w", id, err)
	}
	e.log.WithTask(id).WarnCtx("completed task had no completed_at", map[string]any{"completed_at": stamp})
	return nil
}

// CompletedAt parses the completed_at metadata stamp.
func CompletedAt(meta map[string]any) (time.Time, bool) {
	s, _ := meta[task.MetaCompletedAt].(string)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
