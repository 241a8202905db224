package ingest

import (
	"context"
	"fmt"

	"github.com/cairnstack/cairn/log"
)

// reconcile aligns the store with the batch: every content ID currently
// stored under base that is neither present in this batch nor listed in a
// keep directive is deleted.
//
// Any listing or deletion failure is fatal for the request (server-class);
// already-committed work is not rolled back.
func (c *Coordinator) reconcile(ctx context.Context, base string, toKeep map[string]struct{}, logger *log.Logger) (int64, error) {
	pager := c.store.List(ctx, base)

	var toDelete []string
	existing := 0
	for {
		page, err := pager.Next(ctx)
		if err != nil {
			return 0, &BatchError{
				Kind: BatchErrorStore,
				Err:  fmt.Errorf("list content under %q: %w", base, err),
			}
		}
		if len(page) == 0 {
			break
		}
		existing += len(page)
		for _, id := range page {
			if _, keep := toKeep[id]; !keep {
				toDelete = append(toDelete, id)
			}
		}
	}

	if len(toDelete) > 0 {
		if err := c.store.Delete(ctx, toDelete); err != nil {
			return 0, &BatchError{
				Kind: BatchErrorStore,
				Err:  fmt.Errorf("delete %d stale content IDs: %w", len(toDelete), err),
			}
		}
	}

	logger.Info("reconciliation complete", map[string]any{
		"base":     base,
		"existing": existing,
		"kept":     existing - len(toDelete),
		"deleted":  len(toDelete),
	})
	return int64(len(toDelete)), nil
}
