package backup

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	snapshotPrefix = "storyline-snapshot-"
	snapshotExt    = ".json"
	nameTimeLayout = "20060102-150405.000000"
)

// snapshotName returns the name for a snapshot taken at t. Names sort in
// time order.
func snapshotName(t time.Time) string {
	return snapshotPrefix + t.UTC().Format(nameTimeLayout) + snapshotExt
}

// parseSnapshotName reports whether name is a snapshot name and when it was
// taken.
func parseSnapshotName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotExt) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotExt)
	t, err := time.Parse(nameTimeLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// sortNewestFirst orders snapshots by TakenAt, newest first.
func sortNewestFirst(snapshots []SnapshotInfo) {
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].TakenAt.After(snapshots[j].TakenAt)
	})
}

// applyRetention removes all but the newest keep snapshots from sink.
func applyRetention(ctx context.Context, sink Sink, keep int) (int, error) {
	snapshots, err := sink.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(snapshots) <= keep {
		return 0, nil
	}

	var lastErr error
	removed := 0
	for _, s := range snapshots[keep:] {
		if err := sink.Delete(ctx, s.Name); err != nil {
			lastErr = err
			// Continue deleting other snapshots even if one fails
			continue
		}
		removed++
	}

	if lastErr != nil {
		return removed, fmt.Errorf("failed to delete some snapshots: %w", lastErr)
	}
	return removed, nil
}
