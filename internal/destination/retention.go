package destination

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"
)

// CleanupOldBackups deletes the oldest backups until at most maxBackups
// remain and returns how many were deleted. Deletion continues past
// individual failures; their errors are joined. maxBackups <= 0 is a no-op.
func (d *Destination) CleanupOldBackups(ctx context.Context, maxBackups int) (deleted int, err error) {
	if maxBackups <= 0 {
		return 0, nil
	}

	start := time.Now()
	defer func() { d.metrics.RecordOperation(OpCleanup, time.Since(start), err) }()

	client, err := d.connect(ctx)
	if err != nil {
		return 0, err
	}

	files, err := d.list(ctx, client, d.Settings().FolderPath)
	if err != nil {
		return 0, err
	}

	excess := len(files) - maxBackups
	if excess <= 0 {
		return 0, nil
	}

	slices.SortStableFunc(files, func(a, b RemoteFile) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	var errs []error

	for _, f := range files[:excess] {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		if delErr := client.DeleteFile(ctx, f.ID); delErr != nil {
			d.logger.Warn("failed to delete old backup",
				slog.String("file_id", f.ID),
				slog.String("name", f.Name),
				slog.String("error", delErr.Error()),
			)

			errs = append(errs, opError(OpCleanup, f.ID, ErrDelete, delErr))

			continue
		}

		deleted++

		d.logger.Info("deleted old backup",
			slog.String("file_id", f.ID),
			slog.String("name", f.Name),
			slog.Time("created_at", f.CreatedAt),
		)
	}

	d.metrics.AddRetentionDeleted(deleted)

	return deleted, errors.Join(errs...)
}
