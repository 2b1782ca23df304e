package gdrive

import (
	"context"
	"log/slog"

	"google.golang.org/api/drive/v3"
)

// FindFolder returns the first non-trashed folder called name directly under
// parentID (empty = root), or nil when there is none.
func (c *Client) FindFolder(ctx context.Context, name, parentID string) (*File, error) {
	q := "name = " + quote(name) +
		" and mimeType = " + quote(FolderMimeType) +
		" and trashed = false" +
		" and " + quote(parentOrRoot(parentID)) + " in parents"

	page, err := c.svc.Files.List().
		Q(q).
		PageSize(1).
		Fields("files(id, name, mimeType, parents)").
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapErr("find folder", err)
	}

	if len(page.Files) == 0 {
		return nil, nil //nolint:nilnil // absence is not an error
	}

	f, err := toFile(page.Files[0])
	if err != nil {
		return nil, wrapErr("find folder", err)
	}

	return &f, nil
}

// CreateFolder creates a folder called name under parentID (empty = root).
func (c *Client) CreateFolder(ctx context.Context, name, parentID string) (*File, error) {
	df := &drive.File{
		Name:     name,
		MimeType: FolderMimeType,
		Parents:  []string{parentOrRoot(parentID)},
	}

	created, err := c.svc.Files.Create(df).
		Fields("id, name, mimeType, parents").
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapErr("create folder", err)
	}

	f, err := toFile(created)
	if err != nil {
		return nil, wrapErr("create folder", err)
	}

	c.logger.Info("created folder",
		slog.String("folder_id", f.ID),
		slog.String("name", name),
		slog.String("parent_id", parentOrRoot(parentID)),
	)

	return &f, nil
}
