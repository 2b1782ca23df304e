package gdrive

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

const (
	defaultPageSize = 100
	uploadMimeType  = "application/octet-stream"

	fileFields  = "id, name, size, createdTime, modifiedTime, description, mimeType, parents"
	listFields  = "nextPageToken, files(" + fileFields + ")"
	orderNewest = "createdTime desc"
)

// CreateFile uploads r as a new file in a single multipart request.
func (c *Client) CreateFile(ctx context.Context, meta FileMeta, r io.Reader) (*File, error) {
	df := &drive.File{
		Name:        meta.Name,
		Description: meta.Description,
		Parents:     meta.Parents,
	}

	created, err := c.svc.Files.Create(df).
		Media(r, googleapi.ContentType(uploadMimeType), googleapi.ChunkSize(0)).
		Fields(fileFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, wrapErr("create file", err)
	}

	f, err := toFile(created)
	if err != nil {
		return nil, wrapErr("create file", err)
	}

	c.logger.Debug("created file",
		slog.String("file_id", f.ID),
		slog.String("name", f.Name),
		slog.Int64("size", f.Size),
	)

	return &f, nil
}

// GetFile fetches file metadata.
func (c *Client) GetFile(ctx context.Context, id string) (*File, error) {
	df, err := c.svc.Files.Get(id).Fields(fileFields).Context(ctx).Do()
	if err != nil {
		return nil, wrapErr("get file", err)
	}

	f, err := toFile(df)
	if err != nil {
		return nil, wrapErr("get file", err)
	}

	return &f, nil
}

// Probe checks that a file is reachable, requesting only its id.
func (c *Client) Probe(ctx context.Context, id string) error {
	if _, err := c.svc.Files.Get(id).Fields("id").Context(ctx).Do(); err != nil {
		return wrapErr("probe file", err)
	}

	return nil
}

// Download streams the file content. The caller closes the reader.
func (c *Client) Download(ctx context.Context, id string) (io.ReadCloser, error) {
	resp, err := c.svc.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, wrapErr("download file", err)
	}

	return resp.Body, nil
}

// ListFiles lists files newest first, following nextPageToken until the
// listing is exhausted or q.Limit items are collected. Items that fail
// validation are skipped and reported in the second return value; a failed
// request is the third.
func (c *Client) ListFiles(ctx context.Context, q ListQuery) ([]File, []error, error) {
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	query := listQuery(q)

	var (
		files   []File
		skipped []error
		token   string
	)

	for {
		call := c.svc.Files.List().
			Q(query).
			OrderBy(orderNewest).
			PageSize(pageSize).
			Fields(listFields).
			Context(ctx)

		if token != "" {
			call = call.PageToken(token)
		}

		page, err := call.Do()
		if err != nil {
			return nil, nil, wrapErr("list files", err)
		}

		for _, df := range page.Files {
			f, convErr := toFile(df)
			if convErr != nil {
				skipped = append(skipped, convErr)

				continue
			}

			files = append(files, f)

			if q.Limit > 0 && len(files) >= q.Limit {
				return files, skipped, nil
			}
		}

		if page.NextPageToken == "" {
			break
		}

		token = page.NextPageToken
	}

	c.logger.Debug("listed files",
		slog.String("parent_id", parentOrRoot(q.ParentID)),
		slog.Int("count", len(files)),
		slog.Int("skipped", len(skipped)),
	)

	return files, skipped, nil
}

func listQuery(q ListQuery) string {
	clauses := []string{
		quote(parentOrRoot(q.ParentID)) + " in parents",
		"trashed = false",
	}

	if q.ExcludeFolders {
		clauses = append(clauses, "mimeType != "+quote(FolderMimeType))
	}

	return strings.Join(clauses, " and ")
}

// DeleteFile permanently deletes a file.
func (c *Client) DeleteFile(ctx context.Context, id string) error {
	if err := c.svc.Files.Delete(id).Context(ctx).Do(); err != nil {
		return wrapErr("delete file", err)
	}

	c.logger.Debug("deleted file", slog.String("file_id", id))

	return nil
}

// About returns the account's storage quota.
func (c *Client) About(ctx context.Context) (*Quota, error) {
	about, err := c.svc.About.Get().Fields("storageQuota, user(emailAddress)").Context(ctx).Do()
	if err != nil {
		return nil, wrapErr("about", err)
	}

	q := &Quota{}

	if about.StorageQuota != nil {
		q.Limit = about.StorageQuota.Limit
		q.Usage = about.StorageQuota.Usage
		q.UsageInDrive = about.StorageQuota.UsageInDrive
		q.UsageInTrash = about.StorageQuota.UsageInDriveTrash
	}

	if about.User != nil {
		q.Email = about.User.EmailAddress
	}

	return q, nil
}
