package gdrive

import (
	"fmt"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
)

// FolderMimeType identifies folders in Drive.
const FolderMimeType = "application/vnd.google-apps.folder"

// RootID addresses the root of "My Drive" in queries and parent lists.
const RootID = "root"

// File is the clean, validated representation of a Drive file. ID is the
// only key; names are not unique.
type File struct {
	ID          string
	Name        string
	Size        int64
	CreatedAt   time.Time
	ModifiedAt  time.Time
	Description string
	MimeType    string
	Parents     []string
}

// IsFolder reports whether the file is a Drive folder.
func (f *File) IsFolder() bool {
	return f.MimeType == FolderMimeType
}

// FileMeta describes a file to create.
type FileMeta struct {
	Name        string
	Description string
	Parents     []string
}

// ListQuery scopes a ListFiles call.
type ListQuery struct {
	// ParentID restricts results to direct children; empty means root.
	ParentID string
	// ExcludeFolders drops folders from the result.
	ExcludeFolders bool
	// PageSize is the per-request page size; zero uses defaultPageSize.
	PageSize int64
	// Limit stops pagination once this many items are collected; zero
	// follows nextPageToken to the end.
	Limit int
}

// Quota is the account's storage usage in bytes. Limit is zero for
// unlimited accounts.
type Quota struct {
	Limit        int64
	Usage        int64
	UsageInDrive int64
	UsageInTrash int64
	Email        string
}

// toFile validates an API item and converts it. Missing IDs and unparseable
// timestamps are errors so callers can skip the item.
func toFile(df *drive.File) (File, error) {
	if df == nil || df.Id == "" {
		return File{}, fmt.Errorf("%w: missing id", ErrInvalidItem)
	}

	f := File{
		ID:          df.Id,
		Name:        df.Name,
		Size:        df.Size,
		Description: df.Description,
		MimeType:    df.MimeType,
		Parents:     df.Parents,
	}

	var err error

	if f.CreatedAt, err = parseTime(df.CreatedTime); err != nil {
		return File{}, fmt.Errorf("%w: %s: createdTime: %w", ErrInvalidItem, df.Id, err)
	}

	if f.ModifiedAt, err = parseTime(df.ModifiedTime); err != nil {
		return File{}, fmt.Errorf("%w: %s: modifiedTime: %w", ErrInvalidItem, df.Id, err)
	}

	return f, nil
}

// parseTime accepts RFC3339 with optional fractional seconds. Empty values
// (fields not requested) map to the zero time.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	return time.Parse(time.RFC3339Nano, s)
}

// quote renders s as a Drive query string literal.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)

	return "'" + s + "'"
}

func parentOrRoot(id string) string {
	if id == "" {
		return RootID
	}

	return id
}
