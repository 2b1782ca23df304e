package destination

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// MetaDescription is the metadata key copied into the remote description.
const MetaDescription = "description"

// BackupFile is what the backup engine hands to Save.
type BackupFile interface {
	// FullName is the remote file name.
	FullName() string
	// Meta returns an optional metadata value, "" when unset.
	Meta(key string) string
	// Open returns the file content.
	Open() (io.ReadCloser, error)
}

// LocalFile is a BackupFile backed by a path on disk.
type LocalFile struct {
	Path        string
	Name        string // defaults to the base name of Path
	Description string
}

func (f LocalFile) FullName() string {
	if f.Name != "" {
		return f.Name
	}

	return filepath.Base(f.Path)
}

func (f LocalFile) Meta(key string) string {
	if key == MetaDescription {
		return f.Description
	}

	return ""
}

func (f LocalFile) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

// BytesFile is an in-memory BackupFile.
type BytesFile struct {
	Name        string
	Description string
	Data        []byte
}

func (f BytesFile) FullName() string { return f.Name }

func (f BytesFile) Meta(key string) string {
	if key == MetaDescription {
		return f.Description
	}

	return ""
}

func (f BytesFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.Data)), nil
}

// RemoteFile is a backup as listed from the remote folder.
type RemoteFile struct {
	ID          string
	Name        string
	Size        int64
	CreatedAt   time.Time
	ModifiedAt  time.Time
	Description string
}

// Handle references a remote backup for Load. Name is optional.
type Handle struct {
	ID   string
	Name string
}

// LoadedFile is a downloaded backup in a local scratch file. The caller owns
// the file and should Remove it when done.
type LoadedFile struct {
	ID   string
	Name string
	Path string
	Size int64
}

func (f *LoadedFile) FullName() string { return f.Name }

func (f *LoadedFile) Meta(string) string { return "" }

func (f *LoadedFile) Open() (io.ReadCloser, error) {
	return os.Open(f.Path)
}

// Remove deletes the scratch file.
func (f *LoadedFile) Remove() error {
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("destination: removing %s: %w", f.Path, err)
	}

	return nil
}
