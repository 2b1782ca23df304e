package destination

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying destination failures. Match with errors.Is;
// the underlying gdrive or filesystem error is wrapped alongside.
var (
	ErrUpload            = errors.New("destination: upload failed")
	ErrDownload          = errors.New("destination: download failed")
	ErrDelete            = errors.New("destination: delete failed")
	ErrList              = errors.New("destination: list failed")
	ErrLookup            = errors.New("destination: lookup failed")
	ErrMissingIdentifier = errors.New("destination: file has no remote id")
	ErrTempFile          = errors.New("destination: temporary file unusable")
	ErrNotWritable       = errors.New("destination: folder not writable")
)

// Error carries the operation and remote id of a failed call. Kind is one of
// the sentinels above.
type Error struct {
	Op   string
	ID   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	subject := e.Op
	if e.ID != "" {
		subject = fmt.Sprintf("%s %s", e.Op, e.ID)
	}

	if e.Err == nil {
		return fmt.Sprintf("%v (%s)", e.Kind, subject)
	}

	return fmt.Sprintf("%v (%s): %v", e.Kind, subject, e.Err)
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)

	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}

	if e.Err != nil {
		errs = append(errs, e.Err)
	}

	return errs
}

func opError(op, id string, kind, err error) error {
	return &Error{Op: op, ID: id, Kind: kind, Err: err}
}
