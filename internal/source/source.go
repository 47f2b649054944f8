package source

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nhle/mail-export/internal/model"
)

// ConnectionError indicates the mail store could not be reached at all.
// It is fatal for the run: nothing else is attempted after it.
type ConnectionError struct {
	Store string
	Err   error
}

func (e *ConnectionError) Error() string {
	if e.Store == "" {
		return fmt.Sprintf("mail store unavailable: %v", e.Err)
	}
	return fmt.Sprintf("mail store %q unavailable: %v", e.Store, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsConnectionError reports whether err (or any error in its chain) is a
// ConnectionError.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}

// NotFoundError indicates a folder path could not be resolved under a
// store. Segment names the first path element that did not exist.
type NotFoundError struct {
	Store   string
	Path    []string
	Segment string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf(
		"folder %q not found under store %q: no folder named %q",
		strings.Join(e.Path, "/"), e.Store, e.Segment,
	)
}

// IsNotFound reports whether err (or any error in its chain) is a
// NotFoundError.
func IsNotFound(err error) bool {
	var nfErr *NotFoundError
	return errors.As(err, &nfErr)
}

// RecordError marks a single message that could not be read during
// enumeration. It never aborts a scan; the engine counts it and moves on.
type RecordError struct {
	Folder string
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("unreadable message in %q: %v", e.Folder, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }

// ErrStopEnumeration is returned by a Visitor to abandon the scan early
// without reporting an error, e.g. once the retained cap is reached.
var ErrStopEnumeration = errors.New("stop enumeration")

// Visitor receives each message in enumeration order. Exactly one of rec
// and recErr is non-nil: recErr carries a RecordError for an item whose
// fields could not be read. Returning ErrStopEnumeration abandons the
// scan cleanly; any other non-nil return aborts it with that error.
type Visitor func(rec *model.MessageRecord, recErr error) error

// Session is an explicitly constructed, explicitly disposed connection
// scope over a mail store backend. One session serves one run.
type Session interface {
	// ListStores returns the identifiers of the available stores, in a
	// stable order. A connection failure surfaces here as a
	// ConnectionError, distinct from mid-enumeration failures.
	ListStores(ctx context.Context) ([]string, error)

	// FolderPaths returns every folder path under the store as
	// slash-joined names, sorted case-insensitively, for folder pickers.
	FolderPaths(ctx context.Context, store string) ([]string, error)

	// Enumerate walks messages under folderPath (store root when empty)
	// in the backend's native order, which is not necessarily
	// chronological. With recursive set, subfolders are visited
	// depth-first after their parent's own messages. Resolution of a bad
	// path yields a NotFoundError naming the offending segment.
	Enumerate(
		ctx context.Context,
		store string,
		folderPath []string,
		recursive bool,
		visit Visitor,
	) error

	// Close releases the session's connections.
	Close() error
}
