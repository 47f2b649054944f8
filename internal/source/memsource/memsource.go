// Package memsource provides an in-memory source.Session used by tests
// and by the engine's correctness properties. It reproduces the adapter
// contract exactly: native (insertion) ordering, depth-first recursion
// after the parent's own messages, NotFound path resolution, and
// per-record unreadable errors.
package memsource

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/nhle/mail-export/internal/model"
	"github.com/nhle/mail-export/internal/source"
)

// Folder is one node of an in-memory folder tree.
type Folder struct {
	Name     string
	Messages []model.MessageRecord

	// Unreadable injects this many corrupted items after the readable
	// messages of the folder.
	Unreadable int

	Children []*Folder
}

// Store is a named folder tree root.
type Store struct {
	Name string
	Root *Folder
}

// Session is an in-memory source.Session.
type Session struct {
	Stores []*Store

	// ConnectErr, when set, fails ListStores to simulate an unreachable
	// mail client.
	ConnectErr error

	closed bool
}

var _ source.Session = (*Session)(nil)

// New creates a session over the given stores.
func New(stores ...*Store) *Session {
	return &Session{Stores: stores}
}

// ListStores implements source.Session.
func (s *Session) ListStores(_ context.Context) ([]string, error) {
	if s.ConnectErr != nil {
		return nil, &source.ConnectionError{Err: s.ConnectErr}
	}
	names := make([]string, 0, len(s.Stores))
	for _, st := range s.Stores {
		names = append(names, st.Name)
	}
	return names, nil
}

// FolderPaths implements source.Session.
func (s *Session) FolderPaths(_ context.Context, store string) ([]string, error) {
	st := s.storeByName(store)
	if st == nil {
		return nil, &source.NotFoundError{Store: store, Segment: store}
	}

	var paths []string
	var walk func(f *Folder, prefix []string)
	walk = func(f *Folder, prefix []string) {
		for _, child := range f.Children {
			p := append(append([]string{}, prefix...), child.Name)
			paths = append(paths, strings.Join(p, "/"))
			walk(child, p)
		}
	}
	walk(st.Root, nil)

	sort.Slice(paths, func(i, j int) bool {
		return strings.ToLower(paths[i]) < strings.ToLower(paths[j])
	})
	return paths, nil
}

// Enumerate implements source.Session.
func (s *Session) Enumerate(
	ctx context.Context,
	store string,
	folderPath []string,
	recursive bool,
	visit source.Visitor,
) error {
	st := s.storeByName(store)
	if st == nil {
		return &source.NotFoundError{Store: store, Path: folderPath, Segment: store}
	}

	folder := st.Root
	for _, segment := range folderPath {
		next := folder.childByName(segment)
		if next == nil {
			return &source.NotFoundError{Store: store, Path: folderPath, Segment: segment}
		}
		folder = next
	}

	err := s.walk(ctx, folder, recursive, visit)
	if errors.Is(err, source.ErrStopEnumeration) {
		return nil
	}
	return err
}

func (s *Session) walk(
	ctx context.Context,
	folder *Folder,
	recursive bool,
	visit source.Visitor,
) error {
	for i := range folder.Messages {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec := folder.Messages[i]
		if err := visit(&rec, nil); err != nil {
			return err
		}
	}
	for i := 0; i < folder.Unreadable; i++ {
		recErr := &source.RecordError{
			Folder: folder.Name,
			Err:    errors.New("simulated corrupted item"),
		}
		if err := visit(nil, recErr); err != nil {
			return err
		}
	}
	if recursive {
		for _, child := range folder.Children {
			if err := s.walk(ctx, child, true, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close implements source.Session.
func (s *Session) Close() error {
	s.closed = true
	return nil
}

// Closed reports whether Close was called, for session-scope tests.
func (s *Session) Closed() bool { return s.closed }

func (s *Session) storeByName(name string) *Store {
	for _, st := range s.Stores {
		if st.Name == name {
			return st
		}
	}
	return nil
}

func (f *Folder) childByName(name string) *Folder {
	for _, child := range f.Children {
		if child.Name == name {
			return child
		}
	}
	return nil
}
