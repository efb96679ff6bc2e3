// Package recordstore provides a keyed store of typed records.
//
// The file-backed implementation keeps one file per key under a directory,
// named "<key><ext>". It does no locking: two processes writing the same
// directory can race and lose updates. Callers that share a state directory
// must serialize access themselves.
package recordstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// ErrNotFound is returned when a key has no record.
var ErrNotFound = errors.New("record not found")

// Store is a keyed store of records of type T.
type Store[T any] interface {
	Get(key string) (T, error)
	Set(key string, rec T) error
	Delete(key string) error
	Keys() ([]string, error)
	Range(fn func(key string, rec T) error) error
	Len() (int, error)
}

// FileStore is a Store that keeps each record in its own file.
type FileStore[T any] struct {
	fs    afero.Fs
	dir   string
	codec Codec
}

// Option configures a FileStore.
type Option func(*options)

type options struct {
	codec Codec
}

// WithCodec selects the record encoding. The default is YAMLCodec.
func WithCodec(c Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// NewFileStore opens a store rooted at dir on fs, creating dir if needed.
func NewFileStore[T any](fs afero.Fs, dir string, opts ...Option) (*FileStore[T], error) {
	o := options{codec: YAMLCodec{}}
	for _, opt := range opts {
		opt(&o)
	}

	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create record directory %s: %w", dir, err)
	}

	return &FileStore[T]{fs: fs, dir: dir, codec: o.codec}, nil
}

// Dir returns the directory holding the records.
func (s *FileStore[T]) Dir() string {
	return s.dir
}

func (s *FileStore[T]) path(key string) string {
	return filepath.Join(s.dir, key+s.codec.Ext())
}

func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("record key is required")
	}
	if strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("invalid record key %q", key)
	}
	return nil
}

// Get loads the record stored under key.
func (s *FileStore[T]) Get(key string) (T, error) {
	var rec T
	if err := validKey(key); err != nil {
		return rec, err
	}

	data, err := afero.ReadFile(s.fs, s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return rec, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return rec, fmt.Errorf("failed to read record %s: %w", key, err)
	}

	if err := s.codec.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to decode record %s: %w", key, err)
	}

	return rec, nil
}

// Set stores rec under key, replacing any previous record.
// The record is written to a temporary file and renamed into place.
func (s *FileStore[T]) Set(key string, rec T) error {
	if err := validKey(key); err != nil {
		return err
	}

	data, err := s.codec.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", key, err)
	}

	tmp, err := afero.TempFile(s.fs, s.dir, "."+key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for record %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("failed to write record %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("failed to write record %s: %w", key, err)
	}

	if err := s.fs.Rename(tmpName, s.path(key)); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("failed to store record %s: %w", key, err)
	}

	return nil
}

// Delete removes the record stored under key.
func (s *FileStore[T]) Delete(key string) error {
	if err := validKey(key); err != nil {
		return err
	}

	if err := s.fs.Remove(s.path(key)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return fmt.Errorf("failed to delete record %s: %w", key, err)
	}

	return nil
}

// Keys returns the stored keys in lexical order.
func (s *FileStore[T]) Keys() ([]string, error) {
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list records in %s: %w", s.dir, err)
	}

	ext := s.codec.Ext()
	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ext))
	}
	sort.Strings(keys)

	return keys, nil
}

// Range calls fn for every record in key order, stopping at the first error.
func (s *FileStore[T]) Range(fn func(key string, rec T) error) error {
	keys, err := s.Keys()
	if err != nil {
		return err
	}

	for _, key := range keys {
		rec, err := s.Get(key)
		if err != nil {
			// Removed between listing and reading
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return err
		}
		if err := fn(key, rec); err != nil {
			return err
		}
	}

	return nil
}

// Len returns the number of stored records.
func (s *FileStore[T]) Len() (int, error) {
	keys, err := s.Keys()
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

var _ Store[struct{}] = (*FileStore[struct{}])(nil)
