package localstore

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	// valueExt is the suffix of every value file. Anything else in the
	// directory (temp files, editor droppings) is ignored.
	valueExt = ".v"

	// tempPrefix marks staged writes that have not been renamed into
	// place yet.
	tempPrefix = ".tmp-"
)

// DirStore keeps one file per key in a directory. Several processes can
// share the directory; Watch reports the writes made by the others.
// Filenames are the hex encoding of the key, so any key is a valid name.
type DirStore struct {
	dir string

	// known maps a key to the hash of the content this process last
	// wrote or observed, or "" after a removal. Watch compares file
	// content against it to tell our own writes from other processes'.
	known   map[string]string
	knownMu sync.Mutex
}

// OpenDir opens (or creates) a directory-backed store.
func OpenDir(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, storeDirPerm); err != nil {
		return nil, unavailable("creating store directory", err)
	}

	return &DirStore{dir: dir, known: make(map[string]string)}, nil
}

// Dir returns the directory backing the store.
func (s *DirStore) Dir() string { return s.dir }

func fileName(key string) string {
	return hex.EncodeToString([]byte(key)) + valueExt
}

func keyFromFileName(name string) (string, bool) {
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, valueExt) {
		return "", false
	}

	raw, err := hex.DecodeString(strings.TrimSuffix(name, valueExt))
	if err != nil || len(raw) == 0 {
		return "", false
	}

	return string(raw), true
}

func contentHash(value []byte) string {
	h := sha256.Sum256(value)
	return hex.EncodeToString(h[:])
}

func (s *DirStore) path(key string) string {
	return filepath.Join(s.dir, fileName(key))
}

func (s *DirStore) remember(key, hash string) {
	s.knownMu.Lock()
	s.known[key] = hash
	s.knownMu.Unlock()
}

func (s *DirStore) Get(key string) (string, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}

		return "", false, unavailable(fmt.Sprintf("reading %q", key), err)
	}

	return string(data), true, nil
}

// stage writes value to a temp file in the store directory and returns
// its path. The caller renames it into place.
func (s *DirStore) stage(value string) (string, error) {
	f, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return "", err
	}

	tmp := f.Name()

	if _, err := f.WriteString(value); err != nil {
		f.Close()
		os.Remove(tmp)

		return "", err
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}

	if err := os.Chmod(tmp, storeFilePerm); err != nil {
		os.Remove(tmp)
		return "", err
	}

	return tmp, nil
}

func (s *DirStore) Set(key, value string) error {
	if key == "" {
		return unavailable("writing", errors.New("empty key"))
	}

	tmp, err := s.stage(value)
	if err != nil {
		return unavailable(fmt.Sprintf("writing %q", key), err)
	}

	s.remember(key, contentHash([]byte(value)))

	if err := os.Rename(tmp, s.path(key)); err != nil {
		os.Remove(tmp)
		return unavailable(fmt.Sprintf("writing %q", key), err)
	}

	return nil
}

func (s *DirStore) Remove(key string) error {
	s.remember(key, "")

	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return unavailable(fmt.Sprintf("removing %q", key), err)
	}

	return nil
}

// SetMany stages every value before renaming any of them, so a failure
// while writing leaves the store untouched.
func (s *DirStore) SetMany(values map[string]string) error {
	staged := make(map[string]string, len(values))

	cleanup := func() {
		for _, tmp := range staged {
			os.Remove(tmp)
		}
	}

	for k, v := range values {
		if k == "" {
			cleanup()
			return unavailable("writing batch", errors.New("empty key"))
		}

		tmp, err := s.stage(v)
		if err != nil {
			cleanup()
			return unavailable("writing batch", err)
		}

		staged[k] = tmp
	}

	for k, tmp := range staged {
		s.remember(k, contentHash([]byte(values[k])))

		if err := os.Rename(tmp, s.path(k)); err != nil {
			cleanup()
			return unavailable(fmt.Sprintf("writing batch key %q", k), err)
		}

		delete(staged, k)
	}

	return nil
}

func (s *DirStore) All() (map[string]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, unavailable("listing store directory", err)
	}

	result := make(map[string]string, len(entries))

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		key, ok := keyFromFileName(e.Name())
		if !ok {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return nil, unavailable(fmt.Sprintf("reading %q", key), err)
		}

		result[key] = string(data)
	}

	return result, nil
}

func (s *DirStore) Close() error { return nil }
