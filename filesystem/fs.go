// Description: filesystem package
// This package contains the relay's file store: the single directory uploads are written to
// and downloads are read from. Every client supplied name is reduced to its last path
// component before it touches the disk, so nothing can be read or written outside the root.

package filesystem

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInvalidName is returned when a client supplied name has no usable base component.
var ErrInvalidName = errors.New("invalid file name")

// Store is the relay's working directory.
type Store struct {
	FS   fs.FS  // read only view of the root, used by the http and sftp views
	root string // local directory holding the relay files
}

// NewStore returns a Store rooted at localDir.
func NewStore(localDir string) *Store {
	if localDir == "" {
		localDir = "."
	}
	return &Store{
		FS:   os.DirFS(localDir),
		root: localDir,
	}
}

// Root returns the local directory of the store.
func (s *Store) Root() string {
	return s.root
}

// BaseName strips every directory component from a client supplied name.
// Both '/' and '\' count as separators whatever the host OS is, so
// "../../etc/passwd" becomes "passwd" and `C:\x\y.txt` becomes "y.txt".
func BaseName(name string) (string, error) {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	switch {
	case name == "", name == ".", name == "..":
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsRune(name, 0):
		return "", fmt.Errorf("%w: contains NUL", ErrInvalidName)
	}
	return name, nil
}

// path returns the local path of a sanitized name.
func (s *Store) path(name string) string {
	return filepath.Join(s.root, name)
}

// partSuffix marks the hidden files uploads are written to before they are published.
const partSuffix = ".part"

// isPart reports whether name is an upload that has not been published yet.
func isPart(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, partSuffix)
}

// PartFile is an upload being written to a hidden file in the store.
// Close publishes it under its final name with a rename, so readers that already
// opened the previous file keep reading the previous content.
type PartFile struct {
	*os.File
	final string
}

// Close closes the hidden file and renames it into place, replacing any existing file.
func (p *PartFile) Close() error {
	tmp := p.File.Name()
	if err := p.File.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing file error: %w", err)
	}
	if err := os.Rename(tmp, p.final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing file error: %w", err)
	}
	return nil
}

// Create starts writing the named file. The content replaces any existing file
// of that name when the returned file is closed.
// It returns the sanitized name the file is published under.
func (s *Store) Create(name string) (*PartFile, string, error) {
	name, err := BaseName(name)
	if err != nil {
		return nil, "", err
	}
	if isPart(name) {
		return nil, name, fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}
	final := s.path(name)
	if info, err := os.Lstat(final); err == nil && !info.Mode().IsRegular() {
		return nil, name, fmt.Errorf("creating file error: %s is not a regular file", name)
	}

	file, err := os.CreateTemp(s.root, "."+name+".*"+partSuffix)
	if err != nil {
		return nil, name, fmt.Errorf("creating file error: %w", err)
	}
	if err = file.Chmod(0644); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, name, fmt.Errorf("creating file error: %w", err)
	}
	return &PartFile{File: file, final: final}, name, nil
}

// Open opens the named regular file for reading.
// It returns the sanitized name and the file info so the caller knows the size up front.
func (s *Store) Open(name string) (*os.File, fs.FileInfo, string, error) {
	name, err := BaseName(name)
	if err != nil {
		return nil, nil, "", err
	}
	if isPart(name) {
		return nil, nil, name, fmt.Errorf("error opening file: %w", fs.ErrNotExist)
	}
	file, err := os.Open(s.path(name))
	if err != nil {
		return nil, nil, name, fmt.Errorf("error opening file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, name, fmt.Errorf("error getting file info: %w", err)
	}
	if !info.Mode().IsRegular() {
		file.Close()
		return nil, nil, name, fmt.Errorf("error opening file: %s is not a regular file", name)
	}
	return file, info, name, nil
}

// Stat returns the file info of the named file.
func (s *Store) Stat(name string) (fs.FileInfo, error) {
	name, err := BaseName(name)
	if err != nil {
		return nil, err
	}
	if isPart(name) {
		return nil, fmt.Errorf("error getting file info: %w", fs.ErrNotExist)
	}
	info, err := os.Stat(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("error getting file info: %w", err)
	}
	return info, nil
}

// List returns the regular files of the store sorted by name.
func (s *Store) List() ([]fs.FileInfo, error) {
	entries, err := fs.ReadDir(s.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("error reading directory: %w", err)
	}

	files := make([]fs.FileInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || isPart(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed between ReadDir and Info
			continue
		}
		files = append(files, info)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })
	return files, nil
}
