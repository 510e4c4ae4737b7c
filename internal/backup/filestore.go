package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

// FileStore persists backup artifacts on a filesystem. Tests use an
// in-memory filesystem via afero.NewMemMapFs.
type FileStore struct {
	fs      afero.Fs
	baseDir string
}

func NewFileStore(fs afero.Fs, baseDir string) *FileStore {
	return &FileStore{fs: fs, baseDir: baseDir}
}

func NewOsFileStore(baseDir string) *FileStore {
	return NewFileStore(afero.NewOsFs(), baseDir)
}

// EnsureBaseDir creates the backup directory if it does not exist.
func (fs *FileStore) EnsureBaseDir() error {
	if err := fs.fs.MkdirAll(fs.baseDir, 0o755); err != nil {
		return NewStorageError(fmt.Sprintf("failed to create backup directory %s", fs.baseDir), err)
	}
	return nil
}

// Write stores an artifact file and returns its absolute path.
func (fs *FileStore) Write(fileName string, data []byte) (string, error) {
	if err := fs.EnsureBaseDir(); err != nil {
		return "", err
	}

	path := filepath.Join(fs.baseDir, fileName)
	if err := afero.WriteFile(fs.fs, path, data, 0o600); err != nil {
		return "", NewStorageError(fmt.Sprintf("failed to write backup file %s", path), err)
	}
	return path, nil
}

// Read loads an artifact file by path.
func (fs *FileStore) Read(path string) ([]byte, error) {
	data, err := afero.ReadFile(fs.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewNotFoundError(fmt.Sprintf("backup file %s not found", path), err)
		}
		return nil, NewStorageError(fmt.Sprintf("failed to read backup file %s", path), err)
	}
	return data, nil
}

// Remove deletes an artifact file. A missing file is not an error.
func (fs *FileStore) Remove(path string) error {
	err := fs.fs.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return NewStorageError(fmt.Sprintf("failed to remove backup file %s", path), err)
	}
	return nil
}

// Exists reports whether an artifact file is present.
func (fs *FileStore) Exists(path string) (bool, error) {
	exists, err := afero.Exists(fs.fs, path)
	if err != nil {
		return false, NewStorageError(fmt.Sprintf("failed to stat backup file %s", path), err)
	}
	return exists, nil
}

// Size returns an artifact file's size in bytes.
func (fs *FileStore) Size(path string) (int64, error) {
	info, err := fs.fs.Stat(path)
	if err != nil {
		return 0, NewStorageError(fmt.Sprintf("failed to stat backup file %s", path), err)
	}
	return info.Size(), nil
}

// List returns the artifact file names under the base directory,
// sorted by name.
func (fs *FileStore) List() ([]string, error) {
	infos, err := afero.ReadDir(fs.fs, fs.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, NewStorageError(fmt.Sprintf("failed to list backup directory %s", fs.baseDir), err)
	}

	var names []string
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		names = append(names, info.Name())
	}
	sort.Strings(names)
	return names, nil
}
