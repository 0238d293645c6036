package invoice

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Storage keeps the original uploaded documents
type Storage interface {
	// Save writes data under name and returns the stored name
	Save(name string, data []byte) (string, error)

	// Get reads a stored document
	Get(name string) ([]byte, error)

	// Delete removes a stored document
	Delete(name string) error
}

// LocalStorage implements Storage in a directory on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates basePath if needed
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	return &LocalStorage{basePath: basePath}, nil
}

// path confines name to the storage directory
func (l *LocalStorage) path(name string) (string, error) {
	base := filepath.Base(name)
	if base == "." || base == ".." || base == string(filepath.Separator) {
		return "", errors.New("invalid file name")
	}
	return filepath.Join(l.basePath, base), nil
}

// Save writes a document to the storage directory
func (l *LocalStorage) Save(name string, data []byte) (string, error) {
	path, err := l.path(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return filepath.Base(path), nil
}

// Get reads a document from the storage directory
func (l *LocalStorage) Get(name string) ([]byte, error) {
	path, err := l.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a document from the storage directory
func (l *LocalStorage) Delete(name string) error {
	path, err := l.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}
