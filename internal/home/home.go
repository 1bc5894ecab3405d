// Package home manages the casetrace home directory layout.
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the casetrace home directory.
	DefaultDirName = ".casetrace"

	// DataDirName is the subdirectory for the job database.
	DataDirName = "data"

	// DatabaseFileName is the sqlite database file name.
	DatabaseFileName = "casetrace.db"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// Dir represents the casetrace home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.casetrace).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// DataPath returns the path to the data directory.
func (d *Dir) DataPath() string {
	return filepath.Join(d.path, DataDirName)
}

// DatabasePath returns the path to the sqlite database file.
func (d *Dir) DatabasePath() string {
	return filepath.Join(d.DataPath(), DatabaseFileName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	// Create data directory (this also creates the parent)
	if err := os.MkdirAll(d.DataPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// CaseDocumentsDir returns the directory holding source documents for a case.
func (d *Dir) CaseDocumentsDir(caseID string) string {
	return filepath.Join(d.path, "cases", caseID, "documents")
}

// CaseDocumentPath returns the path for a named document within a case.
func (d *Dir) CaseDocumentPath(caseID, name string) string {
	return filepath.Join(d.CaseDocumentsDir(caseID), name)
}

// EnsureCaseDocumentsDir creates the documents directory for a case.
func (d *Dir) EnsureCaseDocumentsDir(caseID string) error {
	return os.MkdirAll(d.CaseDocumentsDir(caseID), 0o755)
}

// ExportsDir returns the directory for exported analysis reports.
func (d *Dir) ExportsDir() string {
	return filepath.Join(d.path, "exports")
}
