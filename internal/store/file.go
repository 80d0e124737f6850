package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"overlaykit/api/internal/document"
)

// FileStore keeps one JSON file per (namespace, document) under a
// deterministic layout: tenant/<namespace>/config/<name>.json for tenant
// documents and config/<name>.json for the global fallback.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

// Path returns the on-disk location for a document. Namespace and name are
// sanitized so a hostile identifier can never escape the data directory.
func (s *FileStore) Path(namespace, name string) string {
	file := sanitizeComponent(name) + ".json"
	if namespace == "" {
		return filepath.Join(s.root, "config", file)
	}
	return filepath.Join(s.root, "tenant", sanitizeComponent(namespace), "config", file)
}

// Exists reports whether a document file is present without reading it.
func (s *FileStore) Exists(namespace, name string) bool {
	_, err := os.Stat(s.Path(namespace, name))
	return err == nil
}

func (s *FileStore) Get(ctx context.Context, namespace, name string) (*document.Document, error) {
	raw, err := os.ReadFile(s.Path(namespace, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return document.Decode(raw)
}

// Set replaces the whole document file. The write goes to a temp file first
// and is renamed into place so readers never observe a partial document.
func (s *FileStore) Set(ctx context.Context, namespace, name string, doc *document.Document) error {
	data, err := document.Encode(doc)
	if err != nil {
		return err
	}
	path := s.Path(namespace, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	return nil
}

func sanitizeComponent(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}
