package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"overlaykit/api/internal/document"
)

func wrapFor(t *testing.T, payload string) *document.Document {
	t.Helper()
	doc, err := document.Wrap(json.RawMessage(payload), nil)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	return doc
}

func TestFileStoreRoundTrip(t *testing.T) {
	s := NewFileStore(t.TempDir())
	ctx := context.Background()

	doc := wrapFor(t, `{"monthlyGoal":10}`)
	if err := s.Set(ctx, "ns1", "tip-goal", doc); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := s.Get(ctx, "ns1", "tip-goal")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for a stored document")
	}
	if got.Version != doc.Version || got.Checksum != doc.Checksum {
		t.Errorf("round trip lost envelope: got v%d %s, want v%d %s",
			got.Version, got.Checksum, doc.Version, doc.Checksum)
	}
}

func TestFileStorePaths(t *testing.T) {
	root := t.TempDir()
	s := NewFileStore(root)

	tenantPath := s.Path("ns1", "tip-goal")
	wantTenant := filepath.Join(root, "tenant", "ns1", "config", "tip-goal.json")
	if tenantPath != wantTenant {
		t.Errorf("tenant path = %s, want %s", tenantPath, wantTenant)
	}

	globalPath := s.Path("", "tip-goal")
	wantGlobal := filepath.Join(root, "config", "tip-goal.json")
	if globalPath != wantGlobal {
		t.Errorf("global path = %s, want %s", globalPath, wantGlobal)
	}
}

func TestFileStoreSanitizesHostileNamespace(t *testing.T) {
	root := t.TempDir()
	s := NewFileStore(root)

	path := s.Path("../../etc", "../passwd")
	if !strings.HasPrefix(path, root) {
		t.Fatalf("sanitized path escaped root: %s", path)
	}
	if strings.Contains(path, "..") {
		t.Errorf("sanitized path still contains dot-dot: %s", path)
	}
}

func TestFileStoreMissingDocument(t *testing.T) {
	s := NewFileStore(t.TempDir())
	doc, err := s.Get(context.Background(), "ns1", "absent")
	if err != nil {
		t.Fatalf("Get of missing document errored: %v", err)
	}
	if doc != nil {
		t.Errorf("Get of missing document returned %+v", doc)
	}
}

func TestFileStoreCorruptDocument(t *testing.T) {
	root := t.TempDir()
	s := NewFileStore(root)

	path := s.Path("ns1", "broken")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{definitely not json`), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_, err := s.Get(context.Background(), "ns1", "broken")
	if !errors.Is(err, document.ErrCorrupt) {
		t.Errorf("Get of corrupt file = %v, want ErrCorrupt", err)
	}
}

func TestFileStoreLegacyBareFile(t *testing.T) {
	root := t.TempDir()
	s := NewFileStore(root)

	path := s.Path("", "tip-goal")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(`{"walletAddress":"W1"}`), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	doc, err := s.Get(context.Background(), "", "tip-goal")
	if err != nil {
		t.Fatalf("Get of legacy file errored: %v", err)
	}
	if doc == nil || doc.Version != 1 {
		t.Fatalf("legacy file should decode as version 1, got %+v", doc)
	}
}
