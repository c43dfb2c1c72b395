package documents

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDGenerator struct {
	next int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("id-%d", g.next), nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	dsn := fmt.Sprintf("file:coauthor_docs_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Document{}, &Version{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	service, err := NewService(ServiceConfig{
		Database:   db,
		IDProvider: &sequenceIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func mustCreate(t *testing.T, service *Service, workspaceID, title, content string) Document {
	t.Helper()
	doc, _, err := service.Create(context.Background(), CreateRequest{
		WorkspaceID: workspaceID,
		Title:       title,
		Content:     content,
		AuthorID:    "author-1",
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return doc
}

func TestCreateSnapshotsFirstVersion(t *testing.T) {
	service := newTestService(t)

	doc, version, err := service.Create(context.Background(), CreateRequest{
		WorkspaceID: "ws-1",
		Title:       "Design Notes",
		Content:     "hello",
		AuthorID:    "author-1",
		Tags:        []string{"design", "draft"},
	})
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	if doc.LatestVersionID != version.ID {
		t.Fatalf("expected latest version pointer %s, got %s", version.ID, doc.LatestVersionID)
	}
	if version.Content != "hello" {
		t.Fatalf("unexpected version content %q", version.Content)
	}
	if tags := doc.Tags(); len(tags) != 2 {
		t.Fatalf("unexpected tags %#v", tags)
	}
}

func TestUpdateAppendsVersionHistory(t *testing.T) {
	service := newTestService(t)
	doc := mustCreate(t, service, "ws-1", "Doc", "v1")

	content := "v2"
	updated, version, err := service.Update(context.Background(), doc.ID, UpdateRequest{
		Content:  &content,
		AuthorID: "author-2",
	})
	if err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	if updated.Content != "v2" {
		t.Fatalf("unexpected content %q", updated.Content)
	}
	if updated.LatestVersionID != version.ID {
		t.Fatalf("expected latest version pointer to advance")
	}

	versions, err := service.ListVersions(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
}

func TestRestoreVersionCopiesOldContent(t *testing.T) {
	service := newTestService(t)
	doc := mustCreate(t, service, "ws-1", "Doc", "original")

	content := "edited"
	if _, _, err := service.Update(context.Background(), doc.ID, UpdateRequest{
		Content:  &content,
		AuthorID: "author-1",
	}); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}

	restored, _, err := service.RestoreVersion(context.Background(), doc.ID, doc.LatestVersionID, "author-1")
	if err != nil {
		t.Fatalf("unexpected restore error: %v", err)
	}
	if restored.Content != "original" {
		t.Fatalf("expected restored content %q, got %q", "original", restored.Content)
	}

	versions, err := service.ListVersions(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(versions) != 3 {
		t.Fatalf("expected restore to add a version, got %d", len(versions))
	}
}

func TestDeleteRemovesDocumentAndVersions(t *testing.T) {
	service := newTestService(t)
	doc := mustCreate(t, service, "ws-1", "Doc", "content")

	if err := service.Delete(context.Background(), doc.ID); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if _, err := service.Get(context.Background(), doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	versions, err := service.ListVersions(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(versions) != 0 {
		t.Fatalf("expected versions to be removed, got %d", len(versions))
	}
}

func TestLoadDocumentReturnsContentAndVersionHint(t *testing.T) {
	service := newTestService(t)
	doc := mustCreate(t, service, "ws-1", "Doc", "hello")

	content, hint, err := service.LoadDocument(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if content != "hello" {
		t.Fatalf("unexpected content %q", content)
	}
	if hint != 1 {
		t.Fatalf("unexpected version hint %d", hint)
	}

	if _, _, err := service.LoadDocument(context.Background(), "missing-doc"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveDocumentSkipsVersionSnapshot(t *testing.T) {
	service := newTestService(t)
	doc := mustCreate(t, service, "ws-1", "Doc", "hello")

	savedAt := time.Unix(1700000000, 0).UTC()
	if err := service.SaveDocument(context.Background(), doc.ID, "hello world", savedAt); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	reloaded, err := service.Get(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if reloaded.Content != "hello world" {
		t.Fatalf("unexpected content %q", reloaded.Content)
	}

	versions, err := service.ListVersions(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(versions) != 1 {
		t.Fatalf("flush persistence must not snapshot versions, got %d", len(versions))
	}

	if err := service.SaveDocument(context.Background(), "missing-doc", "x", savedAt); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing document, got %v", err)
	}
}
