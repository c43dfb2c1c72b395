package analytics

import (
	"context"
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
	return fmt.Sprintf("activity-%d", g.next), nil
}

func newTestRecorder(t *testing.T, clock func() time.Time) *Recorder {
	t.Helper()
	dsn := fmt.Sprintf("file:coauthor_analytics_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&WorkspaceCounters{}, &DailyCounter{}, &Activity{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	recorder, err := NewRecorder(RecorderConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &sequenceIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct recorder: %v", err)
	}
	return recorder
}

func TestAdjustActiveUsersClampsAtZero(t *testing.T) {
	recorder := newTestRecorder(t, nil)
	ctx := context.Background()

	if err := recorder.AdjustActiveUsers(ctx, "ws-1", 2); err != nil {
		t.Fatalf("unexpected adjust error: %v", err)
	}
	if err := recorder.AdjustActiveUsers(ctx, "ws-1", -5); err != nil {
		t.Fatalf("unexpected adjust error: %v", err)
	}

	summary, err := recorder.WorkspaceSummary(ctx, "ws-1", 10)
	if err != nil {
		t.Fatalf("unexpected summary error: %v", err)
	}
	if summary.Counters.ActiveUsersCount != 0 {
		t.Fatalf("expected clamped gauge, got %d", summary.Counters.ActiveUsersCount)
	}
}

func TestAdjustActiveUsersIgnoresEmptyWorkspace(t *testing.T) {
	recorder := newTestRecorder(t, nil)
	if err := recorder.AdjustActiveUsers(context.Background(), "", 1); err != nil {
		t.Fatalf("expected empty workspace id to be a no-op, got %v", err)
	}
}

func TestRecordEditBumpsTotalsAndDailyBucket(t *testing.T) {
	fixed := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	recorder := newTestRecorder(t, func() time.Time { return fixed })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := recorder.RecordEdit(ctx, "ws-1", "user-1", "doc-1"); err != nil {
			t.Fatalf("unexpected record edit error: %v", err)
		}
	}

	summary, err := recorder.WorkspaceSummary(ctx, "ws-1", 10)
	if err != nil {
		t.Fatalf("unexpected summary error: %v", err)
	}
	if summary.Counters.EditsCount != 3 {
		t.Fatalf("expected 3 edits, got %d", summary.Counters.EditsCount)
	}
	if len(summary.Daily) != 1 {
		t.Fatalf("expected a single daily bucket, got %d", len(summary.Daily))
	}
	bucket := summary.Daily[0]
	if bucket.Date != "2026-08-29" || bucket.Kind != CounterEdits || bucket.Count != 3 {
		t.Fatalf("unexpected bucket %#v", bucket)
	}
	if len(summary.Activities) != 3 {
		t.Fatalf("expected 3 activity rows, got %d", len(summary.Activities))
	}
}

func TestRecordActivityAppendsFeedRow(t *testing.T) {
	recorder := newTestRecorder(t, nil)
	ctx := context.Background()

	if err := recorder.RecordActivity(ctx, "ws-1", "user-1", "doc-1", ActionJoin, map[string]string{"doc_id": "doc-1"}); err != nil {
		t.Fatalf("unexpected record activity error: %v", err)
	}

	summary, err := recorder.WorkspaceSummary(ctx, "ws-1", 10)
	if err != nil {
		t.Fatalf("unexpected summary error: %v", err)
	}
	if len(summary.Activities) != 1 {
		t.Fatalf("expected 1 activity, got %d", len(summary.Activities))
	}
	if summary.Activities[0].Action != ActionJoin {
		t.Fatalf("unexpected action %s", summary.Activities[0].Action)
	}
	if summary.Activities[0].MetaJSON == "" {
		t.Fatalf("expected meta json to be recorded")
	}
}

func TestRecordUploadTracksFileMeta(t *testing.T) {
	recorder := newTestRecorder(t, nil)
	ctx := context.Background()

	if err := recorder.RecordUpload(ctx, "ws-1", "user-1", "doc-1", "file-9"); err != nil {
		t.Fatalf("unexpected record upload error: %v", err)
	}

	summary, err := recorder.WorkspaceSummary(ctx, "ws-1", 10)
	if err != nil {
		t.Fatalf("unexpected summary error: %v", err)
	}
	if summary.Counters.UploadsCount != 1 {
		t.Fatalf("expected 1 upload, got %d", summary.Counters.UploadsCount)
	}
	if len(summary.Daily) != 1 || summary.Daily[0].Kind != CounterUploads {
		t.Fatalf("unexpected daily buckets %#v", summary.Daily)
	}
}
