package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rudransh-shrivastava/peerdrop/internal/bus"
	"github.com/rudransh-shrivastava/peerdrop/internal/db"
	"github.com/rudransh-shrivastava/peerdrop/internal/store"
	"github.com/rudransh-shrivastava/peerdrop/internal/transfer"
)

func setupTestDB(t *testing.T) *store.TransferStore {
	t.Helper()
	gormDB, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gormDB) })
	return store.NewTransferStore(gormDB)
}

func testJob(id string, finished time.Time) transfer.Job {
	return transfer.Job{
		ID:          id,
		Direction:   bus.Send,
		Peer:        "BBBBBB",
		FileName:    "report.pdf",
		MIME:        "application/pdf",
		Size:        1024,
		Bytes:       1024,
		TotalChunks: 1,
		State:       bus.TransferCompleted,
		Progress:    1,
		StartedAt:   finished.Add(-time.Second),
		FinishedAt:  finished,
	}
}

func TestTransferStore_Record(t *testing.T) {
	ts := setupTestDB(t)
	ctx := context.Background()

	if err := ts.Record(ctx, testJob("job-1", time.Now())); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	rec, err := ts.GetTransferByJobID(ctx, "job-1", bus.Send)
	if err != nil {
		t.Fatalf("GetTransferByJobID failed: %v", err)
	}
	if rec.FileName != "report.pdf" {
		t.Errorf("expected name 'report.pdf', got %q", rec.FileName)
	}
	if rec.Direction != "send" {
		t.Errorf("expected direction 'send', got %q", rec.Direction)
	}
	if rec.State != "completed" {
		t.Errorf("expected state 'completed', got %q", rec.State)
	}
	if rec.Error != "" {
		t.Errorf("expected no error, got %q", rec.Error)
	}
}

func TestTransferStore_RecordFailure(t *testing.T) {
	ts := setupTestDB(t)
	ctx := context.Background()

	job := testJob("job-1", time.Now())
	job.State = bus.TransferFailed
	job.Err = transfer.ErrSizeMismatch
	if err := ts.Record(ctx, job); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	rec, err := ts.GetTransferByJobID(ctx, "job-1", bus.Send)
	if err != nil {
		t.Fatalf("GetTransferByJobID failed: %v", err)
	}
	if rec.Error != "size mismatch" {
		t.Errorf("expected error 'size mismatch', got %q", rec.Error)
	}
}

func TestTransferStore_Duplicate(t *testing.T) {
	ts := setupTestDB(t)
	ctx := context.Background()

	_ = ts.Record(ctx, testJob("job-1", time.Now()))
	if err := ts.Record(ctx, testJob("job-1", time.Now())); err == nil {
		t.Error("expected error recording the same job twice")
	}
}

func TestTransferStore_SameJobBothDirections(t *testing.T) {
	ts := setupTestDB(t)
	ctx := context.Background()

	sent := testJob("job-1", time.Now())
	recv := testJob("job-1", time.Now())
	recv.Direction = bus.Receive
	recv.Peer = "AAAAAA"

	if err := ts.Record(ctx, sent); err != nil {
		t.Fatalf("Record send failed: %v", err)
	}
	if err := ts.Record(ctx, recv); err != nil {
		t.Fatalf("Record receive failed: %v", err)
	}

	rec, err := ts.GetTransferByJobID(ctx, "job-1", bus.Receive)
	if err != nil {
		t.Fatalf("GetTransferByJobID failed: %v", err)
	}
	if rec.Peer != "AAAAAA" {
		t.Errorf("expected peer 'AAAAAA', got %q", rec.Peer)
	}

	recs, err := ts.GetTransfers(ctx, 0)
	if err != nil {
		t.Fatalf("GetTransfers failed: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("expected 2 transfers, got %d", len(recs))
	}
}

func TestTransferStore_GetTransfers(t *testing.T) {
	ts := setupTestDB(t)
	ctx := context.Background()

	base := time.Now()
	for i, id := range []string{"old", "mid", "new"} {
		if err := ts.Record(ctx, testJob(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	recs, err := ts.GetTransfers(ctx, 0)
	if err != nil {
		t.Fatalf("GetTransfers failed: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 transfers, got %d", len(recs))
	}
	if recs[0].JobID != "new" || recs[2].JobID != "old" {
		t.Errorf("expected newest first, got %s..%s", recs[0].JobID, recs[2].JobID)
	}

	recs, err = ts.GetTransfers(ctx, 2)
	if err != nil {
		t.Fatalf("GetTransfers failed: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("expected 2 transfers, got %d", len(recs))
	}
}

func TestTransferStore_GetTransferByJobID_NotFound(t *testing.T) {
	ts := setupTestDB(t)

	_, err := ts.GetTransferByJobID(context.Background(), "nonexistent", bus.Send)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTransferStore_GetTransfersByPeer(t *testing.T) {
	ts := setupTestDB(t)
	ctx := context.Background()

	a := testJob("a", time.Now())
	b := testJob("b", time.Now())
	b.Peer = "CCCCCC"
	_ = ts.Record(ctx, a)
	_ = ts.Record(ctx, b)

	recs, err := ts.GetTransfersByPeer(ctx, "CCCCCC")
	if err != nil {
		t.Fatalf("GetTransfersByPeer failed: %v", err)
	}
	if len(recs) != 1 || recs[0].JobID != "b" {
		t.Errorf("expected only job b, got %+v", recs)
	}
}

func TestTransferStore_DeleteTransfers(t *testing.T) {
	ts := setupTestDB(t)
	ctx := context.Background()

	_ = ts.Record(ctx, testJob("a", time.Now()))
	_ = ts.Record(ctx, testJob("b", time.Now()))

	n, err := ts.DeleteTransfers(ctx)
	if err != nil {
		t.Fatalf("DeleteTransfers failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}

	recs, _ := ts.GetTransfers(ctx, 0)
	if len(recs) != 0 {
		t.Errorf("expected empty history, got %d", len(recs))
	}
}

var _ store.TransferRepository = (*store.TransferStore)(nil)
var _ transfer.Recorder = (*store.TransferStore)(nil)
