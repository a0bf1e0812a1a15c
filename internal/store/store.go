// Package store provides database access for transfer history.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rudransh-shrivastava/peerdrop/internal/bus"
	"github.com/rudransh-shrivastava/peerdrop/internal/db"
	"github.com/rudransh-shrivastava/peerdrop/internal/transfer"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("transfer not found")

type TransferStore struct {
	db *gorm.DB
}

func NewTransferStore(gormDB *gorm.DB) *TransferStore {
	return &TransferStore{db: gormDB}
}

func (ts *TransferStore) CreateTransfer(ctx context.Context, rec db.TransferRecord) (db.TransferRecord, error) {
	if err := ts.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return db.TransferRecord{}, err
	}
	return rec, nil
}

// GetTransfers returns the most recent transfers first. A limit of zero or
// less returns all of them.
func (ts *TransferStore) GetTransfers(ctx context.Context, limit int) ([]db.TransferRecord, error) {
	var recs []db.TransferRecord
	q := ts.db.WithContext(ctx).Order("finished_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (ts *TransferStore) GetTransferByJobID(ctx context.Context, jobID string, dir bus.Direction) (db.TransferRecord, error) {
	var rec db.TransferRecord
	err := ts.db.WithContext(ctx).Where("job_id = ? AND direction = ?", jobID, string(dir)).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.TransferRecord{}, fmt.Errorf("%s %s: %w", dir, jobID, ErrNotFound)
	}
	return rec, err
}

func (ts *TransferStore) GetTransfersByPeer(ctx context.Context, peer string) ([]db.TransferRecord, error) {
	var recs []db.TransferRecord
	if err := ts.db.WithContext(ctx).Where("peer = ?", peer).Order("finished_at DESC").Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (ts *TransferStore) DeleteTransfers(ctx context.Context) (int64, error) {
	res := ts.db.WithContext(ctx).Where("1 = 1").Delete(&db.TransferRecord{})
	return res.RowsAffected, res.Error
}

// Record implements transfer.Recorder.
func (ts *TransferStore) Record(ctx context.Context, job transfer.Job) error {
	_, err := ts.CreateTransfer(ctx, RecordFromJob(job))
	return err
}

func RecordFromJob(job transfer.Job) db.TransferRecord {
	rec := db.TransferRecord{
		JobID:       job.ID,
		Direction:   string(job.Direction),
		Peer:        job.Peer,
		FileName:    job.FileName,
		MIME:        job.MIME,
		Size:        job.Size,
		Bytes:       job.Bytes,
		TotalChunks: job.TotalChunks,
		Checksum:    job.Checksum,
		State:       string(job.State),
		StartedAt:   job.StartedAt.Unix(),
		FinishedAt:  job.FinishedAt.Unix(),
	}
	if job.Err != nil {
		rec.Error = job.Err.Error()
	}
	return rec
}
