package store

import (
	"context"

	"github.com/rudransh-shrivastava/peerdrop/internal/bus"
	"github.com/rudransh-shrivastava/peerdrop/internal/db"
)

// TransferRepository defines transfer history operations.
type TransferRepository interface {
	CreateTransfer(ctx context.Context, rec db.TransferRecord) (db.TransferRecord, error)
	GetTransfers(ctx context.Context, limit int) ([]db.TransferRecord, error)
	GetTransferByJobID(ctx context.Context, jobID string, dir bus.Direction) (db.TransferRecord, error)
	GetTransfersByPeer(ctx context.Context, peer string) ([]db.TransferRecord, error)
	DeleteTransfers(ctx context.Context) (int64, error)
}
