package db

// TransferRecord is one finished transfer, sent or received. Job ids are
// shared by both ends, so a job is unique per direction.
type TransferRecord struct {
	ID          uint   `gorm:"primaryKey"`
	JobID       string `gorm:"uniqueIndex:idx_job_direction;not null"`
	Direction   string `gorm:"uniqueIndex:idx_job_direction;index;not null"`
	Peer        string `gorm:"index"`
	FileName    string
	MIME        string
	Size        int64
	Bytes       int64
	TotalChunks int
	Checksum    string
	State       string `gorm:"not null"`
	Error       string
	StartedAt   int64
	FinishedAt  int64 `gorm:"index"`
}
