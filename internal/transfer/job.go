package transfer

import (
	"time"

	"github.com/rudransh-shrivastava/peerdrop/internal/bus"
)

// Job tracks one file moving in one direction.
type Job struct {
	ID          string
	Direction   bus.Direction
	Peer        string
	FileName    string
	MIME        string
	Checksum    string
	Size        int64
	ChunkSize   int
	TotalChunks int
	Chunks      int
	Bytes       int64
	State       bus.TransferState
	Progress    float64
	Err         error
	StartedAt   time.Time
	FinishedAt  time.Time
}

func (j *Job) Status() bus.TransferStatus {
	return bus.TransferStatus{
		JobID:     j.ID,
		Direction: j.Direction,
		Peer:      j.Peer,
		FileName:  j.FileName,
		State:     j.State,
		Progress:  j.Progress,
		Bytes:     j.Bytes,
		Size:      j.Size,
		Err:       j.Err,
	}
}

// advance moves progress forward. Full progress is only reached through
// complete, so a job that later fails verification never reported 1.0.
func (j *Job) advance(p float64) bool {
	if p >= 1 || p <= j.Progress {
		return false
	}
	j.Progress = p
	return true
}

func (j *Job) complete() {
	j.State = bus.TransferCompleted
	j.Progress = 1
	j.FinishedAt = time.Now()
}

func (j *Job) fail(err error) {
	j.State = bus.TransferFailed
	j.Err = err
	j.FinishedAt = time.Now()
}
