package transfer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/rudransh-shrivastava/peerdrop/internal/bus"
	"github.com/rudransh-shrivastava/peerdrop/internal/protocol"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
	"github.com/sirupsen/logrus"
)

type inbound struct {
	job    *Job
	total  uint32
	chunks map[uint32][]byte
}

type receiver struct {
	engine *Engine
	conn   transport.Conn
	log    *logrus.Entry
	jobs   map[string]*inbound
	// finished jobs whose late frames are ignored
	finished map[string]struct{}
}

// Serve receives files from conn until it closes or ctx ends. Jobs still
// open at that point fail with ErrIncompleteTransfer.
func (e *Engine) Serve(ctx context.Context, conn transport.Conn) error {
	r := &receiver{
		engine:   e,
		conn:     conn,
		log:      e.log.WithField("peer", conn.PeerID()),
		jobs:     make(map[string]*inbound),
		finished: make(map[string]struct{}),
	}

	for {
		select {
		case <-ctx.Done():
			r.failAll(fmt.Errorf("%w: %v", ErrIncompleteTransfer, ctx.Err()))
			return ctx.Err()
		case msg, ok := <-conn.Recv():
			if !ok {
				cause := conn.Err()
				if cause == nil {
					cause = transport.ErrChannelClosed
				}
				r.failAll(fmt.Errorf("%w: %v", ErrIncompleteTransfer, cause))
				return nil
			}
			r.handle(ctx, msg)
		}
	}
}

func (r *receiver) handle(ctx context.Context, msg []byte) {
	frame, err := r.engine.codec.DecodeFromBytes(msg)
	if err != nil {
		r.log.Warnf("Dropping undecodable frame: %v", err)
		return
	}
	if _, done := r.finished[frame.TransferID]; done {
		r.log.WithField("job", frame.TransferID).Debugf("Ignoring %s for finished job", frame.Type)
		return
	}

	switch frame.Type {
	case protocol.MsgChunk:
		r.handleChunk(frame)
	case protocol.MsgEOF:
		r.handleEOF(ctx, frame)
	case protocol.MsgAbort:
		in := r.lookup(frame.TransferID, 0)
		r.fail(in, fmt.Errorf("%w: %s", ErrAborted, frame.Reason))
	}
}

func (r *receiver) lookup(id string, total uint32) *inbound {
	in, ok := r.jobs[id]
	if ok {
		return in
	}
	in = &inbound{
		job: &Job{
			ID:          id,
			Direction:   bus.Receive,
			Peer:        r.conn.PeerID(),
			TotalChunks: int(total),
			State:       bus.TransferInProgress,
			StartedAt:   time.Now(),
		},
		total:  total,
		chunks: make(map[uint32][]byte),
	}
	r.jobs[id] = in
	r.engine.publish(in.job)
	r.log.WithFields(logrus.Fields{"job": id, "chunks": total}).Info("Receiving file")
	return in
}

func (r *receiver) handleChunk(frame *protocol.Frame) {
	in := r.lookup(frame.TransferID, frame.Total)

	if frame.Total == 0 || frame.Total != in.total || frame.Index >= in.total {
		r.fail(in, fmt.Errorf("%w: chunk %d of %d (expected total %d)", ErrMalformedFrame, frame.Index, frame.Total, in.total))
		return
	}
	if _, dup := in.chunks[frame.Index]; dup {
		return
	}

	in.chunks[frame.Index] = frame.Data
	in.job.Chunks++
	in.job.Bytes += int64(len(frame.Data))
	if in.job.advance(float64(in.job.Chunks) / float64(in.total)) {
		r.engine.publish(in.job)
	}
}

func (r *receiver) handleEOF(ctx context.Context, frame *protocol.Frame) {
	in := r.lookup(frame.TransferID, frame.Total)
	job := in.job
	job.FileName = frame.Name
	job.MIME = frame.MIME
	job.Size = frame.Size
	job.Checksum = hex.EncodeToString(frame.Checksum)

	if frame.Total != in.total {
		r.fail(in, fmt.Errorf("%w: eof declares %d chunks, chunks declared %d", ErrMalformedFrame, frame.Total, in.total))
		return
	}
	if absent, first := r.firstMissing(in); absent > 0 {
		r.fail(in, fmt.Errorf("%w: missing %d of %d chunks (first %d)", ErrIncompleteTransfer, absent, in.total, first))
		return
	}
	if job.Bytes != frame.Size {
		r.fail(in, fmt.Errorf("%w: received %d bytes, declared %d", ErrSizeMismatch, job.Bytes, frame.Size))
		return
	}

	var buf bytes.Buffer
	buf.Grow(int(job.Bytes))
	for i := uint32(0); i < in.total; i++ {
		buf.Write(in.chunks[i])
	}
	data := buf.Bytes()

	if len(frame.Checksum) > 0 {
		sum := sha256.Sum256(data)
		if !bytes.Equal(sum[:], frame.Checksum) {
			r.fail(in, fmt.Errorf("%w: got %x", ErrChecksumMismatch, sum))
			return
		}
	}

	log := r.log.WithFields(logrus.Fields{"job": job.ID, "file": job.FileName, "size": job.Size})
	if r.engine.deliverer != nil {
		path, err := r.engine.deliverer.Deliver(ctx, Delivery{
			JobID: job.ID,
			Peer:  job.Peer,
			Name:  job.FileName,
			MIME:  job.MIME,
			Data:  data,
		})
		if err != nil {
			r.fail(in, fmt.Errorf("delivering %s: %w", job.FileName, err))
			return
		}
		log = log.WithField("path", path)
	}

	delete(r.jobs, job.ID)
	r.finished[job.ID] = struct{}{}
	r.engine.finish(job)
	log.Info("File received")
}

// firstMissing returns how many chunks are absent and the lowest absent index.
func (r *receiver) firstMissing(in *inbound) (int, uint32) {
	absent := int(in.total) - len(in.chunks)
	if absent <= 0 {
		return 0, 0
	}
	for i := uint32(0); i < in.total; i++ {
		if _, ok := in.chunks[i]; !ok {
			return absent, i
		}
	}
	return 0, 0
}

func (r *receiver) fail(in *inbound, err error) {
	delete(r.jobs, in.job.ID)
	r.finished[in.job.ID] = struct{}{}
	in.chunks = nil
	in.job.fail(err)
	r.engine.publish(in.job)
	r.engine.record(in.job)

	log := r.log.WithField("job", in.job.ID)
	if errors.Is(err, ErrAborted) {
		log.Info("Transfer aborted by sender")
		return
	}
	log.Warnf("Receive failed: %v", err)
}

func (r *receiver) failAll(err error) {
	for _, in := range r.jobs {
		r.fail(in, err)
	}
}
