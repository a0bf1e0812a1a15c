// Package transfer moves one file at a time over an open channel.
//
// The sender splits the file into fixed-size chunk frames sent in index
// order, then an EOF frame declaring the total length, file name, MIME type
// and SHA-256 digest. The receiver reassembles by index and only hands the
// file on once every chunk is present and the length and digest match.
// Nothing is retried: a failed job stays failed.
package transfer

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rudransh-shrivastava/peerdrop/internal/bus"
	"github.com/rudransh-shrivastava/peerdrop/internal/protocol"
	"github.com/rudransh-shrivastava/peerdrop/internal/transport"
	"github.com/sirupsen/logrus"
)

const (
	sniffLen      = 3072
	recordTimeout = 5 * time.Second
)

// ChannelSource yields the open channel of the current session.
type ChannelSource interface {
	Channel() (transport.Conn, error)
}

// Source is a file to send. Size must be the exact number of bytes Reader
// yields.
type Source struct {
	Name   string
	Size   int64
	Reader io.Reader
}

type Options struct {
	ChunkSize int
	Status    *bus.Writer[bus.TransferStatus]
	Deliverer Deliverer
	Recorder  Recorder
	Logger    *logrus.Logger
}

type Engine struct {
	codec     *protocol.Codec
	chunkSize int
	status    *bus.Writer[bus.TransferStatus]
	deliverer Deliverer
	recorder  Recorder
	log       *logrus.Entry

	mu      sync.Mutex
	sending map[transport.Conn]struct{}
}

func NewEngine(opts Options) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = protocol.DefaultChunkSize
	}
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		codec:     protocol.NewCodec(),
		chunkSize: opts.ChunkSize,
		status:    opts.Status,
		deliverer: opts.Deliverer,
		recorder:  opts.Recorder,
		log:       log.WithField("component", "transfer"),
		sending:   make(map[transport.Conn]struct{}),
	}
}

// BeginTransfer sends src over the session's open channel and blocks until
// the job finishes.
func (e *Engine) BeginTransfer(ctx context.Context, sessions ChannelSource, src Source) (*Job, error) {
	conn, err := sessions.Channel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionNotOpen, err)
	}
	return e.Send(ctx, conn, src)
}

// Send streams src over conn. Only one Send may run per channel.
func (e *Engine) Send(ctx context.Context, conn transport.Conn, src Source) (*Job, error) {
	name, err := SanitizeFileName(src.Name)
	if err != nil {
		return nil, err
	}
	if src.Size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrSizeMismatch, src.Size)
	}
	if !e.claim(conn) {
		return nil, ErrTransferInProgress
	}
	defer e.release(conn)

	job := &Job{
		ID:          uuid.NewString(),
		Direction:   bus.Send,
		Peer:        conn.PeerID(),
		FileName:    name,
		Size:        src.Size,
		ChunkSize:   e.chunkSize,
		TotalChunks: ChunkCount(src.Size, int64(e.chunkSize)),
		State:       bus.TransferPending,
		StartedAt:   time.Now(),
	}
	log := e.log.WithFields(logrus.Fields{
		"job":    job.ID,
		"peer":   job.Peer,
		"file":   job.FileName,
		"size":   job.Size,
		"chunks": job.TotalChunks,
	})
	e.publish(job)

	br := bufio.NewReaderSize(src.Reader, max(e.chunkSize, sniffLen))
	head, _ := br.Peek(int(min(int64(sniffLen), src.Size)))
	job.MIME = mimetype.Detect(head).String()

	job.State = bus.TransferInProgress
	e.publish(job)
	log.Info("Sending file")

	if err := e.sendChunks(ctx, conn, job, br); err != nil {
		e.abort(conn, job, err)
		log.Warnf("Send failed: %v", err)
		return job, err
	}

	log.Info("File sent")
	e.finish(job)
	return job, nil
}

func (e *Engine) sendChunks(ctx context.Context, conn transport.Conn, job *Job, r io.Reader) error {
	hash := sha256.New()
	buf := make([]byte, e.chunkSize)

	for i := 0; i < job.TotalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		want := min(int64(e.chunkSize), job.Size-job.Bytes)
		n, err := io.ReadFull(r, buf[:want])
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: read %d of %d bytes", ErrSizeMismatch, job.Bytes+int64(n), job.Size)
		}
		if err != nil {
			return fmt.Errorf("reading chunk %d: %w", i, err)
		}
		hash.Write(buf[:n])

		data, err := e.codec.EncodeToBytes(&protocol.Frame{
			Type:       protocol.MsgChunk,
			TransferID: job.ID,
			Index:      uint32(i),
			Total:      uint32(job.TotalChunks),
			Data:       buf[:n],
		})
		if err != nil {
			return err
		}
		if err := conn.Send(data); err != nil {
			return fmt.Errorf("sending chunk %d: %w", i, err)
		}

		job.Chunks++
		job.Bytes += int64(n)
		if job.advance(float64(job.Bytes) / float64(job.Size)) {
			e.publish(job)
		}
	}

	var extra [1]byte
	if n, _ := io.ReadFull(r, extra[:]); n > 0 {
		return fmt.Errorf("%w: source is longer than %d bytes", ErrSizeMismatch, job.Size)
	}

	sum := hash.Sum(nil)
	job.Checksum = hex.EncodeToString(sum)

	data, err := e.codec.EncodeToBytes(&protocol.Frame{
		Type:       protocol.MsgEOF,
		TransferID: job.ID,
		Total:      uint32(job.TotalChunks),
		Name:       job.FileName,
		Size:       job.Size,
		Checksum:   sum,
		MIME:       job.MIME,
	})
	if err != nil {
		return err
	}
	if err := conn.Send(data); err != nil {
		return fmt.Errorf("sending eof: %w", err)
	}
	return nil
}

// abort fails job and tells the receiver, if the channel is still usable.
func (e *Engine) abort(conn transport.Conn, job *Job, cause error) {
	if !errors.Is(cause, transport.ErrChannelClosed) {
		if data, err := e.codec.EncodeToBytes(&protocol.Frame{
			Type:       protocol.MsgAbort,
			TransferID: job.ID,
			Reason:     cause.Error(),
		}); err == nil {
			_ = conn.Send(data)
		}
	}
	job.fail(cause)
	e.publish(job)
	e.record(job)
}

func (e *Engine) finish(job *Job) {
	job.complete()
	e.publish(job)
	e.record(job)
}

func (e *Engine) claim(conn transport.Conn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.sending[conn]; busy {
		return false
	}
	e.sending[conn] = struct{}{}
	return true
}

func (e *Engine) release(conn transport.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sending, conn)
}

func (e *Engine) publish(job *Job) {
	if e.status != nil {
		e.status.Publish(job.Status())
	}
}

func (e *Engine) record(job *Job) {
	if e.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := e.recorder.Record(ctx, *job); err != nil {
		e.log.WithField("job", job.ID).Warnf("Failed to record transfer: %v", err)
	}
}
