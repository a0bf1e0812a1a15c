package protocol

const (
	DefaultChunkSize = 60 * 1024
	// MaxFrameOverhead bounds the bytes a chunk frame adds around its data.
	MaxFrameOverhead = 256
	ChecksumSize     = 32
)

type MessageType uint16

const (
	MsgChunk MessageType = 0x0010
	MsgEOF   MessageType = 0x0011
	MsgAbort MessageType = 0x00FF
)

func (t MessageType) String() string {
	switch t {
	case MsgChunk:
		return "CHUNK"
	case MsgEOF:
		return "EOF"
	case MsgAbort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// Frame is one channel message of the transfer protocol. Which fields are
// meaningful depends on Type.
type Frame struct {
	Type       MessageType
	TransferID string

	// MsgChunk
	Index uint32
	Total uint32
	Data  []byte

	// MsgEOF
	Name     string
	Size     int64
	Checksum []byte
	MIME     string

	// MsgAbort
	Reason string
}

// MaxChunkSize is the largest chunk that keeps a frame within messageSize.
func MaxChunkSize(messageSize int) int {
	return messageSize - MaxFrameOverhead
}
