package bus

import "time"

type ServerState string

const (
	ServerConnecting   ServerState = "connecting"
	ServerConnected    ServerState = "connected"
	ServerDisconnected ServerState = "disconnected"
	ServerError        ServerState = "error"
)

// ServerStatus is connectivity to the signaling broker.
type ServerStatus struct {
	State ServerState
	Err   error
	At    time.Time
}

type PeerState string

const (
	PeerIdle       PeerState = "idle"
	PeerConnecting PeerState = "connecting"
	PeerOpen       PeerState = "open"
	PeerClosed     PeerState = "closed"
	PeerFailed     PeerState = "failed"
)

// FailureReason says why a session ended up Failed.
type FailureReason string

const (
	ReasonNone            FailureReason = ""
	ReasonPeerUnavailable FailureReason = "peer-unavailable"
	ReasonNetwork         FailureReason = "network"
	ReasonTimeout         FailureReason = "timeout"
)

type PeerStatus struct {
	State   PeerState
	Peer    string
	Inbound bool
	Reason  FailureReason
	Err     error
	At      time.Time
}

type Direction string

const (
	Send    Direction = "send"
	Receive Direction = "receive"
)

type TransferState string

const (
	TransferPending    TransferState = "pending"
	TransferInProgress TransferState = "in-progress"
	TransferCompleted  TransferState = "completed"
	TransferFailed     TransferState = "failed"
)

type TransferStatus struct {
	JobID     string
	Direction Direction
	Peer      string
	FileName  string
	State     TransferState
	Progress  float64
	Bytes     int64
	Size      int64
	Err       error
}

// Terminal reports whether the job has finished one way or the other.
func (s TransferStatus) Terminal() bool {
	return s.State == TransferCompleted || s.State == TransferFailed
}

// Bus groups the three state topics a node exposes.
type Bus struct {
	Server   *Topic[ServerStatus]
	Peer     *Topic[PeerStatus]
	Transfer *Topic[TransferStatus]
}

func New() *Bus {
	return &Bus{
		Server:   NewTopic[ServerStatus]("server"),
		Peer:     NewTopic[PeerStatus]("peer"),
		Transfer: NewTopic[TransferStatus]("transfer"),
	}
}
