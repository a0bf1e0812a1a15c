package transfer

import "errors"

var (
	ErrSessionNotOpen     = errors.New("session is not open")
	ErrTransferInProgress = errors.New("an outbound transfer is already running on this session")
	ErrIncompleteTransfer = errors.New("incomplete transfer")
	ErrSizeMismatch       = errors.New("size mismatch")
	ErrChecksumMismatch   = errors.New("checksum mismatch")
	ErrMalformedFrame     = errors.New("malformed frame")
	ErrAborted            = errors.New("transfer aborted by sender")
	ErrInvalidFileName    = errors.New("invalid file name")
)
