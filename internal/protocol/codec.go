package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrInvalidFrame = errors.New("invalid frame")

const (
	fieldType       protowire.Number = 1
	fieldTransferID protowire.Number = 2
	fieldIndex      protowire.Number = 3
	fieldTotal      protowire.Number = 4
	fieldData       protowire.Number = 5
	fieldName       protowire.Number = 6
	fieldSize       protowire.Number = 7
	fieldChecksum   protowire.Number = 8
	fieldMIME       protowire.Number = 9
	fieldReason     protowire.Number = 10
)

// Codec encodes frames with the protobuf wire format so a non-Go peer can
// decode them from a plain .proto definition.
type Codec struct{}

func NewCodec() *Codec {
	return &Codec{}
}

func (c *Codec) EncodeToBytes(f *Frame) ([]byte, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: nil frame", ErrInvalidFrame)
	}
	switch f.Type {
	case MsgChunk, MsgEOF, MsgAbort:
	default:
		return nil, fmt.Errorf("%w: type %d", ErrInvalidFrame, f.Type)
	}

	b := make([]byte, 0, len(f.Data)+64)
	b = appendVarint(b, fieldType, uint64(f.Type))
	b = appendString(b, fieldTransferID, f.TransferID)
	b = appendVarint(b, fieldIndex, uint64(f.Index))
	b = appendVarint(b, fieldTotal, uint64(f.Total))
	if len(f.Data) > 0 {
		b = protowire.AppendTag(b, fieldData, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Data)
	}
	b = appendString(b, fieldName, f.Name)
	b = appendVarint(b, fieldSize, uint64(f.Size))
	if len(f.Checksum) > 0 {
		b = protowire.AppendTag(b, fieldChecksum, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Checksum)
	}
	b = appendString(b, fieldMIME, f.MIME)
	b = appendString(b, fieldReason, f.Reason)
	return b, nil
}

func (c *Codec) DecodeFromBytes(data []byte) (*Frame, error) {
	f := &Frame{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrInvalidFrame, num, protowire.ParseError(m))
			}
			data = data[m:]
			switch num {
			case fieldType:
				if v > math.MaxUint16 {
					return nil, fmt.Errorf("%w: type %d out of range", ErrInvalidFrame, v)
				}
				f.Type = MessageType(v)
			case fieldIndex, fieldTotal:
				if v > math.MaxUint32 {
					return nil, fmt.Errorf("%w: field %d: %d out of range", ErrInvalidFrame, num, v)
				}
				if num == fieldIndex {
					f.Index = uint32(v)
				} else {
					f.Total = uint32(v)
				}
			case fieldSize:
				if v > math.MaxInt64 {
					return nil, fmt.Errorf("%w: size %d out of range", ErrInvalidFrame, v)
				}
				f.Size = int64(v)
			}
		case typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrInvalidFrame, num, protowire.ParseError(m))
			}
			data = data[m:]
			switch num {
			case fieldTransferID:
				f.TransferID = string(v)
			case fieldData:
				f.Data = bytes.Clone(v)
			case fieldName:
				f.Name = string(v)
			case fieldChecksum:
				f.Checksum = bytes.Clone(v)
			case fieldMIME:
				f.MIME = string(v)
			case fieldReason:
				f.Reason = string(v)
			}
		default:
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrInvalidFrame, num, protowire.ParseError(m))
			}
			data = data[m:]
		}
	}

	switch f.Type {
	case MsgChunk, MsgEOF, MsgAbort:
	default:
		return nil, fmt.Errorf("%w: type %s", ErrInvalidFrame, f.Type)
	}
	if f.TransferID == "" {
		return nil, fmt.Errorf("%w: missing transfer id", ErrInvalidFrame)
	}
	if f.Size < 0 {
		return nil, fmt.Errorf("%w: negative size", ErrInvalidFrame)
	}
	return f, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}
