package protocol

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

const testTransferID = "2f1c6f0e-8d7a-4c55-9d0e-0b1f7c8a9e11"

func TestCodecChunk(t *testing.T) {
	codec := NewCodec()

	data := []byte("This is some chunk data for testing purposes.")
	in := &Frame{Type: MsgChunk, TransferID: testTransferID, Index: 42, Total: 100, Data: data}

	raw, err := codec.EncodeToBytes(in)
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}

	out, err := codec.DecodeFromBytes(raw)
	if err != nil {
		t.Fatalf("DecodeFromBytes failed: %v", err)
	}

	if out.Type != MsgChunk {
		t.Errorf("expected %s, got %s", MsgChunk, out.Type)
	}
	if out.Index != 42 || out.Total != 100 {
		t.Errorf("expected index 42 of 100, got %d of %d", out.Index, out.Total)
	}
	if !bytes.Equal(out.Data, data) {
		t.Errorf("chunk data mismatch")
	}

	// decoded data must not alias the input buffer
	raw[len(raw)-1] ^= 0xFF
	if !bytes.Equal(out.Data, data) {
		t.Errorf("decoded data aliases the encoded buffer")
	}
}

func TestCodecEOF(t *testing.T) {
	codec := NewCodec()

	sum := bytes.Repeat([]byte{0xAB}, ChecksumSize)
	in := &Frame{
		Type:       MsgEOF,
		TransferID: testTransferID,
		Total:      10,
		Name:       "report.pdf",
		Size:       10_000_000,
		Checksum:   sum,
		MIME:       "application/pdf",
	}

	raw, err := codec.EncodeToBytes(in)
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}
	out, err := codec.DecodeFromBytes(raw)
	if err != nil {
		t.Fatalf("DecodeFromBytes failed: %v", err)
	}

	if out.Name != "report.pdf" {
		t.Errorf("expected name report.pdf, got %q", out.Name)
	}
	if out.Size != 10_000_000 {
		t.Errorf("expected size 10000000, got %d", out.Size)
	}
	if !bytes.Equal(out.Checksum, sum) {
		t.Errorf("checksum mismatch")
	}
	if out.MIME != "application/pdf" {
		t.Errorf("expected mime application/pdf, got %q", out.MIME)
	}
}

func TestCodecAbort(t *testing.T) {
	codec := NewCodec()

	raw, err := codec.EncodeToBytes(&Frame{Type: MsgAbort, TransferID: testTransferID, Reason: "size mismatch"})
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}
	out, err := codec.DecodeFromBytes(raw)
	if err != nil {
		t.Fatalf("DecodeFromBytes failed: %v", err)
	}
	if out.Reason != "size mismatch" {
		t.Errorf("expected reason, got %q", out.Reason)
	}
}

func TestCodecSkipsUnknownFields(t *testing.T) {
	codec := NewCodec()

	raw, err := codec.EncodeToBytes(&Frame{Type: MsgAbort, TransferID: testTransferID})
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}
	raw = protowire.AppendTag(raw, 99, protowire.Fixed32Type)
	raw = protowire.AppendFixed32(raw, 12345)

	if _, err := codec.DecodeFromBytes(raw); err != nil {
		t.Fatalf("expected unknown field to be skipped, got %v", err)
	}
}

func TestCodecRejectsInvalid(t *testing.T) {
	codec := NewCodec()

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"truncated", []byte{0x0A, 0x10, 'a'}},
		{"unknown type", protowire.AppendVarint(protowire.AppendTag(nil, 1, protowire.VarintType), 0x7777)},
	}

	for _, tt := range tests {
		if _, err := codec.DecodeFromBytes(tt.data); !errors.Is(err, ErrInvalidFrame) {
			t.Errorf("%s: expected ErrInvalidFrame, got %v", tt.name, err)
		}
	}

	if _, err := codec.EncodeToBytes(&Frame{Type: 0x1234}); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("expected ErrInvalidFrame on encode, got %v", err)
	}
}

func TestCodecRejectsOverflow(t *testing.T) {
	codec := NewCodec()

	frame := func(num protowire.Number, v uint64) []byte {
		b := protowire.AppendTag(nil, fieldTransferID, protowire.BytesType)
		b = protowire.AppendString(b, testTransferID)
		if num != fieldType {
			b = protowire.AppendTag(b, fieldType, protowire.VarintType)
			b = protowire.AppendVarint(b, uint64(MsgChunk))
		}
		b = protowire.AppendTag(b, num, protowire.VarintType)
		return protowire.AppendVarint(b, v)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"type wraps to chunk", frame(fieldType, 0x10010)},
		{"index", frame(fieldIndex, 1<<32)},
		{"total", frame(fieldTotal, 1<<32+3)},
		{"size", frame(fieldSize, 1<<63)},
	}

	for _, tt := range tests {
		f, err := codec.DecodeFromBytes(tt.data)
		if !errors.Is(err, ErrInvalidFrame) {
			t.Errorf("%s: expected ErrInvalidFrame, got frame %+v err %v", tt.name, f, err)
		}
	}

	ok, err := codec.DecodeFromBytes(frame(fieldIndex, 1<<32-1))
	if err != nil {
		t.Fatalf("expected max index to decode, got %v", err)
	}
	if ok.Index != 1<<32-1 {
		t.Errorf("expected index %d, got %d", uint32(1<<32-1), ok.Index)
	}
}

func TestMaxChunkFitsMessage(t *testing.T) {
	const messageSize = 65535
	codec := NewCodec()

	raw, err := codec.EncodeToBytes(&Frame{
		Type:       MsgChunk,
		TransferID: testTransferID,
		Index:      1<<32 - 1,
		Total:      1<<32 - 1,
		Data:       []byte(strings.Repeat("x", MaxChunkSize(messageSize))),
	})
	if err != nil {
		t.Fatalf("EncodeToBytes failed: %v", err)
	}
	if len(raw) > messageSize {
		t.Errorf("frame of %d bytes exceeds message size %d", len(raw), messageSize)
	}
	if DefaultChunkSize > MaxChunkSize(messageSize) {
		t.Errorf("default chunk size %d exceeds max %d", DefaultChunkSize, MaxChunkSize(messageSize))
	}
}

func TestMessageTypeString(t *testing.T) {
	tests := []struct {
		typ      MessageType
		expected string
	}{
		{MsgChunk, "CHUNK"},
		{MsgEOF, "EOF"},
		{MsgAbort, "ABORT"},
		{MessageType(0x4242), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.expected {
			t.Errorf("MessageType(%d).String() = %q, want %q", tt.typ, got, tt.expected)
		}
	}
}
