// Package ctxsync wire.go implements the binary, little-endian,
// length-prefixed frame formats used on the wire: delta encoding,
// reconciliation protocol messages, and the heartbeat payload.
package ctxsync

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	syncerrors "syncore/internal/pkg/errors"
)

// maxFrameSize guards against a malicious or corrupted peer claiming an
// unbounded frame length.
const maxFrameSize = 256 * 1024 * 1024

// WriteFrame writes a length-prefixed frame: a u32 byte length followed
// by the frame bytes (one of the Encode* outputs below). This stream-level
// framing — an ordered byte stream of framed messages — is distinct
// from each message's own internal layout.
func WriteFrame(w io.Writer, frame []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(frame)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(frame)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, syncerrors.NewProtocolError(2, "frame exceeds maximum size")
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// Opcode identifies a reconciliation-protocol frame.
type Opcode uint8

const (
	OpHello         Opcode = 0x01
	OpDeltas        Opcode = 0x02
	OpSnapshotBegin Opcode = 0x03
	OpSnapshotChunk Opcode = 0x04
	OpSnapshotEnd   Opcode = 0x05
	OpDone          Opcode = 0x06
	OpError         Opcode = 0xff
)

func putID(buf *bytes.Buffer, id ID) { buf.Write(id[:]) }

func getID(r *bytes.Reader) (ID, error) {
	var id ID
	if _, err := r.Read(id[:]); err != nil {
		return id, err
	}
	return id, nil
}

func putU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func getU32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func putU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func getU16(r *bytes.Reader) (uint16, error) {
	var b [2]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

// EncodeHLC writes the HLC as a 16-byte (u128) field: 8 bytes physical
// nanoseconds, 4 bytes logical counter, 4 reserved bytes.
func encodeHLC(buf *bytes.Buffer, ts HLC) {
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(ts.Physical))
	binary.LittleEndian.PutUint32(b[8:12], ts.Logical)
	buf.Write(b[:])
}

func decodeHLC(r *bytes.Reader) (HLC, error) {
	var b [16]byte
	if _, err := r.Read(b[:]); err != nil {
		return HLC{}, err
	}
	return HLC{
		Physical: int64(binary.LittleEndian.Uint64(b[0:8])),
		Logical:  binary.LittleEndian.Uint32(b[8:12]),
	}, nil
}

// EncodeDelta serializes a Delta per the §6 wire format.
func EncodeDelta(d *Delta) []byte {
	buf := &bytes.Buffer{}
	putID(buf, d.ID)
	buf.WriteByte(byte(d.Kind))
	putU32(buf, uint32(len(d.Parents)))
	for _, p := range d.Parents {
		putID(buf, p)
	}
	encodeHLC(buf, d.Timestamp)
	buf.Write(d.Author[:])
	buf.Write(d.ExpectedRootHash[:])
	putU32(buf, uint32(len(d.Payload)))
	buf.Write(d.Payload)
	putU32(buf, uint32(len(d.Events)))
	for _, ev := range d.Events {
		putU16(buf, uint16(len(ev.Name)))
		buf.WriteString(ev.Name)
		putU32(buf, uint32(len(ev.Data)))
		buf.Write(ev.Data)
	}
	return buf.Bytes()
}

// DecodeDelta parses a single Delta from r, leaving the reader positioned
// just past the decoded frame (so callers can decode several in
// sequence, as in the Deltas message).
func DecodeDelta(r *bytes.Reader) (*Delta, error) {
	d := &Delta{}

	id, err := getID(r)
	if err != nil {
		return nil, syncerrors.NewProtocolError(1, "truncated delta id")
	}
	d.ID = id

	kindByte, err := r.ReadByte()
	if err != nil {
		return nil, syncerrors.NewProtocolError(1, "truncated delta kind")
	}
	d.Kind = Kind(kindByte)

	parentCount, err := getU32(r)
	if err != nil {
		return nil, syncerrors.NewProtocolError(1, "truncated parent count")
	}
	d.Parents = make([]ID, parentCount)
	for i := range d.Parents {
		p, err := getID(r)
		if err != nil {
			return nil, syncerrors.NewProtocolError(1, "truncated parent list")
		}
		d.Parents[i] = p
	}

	ts, err := decodeHLC(r)
	if err != nil {
		return nil, syncerrors.NewProtocolError(1, "truncated timestamp")
	}
	d.Timestamp = ts

	if _, err := r.Read(d.Author[:]); err != nil {
		return nil, syncerrors.NewProtocolError(1, "truncated author")
	}
	if _, err := r.Read(d.ExpectedRootHash[:]); err != nil {
		return nil, syncerrors.NewProtocolError(1, "truncated root hash")
	}

	payloadLen, err := getU32(r)
	if err != nil {
		return nil, syncerrors.NewProtocolError(1, "truncated payload length")
	}
	d.Payload = make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := r.Read(d.Payload); err != nil {
			return nil, syncerrors.NewProtocolError(1, "truncated payload")
		}
	}

	eventCount, err := getU32(r)
	if err != nil {
		return nil, syncerrors.NewProtocolError(1, "truncated event count")
	}
	d.Events = make([]Event, eventCount)
	for i := range d.Events {
		nameLen, err := getU16(r)
		if err != nil {
			return nil, syncerrors.NewProtocolError(1, "truncated event name length")
		}
		nameBuf := make([]byte, nameLen)
		if nameLen > 0 {
			if _, err := r.Read(nameBuf); err != nil {
				return nil, syncerrors.NewProtocolError(1, "truncated event name")
			}
		}
		dataLen, err := getU32(r)
		if err != nil {
			return nil, syncerrors.NewProtocolError(1, "truncated event data length")
		}
		dataBuf := make([]byte, dataLen)
		if dataLen > 0 {
			if _, err := r.Read(dataBuf); err != nil {
				return nil, syncerrors.NewProtocolError(1, "truncated event data")
			}
		}
		d.Events[i] = Event{Name: string(nameBuf), Data: dataBuf}
	}

	return d, nil
}

// HelloMessage is the first frame of a reconciliation session (§4.4).
type HelloMessage struct {
	ContextID   [32]byte
	Initialized bool
	Heads       []ID
}

func EncodeHello(m HelloMessage) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(OpHello))
	buf.Write(m.ContextID[:])
	if m.Initialized {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	putU32(buf, uint32(len(m.Heads)))
	for _, h := range m.Heads {
		putID(buf, h)
	}
	return buf.Bytes()
}

func DecodeHello(r *bytes.Reader) (HelloMessage, error) {
	var m HelloMessage
	if _, err := r.Read(m.ContextID[:]); err != nil {
		return m, syncerrors.NewProtocolError(1, "truncated hello context id")
	}
	initByte, err := r.ReadByte()
	if err != nil {
		return m, syncerrors.NewProtocolError(1, "truncated hello initialized flag")
	}
	m.Initialized = initByte != 0
	count, err := getU32(r)
	if err != nil {
		return m, syncerrors.NewProtocolError(1, "truncated hello head count")
	}
	m.Heads = make([]ID, count)
	for i := range m.Heads {
		id, err := getID(r)
		if err != nil {
			return m, syncerrors.NewProtocolError(1, "truncated hello heads")
		}
		m.Heads[i] = id
	}
	return m, nil
}

// EncodeDeltas frames a batch of deltas for delta-sync streaming.
func EncodeDeltas(deltas []*Delta) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(OpDeltas))
	putU32(buf, uint32(len(deltas)))
	for _, d := range deltas {
		buf.Write(EncodeDelta(d))
	}
	return buf.Bytes()
}

func DecodeDeltas(r *bytes.Reader) ([]*Delta, error) {
	count, err := getU32(r)
	if err != nil {
		return nil, syncerrors.NewProtocolError(1, "truncated deltas count")
	}
	out := make([]*Delta, count)
	for i := range out {
		d, err := DecodeDelta(r)
		if err != nil {
			return nil, err
		}
		out[i] = d
	}
	return out, nil
}

func EncodeSnapshotBegin(checkpoint *Delta) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(OpSnapshotBegin))
	buf.Write(EncodeDelta(checkpoint))
	return buf.Bytes()
}

func DecodeSnapshotBegin(r *bytes.Reader) (*Delta, error) {
	return DecodeDelta(r)
}

func EncodeSnapshotChunk(chunk []byte) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(OpSnapshotChunk))
	putU32(buf, uint32(len(chunk)))
	buf.Write(chunk)
	return buf.Bytes()
}

func DecodeSnapshotChunk(r *bytes.Reader) ([]byte, error) {
	n, err := getU32(r)
	if err != nil {
		return nil, syncerrors.NewProtocolError(1, "truncated snapshot chunk length")
	}
	chunk := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(chunk); err != nil {
			return nil, syncerrors.NewProtocolError(1, "truncated snapshot chunk")
		}
	}
	return chunk, nil
}

func EncodeSnapshotEnd() []byte { return []byte{byte(OpSnapshotEnd)} }

func EncodeDone(heads []ID) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(OpDone))
	putU32(buf, uint32(len(heads)))
	for _, h := range heads {
		putID(buf, h)
	}
	return buf.Bytes()
}

func DecodeDone(r *bytes.Reader) ([]ID, error) {
	count, err := getU32(r)
	if err != nil {
		return nil, syncerrors.NewProtocolError(1, "truncated done head count")
	}
	heads := make([]ID, count)
	for i := range heads {
		id, err := getID(r)
		if err != nil {
			return nil, syncerrors.NewProtocolError(1, "truncated done heads")
		}
		heads[i] = id
	}
	return heads, nil
}

func EncodeError(code uint32, message string) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(byte(OpError))
	putU32(buf, code)
	putU32(buf, uint32(len(message)))
	buf.WriteString(message)
	return buf.Bytes()
}

func DecodeError(r *bytes.Reader) (uint32, string, error) {
	code, err := getU32(r)
	if err != nil {
		return 0, "", syncerrors.NewProtocolError(1, "truncated error code")
	}
	msgLen, err := getU32(r)
	if err != nil {
		return 0, "", syncerrors.NewProtocolError(1, "truncated error message length")
	}
	msgBuf := make([]byte, msgLen)
	if msgLen > 0 {
		if _, err := r.Read(msgBuf); err != nil {
			return 0, "", syncerrors.NewProtocolError(1, "truncated error message")
		}
	}
	return code, string(msgBuf), nil
}

// PeekOpcode reads the frame's leading opcode byte without consuming the
// rest of the frame.
func PeekOpcode(r *bytes.Reader) (Opcode, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("peek opcode: %w", err)
	}
	return Opcode(b), nil
}

// EncodeHeartbeat builds the hash-heartbeat broadcast payload (§6):
// context_id | root_hash | head_count | heads.
func EncodeHeartbeat(contextID [32]byte, rootHash [32]byte, heads []ID) []byte {
	buf := &bytes.Buffer{}
	buf.Write(contextID[:])
	buf.Write(rootHash[:])
	putU32(buf, uint32(len(heads)))
	for _, h := range heads {
		putID(buf, h)
	}
	return buf.Bytes()
}

// HeartbeatPayload is a decoded heartbeat broadcast.
type HeartbeatPayload struct {
	ContextID [32]byte
	RootHash  [32]byte
	Heads     []ID
}

func DecodeHeartbeat(data []byte) (HeartbeatPayload, error) {
	r := bytes.NewReader(data)
	var hb HeartbeatPayload
	if _, err := r.Read(hb.ContextID[:]); err != nil {
		return hb, syncerrors.NewProtocolError(1, "truncated heartbeat context id")
	}
	if _, err := r.Read(hb.RootHash[:]); err != nil {
		return hb, syncerrors.NewProtocolError(1, "truncated heartbeat root hash")
	}
	count, err := getU32(r)
	if err != nil {
		return hb, syncerrors.NewProtocolError(1, "truncated heartbeat head count")
	}
	hb.Heads = make([]ID, count)
	for i := range hb.Heads {
		id, err := getID(r)
		if err != nil {
			return hb, syncerrors.NewProtocolError(1, "truncated heartbeat heads")
		}
		hb.Heads[i] = id
	}
	return hb, nil
}
