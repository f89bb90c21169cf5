// Package wire implements the on-the-wire framing this module uses between
// its transports and the ingestion service: a fixed-size binary header, a
// msgpack-encoded header block, and a raw payload, with a checksum over
// both guarding the frame against silent corruption before it reaches the
// ingestion service. The real ingestion service's own frame-content
// encoding is an external concern; this package is this module's own
// concrete envelope for carrying an IngestDataRequest (and its encoded
// frame payload) across a transport connection.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Magic bytes identify tsingest-wire protocol frames.
var Magic = [2]byte{0x54, 0x49} // "TI"

// Version is the current protocol version.
const Version uint8 = 0x01

// frameHeaderSize is magic(2) + version(1) + type(1) + headerLen(4) +
// payloadLen(4) + checksum(4).
const frameHeaderSize = 16

// ErrChecksumMismatch is returned by ReadFrame when the checksum recorded
// in a frame's header doesn't match its header+payload bytes. A column
// payload that silently flips a bit in transit is a worse failure than one
// that fails loudly, since the corrupted values would otherwise reach the
// ingestion service looking like valid samples.
var ErrChecksumMismatch = errors.New("wire: frame checksum mismatch")

// Message types define the purpose of each frame.
const (
	TypeRegisterProvider uint8 = 0x01 // client -> service: register a provider
	TypeProviderUID      uint8 = 0x02 // service -> client: assigned provider uid
	TypeIngestRequest    uint8 = 0x03 // client -> service: one IngestDataRequest
	TypeIngestResult     uint8 = 0x04 // service -> client: ingestion acknowledgement
	TypePing             uint8 = 0x05 // health check (ping/pong)
	TypeError            uint8 = 0x06 // error reporting
)

// Frame is a single tsingest-wire protocol frame.
type Frame struct {
	Type    uint8
	Headers []byte // msgpack encoded
	Payload []byte // raw bytes
}

var writeBufPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 512)
		return &b
	},
}

// WriteFrame encodes and writes a frame to w, coalescing the header,
// headers, and payload into a single Write call and checksumming the
// header-plus-payload bytes so a receiver can detect transit corruption.
func WriteFrame(w io.Writer, f *Frame) error {
	totalSize := frameHeaderSize + len(f.Headers) + len(f.Payload)

	bp := writeBufPool.Get().(*[]byte)
	buf := (*bp)[:0]
	if cap(buf) < totalSize {
		buf = make([]byte, 0, totalSize)
	}
	buf = buf[:frameHeaderSize]

	buf[0] = Magic[0]
	buf[1] = Magic[1]
	buf[2] = Version
	buf[3] = f.Type
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(f.Headers)))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(f.Payload)))

	buf = append(buf, f.Headers...)
	buf = append(buf, f.Payload...)

	sum := crc32.ChecksumIEEE(buf[frameHeaderSize:])
	binary.BigEndian.PutUint32(buf[12:16], sum)

	_, err := w.Write(buf)

	*bp = buf
	writeBufPool.Put(bp)

	if err != nil {
		return fmt.Errorf("wire: writing frame: %w", err)
	}
	return nil
}

var readHdrPool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, frameHeaderSize)
		return &b
	},
}

// ReadFrame reads and decodes one frame from r, rejecting it if the
// recorded checksum doesn't match the bytes actually read.
func ReadFrame(r io.Reader) (*Frame, error) {
	bp := readHdrPool.Get().(*[]byte)
	header := *bp

	if _, err := io.ReadFull(r, header); err != nil {
		readHdrPool.Put(bp)
		return nil, fmt.Errorf("wire: reading frame header: %w", err)
	}

	if header[0] != Magic[0] || header[1] != Magic[1] {
		readHdrPool.Put(bp)
		return nil, fmt.Errorf("wire: invalid magic bytes: 0x%02x%02x", header[0], header[1])
	}
	if header[2] != Version {
		readHdrPool.Put(bp)
		return nil, fmt.Errorf("wire: unsupported protocol version: %d", header[2])
	}

	f := &Frame{Type: header[3]}
	hdrSize := int(binary.BigEndian.Uint32(header[4:8]))
	payloadSize := int(binary.BigEndian.Uint32(header[8:12]))
	wantSum := binary.BigEndian.Uint32(header[12:16])

	readHdrPool.Put(bp)

	totalData := hdrSize + payloadSize
	if totalData > 0 {
		data := make([]byte, totalData)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("wire: reading frame data (%d bytes): %w", totalData, err)
		}
		if crc32.ChecksumIEEE(data) != wantSum {
			return nil, ErrChecksumMismatch
		}
		if hdrSize > 0 {
			f.Headers = data[:hdrSize]
		}
		if payloadSize > 0 {
			f.Payload = data[hdrSize:]
		}
	} else if wantSum != crc32.ChecksumIEEE(nil) {
		return nil, ErrChecksumMismatch
	}

	return f, nil
}

// MarshalMsgpack encodes v to msgpack bytes, for use as a Frame's Headers.
func MarshalMsgpack(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// UnmarshalMsgpack decodes msgpack bytes into v.
func UnmarshalMsgpack(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// NewPingFrame creates a PING health check frame.
func NewPingFrame() *Frame {
	return &Frame{Type: TypePing, Payload: []byte("ping")}
}

// NewErrorFrame creates an ERROR frame carrying a message.
func NewErrorFrame(msg string) *Frame {
	return &Frame{Type: TypeError, Payload: []byte(msg)}
}
