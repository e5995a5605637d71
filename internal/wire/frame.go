// Package wire implements Remits' TCP framing: a 4-byte big-endian
// length prefix around every request and response body (spec.md §4.7).
package wire

import (
	"encoding/binary"
	"io"

	"github.com/badtuple/remits/internal/codec"
	"github.com/badtuple/remits/internal/command"
	"github.com/badtuple/remits/internal/remerr"
)

// Kind is the frame-kind byte at offset 0 of every frame body.
type Kind uint8

const (
	KindRequest Kind = 0x00
	KindInfo    Kind = 0x01
	KindData    Kind = 0x02
	KindError   Kind = 0x03
)

const maxFrameLen = 1 << 24

// ReadFrame reads one length-prefixed frame body off r. A zero-length
// frame is rejected with UnknownFrameKind, matching the boundary
// behavior of an empty body having no frame-kind byte to read.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, remerr.New(remerr.UnknownFrameKind)
	}
	if n > maxFrameLen {
		return nil, remerr.New(remerr.FailedToReadBytes)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, remerr.New(remerr.FailedToReadBytes)
	}
	return body, nil
}

// WriteFrame writes body as one length-prefixed frame to w.
func WriteFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// Request is a decoded incoming request: the request code and its
// structured command.
type Request struct {
	Code command.Code
	Cmd  command.Command
}

// DecodeRequest parses a frame body as a client request.
func DecodeRequest(body []byte) (Request, error) {
	if len(body) < 1 {
		return Request{}, remerr.New(remerr.CouldNotReadPayload)
	}
	if Kind(body[0]) != KindRequest {
		return Request{}, remerr.New(remerr.ServerOnlyAcceptsRequests)
	}
	if len(body) < 2 {
		return Request{}, remerr.New(remerr.CouldNotReadPayload)
	}
	code := command.Code(body[1])

	payload := codec.Null
	if len(body) > 2 {
		v, err := codec.Decode(body[2:])
		if err != nil {
			return Request{}, remerr.New(remerr.CouldNotReadPayload)
		}
		payload = v
	}

	cmd, err := command.Decode(code, payload)
	if err != nil {
		return Request{}, err
	}
	return Request{Code: code, Cmd: cmd}, nil
}

// okPayload is the fixed Info "ok" payload 0x62 0x6F 0x6B (the CBOR
// text-string form of "ok"). It is not package codec's encoding of "ok",
// which is a bin8 value, and codec.Decode rejects it.
var okPayload = []byte{0x62, 0x6F, 0x6B}

// EncodeInfoOK builds the canonical Info("ok") response body.
func EncodeInfoOK() []byte {
	body := make([]byte, 0, 2+len(okPayload))
	body = append(body, byte(KindInfo), 0x00)
	body = append(body, okPayload...)
	return body
}

// EncodeData builds a Data response body: zero or more length-prefixed
// blobs following the frame-kind and status bytes.
func EncodeData(blobs [][]byte) []byte {
	body := []byte{byte(KindData), 0x00}
	for _, b := range blobs {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
		body = append(body, lenBuf[:]...)
		body = append(body, b...)
	}
	return body
}

// EncodeError builds an Error response body: the error code in the
// status byte, and the error's stable name encoded as a string.
func EncodeError(code remerr.Code) []byte {
	name, err := codec.Encode(codec.Str(code.Name()))
	if err != nil {
		// The name is always a valid UTF-8 string; encoding it cannot fail.
		name = okPayload
	}
	body := make([]byte, 0, 2+len(name))
	body = append(body, byte(KindError), byte(code))
	body = append(body, name...)
	return body
}

// DecodeDataBlobs splits a Data response's payload section back into its
// individual length-prefixed blobs. Used by clients/tests, not the
// server itself.
func DecodeDataBlobs(payload []byte) ([][]byte, error) {
	var blobs [][]byte
	for len(payload) > 0 {
		if len(payload) < 4 {
			return nil, io.ErrUnexpectedEOF
		}
		n := binary.BigEndian.Uint32(payload[:4])
		payload = payload[4:]
		if uint32(len(payload)) < n {
			return nil, io.ErrUnexpectedEOF
		}
		blobs = append(blobs, payload[:n])
		payload = payload[n:]
	}
	return blobs, nil
}
