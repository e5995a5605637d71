package wire

import (
	"bytes"
	"testing"

	"github.com/badtuple/remits/internal/codec"
	"github.com/badtuple/remits/internal/command"
	"github.com/badtuple/remits/internal/remerr"
)

func buildRequest(t *testing.T, code command.Code, payload codec.Value) []byte {
	t.Helper()
	body := []byte{byte(KindRequest), byte(code)}
	if !payload.IsNull() {
		enc, err := codec.Encode(payload)
		if err != nil {
			t.Fatalf("encode payload: %v", err)
		}
		body = append(body, enc...)
	}
	return body
}

func TestReadWriteFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte{0x01, 0x02, 0x03}
	if err := WriteFrame(&buf, body); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("want %v got %v", body, got)
	}
}

func TestReadFrameZeroLengthIsUnknownFrameKind(t *testing.T) {
	var buf bytes.Buffer
	_ = WriteFrame(&buf, nil)
	_, err := ReadFrame(&buf)
	re, ok := remerr.As(err)
	if !ok || re.Code != remerr.UnknownFrameKind {
		t.Fatalf("expected UnknownFrameKind, got %v", err)
	}
}

func TestDecodeRequestRejectsNonRequestKind(t *testing.T) {
	body := []byte{byte(KindData), 0x00}
	_, err := DecodeRequest(body)
	re, ok := remerr.As(err)
	if !ok || re.Code != remerr.ServerOnlyAcceptsRequests {
		t.Fatalf("expected ServerOnlyAcceptsRequests, got %v", err)
	}
}

func TestDecodeRequestLogAdd(t *testing.T) {
	payload := codec.MapOf(codec.Str("log_name"), codec.Str("metric"))
	body := buildRequest(t, command.LogAddCode, payload)

	req, err := DecodeRequest(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Cmd.Kind != command.KindLogAdd || req.Cmd.LogName != "metric" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestDecodeRequestUnknownCode(t *testing.T) {
	body := buildRequest(t, command.Code(0xFF), codec.Null)
	_, err := DecodeRequest(body)
	re, ok := remerr.As(err)
	if !ok || re.Code != remerr.UnknownRequestCode {
		t.Fatalf("expected UnknownRequestCode, got %v", err)
	}
}

func TestEncodeInfoOK(t *testing.T) {
	body := EncodeInfoOK()
	want := append([]byte{byte(KindInfo), 0x00}, 0x62, 0x6F, 0x6B)
	if !bytes.Equal(body, want) {
		t.Fatalf("want %v got %v", want, body)
	}
}

func TestEncodeDataAndDecodeBlobs(t *testing.T) {
	blobs := [][]byte{{0x01}, {0x02, 0x03}, {}}
	body := EncodeData(blobs)
	if Kind(body[0]) != KindData {
		t.Fatalf("expected data frame kind")
	}
	got, err := DecodeDataBlobs(body[2:])
	if err != nil {
		t.Fatalf("decode blobs: %v", err)
	}
	if len(got) != len(blobs) {
		t.Fatalf("want %d blobs got %d", len(blobs), len(got))
	}
	for i := range blobs {
		if !bytes.Equal(got[i], blobs[i]) {
			t.Fatalf("blob %d mismatch: want %v got %v", i, blobs[i], got[i])
		}
	}
}

func TestEncodeError(t *testing.T) {
	body := EncodeError(remerr.LogDoesNotExist)
	if Kind(body[0]) != KindError || body[1] != byte(remerr.LogDoesNotExist) {
		t.Fatalf("unexpected error frame header: %v", body[:2])
	}
	v, err := codec.Decode(body[2:])
	if err != nil {
		t.Fatalf("decode error name: %v", err)
	}
	s, _ := v.String()
	if s != "LogDoesNotExist" {
		t.Fatalf("want LogDoesNotExist got %q", s)
	}
}
