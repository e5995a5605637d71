package db

import (
	"testing"

	"github.com/badtuple/remits/internal/codec"
	"github.com/badtuple/remits/internal/command"
	"github.com/badtuple/remits/internal/manifest"
	"github.com/badtuple/remits/internal/wire"
)

func mustOpen(t *testing.T) *DB {
	t.Helper()
	d, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return d
}

func decodeSingleBlob(t *testing.T, body []byte) codec.Value {
	t.Helper()
	if wire.Kind(body[0]) != wire.KindData {
		t.Fatalf("expected data frame, got kind %d", body[0])
	}
	blobs, err := wire.DecodeDataBlobs(body[2:])
	if err != nil {
		t.Fatalf("decode blobs: %v", err)
	}
	if len(blobs) != 1 {
		t.Fatalf("expected exactly one blob, got %d", len(blobs))
	}
	v, err := codec.Decode(blobs[0])
	if err != nil {
		t.Fatalf("decode blob: %v", err)
	}
	return v
}

func TestAddListShow(t *testing.T) {
	d := mustOpen(t)

	if resp := d.Exec(command.Command{Kind: command.KindLogAdd, LogName: "metric"}); wire.Kind(resp[0]) != wire.KindInfo {
		t.Fatalf("LogAdd metric: expected Info, got %v", resp)
	}
	if resp := d.Exec(command.Command{Kind: command.KindLogAdd, LogName: "test"}); wire.Kind(resp[0]) != wire.KindInfo {
		t.Fatalf("LogAdd test: expected Info, got %v", resp)
	}

	listResp := d.Exec(command.Command{Kind: command.KindLogList})
	v := decodeSingleBlob(t, listResp)
	if v.Kind != codec.KindArray || len(v.Array) != 2 {
		t.Fatalf("expected 2 log names, got %+v", v)
	}

	showResp := d.Exec(command.Command{Kind: command.KindLogShow, LogName: "test"})
	sv := decodeSingleBlob(t, showResp)
	nameVal, ok := sv.Field("name")
	if !ok {
		t.Fatal("missing name field")
	}
	name, _ := nameVal.String()
	if name != "test" {
		t.Fatalf("want test got %s", name)
	}
}

func TestIdentityIteratorRoundTrip(t *testing.T) {
	d := mustOpen(t)
	d.Exec(command.Command{Kind: command.KindLogAdd, LogName: "L"})
	d.Exec(command.Command{
		Kind:         command.KindIteratorAdd,
		LogName:      "L",
		IteratorName: "I",
		IteratorKind: manifest.KindMap,
		IteratorFunc: "return msg",
	})
	msg, err := codec.Encode(codec.Int(42))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	d.Exec(command.Command{Kind: command.KindMessageAdd, LogName: "L", Message: msg})

	resp := d.Exec(command.Command{Kind: command.KindIteratorNext, IteratorName: "I", MessageID: 0, Count: 1})
	if wire.Kind(resp[0]) != wire.KindData {
		t.Fatalf("expected Data response, got %v", resp)
	}
	blobs, err := wire.DecodeDataBlobs(resp[2:])
	if err != nil {
		t.Fatalf("decode blobs: %v", err)
	}
	if len(blobs) != 1 || string(blobs[0]) != string(msg) {
		t.Fatalf("expected identity result %v, got %v", msg, blobs)
	}
}

func TestInvalidMessagePayload(t *testing.T) {
	d := mustOpen(t)
	d.Exec(command.Command{Kind: command.KindLogAdd, LogName: "L"})

	resp := d.Exec(command.Command{Kind: command.KindMessageAdd, LogName: "L", Message: []byte{0x1A, 0x01, 0x02}})
	if wire.Kind(resp[0]) != wire.KindError {
		t.Fatalf("expected Error response, got %v", resp)
	}
}

func TestCascadeDelete(t *testing.T) {
	d := mustOpen(t)
	d.Exec(command.Command{Kind: command.KindLogAdd, LogName: "L"})
	d.Exec(command.Command{
		Kind:         command.KindIteratorAdd,
		LogName:      "L",
		IteratorName: "I",
		IteratorKind: manifest.KindMap,
		IteratorFunc: "return msg",
	})
	d.Exec(command.Command{Kind: command.KindLogDelete, LogName: "L"})

	resp := d.Exec(command.Command{Kind: command.KindIteratorList})
	v := decodeSingleBlob(t, resp)
	if v.Kind != codec.KindArray || len(v.Array) != 0 {
		t.Fatalf("expected empty iterator list, got %+v", v)
	}
}

func TestConflictingIteratorName(t *testing.T) {
	d := mustOpen(t)
	d.Exec(command.Command{Kind: command.KindLogAdd, LogName: "L"})

	first := d.Exec(command.Command{
		Kind: command.KindIteratorAdd, LogName: "L", IteratorName: "I",
		IteratorKind: manifest.KindMap, IteratorFunc: "return msg",
	})
	if wire.Kind(first[0]) != wire.KindInfo {
		t.Fatalf("expected Info, got %v", first)
	}

	conflict := d.Exec(command.Command{
		Kind: command.KindIteratorAdd, LogName: "L", IteratorName: "I",
		IteratorKind: manifest.KindMap, IteratorFunc: "return msg+1",
	})
	if wire.Kind(conflict[0]) != wire.KindError {
		t.Fatalf("expected Error for conflicting add, got %v", conflict)
	}

	repeat := d.Exec(command.Command{
		Kind: command.KindIteratorAdd, LogName: "L", IteratorName: "I",
		IteratorKind: manifest.KindMap, IteratorFunc: "return msg",
	})
	if wire.Kind(repeat[0]) != wire.KindInfo {
		t.Fatalf("expected Info for identical repeat, got %v", repeat)
	}
}

func TestRestartYieldsIdenticalListings(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d.Exec(command.Command{Kind: command.KindLogAdd, LogName: "metric"})
	d.Exec(command.Command{
		Kind: command.KindIteratorAdd, LogName: "metric", IteratorName: "I",
		IteratorKind: manifest.KindMap, IteratorFunc: "return msg",
	})

	d2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	listResp := d2.Exec(command.Command{Kind: command.KindLogList})
	v := decodeSingleBlob(t, listResp)
	if len(v.Array) != 1 {
		t.Fatalf("expected 1 log after restart, got %+v", v)
	}
	itrResp := d2.Exec(command.Command{Kind: command.KindIteratorList})
	iv := decodeSingleBlob(t, itrResp)
	if len(iv.Array) != 1 {
		t.Fatalf("expected 1 iterator after restart, got %+v", iv)
	}
}
