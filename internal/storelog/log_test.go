package storelog

import (
	"testing"

	"github.com/badtuple/remits/internal/codec"
)

func encodeInt(t *testing.T, i int64) []byte {
	t.Helper()
	b, err := codec.Encode(codec.Int(i))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func TestAppendGetIdentity(t *testing.T) {
	dir := t.TempDir()
	l, err := Open("L", NowSeconds(), Options{Dir: dir, Persist: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	vals := []int64{10, 20, 30}
	for _, v := range vals {
		if _, err := l.Append(encodeInt(t, v)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	for i, v := range vals {
		got, ok := l.Get(uint64(i))
		if !ok {
			t.Fatalf("expected ordinal %d to exist", i)
		}
		dv, err := codec.Decode(got)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if dv.Int != v {
			t.Fatalf("ordinal %d: want %d got %d", i, v, dv.Int)
		}
	}
	if _, ok := l.Get(uint64(len(vals))); ok {
		t.Fatal("expected out-of-range ordinal to miss")
	}
}

func TestAppendRejectsInvalidPayload(t *testing.T) {
	dir := t.TempDir()
	l, err := Open("L", NowSeconds(), Options{Dir: dir, Persist: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	before := l.Len()
	if _, err := l.Append([]byte{0x1A, 0x01, 0x02}); err == nil {
		t.Fatal("expected invalid payload to be rejected")
	}
	if l.Len() != before {
		t.Fatalf("failed append must not change log length: before=%d after=%d", before, l.Len())
	}
}

func TestReopenReplaysSegments(t *testing.T) {
	dir := t.TempDir()
	l, err := Open("L", NowSeconds(), Options{Dir: dir, Persist: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, v := range []int64{1, 2, 3} {
		if _, err := l.Append(encodeInt(t, v)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	l2, err := Open("L", l.CreatedAt, Options{Dir: dir, Persist: true})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()
	if l2.Len() != 3 {
		t.Fatalf("expected 3 replayed messages, got %d", l2.Len())
	}
}
