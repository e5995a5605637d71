package iterator

import (
	"testing"

	"github.com/badtuple/remits/internal/codec"
	"github.com/badtuple/remits/internal/manifest"
	"github.com/badtuple/remits/internal/remerr"
)

type fakeLog struct {
	msgs [][]byte
}

func (f *fakeLog) Get(ordinal uint64) ([]byte, bool) {
	if ordinal >= uint64(len(f.msgs)) {
		return nil, false
	}
	return f.msgs[ordinal], true
}

func encodeInt(t *testing.T, i int64) []byte {
	t.Helper()
	b, err := codec.Encode(codec.Int(i))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func TestMapIdentity(t *testing.T) {
	log := &fakeLog{msgs: [][]byte{encodeInt(t, 42)}}
	itr := manifest.Iterator{Kind: manifest.KindMap, Func: "return msg"}

	out, err := Next(itr, log, 0, 1)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if len(out) != 1 || string(out[0]) != string(log.msgs[0]) {
		t.Fatalf("expected identity pass-through, got %v", out)
	}
}

func TestMapTransform(t *testing.T) {
	log := &fakeLog{msgs: [][]byte{encodeInt(t, 10), encodeInt(t, 20)}}
	itr := manifest.Iterator{Kind: manifest.KindMap, Func: "return msg + 1"}

	out, err := Next(itr, log, 0, 2)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	for i, want := range []int64{11, 21} {
		dv, err := codec.Decode(out[i])
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if dv.Int != want {
			t.Fatalf("index %d: want %d got %d", i, want, dv.Int)
		}
	}
}

func TestFilterDropsFalseAndNull(t *testing.T) {
	log := &fakeLog{msgs: [][]byte{encodeInt(t, 1), encodeInt(t, 2), encodeInt(t, 3)}}
	itr := manifest.Iterator{Kind: manifest.KindFilter, Func: "return msg >= 2"}

	out, err := Next(itr, log, 0, 3)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 surviving messages, got %d", len(out))
	}
	dv0, _ := codec.Decode(out[0])
	dv1, _ := codec.Decode(out[1])
	if dv0.Int != 2 || dv1.Int != 3 {
		t.Fatalf("unexpected survivors: %v %v", dv0, dv1)
	}
}

func TestReduceThreadsAccumulator(t *testing.T) {
	log := &fakeLog{msgs: [][]byte{encodeInt(t, 1), encodeInt(t, 2), encodeInt(t, 3)}}
	itr := manifest.Iterator{
		Kind: manifest.KindReduce,
		Func: "if acc == nil then acc = 0 end; return acc + msg",
	}

	out, err := Next(itr, log, 0, 3)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("reduce must emit exactly one result, got %d", len(out))
	}
	dv, err := codec.Decode(out[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dv.Int != 6 {
		t.Fatalf("want 6 got %d", dv.Int)
	}
}

func TestOutOfRangeOrdinal(t *testing.T) {
	log := &fakeLog{msgs: [][]byte{encodeInt(t, 1)}}
	itr := manifest.Iterator{Kind: manifest.KindMap, Func: "return msg"}

	_, err := Next(itr, log, 5, 1)
	if err == nil {
		t.Fatal("expected out-of-range error")
	}
	re, ok := remerr.As(err)
	if !ok || re.Code != remerr.MsgOutOfRange {
		t.Fatalf("expected MsgOutOfRange, got %v", err)
	}
}

func TestCountZeroNoScriptingContext(t *testing.T) {
	log := &fakeLog{msgs: [][]byte{}}
	itr := manifest.Iterator{Kind: manifest.KindMap, Func: "error('should never run')"}

	out, err := Next(itr, log, 0, 0)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected empty result, got %v", out)
	}
}

func TestRunningLuaError(t *testing.T) {
	log := &fakeLog{msgs: [][]byte{encodeInt(t, 1)}}
	itr := manifest.Iterator{Kind: manifest.KindMap, Func: "this is not lua("}

	_, err := Next(itr, log, 0, 1)
	re, ok := remerr.As(err)
	if !ok || re.Code != remerr.ErrRunningLua {
		t.Fatalf("expected ErrRunningLua, got %v", err)
	}
}

func TestSandboxHasNoFileAccess(t *testing.T) {
	log := &fakeLog{msgs: [][]byte{encodeInt(t, 1)}}
	itr := manifest.Iterator{Kind: manifest.KindMap, Func: "return dofile"}

	out, err := Next(itr, log, 0, 1)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	dv, err := codec.Decode(out[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !dv.IsNull() {
		t.Fatal("expected dofile to be stripped from the sandbox")
	}
}
