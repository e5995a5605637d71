// Package iterator evaluates stored map/filter/reduce transforms over a
// window of log messages inside a sandboxed, per-call Lua VM (spec.md
// §4.5). Every Next call gets a fresh *lua.LState; no state carries
// between calls.
package iterator

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/badtuple/remits/internal/codec"
	"github.com/badtuple/remits/internal/manifest"
	"github.com/badtuple/remits/internal/remerr"
)

// Log is the narrow view of storelog.Log that iterator evaluation needs.
// Defined here, not imported, to keep the iterator engine from depending
// on the storage package's lock and segment machinery.
type Log interface {
	Get(ordinal uint64) ([]byte, bool)
}

// Next runs itr over count messages of log starting at offset, returning
// the self-describing-encoded results. count == 0 returns an empty slice
// without creating a scripting context.
func Next(itr manifest.Iterator, log Log, offset uint64, count uint64) ([][]byte, error) {
	if count == 0 {
		return [][]byte{}, nil
	}

	out := make([][]byte, 0, count)
	acc := codec.Null

	for i := uint64(0); i < count; i++ {
		raw, ok := log.Get(offset + i)
		if !ok {
			return nil, remerr.New(remerr.MsgOutOfRange)
		}
		msgVal, err := codec.Decode(raw)
		if err != nil {
			return nil, remerr.New(remerr.MsgNotValidCbor)
		}

		result, newAcc, err := evalOne(itr, msgVal, acc)
		if err != nil {
			return nil, err
		}
		acc = newAcc

		switch itr.Kind {
		case manifest.KindMap:
			enc, err := codec.Encode(result)
			if err != nil {
				return nil, remerr.New(remerr.ErrReadingLuaResponse)
			}
			out = append(out, enc)
		case manifest.KindFilter:
			if isDrop(result) {
				continue
			}
			out = append(out, raw)
		case manifest.KindReduce:
			// Only the final accumulator is emitted, after the loop.
		}
	}

	if itr.Kind == manifest.KindReduce {
		enc, err := codec.Encode(acc)
		if err != nil {
			return nil, remerr.New(remerr.ErrReadingLuaResponse)
		}
		return [][]byte{enc}, nil
	}

	return out, nil
}

// isDrop reports whether a filter result means "drop this message": the
// boolean false, or null.
func isDrop(v codec.Value) bool {
	if v.IsNull() {
		return true
	}
	return v.Kind == codec.KindBool && !v.Bool
}

// evalOne evaluates itr.Func once in a fresh sandbox with msg (and, for
// reduce, acc) bound, returning the expression result and, for reduce,
// the accumulator to carry into the next call.
func evalOne(itr manifest.Iterator, msg, acc codec.Value) (result, nextAcc codec.Value, err error) {
	L := newSandbox()
	defer L.Close()

	L.SetGlobal("msg", toLua(L, msg))
	if itr.Kind == manifest.KindReduce {
		L.SetGlobal("acc", toLua(L, acc))
	}

	if err := L.DoString(itr.Func); err != nil {
		return codec.Value{}, codec.Value{}, remerr.New(remerr.ErrRunningLua)
	}

	top := L.GetTop()
	if top == 0 {
		return codec.Null, codec.Null, nil
	}
	lv := L.Get(-1)
	L.Pop(top)

	result, ok := fromLua(lv)
	if !ok {
		return codec.Value{}, codec.Value{}, remerr.New(remerr.ErrReadingLuaResponse)
	}
	if itr.Kind == manifest.KindReduce {
		return result, result, nil
	}
	return result, acc, nil
}

// newSandbox builds a Lua state with no filesystem, network, or process
// capabilities: only base, table, string, and math libraries are opened,
// and dofile/load/loadfile are stripped off afterward.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	return L
}

// toLua transcodes a codec.Value into its Lua value representation.
func toLua(L *lua.LState, v codec.Value) lua.LValue {
	switch v.Kind {
	case codec.KindNull:
		return lua.LNil
	case codec.KindBool:
		return lua.LBool(v.Bool)
	case codec.KindInt:
		return lua.LNumber(v.Int)
	case codec.KindUint:
		return lua.LNumber(v.Uint)
	case codec.KindFloat:
		return lua.LNumber(v.Float)
	case codec.KindBinary:
		return lua.LString(v.Binary)
	case codec.KindArray:
		tbl := L.NewTable()
		for _, e := range v.Array {
			tbl.Append(toLua(L, e))
		}
		return tbl
	case codec.KindMap:
		tbl := L.NewTable()
		for _, e := range v.Map {
			if key, ok := e.Key.String(); ok {
				tbl.RawSetString(key, toLua(L, e.Val))
				continue
			}
			if i, ok := e.Key.AsInt64(); ok {
				tbl.RawSetInt(int(i), toLua(L, e.Val))
			}
		}
		return tbl
	default:
		return lua.LNil
	}
}

// fromLua transcodes a Lua value back into a codec.Value. Functions,
// userdata, channels, and threads have no binary representation and fail
// the transcode.
func fromLua(lv lua.LValue) (codec.Value, bool) {
	switch lv.Type() {
	case lua.LTNil:
		return codec.Null, true
	case lua.LTBool:
		return codec.Bool(bool(lv.(lua.LBool))), true
	case lua.LTNumber:
		n := float64(lv.(lua.LNumber))
		if n == float64(int64(n)) {
			return codec.Int(int64(n)), true
		}
		return codec.Float(n), true
	case lua.LTString:
		return codec.Str(string(lv.(lua.LString))), true
	case lua.LTTable:
		return tableToValue(lv.(*lua.LTable))
	default:
		return codec.Value{}, false
	}
}

// tableToValue converts a Lua table into an array Value if it is a
// contiguous 1-based sequence, else a map Value keyed by string or
// integer fields.
func tableToValue(tbl *lua.LTable) (codec.Value, bool) {
	n := tbl.Len()
	isArray := n > 0
	tbl.ForEach(func(k, _ lua.LValue) {
		if k.Type() != lua.LTNumber {
			isArray = false
			return
		}
		i := int(k.(lua.LNumber))
		if i < 1 || i > n {
			isArray = false
		}
	})

	if isArray {
		arr := make([]codec.Value, 0, n)
		for i := 1; i <= n; i++ {
			ev, ok := fromLua(tbl.RawGetInt(i))
			if !ok {
				return codec.Value{}, false
			}
			arr = append(arr, ev)
		}
		return codec.Arr(arr...), true
	}
	if n == 0 {
		empty := true
		tbl.ForEach(func(_, _ lua.LValue) { empty = false })
		if empty {
			return codec.Arr(), true
		}
	}

	entries := make([]codec.MapEntry, 0)
	var convErr bool
	tbl.ForEach(func(k, v lua.LValue) {
		if convErr {
			return
		}
		var key codec.Value
		switch k.Type() {
		case lua.LTString:
			key = codec.Str(string(k.(lua.LString)))
		case lua.LTNumber:
			key = codec.Int(int64(k.(lua.LNumber)))
		default:
			convErr = true
			return
		}
		val, ok := fromLua(v)
		if !ok {
			convErr = true
			return
		}
		entries = append(entries, codec.MapEntry{Key: key, Val: val})
	})
	if convErr {
		return codec.Value{}, false
	}
	return codec.Value{Kind: codec.KindMap, Map: entries}, true
}
