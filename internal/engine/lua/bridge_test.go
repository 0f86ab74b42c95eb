package lua

import (
	"reflect"
	"testing"

	glua "github.com/yuin/gopher-lua"
)

func TestBridgeToGoValue(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L, "rt")

	tests := []struct {
		name     string
		input    glua.LValue
		expected any
	}{
		{"nil", glua.LNil, nil},
		{"true", glua.LTrue, true},
		{"false", glua.LFalse, false},
		{"integer", glua.LNumber(42), int64(42)},
		{"float", glua.LNumber(3.14), 3.14},
		{"string", glua.LString("hello"), "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := bridge.ToGoValue(tt.input)
			if !reflect.DeepEqual(result, tt.expected) {
				t.Errorf("ToGoValue(%v) = %v (%T), want %v (%T)",
					tt.input, result, result, tt.expected, tt.expected)
			}
		})
	}
}

func TestBridgeToGoValueTable(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L, "rt")

	t.Run("array", func(t *testing.T) {
		tbl := L.NewTable()
		tbl.RawSetInt(1, glua.LString("a"))
		tbl.RawSetInt(2, glua.LString("b"))

		arr, ok := bridge.ToGoValue(tbl).([]any)
		if !ok {
			t.Fatalf("expected []any, got %T", bridge.ToGoValue(tbl))
		}
		if !reflect.DeepEqual(arr, []any{"a", "b"}) {
			t.Errorf("array = %v, want [a b]", arr)
		}
	})

	t.Run("map", func(t *testing.T) {
		tbl := L.NewTable()
		tbl.RawSetString("x", glua.LNumber(1.5))
		tbl.RawSetString("y", glua.LNumber(2))

		m, ok := bridge.ToGoValue(tbl).(map[string]any)
		if !ok {
			t.Fatalf("expected map[string]any, got %T", bridge.ToGoValue(tbl))
		}
		if m["x"] != 1.5 || m["y"] != int64(2) {
			t.Errorf("map = %v, want x=1.5 y=2", m)
		}
	})

	t.Run("circular", func(t *testing.T) {
		tbl := L.NewTable()
		tbl.RawSetString("self", tbl)

		m, ok := bridge.ToGoValue(tbl).(map[string]any)
		if !ok {
			t.Fatalf("expected map[string]any, got %T", bridge.ToGoValue(tbl))
		}
		if m["self"] != nil {
			t.Errorf("circular reference = %v, want nil", m["self"])
		}
	})
}

func TestBridgeFunctionRoundTrip(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L, "rt")

	lf := L.NewFunction(func(L *glua.LState) int { return 0 })
	fn, ok := bridge.ToGoValue(lf).(*Function)
	if !ok {
		t.Fatalf("expected *Function, got %T", bridge.ToGoValue(lf))
	}
	if fn.Owner() != "rt" {
		t.Errorf("Owner() = %q, want rt", fn.Owner())
	}
	if bridge.ToLuaValue(fn) != lf {
		t.Error("ToLuaValue(*Function) did not return the original function")
	}
}

func TestBridgeToLuaValue(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L, "rt")

	tbl, ok := bridge.ToLuaValue(map[string]any{
		"name":  "scroll",
		"y":     5,
		"items": []any{1, 2},
	}).(*glua.LTable)
	if !ok {
		t.Fatal("expected *LTable")
	}
	if tbl.RawGetString("name") != glua.LString("scroll") {
		t.Errorf("name = %v", tbl.RawGetString("name"))
	}
	if tbl.RawGetString("y") != glua.LNumber(5) {
		t.Errorf("y = %v", tbl.RawGetString("y"))
	}
	items, ok := tbl.RawGetString("items").(*glua.LTable)
	if !ok || items.Len() != 2 {
		t.Errorf("items = %v", tbl.RawGetString("items"))
	}

	type point struct{ X, Y int }
	if _, ok := bridge.ToLuaValue([]point{{1, 2}}).(*glua.LTable); !ok {
		t.Error("slice of structs should convert to a table")
	}
}
