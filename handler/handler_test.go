// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package handler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/visslink/visrpc"
)

// mustCall constructs a *visrpc.Call on the given native values, failing t
// if any of them cannot be encoded.
func mustCall(t *testing.T, name string, vals ...any) *visrpc.Call {
	t.Helper()
	args := make([]visrpc.Argument, len(vals))
	for i, v := range vals {
		arg, err := visrpc.NewArgument(v)
		if err != nil {
			t.Fatalf("NewArgument(%#v) failed: %v", v, err)
		}
		args[i] = arg
	}
	call, err := visrpc.NewCall(name, args)
	if err != nil {
		t.Fatalf("NewCall(%q) failed: %v", name, err)
	}
	return call
}

func TestCheckValid(t *testing.T) {
	i32 := reflect.TypeOf(int32(0))
	tests := []struct {
		v            any
		params       []reflect.Type
		result       reflect.Type
		reportsError bool
	}{
		{v: func(context.Context) error { return nil },
			reportsError: true},
		{v: func(context.Context) int32 { return 0 },
			result: i32},
		{v: func(context.Context) (string, error) { return "", nil },
			result: reflect.TypeOf(""), reportsError: true},
		{v: func(context.Context, int32, []uint8) (float64, error) { return 0, nil },
			params:       []reflect.Type{i32, reflect.TypeOf([]uint8(nil))},
			result:       reflect.TypeOf(float64(0)),
			reportsError: true},
		{v: func(context.Context, string) error { return nil },
			params: []reflect.Type{reflect.TypeOf("")}, reportsError: true},
		{v: func(context.Context, bool) visrpc.Argument { return visrpc.Argument{} },
			params: []reflect.Type{reflect.TypeOf(false)},
			result: reflect.TypeOf(visrpc.Argument{})},
		{v: func(context.Context, *visrpc.Call) ([]visrpc.Argument, error) { return nil, nil },
			result: reflect.TypeOf([]visrpc.Argument(nil)), reportsError: true},
		{v: func(context.Context, *visrpc.Call) (uint16, error) { return 0, nil },
			result: reflect.TypeOf(uint16(0)), reportsError: true},
	}
	for _, test := range tests {
		fi, err := Check(test.v)
		if err != nil {
			t.Errorf("Check(%T): unexpected error: %v", test.v, err)
			continue
		}
		if !typesEqual(fi.Params, test.params) {
			t.Errorf("Check(%T) params: got %v, want %v", test.v, fi.Params, test.params)
		}
		if fi.Result != test.result {
			t.Errorf("Check(%T) result: got %v, want %v", test.v, fi.Result, test.result)
		}
		if fi.ReportsError != test.reportsError {
			t.Errorf("Check(%T) reportsError: got %v, want %v", test.v, fi.ReportsError, test.reportsError)
		}
	}
}

func typesEqual(got, want []reflect.Type) bool {
	if len(got) != len(want) {
		return false
	}
	for i, t := range got {
		if t != want[i] {
			return false
		}
	}
	return true
}

func TestCheckInvalid(t *testing.T) {
	tests := []struct {
		v    any
		etxt string
	}{
		{nil, "nil function"},
		{"not a function", "not a function"},
		{func() error { return nil }, "wrong number of parameters"},
		{func(int32) error { return nil }, "first parameter is not context.Context"},
		{func(context.Context, ...int32) error { return nil }, "variadic functions are not supported"},
		{func(context.Context, []string) error { return nil }, "parameter 1: unsupported type []string"},
		{func(context.Context, int64) error { return nil }, "parameter 1: unsupported type int64"},
		{func(context.Context, *visrpc.Call, int32) error { return nil }, "parameter 1: unsupported type *visrpc.Call"},
		{func(context.Context) {}, "wrong number of results"},
		{func(context.Context) (int32, string) { return 0, "" }, "result is not of type error"},
		{func(context.Context) (int64, error) { return 0, nil }, "unsupported result type int64"},
		{func(context.Context) (map[string]int, error) { return nil, nil }, "unsupported result type map[string]int"},
	}
	for _, test := range tests {
		fi, err := Check(test.v)
		if err == nil {
			t.Errorf("Check(%T): got %+v, want error", test.v, fi)
		} else if err.Error() != test.etxt {
			t.Errorf("Check(%T): got error %q, want %q", test.v, err, test.etxt)
		}
	}
}

func TestNewInvoke(t *testing.T) {
	ctx := context.Background()

	t.Run("TypedParams", func(t *testing.T) {
		h := New(func(_ context.Context, a, b int32) (int32, error) { return a + b, nil })
		reply, err := h(ctx, mustCall(t, "add2", int32(5), int32(7)))
		if err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		if got, err := reply[0].Decode(); err != nil || got != int32(12) {
			t.Errorf("Reply: got (%v, %v), want 12", got, err)
		}
	})

	t.Run("ArityMismatch", func(t *testing.T) {
		h := New(func(_ context.Context, a, b int32) (int32, error) { return a + b, nil })
		_, err := h(ctx, mustCall(t, "add2", int32(5)))
		e := visrpc.ErrorOf(err)
		if e == nil {
			t.Fatalf("Call: got error %v, want *visrpc.Error", err)
		}
		if e.Number != 400 || e.Message != "got 1 arguments, want 2" {
			t.Errorf("Call: got error [%d] %q, want [400] arity mismatch", e.Number, e.Message)
		}
	})

	t.Run("TypeMismatch", func(t *testing.T) {
		h := New(func(_ context.Context, vs []uint8) error { return nil })
		_, err := h(ctx, mustCall(t, "sum", "clearly not an array"))
		e := visrpc.ErrorOf(err)
		if e == nil {
			t.Fatalf("Call: got error %v, want *visrpc.Error", err)
		}
		if e.Number != 400 || e.Message != "argument 1: got string, want []uint8" {
			t.Errorf("Call: got error [%d] %q, want [400] type mismatch", e.Number, e.Message)
		}
	})

	t.Run("ErrorOnly", func(t *testing.T) {
		h := New(func(context.Context) error { return nil })
		reply, err := h(ctx, mustCall(t, "ok"))
		if err != nil || reply != nil {
			t.Errorf("Call: got (%v, %v), want (nil, nil)", reply, err)
		}
	})

	t.Run("ValueOnly", func(t *testing.T) {
		h := New(func(context.Context) string { return "whatever" })
		reply, err := h(ctx, mustCall(t, "get"))
		if err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		if got, err := reply[0].Decode(); err != nil || got != "whatever" {
			t.Errorf("Reply: got (%v, %v), want whatever", got, err)
		}
	})

	t.Run("ErrorPassesThrough", func(t *testing.T) {
		want := errors.New("rats")
		h := New(func(context.Context) error { return want })
		if _, err := h(ctx, mustCall(t, "bad")); err != want {
			t.Errorf("Call: got error %v, want %v", err, want)
		}
	})

	t.Run("ArgumentResult", func(t *testing.T) {
		want, err := visrpc.NewArgument(uint32(99))
		if err != nil {
			t.Fatalf("NewArgument failed: %v", err)
		}
		h := New(func(context.Context) (visrpc.Argument, error) { return want, nil })
		reply, err := h(ctx, mustCall(t, "arg"))
		if err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		if diff := cmp.Diff([]visrpc.Argument{want}, reply); diff != "" {
			t.Errorf("Reply: (-want, +got)\n%s", diff)
		}
	})

	t.Run("ArgumentsResult", func(t *testing.T) {
		want, err := visrpc.NewArgument([]float32{1.5, 2.5})
		if err != nil {
			t.Fatalf("NewArgument failed: %v", err)
		}
		h := New(func(context.Context) ([]visrpc.Argument, error) {
			return []visrpc.Argument{want}, nil
		})
		reply, err := h(ctx, mustCall(t, "args"))
		if err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		if diff := cmp.Diff([]visrpc.Argument{want}, reply); diff != "" {
			t.Errorf("Reply: (-want, +got)\n%s", diff)
		}
	})

	t.Run("RawCall", func(t *testing.T) {
		h := New(func(_ context.Context, call *visrpc.Call) ([]visrpc.Argument, error) {
			return call.Arguments(), nil
		})
		call := mustCall(t, "echo", int8(1), "two")
		reply, err := h(ctx, call)
		if err != nil {
			t.Fatalf("Call failed: %v", err)
		}
		if diff := cmp.Diff(call.Arguments(), reply); diff != "" {
			t.Errorf("Reply: (-want, +got)\n%s", diff)
		}
	})
}

func TestNewPanics(t *testing.T) {
	defer func() {
		if p := recover(); p == nil {
			t.Error("New did not panic on an invalid function")
		} else {
			t.Logf("New panicked as expected: %v", p)
		}
	}()
	New(func(a, b float64) float64 { return a + b })
}

func TestMap(t *testing.T) {
	hdl := New(func(context.Context) error { return nil })
	m := Map{"get_speed": hdl, "add": hdl, "reset": hdl}
	ctx := context.Background()

	if got := m.Assign(ctx, "add"); got == nil {
		t.Error(`Assign(add): got nil, want a handler`)
	}
	if got := m.Assign(ctx, "nonesuch"); got != nil {
		t.Error(`Assign(nonesuch): got a handler, want nil`)
	}
	want := []string{"add", "get_speed", "reset"}
	if diff := cmp.Diff(want, m.Names()); diff != "" {
		t.Errorf("Names: (-want, +got)\n%s", diff)
	}
}

// hide restricts m to the plain Assigner interface.
type hide struct{ m Map }

func (h hide) Assign(ctx context.Context, name string) visrpc.Handler { return h.m.Assign(ctx, name) }

func TestServiceMap(t *testing.T) {
	hdl := New(func(context.Context) error { return nil })
	m := ServiceMap{
		"Drive": Map{"get_gear": hdl, "set_gear": hdl},
		"Doors": hide{Map{"lock": hdl}},
	}
	ctx := context.Background()

	tests := []struct {
		name string
		ok   bool
	}{
		{"Drive.get_gear", true},
		{"Drive.set_gear", true},
		{"Doors.lock", true},

		// Unknown function, unknown service, missing service prefix.
		{"Drive.lock", false},
		{"Trunk.get_gear", false},
		{"get_gear", false},
		{"", false},
	}
	for _, test := range tests {
		got := m.Assign(ctx, test.name)
		if (got != nil) != test.ok {
			t.Errorf("Assign(%q): got %v, want ok=%v", test.name, got, test.ok)
		}
	}

	// A service whose assigner cannot list names is reported with a
	// wildcard entry.
	want := []string{"Doors.*", "Drive.get_gear", "Drive.set_gear"}
	if diff := cmp.Diff(want, m.Names()); diff != "" {
		t.Errorf("Names: (-want, +got)\n%s", diff)
	}
}

func ExampleNew() {
	h := New(func(_ context.Context, name string, age int32) (string, error) {
		return fmt.Sprintf("%s is %d years old", name, age), nil
	})

	name, args, err := visrpc.ParseCommand("describe string:16:Ana int32:39")
	if err != nil {
		log.Fatalf("ParseCommand: %v", err)
	}
	call, err := visrpc.NewCall(name, args)
	if err != nil {
		log.Fatalf("NewCall: %v", err)
	}
	reply, err := h(context.Background(), call)
	if err != nil {
		log.Fatalf("Call: %v", err)
	}
	text, err := reply[0].Decode()
	if err != nil {
		log.Fatalf("Decode: %v", err)
	}
	fmt.Println(text)
	// Output:
	// Ana is 39 years old
}
