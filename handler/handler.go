// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

// Package handler provides implementations of the visrpc.Assigner interface,
// and support for adapting ordinary Go functions to the visrpc.Handler
// signature.
package handler

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/creachadair/mds/mapset"
	"github.com/visslink/visrpc"
)

// Func is a convenience alias for visrpc.Handler.
type Func = visrpc.Handler

// A Map is a trivial implementation of the visrpc.Assigner interface that
// looks up function names in a static map of function values.
type Map map[string]visrpc.Handler

// Assign implements part of the visrpc.Assigner interface.
func (m Map) Assign(_ context.Context, name string) visrpc.Handler { return m[name] }

// Names implements the optional visrpc.Namer extension interface.
func (m Map) Names() []string {
	var names []string
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// A ServiceMap combines multiple assigners into one, permitting a server to
// export multiple function families under different prefixes.
type ServiceMap map[string]visrpc.Assigner

// Assign splits the inbound function name as Service.Function, and passes
// the Function portion to the corresponding Service assigner. If the name
// does not have the form Service.Function, or if Service is not set in m,
// the lookup fails and returns nil.
func (m ServiceMap) Assign(ctx context.Context, name string) visrpc.Handler {
	parts := strings.SplitN(name, ".", 2)
	if len(parts) == 1 {
		return nil
	} else if ass, ok := m[parts[0]]; ok {
		return ass.Assign(ctx, parts[1])
	}
	return nil
}

// Names reports the composed names of all the functions in the service,
// each having the form Service.Function.
func (m ServiceMap) Names() []string {
	var all []string
	for svc, assigner := range m {
		namer, ok := assigner.(visrpc.Namer)
		if !ok {
			all = append(all, svc+".*")
			continue
		}
		for _, name := range namer.Names() {
			all = append(all, svc+"."+name)
		}
	}
	sort.Strings(all)
	return all
}

// New adapts a function to a visrpc.Handler. The concrete value of fn must
// be a function accepted by Check. The resulting visrpc.Handler will decode
// the call arguments into the parameters of fn, call fn, and encode its
// results for the reply.
//
// New is intended for use during program initialization, and will panic if
// the type of fn does not have one of the accepted forms. Programs that need
// to check for possible errors should call handler.Check directly, and use
// the Wrap method of the resulting FuncInfo to obtain the wrapper.
func New(fn any) visrpc.Handler {
	fi, err := Check(fn)
	if err != nil {
		panic(err)
	}
	return fi.Wrap()
}

var (
	ctxType  = reflect.TypeOf((*context.Context)(nil)).Elem() // type context.Context
	errType  = reflect.TypeOf((*error)(nil)).Elem()           // type error
	callType = reflect.TypeOf((*visrpc.Call)(nil))            // type *visrpc.Call
	argType  = reflect.TypeOf(visrpc.Argument{})              // type visrpc.Argument
	argsType = reflect.TypeOf([]visrpc.Argument(nil))         // type []visrpc.Argument

	// The native scalar types produced by decoding call arguments.
	scalarTypes = mapset.New(
		reflect.TypeOf(int8(0)), reflect.TypeOf(uint8(0)),
		reflect.TypeOf(int16(0)), reflect.TypeOf(uint16(0)),
		reflect.TypeOf(int32(0)), reflect.TypeOf(uint32(0)),
		reflect.TypeOf(false), reflect.TypeOf(float32(0)),
		reflect.TypeOf(float64(0)), reflect.TypeOf(""),
	)

	// The slice types produced by decoding array arguments. There is no
	// []string here: a "string" argument always decodes as a single text.
	sliceTypes = mapset.New(
		reflect.TypeOf([]int8(nil)), reflect.TypeOf([]uint8(nil)),
		reflect.TypeOf([]int16(nil)), reflect.TypeOf([]uint16(nil)),
		reflect.TypeOf([]int32(nil)), reflect.TypeOf([]uint32(nil)),
		reflect.TypeOf([]bool(nil)), reflect.TypeOf([]float32(nil)),
		reflect.TypeOf([]float64(nil)),
	)
)

func isParamType(t reflect.Type) bool { return scalarTypes.Has(t) || sliceTypes.Has(t) }

func isResultType(t reflect.Type) bool {
	return isParamType(t) || t == argType || t == argsType
}

// FuncInfo captures type signature information from a valid handler function.
type FuncInfo struct {
	Type         reflect.Type   // the complete function type
	Params       []reflect.Type // the non-context parameter types, or nil
	Result       reflect.Type   // the non-error result type, or nil
	ReportsError bool           // true if the function reports an error

	rawCall bool // the function takes a *visrpc.Call
	fn      any  // the original function value
}

// Wrap adapts the function represented by fi to a visrpc.Handler.
//
// This method panics if fi == nil or if it does not represent a valid
// function type. A FuncInfo returned by a successful call to Check is
// always valid.
func (fi *FuncInfo) Wrap() visrpc.Handler {
	if fi == nil || fi.fn == nil {
		panic("handler: invalid FuncInfo value")
	}

	// The intent here is to hoist as much of the reflection work as possible
	// out of the body of the constructed wrapper, since that will be executed
	// every time the handler is invoked. The helpers to unpack the call
	// arguments (newInput), convert the reflected results (decodeOut), and
	// encode the reply (packResult) are selected once, up front, based on the
	// signature recorded by Check.

	// Special case: If fn has the exact signature of a handler, don't do any
	// (additional) reflection at all.
	if f, ok := fi.fn.(visrpc.Handler); ok {
		return f
	}

	// Construct a function to unpack the arguments from the call, based on
	// the signature of the user's callback.
	var newInput func(ctx reflect.Value, call *visrpc.Call) ([]reflect.Value, error)

	if fi.rawCall {
		// Case 1: The function wants the underlying *visrpc.Call value.
		newInput = func(ctx reflect.Value, call *visrpc.Call) ([]reflect.Value, error) {
			return []reflect.Value{ctx, reflect.ValueOf(call)}, nil
		}
	} else {
		// Case 2: The function wants the decoded argument values. The caller
		// must send exactly one argument per parameter, and each decoded
		// value must be assignable to its parameter.
		params := fi.Params // capture so the wrapper does not pin fi
		newInput = func(ctx reflect.Value, call *visrpc.Call) ([]reflect.Value, error) {
			vals := call.Values()
			if len(vals) != len(params) {
				return nil, visrpc.Errorf(400, visrpc.ReasonInvalidArgument,
					"got %d arguments, want %d", len(vals), len(params))
			}
			in := make([]reflect.Value, len(vals)+1)
			in[0] = ctx
			for i, val := range vals {
				rv := reflect.ValueOf(val)
				if !rv.Type().AssignableTo(params[i]) {
					return nil, visrpc.Errorf(400, visrpc.ReasonInvalidArgument,
						"argument %d: got %s, want %s", i+1, rv.Type(), params[i])
				}
				in[i+1] = rv
			}
			return in, nil
		}
	}

	// Construct a function to decode the result values.
	var decodeOut func([]reflect.Value) (any, error)

	if fi.Result == nil {
		// The function returns only an error, the result is always nil.
		decodeOut = func(vals []reflect.Value) (any, error) {
			oerr := vals[0].Interface()
			if oerr != nil {
				return nil, oerr.(error)
			}
			return nil, nil
		}
	} else if !fi.ReportsError {
		// The function returns only a single non-error: err is always nil.
		decodeOut = func(vals []reflect.Value) (any, error) {
			return vals[0].Interface(), nil
		}
	} else {
		// The function returns both a value and an error.
		decodeOut = func(vals []reflect.Value) (any, error) {
			if oerr := vals[1].Interface(); oerr != nil {
				return nil, oerr.(error)
			}
			return vals[0].Interface(), nil
		}
	}

	// Construct a function to encode the result as reply arguments.
	var packResult func(any) ([]visrpc.Argument, error)

	switch fi.Result {
	case nil:
		packResult = func(any) ([]visrpc.Argument, error) { return nil, nil }
	case argsType:
		packResult = func(v any) ([]visrpc.Argument, error) { return v.([]visrpc.Argument), nil }
	case argType:
		packResult = func(v any) ([]visrpc.Argument, error) {
			return []visrpc.Argument{v.(visrpc.Argument)}, nil
		}
	default:
		packResult = func(v any) ([]visrpc.Argument, error) {
			arg, err := visrpc.NewArgument(v)
			if err != nil {
				return nil, err
			}
			return []visrpc.Argument{arg}, nil
		}
	}

	call := reflect.ValueOf(fi.fn).Call
	return func(ctx context.Context, c *visrpc.Call) ([]visrpc.Argument, error) {
		in, ierr := newInput(reflect.ValueOf(ctx), c)
		if ierr != nil {
			return nil, ierr
		}
		out, err := decodeOut(call(in))
		if err != nil {
			return nil, err
		}
		return packResult(out)
	}
}

// Check checks whether fn can serve as a visrpc.Handler. The concrete value
// of fn must be a function with one of the following type signature schemes:
//
//	func(context.Context) error
//	func(context.Context) Y
//	func(context.Context) (Y, error)
//	func(context.Context, X1, X2, ..., Xn) error
//	func(context.Context, X1, X2, ..., Xn) Y
//	func(context.Context, X1, X2, ..., Xn) (Y, error)
//	func(context.Context, *visrpc.Call) error
//	func(context.Context, *visrpc.Call) Y
//	func(context.Context, *visrpc.Call) (Y, error)
//
// where each X is one of the native types produced by decoding an argument
// (int8, uint8, int16, uint16, int32, uint32, bool, float32, float64, or
// string, or a slice of one of the non-string types), and Y is any of those
// types or visrpc.Argument or []visrpc.Argument. If fn does not have one of
// these forms, Check reports an error.
//
// The wrapper generated for a function with typed parameters verifies that
// the caller sent exactly one argument per parameter and that each decoded
// value matches the type of its parameter, and otherwise reports an error
// with number 400 to the caller. A function that takes a *visrpc.Call
// receives the arguments unexamined, and must do its own validation.
func Check(fn any) (*FuncInfo, error) {
	if fn == nil {
		return nil, errors.New("nil function")
	}

	info := &FuncInfo{Type: reflect.TypeOf(fn), fn: fn}
	if info.Type.Kind() != reflect.Func {
		return nil, errors.New("not a function")
	} else if info.Type.IsVariadic() {
		return nil, errors.New("variadic functions are not supported")
	}

	// Check parameter values.
	np := info.Type.NumIn()
	if np == 0 {
		return nil, errors.New("wrong number of parameters")
	} else if info.Type.In(0) != ctxType {
		return nil, errors.New("first parameter is not context.Context")
	}
	if np == 2 && info.Type.In(1) == callType {
		info.rawCall = true
	} else {
		for i := 1; i < np; i++ {
			pt := info.Type.In(i)
			if !isParamType(pt) {
				return nil, fmt.Errorf("parameter %d: unsupported type %s", i, pt)
			}
			info.Params = append(info.Params, pt)
		}
	}

	// Check return values.
	no := info.Type.NumOut()
	if no < 1 || no > 2 {
		return nil, errors.New("wrong number of results")
	} else if no == 2 && info.Type.Out(1) != errType {
		return nil, errors.New("result is not of type error")
	}
	info.ReportsError = info.Type.Out(no-1) == errType
	if no == 2 || !info.ReportsError {
		info.Result = info.Type.Out(0)
		if !isResultType(info.Result) {
			return nil, fmt.Errorf("unsupported result type %s", info.Result)
		}
	}
	return info, nil
}
