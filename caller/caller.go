// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

/*
Package caller provides a function to construct visrpc client call wrappers.

The New function reflectively constructs wrapper functions for calls
through a *visrpc.Client. This makes it easier to provide a "natural"
function call signature for the remote function, handling the conversion
of native parameter values to wire arguments, and of the reply back to a
native value, internally.

The caller.New function takes the name of a function, a prototype for its
result, and a prototype for each of its parameters, and returns a function
having the signature:

   func(context.Context, *visrpc.Client, X1, ..., Xn) (Y, error)

The result can be asserted to this type and used as a normal function:

   // Parameters: string, int32
   // Result:     int32
   F := caller.New("print_name_and_age", int32(0), string(""), int32(0)).
      (func(context.Context, *visrpc.Client, string, int32) (int32, error))
   ...
   n, err := F(ctx, cli, "Bob", 42)
   ...

New can also optionally generate a variadic function:

   Sum := caller.New("sum", int32(0), int32(0), caller.Variadic()).
      (func(context.Context, *visrpc.Client, ...int32) (int32, error))
   ...
   total, err := Sum(ctx, cli, 1, 2, 3, 4, 5)
   ...

It can also generate a function with no result value (with result == nil):

   Reset := caller.New("reset", nil).(func(context.Context, *visrpc.Client) error)
*/
package caller

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/visslink/visrpc"
)

// Common types used by all invocations.
var (
	cliType  = reflect.TypeOf((*visrpc.Client)(nil))
	errType  = reflect.TypeOf((*error)(nil)).Elem()
	ctxType  = reflect.TypeOf((*context.Context)(nil)).Elem()
	argType  = reflect.TypeOf(visrpc.Argument{})
	argsType = reflect.TypeOf([]visrpc.Argument(nil))
)

// New reflectively constructs a function of type:
//
//	func(context.Context, *visrpc.Client, X1, ..., Xn) (Y, error)
//
// that invokes the named function via the client given, encoding the
// provided parameters and decoding the reply automatically. This supports
// construction of client wrappers that have a more natural function
// signature. The caller should assert the expected type on the return
// value.
//
// The result and each parameter are specified by a prototype value of the
// desired type. Parameter types must be native argument types: the scalar
// types produced by the Decode method of an argument, or slices of the
// numeric and Boolean ones. Option values may be interleaved with the
// parameter prototypes; they are not counted as parameters.
//
// The result prototype may also be of type visrpc.Argument, in which case
// the first reply value is returned in wire form without decoding, or of
// type []visrpc.Argument, in which case the whole reply is. As a special
// case, if result == nil the returned function reports only an error:
//
//	func(context.Context, *visrpc.Client, X1, ..., Xn) error
//
// New panics if any prototype has a type that cannot be sent on the wire.
func New(function string, result any, params ...any) any {
	var wantVariadic bool
	var protos []any
	for _, p := range params {
		switch p.(type) {
		case variadic:
			wantVariadic = true
		case Option:
			// skip other options
		default:
			protos = append(protos, p)
		}
	}
	if wantVariadic && len(protos) == 0 {
		panic("caller: a variadic wrapper requires at least one parameter")
	}

	argTypes := []reflect.Type{ctxType, cliType}
	for i, p := range protos {
		pt := reflect.TypeOf(p)
		if pt == nil {
			panic(fmt.Sprintf("caller: parameter %d is untyped", i+1))
		}
		if wantVariadic && i == len(protos)-1 {
			pt = reflect.SliceOf(pt)
		}
		if err := checkParam(pt); err != nil {
			panic(fmt.Sprintf("caller: parameter %d: %v", i+1, err))
		}
		argTypes = append(argTypes, pt)
	}

	rspType := reflect.TypeOf(result)
	if rspType != nil && rspType != argType && rspType != argsType {
		if _, err := visrpc.NewArgument(result); err != nil {
			panic(fmt.Sprintf("caller: result: %v", err))
		}
	}
	outTypes := []reflect.Type{errType}
	if rspType != nil {
		outTypes = []reflect.Type{rspType, errType}
	}

	funType := reflect.FuncOf(argTypes, outTypes, wantVariadic)
	return reflect.MakeFunc(funType, func(args []reflect.Value) []reflect.Value {
		ctx := args[0].Interface().(context.Context)
		cli := args[1].Interface().(*visrpc.Client)

		// N.B. the same err is threaded all the way through, so that there
		// is only one point of exit where all the remaining reflection
		// occurs.
		var err error
		send := make([]visrpc.Argument, 0, len(args)-2)
		for _, arg := range args[2:] {
			var wire visrpc.Argument
			wire, err = visrpc.NewArgument(arg.Interface())
			if err != nil {
				break
			}
			send = append(send, wire)
		}
		var rsp reflect.Value
		if rspType != nil {
			rsp = reflect.Zero(rspType)
		}
		if err == nil {
			var reply []visrpc.Argument
			reply, err = cli.Call(ctx, function, send)
			if err == nil && rspType != nil {
				rsp, err = unpack(rspType, reply)
			}
		}
		rerr := reflect.Zero(errType)
		if err != nil {
			rerr = reflect.ValueOf(err).Convert(errType)
		}
		if rspType == nil {
			return []reflect.Value{rerr}
		}
		return []reflect.Value{rsp, rerr}
	}).Interface()
}

// checkParam reports an error if values of type pt cannot be encoded as
// wire arguments.
func checkParam(pt reflect.Type) error {
	probe := reflect.Zero(pt)
	if pt.Kind() == reflect.Slice {
		probe = reflect.MakeSlice(pt, 1, 1)
	}
	_, err := visrpc.NewArgument(probe.Interface())
	return err
}

// unpack converts the reply arguments into a value of type want.
func unpack(want reflect.Type, reply []visrpc.Argument) (reflect.Value, error) {
	if want == argsType {
		if reply == nil {
			reply = []visrpc.Argument{}
		}
		return reflect.ValueOf(reply), nil
	}
	if len(reply) == 0 {
		return reflect.Zero(want), errors.New("call returned an empty reply")
	}
	if want == argType {
		return reflect.ValueOf(reply[0]), nil
	}
	v, err := reply[0].Decode()
	if err != nil {
		return reflect.Zero(want), err
	}
	rv := reflect.ValueOf(v)
	if rv.Type() != want {
		return reflect.Zero(want), fmt.Errorf("reply: got %s, want %s", rv.Type(), want)
	}
	return rv, nil
}

// An Option controls an optional behaviour of the New function.
type Option interface {
	callOption()
}

type variadic struct{}

func (variadic) callOption() {}

// Variadic returns an Option that makes the generated function wrapper
// variadic in its final parameter type, i.e.,
//
//	func(context.Context, *visrpc.Client, ...X) (Y, error)
//
// instead of
//
//	func(context.Context, *visrpc.Client, X) (Y, error)
func Variadic() Option { return variadic{} }
