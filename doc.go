// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

/*
Package visrpc implements a server and a client for a lightweight
remote-call and signal-subscription protocol used to exchange vehicle
data over persistent message connections.

Every message is a single JSON object carried in one frame of the
underlying connection. A client issues function calls and signal
subscriptions, each tagged with a request id of its choosing; the server
answers every request with a reply or an acknowledgment carrying the same
id, and pushes a notification to the connection whenever a value is
published for a signal path it subscribes to.

Servers

The *Server type implements the server side of one connection. A server
communicates with a client over a channel.Channel, and dispatches client
calls to user-defined function handlers. Handlers have the signature

	func(ctx context.Context, call *visrpc.Call) ([]visrpc.Argument, error)

The server finds the Handler for a call by looking up its name in a
visrpc.Assigner provided when the server is set up.

Let's work an example. Suppose we have defined the following Add
function, and would like to export it for remote callers:

	// Add returns the sum of a slice of 32-bit integers.
	func Add(ctx context.Context, values []int32) (int32, error) {
		var sum int32
		for _, v := range values {
			sum += v
		}
		return sum, nil
	}

To do this, we convert Add to a visrpc.Handler. The easiest way is to
call handler.New, which uses reflection to lift the function into the
Handler signature, decoding the wire arguments of the call into the
native parameter types of the function and encoding the return value
back into wire form:

	h := handler.New(Add)  // h is a visrpc.Handler that invokes Add

Next, let's advertise this function under the name "add". For static
assignments we can use a handler.Map, which finds handlers by looking
them up in a Go map:

	assigner := handler.Map{"add": handler.New(Add)}

Equipped with an Assigner we can now construct a Server:

	srv := visrpc.NewServer(assigner, nil)  // nil for default options

To serve requests, we need a channel carrying one JSON object per frame.
The channel package adapts various transports, for example:

	srv.Start(channel.Line(conn, conn))

The running server handles incoming frames until the connection fails or
until it is stopped explicitly by calling srv.Stop(). To wait for the
server to finish, call:

	err := srv.Wait()

This reports the error that led to the server exiting, or nil if the
connection ended cleanly.

Clients

The *Client type implements the client side of a connection. A client
communicates with a server over a channel.Channel, and is safe for
concurrent use by multiple goroutines:

	conn, err := net.Dial("tcp", "localhost:8088")
	...
	cli := visrpc.NewClient(channel.Line(conn, conn), nil)

To call a function, give its name and its arguments in wire form. The
NewArgument function converts native Go values to arguments:

	arg, err := visrpc.NewArgument([]int32{1, 3, 5, 7})
	...
	reply, err := cli.Call(ctx, "add", []visrpc.Argument{arg})

Call blocks until the reply arrives or ctx ends. Errors reported by the
server have concrete type *visrpc.Error, carrying the number, reason
code, and message from the wire. A successful reply is a list of
arguments, which the Decode method converts back to native values:

	sum, err := reply[0].Decode()

Subscriptions

A client may subscribe to a signal path to be told whenever a value is
published for it. Subscribe blocks until the server acknowledges the
subscription, and returns the id the server assigned to it:

	id, err := cli.Subscribe(ctx, "Vehicle.DriveTrain.FuelSystem.Level")

Notifications for active subscriptions are delivered to the OnSignal
callback given in the client options:

	cli := visrpc.NewClient(ch, &visrpc.ClientOptions{
		OnSignal: func(n visrpc.Notification) {
			log.Printf("signal %s = %s", n.Path, string(n.Value))
		},
	})

The callback runs on the client's receive goroutine: it must not block,
and it must not call back into the client directly.

On the server side, subscriptions are recorded in a *Registry, and every
value published to the registry fans out to the connections subscribed
to its path. By default each server uses a private registry; to share
subscriptions across all the connections of a process, pass a common
registry in the server options:

	reg := visrpc.NewRegistry(nil)
	srv := visrpc.NewServer(assigner, &visrpc.ServerOptions{Registry: reg})
	...
	n := reg.Publish("Vehicle.DriveTrain.FuelSystem.Level", 42, time.Now().UnixMilli())

Publish reports how many subscribers were notified. Subscriptions last
until the connection that made them closes.

Services with Multiple Functions

The examples above show a server exporting a single function; you will
often want to expose more than one. The handler.ServiceMap type
dispatches function names of the form "service.function" to a nested
assigner per service:

	assigner := handler.ServiceMap{
		"math": handler.Map{
			"add": handler.New(Add),
			"mul": handler.New(Mul),
		},
	}

This assigner dispatches "math.add" and "math.mul" to the corresponding
handlers. A ServiceMap splits the function name on the first period
("."), and you may nest ServiceMaps more deeply if you require a more
complex hierarchy.

See the caller package for a convenient way to generate client call
wrappers.
*/
package visrpc
