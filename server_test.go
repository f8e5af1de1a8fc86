// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package visrpc_test

import (
	"encoding/json"
	"testing"

	"github.com/visslink/visrpc"
	"github.com/visslink/visrpc/channel"
	"github.com/visslink/visrpc/handler"
)

// The fixed timestamp reported by test servers for outbound frames.
const testTime = 1577834471000

// newRawServer starts a server on a direct channel and returns the client
// side, so tests can exercise the wire format without a *visrpc.Client.
func newRawServer(t *testing.T, mux visrpc.Assigner) channel.Channel {
	t.Helper()
	cch, sch := channel.Direct()
	srv := visrpc.NewServer(mux, &visrpc.ServerOptions{
		TimeNow: func() int64 { return testTime },
	}).Start(sch)
	t.Cleanup(func() {
		cch.Close()
		srv.Wait()
	})
	return cch
}

// A rawReply is the decoded form of a reply or acknowledgment frame.
type rawReply struct {
	Action         string            `json:"action"`
	RequestID      json.RawMessage   `json:"requestId"`
	Timestamp      int64             `json:"timestamp"`
	Reply          []visrpc.Argument `json:"reply"`
	SubscriptionID *uint64           `json:"subscriptionId"`
	Error          *visrpc.Error     `json:"error"`
}

// roundTrip sends one raw frame and decodes the server's answer.
func roundTrip(t *testing.T, ch channel.Channel, frame string) rawReply {
	t.Helper()
	if err := ch.Send([]byte(frame)); err != nil {
		t.Fatalf("Send %#q failed: %v", frame, err)
	}
	bits, err := ch.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	var reply rawReply
	if err := json.Unmarshal(bits, &reply); err != nil {
		t.Fatalf("Invalid reply %#q: %v", string(bits), err)
	}
	return reply
}

// Verify that every protocol violation produces the error frame the
// protocol specifies, correlated to the offending request whenever its id
// was readable.
func TestServerProtocolErrors(t *testing.T) {
	ch := newRawServer(t, newTestService(nil, nil))

	const unknownTypeText = "Unknown argument type int64\n'type' needs to be one of\n" +
		"  int8, uint8, int16, uint16, int32, uint32\n  bool, float, double, string"

	tests := []struct {
		name   string
		frame  string
		wantID string // "" means the reply must not carry a requestId
		number int32
		reason string
		etext  string
	}{
		{"NotJSON", `this is not JSON`, "",
			400, visrpc.ReasonInvalidArgument, "request is not a JSON object"},
		{"NotAnObject", `[1, 2, 3]`, "",
			400, visrpc.ReasonInvalidArgument, "request is not a JSON object"},
		{"MissingRequestID", `{"action":"call","function":"echo","arguments":[]}`, "",
			400, visrpc.ReasonMissingArgument, `request missing required "requestId" field`},
		{"InvalidRequestID", `{"requestId":{"no":1},"action":"call"}`, "",
			400, visrpc.ReasonInvalidArgument, "invalid requestId"},
		{"MissingAction", `{"requestId":"258"}`, `"258"`,
			400, visrpc.ReasonMissingArgument, `request missing required "action" field`},
		{"InvalidAction", `{"requestId":"258","action":25}`, `"258"`,
			400, visrpc.ReasonInvalidArgument, `invalid "action" field`},
		{"UnknownAction", `{"requestId":"258","action":"get"}`, `"258"`,
			503, visrpc.ReasonUnknownAction, `unknown action "get"`},
		{"MissingFunction", `{"requestId":"258","action":"call","arguments":[]}`, `"258"`,
			400, visrpc.ReasonMissingArgument, `call missing required "function" field`},
		{"MissingArguments", `{"requestId":"258","action":"call","function":"echo"}`, `"258"`,
			400, visrpc.ReasonMissingArgument, `call missing required "arguments" field`},
		{"ArgumentsNotArray", `{"requestId":"258","action":"call","function":"echo","arguments":{}}`, `"258"`,
			400, visrpc.ReasonInvalidArgument, `"arguments" must be an array`},
		{"ArgumentNotObject", `{"requestId":"258","action":"call","function":"echo","arguments":[42]}`, `"258"`,
			400, visrpc.ReasonInvalidArgument, "argument is not a JSON object"},
		{"ArgumentMissingType", `{"requestId":"258","action":"call","function":"echo","arguments":[{"size":1,"value":"1"}]}`, `"258"`,
			400, visrpc.ReasonMissingArgument, `argument missing "type" field`},
		{"ArgumentMissingSize", `{"requestId":"258","action":"call","function":"echo","arguments":[{"type":"int8","value":"1"}]}`, `"258"`,
			400, visrpc.ReasonMissingArgument, `argument missing "size" field`},
		{"ArgumentMissingValue", `{"requestId":"258","action":"call","function":"echo","arguments":[{"type":"int8","size":1}]}`, `"258"`,
			400, visrpc.ReasonMissingArgument, `argument missing "value" field`},
		{"UnknownArgumentType", `{"requestId":"258","action":"call","function":"echo","arguments":[{"type":"int64","size":1,"value":"1"}]}`, `"258"`,
			400, visrpc.ReasonUnknownType, unknownTypeText},
		{"WrongValueCount", `{"requestId":"258","action":"call","function":"echo","arguments":[{"type":"int32","size":3,"value":"1,2"}]}`, `"258"`,
			400, visrpc.ReasonInvalidArgument, "got 2 values, want 3"},
		{"UnknownFunction", `{"requestId":"258","action":"call","function":"nonesuch","arguments":[]}`, `"258"`,
			404, visrpc.ReasonUnknownFunction, `unknown function "nonesuch"`},
		{"HandlerError", `{"requestId":"258","action":"call","function":"fail","arguments":[]}`, `"258"`,
			417, "out_of_cheese", "+++MELON MELON MELON+++"},
		{"InternalError", `{"requestId":"258","action":"call","function":"boom","arguments":[]}`, `"258"`,
			500, visrpc.ReasonInternalError, "the dungeon collapsed"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := roundTrip(t, ch, test.frame)
			if got.Action != "reply" {
				t.Errorf("Action: got %q, want reply", got.Action)
			}
			if string(got.RequestID) != test.wantID {
				t.Errorf("RequestID: got %s, want %s", got.RequestID, test.wantID)
			}
			if got.Timestamp != testTime {
				t.Errorf("Timestamp: got %d, want %d", got.Timestamp, testTime)
			}
			if got.Error == nil {
				t.Fatalf("Reply carries no error: %+v", got)
			}
			if got.Error.Number != test.number || got.Error.Reason != test.reason {
				t.Errorf("Error: got [%d/%s], want [%d/%s]",
					got.Error.Number, got.Error.Reason, test.number, test.reason)
			}
			if got.Error.Message != test.etext {
				t.Errorf("Message:\ngot:  %q\nwant: %q", got.Error.Message, test.etext)
			}
		})
	}
}

// Pin the exact bytes of a successful reply frame.
func TestServerReplyFormat(t *testing.T) {
	ch := newRawServer(t, newTestService(nil, nil))

	const frame = `{"action":"call","requestId":"258","function":"print_name_and_age",` +
		`"arguments":[{"type":"string","size":32,"value":"Bob"},{"type":"int32","size":1,"value":"42"}]}`
	const want = `{"action":"reply","requestId":"258","timestamp":1577834471000,` +
		`"reply":[{"type":"int32","size":1,"value":"4711"}]}`

	if err := ch.Send([]byte(frame)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	bits, err := ch.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if got := string(bits); got != want {
		t.Errorf("Reply frame:\ngot:  %s\nwant: %s", got, want)
	}
}

// Verify that a numeric request id is echoed back in its original form.
func TestServerEchoesNumericID(t *testing.T) {
	ch := newRawServer(t, newTestService(nil, nil))

	got := roundTrip(t, ch, `{"action":"call","requestId":266,"function":"quiet","arguments":[]}`)
	if string(got.RequestID) != "266" {
		t.Errorf("RequestID: got %s, want 266", got.RequestID)
	}
	if got.Error != nil {
		t.Errorf("Error: got %v, want nil", got.Error)
	}
}

func TestServerSubscribe(t *testing.T) {
	ch := newRawServer(t, newTestService(nil, nil))

	// A subscribe without a path is acknowledged with an error and no
	// subscription id.
	bad := roundTrip(t, ch, `{"action":"subscribe","requestId":"1"}`)
	if bad.Action != "subscribe" {
		t.Errorf("Action: got %q, want subscribe", bad.Action)
	}
	if bad.SubscriptionID != nil {
		t.Errorf("SubscriptionID: got %d, want none", *bad.SubscriptionID)
	}
	if bad.Error == nil {
		t.Fatal("Acknowledgment carries no error")
	}
	if bad.Error.Number != 400 || bad.Error.Reason != visrpc.ReasonMissingArgument {
		t.Errorf("Error: got [%d/%s], want [400/%s]",
			bad.Error.Number, bad.Error.Reason, visrpc.ReasonMissingArgument)
	}

	// Successful subscriptions get sequential ids, and repeating a path
	// reuses the id it was assigned.
	checks := []struct {
		frame string
		want  uint64
	}{
		{`{"action":"subscribe","requestId":"2","path":"Vehicle.A"}`, 1},
		{`{"action":"subscribe","requestId":"3","path":"Vehicle.B"}`, 2},
		{`{"action":"subscribe","requestId":"4","path":"Vehicle.A"}`, 1},
	}
	for _, c := range checks {
		got := roundTrip(t, ch, c.frame)
		if got.Action != "subscribe" || got.Error != nil {
			t.Errorf("Acknowledgment: got (%q, %v), want (subscribe, no error)", got.Action, got.Error)
			continue
		}
		if got.SubscriptionID == nil {
			t.Errorf("Acknowledgment for %#q carries no subscription id", c.frame)
		} else if *got.SubscriptionID != c.want {
			t.Errorf("SubscriptionID: got %d, want %d", *got.SubscriptionID, c.want)
		}
	}
}

// Pin the exact bytes of a notification frame.
func TestServerNotificationFormat(t *testing.T) {
	cch, sch := channel.Direct()
	srv := visrpc.NewServer(handler.Map{}, &visrpc.ServerOptions{
		TimeNow: func() int64 { return testTime },
	}).Start(sch)
	defer func() {
		cch.Close()
		srv.Wait()
	}()

	ack := roundTrip(t, cch, `{"action":"subscribe","requestId":"1","path":"Vehicle.DriveTrain.FuelSystem.Level"}`)
	if ack.SubscriptionID == nil || *ack.SubscriptionID != 1 {
		t.Fatalf("Acknowledgment: got %+v, want subscription id 1", ack)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if n := srv.Registry().Publish("Vehicle.DriveTrain.FuelSystem.Level", uint8(99), 2000); n != 1 {
			t.Errorf("Publish: notified %d, want 1", n)
		}
	}()

	bits, err := cch.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	const want = `{"action":"subscription","subscriptionId":1,"timestamp":2000,"value":99}`
	if got := string(bits); got != want {
		t.Errorf("Notification frame:\ngot:  %s\nwant: %s", got, want)
	}
	<-done
}

// Verify that separate servers sharing a registry deliver a publication to
// the subscribers of both connections.
func TestSharedRegistry(t *testing.T) {
	reg := visrpc.NewRegistry(nil)
	mux := handler.Map{}
	opts := &visrpc.ServerOptions{Registry: reg, TimeNow: func() int64 { return testTime }}

	cch1, sch1 := channel.Direct()
	srv1 := visrpc.NewServer(mux, opts).Start(sch1)
	cch2, sch2 := channel.Direct()
	srv2 := visrpc.NewServer(mux, opts).Start(sch2)
	defer func() {
		cch1.Close()
		cch2.Close()
		srv1.Wait()
		srv2.Wait()
	}()

	if got := roundTrip(t, cch1, `{"action":"subscribe","requestId":"1","path":"Vehicle.A"}`); got.SubscriptionID == nil {
		t.Fatalf("Acknowledgment 1: got %+v, want a subscription id", got)
	}
	if got := roundTrip(t, cch2, `{"action":"subscribe","requestId":"1","path":"Vehicle.A"}`); got.SubscriptionID == nil {
		t.Fatalf("Acknowledgment 2: got %+v, want a subscription id", got)
	}
	if got := reg.Subscribers("Vehicle.A"); got != 2 {
		t.Errorf("Subscribers: got %d, want 2", got)
	}

	done := make(chan int, 1)
	go func() { done <- reg.Publish("Vehicle.A", true, 3000) }()
	for i, ch := range []channel.Channel{cch1, cch2} {
		bits, err := ch.Recv()
		if err != nil {
			t.Fatalf("Recv %d failed: %v", i+1, err)
		}
		var note struct {
			Action string          `json:"action"`
			Value  json.RawMessage `json:"value"`
		}
		if err := json.Unmarshal(bits, &note); err != nil {
			t.Fatalf("Invalid notification %#q: %v", string(bits), err)
		}
		if note.Action != "subscription" || string(note.Value) != "true" {
			t.Errorf("Notification %d: got (%q, %s), want (subscription, true)", i+1, note.Action, note.Value)
		}
	}
	if n := <-done; n != 2 {
		t.Errorf("Publish: notified %d, want 2", n)
	}

	// Closing one connection leaves the other's subscription in place.
	srv1.Stop()
	if err := srv1.Wait(); err != nil {
		t.Errorf("Wait 1: unexpected error: %v", err)
	}
	if got := reg.Subscribers("Vehicle.A"); got != 1 {
		t.Errorf("Subscribers: got %d, want 1 after close", got)
	}
}
