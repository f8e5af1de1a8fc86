// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package visrpc

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Action tags carried in the wire "action" field. The "subscribe" tag is
// shared by the subscription request and its acknowledgment; the two are
// told apart by the direction of travel.
const (
	actionCall         = "call"
	actionSubscribe    = "subscribe"
	actionReply        = "reply"
	actionSubscription = "subscription"
)

// wireMsg is the decoded form of one received frame. Every frame is a
// single JSON object; which fields are meaningful depends on the action
// and the direction of travel. Unknown fields are ignored.
type wireMsg struct {
	action string          // the "action" tag, or "" if absent
	id     json.RawMessage // the raw "requestId" token, or nil if absent

	function string          // call: the function name
	args     json.RawMessage // call: the raw argument array, or nil if absent
	path     string          // subscribe: the signal path

	ts       int64           // reply, ack, notification: epoch milliseconds
	reply    json.RawMessage // reply: the raw result array, or nil if absent
	subID    uint64          // ack, notification: the subscription id
	hasSubID bool            // whether subID was present
	value    json.RawMessage // notification: the raw signal value
	werr     *Error          // reply, ack: the error object, or nil
}

// parse decodes data into m and reports the first field error found, if
// any. Fields before the failing one are still populated, so an error
// reply can be correlated whenever a requestId was readable.
func (m *wireMsg) parse(data []byte) *Error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return Errorf(400, ReasonInvalidArgument, "request is not a JSON object")
	}
	var ferr *Error
	fail := func(e *Error) {
		if ferr == nil {
			ferr = e
		}
	}

	// Decode requestId and action first, so that replies to structurally
	// invalid frames can still be correlated by the sender.
	if raw, ok := obj["requestId"]; ok && !isNull(raw) {
		if isValidID(raw) {
			m.id = raw
		} else {
			fail(Errorf(400, ReasonInvalidArgument, "invalid requestId"))
		}
	}
	if raw, ok := obj["action"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &m.action); err != nil {
			fail(Errorf(400, ReasonInvalidArgument, `invalid "action" field`))
		}
	}
	if raw, ok := obj["function"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &m.function); err != nil {
			fail(Errorf(400, ReasonInvalidArgument, `invalid "function" field`))
		}
	}
	if raw, ok := obj["arguments"]; ok && !isNull(raw) {
		if firstByte(raw) != '[' {
			fail(Errorf(400, ReasonInvalidArgument, `"arguments" must be an array`))
		} else {
			m.args = raw
		}
	}
	if raw, ok := obj["path"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &m.path); err != nil {
			fail(Errorf(400, ReasonInvalidArgument, `invalid "path" field`))
		}
	}
	if raw, ok := obj["timestamp"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &m.ts); err != nil {
			fail(Errorf(400, ReasonInvalidArgument, `invalid "timestamp" field`))
		}
	}
	if raw, ok := obj["reply"]; ok && !isNull(raw) {
		if firstByte(raw) != '[' {
			fail(Errorf(400, ReasonInvalidArgument, `"reply" must be an array`))
		} else {
			m.reply = raw
		}
	}
	if raw, ok := obj["subscriptionId"]; ok && !isNull(raw) {
		if id, ok := parseSubID(raw); ok {
			m.subID, m.hasSubID = id, true
		} else {
			fail(Errorf(400, ReasonInvalidArgument, "invalid subscriptionId"))
		}
	}
	if raw, ok := obj["value"]; ok && !isNull(raw) {
		m.value = raw
	}
	if raw, ok := obj["error"]; ok && !isNull(raw) {
		m.werr = new(Error)
		if err := json.Unmarshal(raw, m.werr); err != nil {
			m.werr = nil
			fail(Errorf(400, ReasonInvalidArgument, `invalid "error" field`))
		}
	}
	return ferr
}

// isValidID reports whether raw is a permissible requestId token: the
// protocol allows JSON strings and unsigned integers.
func isValidID(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	if firstByte(raw) == '"' {
		var s string
		return json.Unmarshal(raw, &s) == nil
	}
	for _, b := range raw {
		if b < '0' || b > '9' {
			return false
		}
	}
	return true
}

// canonID reduces a raw requestId token to canonical text, so that a
// string token and a number token with the same digits correlate.
func canonID(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}

// parseSubID decodes a subscription id sent either as a JSON number or as
// a string of digits.
func parseSubID(raw json.RawMessage) (uint64, bool) {
	var n uint64
	if json.Unmarshal(raw, &n) == nil {
		return n, true
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func firstByte(raw json.RawMessage) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

func isNull(raw json.RawMessage) bool { return bytes.Equal(bytes.TrimSpace(raw), []byte("null")) }

// Outbound frame shapes. Field order fixes the order of keys in the
// encoded object.

// callFrame is a function invocation request.
type callFrame struct {
	Action    string          `json:"action"`
	RequestID json.RawMessage `json:"requestId"`
	Function  string          `json:"function"`
	Arguments []Argument      `json:"arguments"`
}

// subscribeFrame is a subscription request.
type subscribeFrame struct {
	Action    string          `json:"action"`
	RequestID json.RawMessage `json:"requestId"`
	Path      string          `json:"path"`
}

// replyFrame answers a call, or reports a protocol error for a frame that
// could not be dispatched. The requestId is omitted when the offending
// frame did not carry a usable one.
type replyFrame struct {
	Action    string          `json:"action"`
	RequestID json.RawMessage `json:"requestId,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Reply     []Argument      `json:"reply,omitempty"`
	Error     *Error          `json:"error,omitempty"`
}

// ackFrame answers a subscription request. On success it carries the
// server-assigned subscription id; on failure the id is omitted.
type ackFrame struct {
	Action         string          `json:"action"`
	RequestID      json.RawMessage `json:"requestId"`
	Timestamp      int64           `json:"timestamp"`
	SubscriptionID uint64          `json:"subscriptionId,omitempty"`
	Error          *Error          `json:"error,omitempty"`
}

// noteFrame delivers one published signal value to a subscriber.
type noteFrame struct {
	Action         string          `json:"action"`
	SubscriptionID uint64          `json:"subscriptionId"`
	Timestamp      int64           `json:"timestamp"`
	Value          json.RawMessage `json:"value"`
}

// sender is the subset of the channel interface needed to transmit frames.
type sender interface {
	Send([]byte) error
}

// receiver is the subset of the channel interface needed to receive frames.
type receiver interface {
	Recv() ([]byte, error)
}

// sendFrame marshals v and transmits it on ch, reporting the number of
// bytes sent.
func sendFrame(ch sender, v any) (int, error) {
	bits, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return len(bits), ch.Send(bits)
}

// tsNow reports the current wall time in milliseconds since the Unix
// epoch, the protocol's timestamp unit.
func tsNow() int64 { return time.Now().UnixMilli() }
