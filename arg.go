// Copyright (C) 2017 Michael J. Fromberger. All Rights Reserved.

package visrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/creachadair/mds/mapset"
)

// A Kind is the type tag of a call argument. The tag determines how the
// textual payload of the argument is converted to a native value.
type Kind string

// The argument type tags defined by the protocol.
const (
	Int8   Kind = "int8"
	Uint8  Kind = "uint8"
	Int16  Kind = "int16"
	Uint16 Kind = "uint16"
	Int32  Kind = "int32"
	Uint32 Kind = "uint32"
	Bool   Kind = "bool"
	Float  Kind = "float"  // 32-bit floating point
	Double Kind = "double" // 64-bit floating point
	String Kind = "string"
)

// validKinds is the set of recognized argument type tags.
var validKinds = mapset.New(Int8, Uint8, Int16, Uint16, Int32, Uint32, Bool, Float, Double, String)

// Valid reports whether k is a recognized argument type tag.
func (k Kind) Valid() bool { return validKinds.Has(k) }

// kindGroups lists the valid type tags as they are rendered in protocol
// error messages.
const kindGroups = "  int8, uint8, int16, uint16, int32, uint32\n  bool, float, double, string"

func unknownTypeError(k Kind) *Error {
	return Errorf(400, ReasonUnknownType,
		"Unknown argument type %s\n'type' needs to be one of\n%s", k, kindGroups)
}

// zero returns the native zero value for k. It panics if k is not valid.
func (k Kind) zero() any {
	switch k {
	case Int8:
		return int8(0)
	case Uint8:
		return uint8(0)
	case Int16:
		return int16(0)
	case Uint16:
		return uint16(0)
	case Int32:
		return int32(0)
	case Uint32:
		return uint32(0)
	case Bool:
		return false
	case Float:
		return float32(0)
	case Double:
		return float64(0)
	case String:
		return ""
	}
	panic("invalid kind: " + string(k))
}

// parseScalar converts one textual payload into the native value for k.
// An empty payload yields the zero value of k.
func (k Kind) parseScalar(text string) (any, error) {
	if text == "" {
		return k.zero(), nil
	}
	bad := func() *Error {
		return Errorf(400, ReasonInvalidArgument, "invalid %s value %q", k, text)
	}
	switch k {
	case Int8, Int16, Int32:
		n, err := strconv.ParseInt(text, 10, kindBits(k))
		if err != nil {
			return nil, bad()
		}
		switch k {
		case Int8:
			return int8(n), nil
		case Int16:
			return int16(n), nil
		}
		return int32(n), nil
	case Uint8, Uint16, Uint32:
		n, err := strconv.ParseUint(text, 10, kindBits(k))
		if err != nil {
			return nil, bad()
		}
		switch k {
		case Uint8:
			return uint8(n), nil
		case Uint16:
			return uint16(n), nil
		}
		return uint32(n), nil
	case Bool:
		t, err := strconv.ParseBool(text)
		if err != nil {
			return nil, bad()
		}
		return t, nil
	case Float:
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return nil, bad()
		}
		return float32(f), nil
	case Double:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, bad()
		}
		return f, nil
	case String:
		return text, nil
	}
	return nil, unknownTypeError(k)
}

func kindBits(k Kind) int {
	switch k {
	case Int8, Uint8:
		return 8
	case Int16, Uint16:
		return 16
	}
	return 32
}

// A Value is the textual payload of an argument: either a single text
// scalar or an ordered list of text scalars. On the wire a Value may be
// encoded as a JSON string, number, Boolean, or an array of those; all
// payload elements are normalized to their textual form on receipt.
type Value struct {
	list  bool
	items []string
}

// Scalar returns a Value holding the single text payload text.
func Scalar(text string) Value {
	if text == "" {
		return Value{}
	}
	return Value{items: []string{text}}
}

// List returns a Value holding the given sequence of text payloads.
func List(items ...string) Value {
	return Value{list: true, items: items}
}

// IsList reports whether v holds a sequence rather than a single scalar.
func (v Value) IsList() bool { return v.list }

// Text returns the payload of v as a single string. A list payload is
// rendered as its elements joined by commas.
func (v Value) Text() string {
	if len(v.items) == 1 {
		return v.items[0]
	}
	return strings.Join(v.items, ",")
}

// Strings returns a copy of the payload elements of v.
func (v Value) Strings() []string {
	out := make([]string, len(v.items))
	copy(out, v.items)
	return out
}

// Equal reports whether v and o denote the same payload. It is respected
// by equality checkers such as github.com/google/go-cmp.
func (v Value) Equal(o Value) bool {
	if v.list != o.list || len(v.items) != len(o.items) {
		return false
	}
	for i, s := range v.items {
		if o.items[i] != s {
			return false
		}
	}
	return true
}

// MarshalJSON renders a scalar as a JSON string and a list as an array of
// JSON strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.list {
		if v.items == nil {
			return []byte(`[]`), nil
		}
		return json.Marshal(v.items)
	}
	return json.Marshal(v.Text())
}

// UnmarshalJSON decodes a wire payload, normalizing strings, numbers, and
// Booleans to text. A JSON null decodes as an empty scalar.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch t := raw.(type) {
	case nil:
		*v = Value{}
	case []any:
		items := make([]string, len(t))
		for i, elt := range t {
			text, err := scalarText(elt)
			if err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
			items[i] = text
		}
		*v = Value{list: true, items: items}
	default:
		text, err := scalarText(raw)
		if err != nil {
			return err
		}
		*v = Scalar(text)
	}
	return nil
}

// scalarText normalizes one decoded JSON value to its textual form.
func scalarText(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	}
	return "", fmt.Errorf("value must be a string, number, or Boolean")
}

// An Argument is the wire representation of one typed value in a call or a
// reply. Size reports the number of payload elements, except for type
// "string" where it declares the maximum length of the text.
type Argument struct {
	Type  Kind  `json:"type"`
	Size  int   `json:"size"`
	Value Value `json:"value"`
}

// UnmarshalJSON decodes an argument object, verifying that the required
// "type", "size", and "value" fields are all present. The size may be
// encoded either as a JSON number or as a string of digits.
func (a *Argument) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return Errorf(400, ReasonInvalidArgument, "argument is not a JSON object")
	}
	*a = Argument{}

	tbits, ok := obj["type"]
	if !ok {
		return Errorf(400, ReasonMissingArgument, `argument missing "type" field`)
	}
	var kindName string
	if err := json.Unmarshal(tbits, &kindName); err != nil {
		return Errorf(400, ReasonInvalidArgument, `invalid argument "type" field`)
	}
	a.Type = Kind(kindName)

	sbits, ok := obj["size"]
	if !ok {
		return Errorf(400, ReasonMissingArgument, `argument missing "size" field`)
	}
	if err := json.Unmarshal(sbits, &a.Size); err != nil {
		var text string
		if err := json.Unmarshal(sbits, &text); err != nil {
			return Errorf(400, ReasonInvalidArgument, `invalid argument "size" field`)
		}
		n, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			return Errorf(400, ReasonInvalidArgument, "invalid argument size %q", text)
		}
		a.Size = n
	}

	vbits, ok := obj["value"]
	if !ok {
		return Errorf(400, ReasonMissingArgument, `argument missing "value" field`)
	}
	if err := a.Value.UnmarshalJSON(vbits); err != nil {
		return Errorf(400, ReasonInvalidArgument, `invalid argument "value" field: %v`, err)
	}
	return nil
}

// Decode converts a into its native value: a single value for a scalar
// argument, or a slice of values for an array argument. It reports an error
// of concrete type *Error if the argument is not valid.
func (a Argument) Decode() (any, error) {
	if !a.Type.Valid() {
		return nil, unknownTypeError(a.Type)
	}
	if a.Type == String {
		if a.Value.list {
			return nil, Errorf(400, ReasonInvalidArgument, "string argument takes a single value")
		}
		return a.Value.Text(), nil
	}
	if a.Size < 1 {
		return nil, Errorf(400, ReasonInvalidArgument, "invalid argument size %d", a.Size)
	}
	items := a.Value.items
	if a.Size == 1 {
		if len(items) > 1 {
			return nil, Errorf(400, ReasonInvalidArgument, "got %d values, want 1", len(items))
		}
		return a.Type.parseScalar(a.Value.Text())
	}

	// An array payload sent as a single text scalar is comma-separated.
	if !a.Value.list {
		items = strings.Split(a.Value.Text(), ",")
	}
	if len(items) != a.Size {
		return nil, Errorf(400, ReasonInvalidArgument, "got %d values, want %d", len(items), a.Size)
	}
	switch a.Type {
	case Int8:
		return decodeSlice[int8](a.Type, items)
	case Uint8:
		return decodeSlice[uint8](a.Type, items)
	case Int16:
		return decodeSlice[int16](a.Type, items)
	case Uint16:
		return decodeSlice[uint16](a.Type, items)
	case Int32:
		return decodeSlice[int32](a.Type, items)
	case Uint32:
		return decodeSlice[uint32](a.Type, items)
	case Bool:
		return decodeSlice[bool](a.Type, items)
	case Float:
		return decodeSlice[float32](a.Type, items)
	}
	return decodeSlice[float64](a.Type, items)
}

func decodeSlice[T any](k Kind, items []string) ([]T, error) {
	out := make([]T, len(items))
	for i, item := range items {
		v, err := k.parseScalar(item)
		if err != nil {
			return nil, err
		}
		out[i] = v.(T)
	}
	return out, nil
}

// String renders a in the form accepted by ParseArgument.
func (a Argument) String() string {
	if a.Size == 1 && !a.Value.list {
		return fmt.Sprintf("%s:%s", a.Type, a.Value.Text())
	}
	return fmt.Sprintf("%s:%d:%s", a.Type, a.Size, a.Value.Text())
}

// NewArgument converts a native Go value into its wire representation. The
// value must be one of the native types produced by Decode, or a slice of
// such values, or an Argument, which is returned unmodified.
func NewArgument(v any) (Argument, error) {
	scalar := func(k Kind, text string) (Argument, error) {
		return Argument{Type: k, Size: 1, Value: Scalar(text)}, nil
	}
	switch t := v.(type) {
	case Argument:
		return t, nil
	case int8:
		return scalar(Int8, strconv.FormatInt(int64(t), 10))
	case uint8:
		return scalar(Uint8, strconv.FormatUint(uint64(t), 10))
	case int16:
		return scalar(Int16, strconv.FormatInt(int64(t), 10))
	case uint16:
		return scalar(Uint16, strconv.FormatUint(uint64(t), 10))
	case int32:
		return scalar(Int32, strconv.FormatInt(int64(t), 10))
	case uint32:
		return scalar(Uint32, strconv.FormatUint(uint64(t), 10))
	case bool:
		return scalar(Bool, strconv.FormatBool(t))
	case float32:
		return scalar(Float, strconv.FormatFloat(float64(t), 'g', -1, 32))
	case float64:
		return scalar(Double, strconv.FormatFloat(t, 'g', -1, 64))
	case string:
		size := len(t)
		if size < 1 {
			size = 1
		}
		return Argument{Type: String, Size: size, Value: Scalar(t)}, nil
	case []string:
		return Argument{}, fmt.Errorf("string sequences are not representable")
	case []int8:
		return listArgument(Int8, t, func(v int8) string { return strconv.FormatInt(int64(v), 10) })
	case []uint8:
		return listArgument(Uint8, t, func(v uint8) string { return strconv.FormatUint(uint64(v), 10) })
	case []int16:
		return listArgument(Int16, t, func(v int16) string { return strconv.FormatInt(int64(v), 10) })
	case []uint16:
		return listArgument(Uint16, t, func(v uint16) string { return strconv.FormatUint(uint64(v), 10) })
	case []int32:
		return listArgument(Int32, t, func(v int32) string { return strconv.FormatInt(int64(v), 10) })
	case []uint32:
		return listArgument(Uint32, t, func(v uint32) string { return strconv.FormatUint(uint64(v), 10) })
	case []bool:
		return listArgument(Bool, t, strconv.FormatBool)
	case []float32:
		return listArgument(Float, t, func(v float32) string {
			return strconv.FormatFloat(float64(v), 'g', -1, 32)
		})
	case []float64:
		return listArgument(Double, t, func(v float64) string {
			return strconv.FormatFloat(v, 'g', -1, 64)
		})
	}
	return Argument{}, fmt.Errorf("unsupported argument type %T", v)
}

func listArgument[T any](k Kind, vs []T, format func(T) string) (Argument, error) {
	items := make([]string, len(vs))
	for i, v := range vs {
		items[i] = format(v)
	}
	return Argument{Type: k, Size: len(vs), Value: List(items...)}, nil
}

// ParseArgument parses the string form of a call argument, as written on a
// command line. Scalars have the form "type:value" and arrays the form
// "type:count:v1,v2,...". A "string" payload is never split on commas; for
// strings the count declares the maximum length of the text.
func ParseArgument(s string) (Argument, error) {
	name, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Argument{}, fmt.Errorf("invalid argument %q: missing type separator", s)
	}
	kind := Kind(name)
	if !kind.Valid() {
		return Argument{}, unknownTypeError(kind)
	}
	head, tail, hasSize := strings.Cut(rest, ":")
	if !hasSize {
		return Argument{Type: kind, Size: 1, Value: Scalar(rest)}, nil
	}
	size, err := strconv.Atoi(head)
	if err != nil {
		return Argument{}, fmt.Errorf("invalid argument size %q", head)
	} else if size < 1 {
		return Argument{}, fmt.Errorf("argument size must be positive (got %d)", size)
	}
	if kind == String {
		return Argument{Type: kind, Size: size, Value: Scalar(tail)}, nil
	}
	items := strings.Split(tail, ",")
	if len(items) != size {
		return Argument{}, fmt.Errorf("got %d values, want %d", len(items), size)
	}
	return Argument{Type: kind, Size: size, Value: List(items...)}, nil
}

// ParseCommand parses a function invocation of the form
//
//	name type:value type:count:v1,v2,...
//
// into a function name and its arguments. Fields are separated by
// whitespace; a command with no arguments is valid.
func ParseCommand(s string) (string, []Argument, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("empty command")
	}
	args := make([]Argument, len(fields)-1)
	for i, field := range fields[1:] {
		arg, err := ParseArgument(field)
		if err != nil {
			return "", nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		args[i] = arg
	}
	return fields[0], args, nil
}
