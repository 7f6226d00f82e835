// Package resp implements the RESP2 wire protocol: the tagged,
// length-prefixed request/response format spoken by Redis-compatible
// clients and servers. Decoding supports incremental framing so callers
// can feed partial reads from a socket without blocking inside the codec.
package resp

import "fmt"

// Type tags the kind of value a Value holds.
type Type int

const (
	// SimpleString is a `+...\r\n` line.
	SimpleString Type = iota
	// Error is a `-...\r\n` line.
	Error
	// Integer is a `:...\r\n` line.
	Integer
	// BulkString is a `$len\r\n...\r\n` value, or null when Null is set.
	BulkString
	// Array is a `*count\r\n` sequence of values, or null when Null is set.
	Array
)

// Value is a single decoded RESP value.
type Value struct {
	Type  Type
	Str   string  // SimpleString, Error
	Int   int64   // Integer
	Bulk  []byte  // BulkString payload (nil when Null)
	Items []Value // Array elements (nil when Null)
	Null  bool    // true for $-1\r\n or *-1\r\n
}

// SimpleStringValue builds a simple-string Value.
func SimpleStringValue(s string) Value { return Value{Type: SimpleString, Str: s} }

// ErrorValue builds an error Value.
func ErrorValue(s string) Value { return Value{Type: Error, Str: s} }

// Errorf builds an error Value from a format string.
func Errorf(format string, args ...interface{}) Value {
	return Value{Type: Error, Str: fmt.Sprintf(format, args...)}
}

// IntegerValue builds an integer Value.
func IntegerValue(n int64) Value { return Value{Type: Integer, Int: n} }

// BulkStringValue builds a non-null bulk string Value.
func BulkStringValue(b []byte) Value { return Value{Type: BulkString, Bulk: b} }

// BulkStringFromString is a convenience wrapper for string payloads.
func BulkStringFromString(s string) Value { return Value{Type: BulkString, Bulk: []byte(s)} }

// NullBulkString is the `$-1\r\n` value.
func NullBulkString() Value { return Value{Type: BulkString, Null: true} }

// ArrayValue builds a non-null array Value.
func ArrayValue(items []Value) Value { return Value{Type: Array, Items: items} }

// NullArray is the `*-1\r\n` value.
func NullArray() Value { return Value{Type: Array, Null: true} }

// StringArray builds an array of bulk strings, the shape every client
// command and every propagated mutation takes on the wire.
func StringArray(strs ...string) Value {
	items := make([]Value, len(strs))
	for i, s := range strs {
		items[i] = BulkStringFromString(s)
	}
	return ArrayValue(items)
}

// IsNull reports whether v is a null bulk string or null array.
func (v Value) IsNull() bool {
	return (v.Type == BulkString || v.Type == Array) && v.Null
}

// AsString returns the textual payload of a bulk string or simple string,
// for command handlers that only care about the bytes.
func (v Value) AsString() (string, bool) {
	switch v.Type {
	case BulkString:
		if v.Null {
			return "", false
		}
		return string(v.Bulk), true
	case SimpleString:
		return v.Str, true
	default:
		return "", false
	}
}

// StringSlice converts an array of bulk/simple strings into a []string,
// as required to dispatch an incoming command.
func (v Value) StringSlice() ([]string, error) {
	if v.Type != Array || v.Null {
		return nil, fmt.Errorf("resp: value is not an array")
	}
	out := make([]string, len(v.Items))
	for i, item := range v.Items {
		s, ok := item.AsString()
		if !ok {
			return nil, fmt.Errorf("resp: array element %d is not a string", i)
		}
		out[i] = s
	}
	return out, nil
}
