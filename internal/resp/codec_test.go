package resp

import (
	"bytes"
	"errors"
	"testing"
)

func roundtrip(t *testing.T, v Value) {
	t.Helper()
	encoded := Encode(v)
	decoded, n, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode(encode(v)) failed: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d bytes, want %d", n, len(encoded))
	}
	reencoded := Encode(decoded)
	if !bytes.Equal(reencoded, encoded) {
		t.Fatalf("re-encode mismatch:\n got %q\nwant %q", reencoded, encoded)
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []Value{
		SimpleStringValue("OK"),
		SimpleStringValue("PONG"),
		ErrorValue("ERR unknown command"),
		IntegerValue(0),
		IntegerValue(-42),
		IntegerValue(1234567890),
		BulkStringFromString("hello"),
		BulkStringFromString(""),
		NullBulkString(),
		ArrayValue(nil),
		NullArray(),
		StringArray("SET", "k", "v"),
		ArrayValue([]Value{
			ArrayValue([]Value{BulkStringFromString("1-1"), StringArray("field", "value")}),
			ArrayValue([]Value{BulkStringFromString("1-2"), StringArray("a", "b")}),
		}),
	}
	for _, v := range cases {
		roundtrip(t, v)
	}
}

func TestIncrementalFraming(t *testing.T) {
	values := []Value{
		SimpleStringValue("PONG"),
		ErrorValue("ERR boom"),
		IntegerValue(1000),
		BulkStringFromString("foobar"),
		NullBulkString(),
		StringArray("SET", "foo", "bar"),
	}
	for _, v := range values {
		encoded := Encode(v)
		for k := 0; k < len(encoded); k++ {
			_, _, err := Decode(encoded[:k])
			if !errors.Is(err, ErrNeedMoreBytes) {
				t.Fatalf("decode(%q[:%d]) = %v, want ErrNeedMoreBytes", encoded, k, err)
			}
		}
	}
}

func TestDecodeSpecificWireForms(t *testing.T) {
	v, n, err := Decode([]byte("+PONG\r\n"))
	if err != nil || n != 7 || v.Type != SimpleString || v.Str != "PONG" {
		t.Fatalf("got %+v, %d, %v", v, n, err)
	}

	v, n, err = Decode([]byte("$-1\r\n"))
	if err != nil || n != 5 || !v.IsNull() {
		t.Fatalf("got %+v, %d, %v", v, n, err)
	}

	v, n, err = Decode([]byte("*1\r\n$4\r\nPING\r\n"))
	if err != nil || n != 14 {
		t.Fatalf("got %+v, %d, %v", v, n, err)
	}
	strs, err := v.StringSlice()
	if err != nil || len(strs) != 1 || strs[0] != "PING" {
		t.Fatalf("got %v, %v", strs, err)
	}
}

func TestDecodeMalformedIsProtocolError(t *testing.T) {
	_, _, err := Decode([]byte("$abc\r\n"))
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestRDBFrameRoundTrip(t *testing.T) {
	payload := []byte("REDIS0011some-fake-snapshot-bytes")
	frame := EncodeRDBFrame(payload)
	if bytes.HasSuffix(frame, []byte("\r\n")) {
		t.Fatalf("rdb frame must not end in CRLF: %q", frame)
	}
	got, n, err := DecodeRDBFrame(frame)
	if err != nil {
		t.Fatalf("decode rdb frame: %v", err)
	}
	if n != len(frame) {
		t.Fatalf("consumed %d, want %d", n, len(frame))
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q want %q", got, payload)
	}

	for k := 0; k < len(frame); k++ {
		_, _, err := DecodeRDBFrame(frame[:k])
		if !errors.Is(err, ErrNeedMoreBytes) {
			t.Fatalf("decode rdb frame[:%d] = %v, want NeedMoreBytes", k, err)
		}
	}
}
