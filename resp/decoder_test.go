package resp

import (
	"errors"
	"io"
	"math"
	"strings"
	"testing"
)

func decode(t *testing.T, input string) Value {
	t.Helper()
	d := NewDecoder(NewReader(strings.NewReader(input), 0))
	v, err := d.Decode()
	if err != nil {
		t.Fatalf("Decode(%q) error = %v", input, err)
	}
	return v
}

func TestDecodeSimpleString(t *testing.T) {
	v := decode(t, "+OK\r\n")
	if v.Type != TypeSimpleString || string(v.Bytes) != "OK" {
		t.Errorf("Decode(+OK) = %+v", v)
	}
}

func TestDecodeSimpleError(t *testing.T) {
	v := decode(t, "-ERR unknown command\r\n")
	if v.Type != TypeError {
		t.Fatalf("Decode() type = %v, want error", v.Type)
	}
	if !v.IsError() {
		t.Error("IsError() = false")
	}

	var cmdErr *CommandError
	if !errors.As(v.Err, &cmdErr) {
		t.Fatalf("Err = %v, want *CommandError", v.Err)
	}
	if cmdErr.Code() != "ERR" {
		t.Errorf("Code() = %q, want ERR", cmdErr.Code())
	}
	if ShouldCloseConnection(cmdErr) {
		t.Error("command errors must not close the connection")
	}
}

func TestDecodeInteger(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{":0\r\n", 0},
		{":1000\r\n", 1000},
		{":-42\r\n", -42},
	}
	for _, tt := range tests {
		v := decode(t, tt.input)
		if v.Type != TypeInteger || v.Int != tt.want {
			t.Errorf("Decode(%q) = %+v, want Int %d", tt.input, v, tt.want)
		}
	}
}

func TestDecodeBulkString(t *testing.T) {
	v := decode(t, "$5\r\nhello\r\n")
	if v.Type != TypeBulkString || string(v.Bytes) != "hello" {
		t.Errorf("Decode() = %+v", v)
	}
}

func TestDecodeBulkStringEmpty(t *testing.T) {
	v := decode(t, "$0\r\n\r\n")
	if v.Null {
		t.Error("empty bulk decoded as null")
	}
	if len(v.Bytes) != 0 {
		t.Errorf("Bytes = %q, want empty", v.Bytes)
	}
}

func TestDecodeBulkStringNull(t *testing.T) {
	v := decode(t, "$-1\r\n")
	if !v.Null {
		t.Error("null bulk not marked Null")
	}
	if !v.IsNull() {
		t.Error("IsNull() = false")
	}
}

func TestDecodeArray(t *testing.T) {
	v := decode(t, "*3\r\n$1\r\na\r\n:2\r\n+c\r\n")
	if v.Type != TypeArray || len(v.Elems) != 3 {
		t.Fatalf("Decode() = %+v", v)
	}
	if string(v.Elems[0].Bytes) != "a" || v.Elems[1].Int != 2 || string(v.Elems[2].Bytes) != "c" {
		t.Errorf("Elems = %+v", v.Elems)
	}
}

func TestDecodeArrayNested(t *testing.T) {
	v := decode(t, "*2\r\n*2\r\n:1\r\n:2\r\n*1\r\n+x\r\n")
	if len(v.Elems) != 2 || len(v.Elems[0].Elems) != 2 || len(v.Elems[1].Elems) != 1 {
		t.Fatalf("Decode() = %+v", v)
	}
}

func TestDecodeArrayNull(t *testing.T) {
	v := decode(t, "*-1\r\n")
	if !v.Null {
		t.Error("null array not marked Null")
	}
}

func TestDecodeNull(t *testing.T) {
	v := decode(t, "_\r\n")
	if v.Type != TypeNull || !v.Null {
		t.Errorf("Decode(_) = %+v", v)
	}
}

func TestDecodeBoolean(t *testing.T) {
	if v := decode(t, "#t\r\n"); !v.Bool {
		t.Error("Decode(#t) = false")
	}
	if v := decode(t, "#f\r\n"); v.Bool {
		t.Error("Decode(#f) = true")
	}
}

func TestDecodeBooleanInvalid(t *testing.T) {
	d := NewDecoder(NewReader(strings.NewReader("#x\r\n"), 0))
	_, err := d.Decode()

	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("Decode(#x) error = %v, want *ProtocolError", err)
	}
}

func TestDecodeDouble(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{",3.14\r\n", 3.14},
		{",-0.5\r\n", -0.5},
		{",10\r\n", 10},
		{",inf\r\n", math.Inf(1)},
		{",-inf\r\n", math.Inf(-1)},
	}
	for _, tt := range tests {
		v := decode(t, tt.input)
		if v.Type != TypeDouble || v.Float != tt.want {
			t.Errorf("Decode(%q) = %+v, want Float %v", tt.input, v, tt.want)
		}
	}

	if v := decode(t, ",nan\r\n"); !math.IsNaN(v.Float) {
		t.Errorf("Decode(,nan) = %v, want NaN", v.Float)
	}
}

func TestDecodeBigNumber(t *testing.T) {
	// In-range values land in Int.
	v := decode(t, "(1000\r\n")
	if v.Type != TypeBigNumber || v.Int != 1000 || v.Big != nil {
		t.Errorf("Decode((1000) = %+v", v)
	}

	// Out-of-range values are promoted.
	huge := "3492890328409238509324850943850943825024385"
	v = decode(t, "("+huge+"\r\n")
	if v.Big == nil {
		t.Fatal("huge big number not promoted to big.Int")
	}
	if v.Big.String() != huge {
		t.Errorf("Big = %s, want %s", v.Big.String(), huge)
	}
	if v.BigInt().String() != huge {
		t.Errorf("BigInt() = %s, want %s", v.BigInt().String(), huge)
	}
}

func TestDecodeBulkError(t *testing.T) {
	v := decode(t, "!21\r\nSYNTAX invalid syntax\r\n")
	if v.Type != TypeBulkError {
		t.Fatalf("Decode() type = %v", v.Type)
	}
	var cmdErr *CommandError
	if !errors.As(v.Err, &cmdErr) {
		t.Fatalf("Err = %v, want *CommandError", v.Err)
	}
	if cmdErr.Code() != "SYNTAX" {
		t.Errorf("Code() = %q, want SYNTAX", cmdErr.Code())
	}
}

func TestDecodeVerbatim(t *testing.T) {
	v := decode(t, "=15\r\ntxt:Some string\r\n")
	if v.Type != TypeVerbatim {
		t.Fatalf("Decode() type = %v", v.Type)
	}
	if string(v.Bytes) != "Some string" {
		t.Errorf("Bytes = %q, want %q (encoding tag stripped)", v.Bytes, "Some string")
	}
}

func TestDecodeVerbatimMalformed(t *testing.T) {
	for _, input := range []string{"=3\r\ntxt\r\n", "=8\r\ntxtXjunk\r\n"} {
		d := NewDecoder(NewReader(strings.NewReader(input), 0))
		_, err := d.Decode()

		var protoErr *ProtocolError
		if !errors.As(err, &protoErr) {
			t.Errorf("Decode(%q) error = %v, want *ProtocolError", input, err)
		}
	}
}

func TestDecodeMap(t *testing.T) {
	v := decode(t, "%2\r\n+first\r\n:1\r\n+second\r\n:2\r\n")
	if v.Type != TypeMap || len(v.Pairs) != 2 {
		t.Fatalf("Decode() = %+v", v)
	}

	// Wire order is preserved.
	if string(v.Pairs[0].Key.Bytes) != "first" || v.Pairs[0].Value.Int != 1 {
		t.Errorf("Pairs[0] = %+v", v.Pairs[0])
	}
	if string(v.Pairs[1].Key.Bytes) != "second" || v.Pairs[1].Value.Int != 2 {
		t.Errorf("Pairs[1] = %+v", v.Pairs[1])
	}

	m := v.Map()
	if m["first"].Int != 1 || m["second"].Int != 2 {
		t.Errorf("Map() = %+v", m)
	}
}

func TestDecodeSet(t *testing.T) {
	v := decode(t, "~3\r\n+a\r\n+b\r\n+c\r\n")
	if v.Type != TypeSet || len(v.Elems) != 3 {
		t.Fatalf("Decode() = %+v", v)
	}
}

// The frame declares three members but two are duplicates; the decoder
// must consume all three wire values and yield two logical members.
func TestDecodeSetCollapsesDuplicates(t *testing.T) {
	input := "~3\r\n+a\r\n+a\r\n+b\r\n+TRAILER\r\n"
	d := NewDecoder(NewReader(strings.NewReader(input), 0))

	v, err := d.Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(v.Elems) != 2 {
		t.Errorf("set members = %d, want 2", len(v.Elems))
	}

	// The next frame must be exactly the trailer, proving the set consumed
	// its full declared count.
	next, err := d.Decode()
	if err != nil {
		t.Fatalf("Decode() trailer error = %v", err)
	}
	if string(next.Bytes) != "TRAILER" {
		t.Errorf("trailer = %q", next.Bytes)
	}
}

func TestDecodePush(t *testing.T) {
	v := decode(t, ">3\r\n+message\r\n+chan\r\n$5\r\nhello\r\n")
	if v.Type != TypePush {
		t.Fatalf("Decode() type = %v, want push", v.Type)
	}
	if !v.IsPush() {
		t.Error("IsPush() = false")
	}
	if len(v.Elems) != 3 || string(v.Elems[2].Bytes) != "hello" {
		t.Errorf("Elems = %+v", v.Elems)
	}
}

func TestDecodeUnknownMarker(t *testing.T) {
	d := NewDecoder(NewReader(strings.NewReader("@5\r\n"), 0))
	_, err := d.Decode()

	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("Decode(@) error = %v, want *ProtocolError", err)
	}
	if !ShouldCloseConnection(err) {
		t.Error("protocol errors must close the connection")
	}
}

func TestDecodeCleanEOF(t *testing.T) {
	d := NewDecoder(NewReader(strings.NewReader(""), 0))
	if _, err := d.Decode(); err != io.EOF {
		t.Fatalf("Decode() at boundary error = %v, want io.EOF", err)
	}
}

func TestDecodeTruncatedAggregate(t *testing.T) {
	// Stream ends after two of three declared elements.
	d := NewDecoder(NewReader(strings.NewReader("*3\r\n:1\r\n:2\r\n"), 0))
	_, err := d.Decode()

	var connErr *ConnError
	if !errors.As(err, &connErr) {
		t.Fatalf("Decode() error = %v, want *ConnError", err)
	}
	if !errors.Is(connErr.Err, io.ErrUnexpectedEOF) {
		t.Errorf("ConnError.Err = %v, want io.ErrUnexpectedEOF", connErr.Err)
	}
}

func TestDecodeSequence(t *testing.T) {
	input := "+OK\r\n:5\r\n$2\r\nab\r\n"
	d := NewDecoder(NewReader(strings.NewReader(input), 0))

	for i, check := range []func(Value) bool{
		func(v Value) bool { return string(v.Bytes) == "OK" },
		func(v Value) bool { return v.Int == 5 },
		func(v Value) bool { return string(v.Bytes) == "ab" },
	} {
		v, err := d.Decode()
		if err != nil {
			t.Fatalf("Decode() #%d error = %v", i, err)
		}
		if !check(v) {
			t.Errorf("Decode() #%d = %+v", i, v)
		}
	}

	if _, err := d.Decode(); err != io.EOF {
		t.Fatalf("Decode() after last frame error = %v, want io.EOF", err)
	}
}

// Values produced by the encoder decode back to equivalent content.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc := NewEncoder()
	frame, err := enc.EncodeCommand("SET", "key", []byte("binary\r\nvalue"), 42)
	if err != nil {
		t.Fatalf("EncodeCommand() error = %v", err)
	}

	d := NewDecoder(NewReader(strings.NewReader(string(frame)), 0))
	v, err := d.Decode()
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if v.Type != TypeArray || len(v.Elems) != 4 {
		t.Fatalf("Decode() = %+v", v)
	}
	want := []string{"SET", "key", "binary\r\nvalue", "42"}
	for i, w := range want {
		if string(v.Elems[i].Bytes) != w {
			t.Errorf("Elems[%d] = %q, want %q", i, v.Elems[i].Bytes, w)
		}
	}
}
