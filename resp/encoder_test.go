package resp

import (
	"bytes"
	"strconv"
	"testing"
)

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		name     string
		cmd      string
		args     []any
		expected string
	}{
		{
			name:     "set",
			cmd:      "SET",
			args:     []any{"k", "v"},
			expected: "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n",
		},
		{
			name:     "get",
			cmd:      "GET",
			args:     []any{"k"},
			expected: "*2\r\n$3\r\nGET\r\n$1\r\nk\r\n",
		},
		{
			name:     "ping",
			cmd:      "PING",
			expected: "*1\r\n$4\r\nPING\r\n",
		},
		{
			name:     "empty value",
			cmd:      "SET",
			args:     []any{"k", ""},
			expected: "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$0\r\n\r\n",
		},
		{
			name:     "integer argument",
			cmd:      "EXPIRE",
			args:     []any{"k", 60},
			expected: "*3\r\n$6\r\nEXPIRE\r\n$1\r\nk\r\n$2\r\n60\r\n",
		},
		{
			name:     "negative integer argument",
			cmd:      "INCRBY",
			args:     []any{"k", int64(-5)},
			expected: "*3\r\n$6\r\nINCRBY\r\n$1\r\nk\r\n$2\r\n-5\r\n",
		},
		{
			name:     "unsigned argument",
			cmd:      "SETEX",
			args:     []any{"k", uint32(10), "v"},
			expected: "*4\r\n$5\r\nSETEX\r\n$1\r\nk\r\n$2\r\n10\r\n$1\r\nv\r\n",
		},
		{
			name:     "float argument plain decimal",
			cmd:      "INCRBYFLOAT",
			args:     []any{"k", 0.1},
			expected: "*3\r\n$11\r\nINCRBYFLOAT\r\n$1\r\nk\r\n$3\r\n0.1\r\n",
		},
		{
			name:     "nil argument",
			cmd:      "SET",
			args:     []any{"k", nil},
			expected: "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$-1\r\n",
		},
		{
			name:     "binary-safe payload",
			cmd:      "SET",
			args:     []any{"k", []byte("a\r\nb\x00c")},
			expected: "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$6\r\na\r\nb\x00c\r\n",
		},
		{
			name:     "non-ascii payload length in bytes",
			cmd:      "SET",
			args:     []any{"k", "héllo"},
			expected: "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$6\r\nhéllo\r\n",
		},
		{
			name:     "ordered fields",
			cmd:      "XADD",
			args:     []any{"stream", "*", Fields{{"b", "1"}, {"a", "2"}}},
			expected: "*7\r\n$4\r\nXADD\r\n$6\r\nstream\r\n$1\r\n*\r\n$1\r\nb\r\n$1\r\n1\r\n$1\r\na\r\n$1\r\n2\r\n",
		},
		{
			name:     "map flattens in sorted key order",
			cmd:      "HSET",
			args:     []any{"h", map[string]string{"b": "2", "a": "1"}},
			expected: "*6\r\n$4\r\nHSET\r\n$1\r\nh\r\n$1\r\na\r\n$1\r\n1\r\n$1\r\nb\r\n$1\r\n2\r\n",
		},
	}

	enc := NewEncoder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := enc.EncodeCommand(tt.cmd, tt.args...)
			if err != nil {
				t.Fatalf("EncodeCommand() error = %v", err)
			}
			if string(got) != tt.expected {
				t.Errorf("EncodeCommand() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestEncodeCommandUnsupportedType(t *testing.T) {
	enc := NewEncoder()
	if _, err := enc.EncodeCommand("SET", "k", struct{}{}); err == nil {
		t.Fatal("EncodeCommand() with struct argument should fail")
	}
}

// Every fast-path shape must produce bytes identical to the generic header
// path.
func TestFastPathMatchesGeneric(t *testing.T) {
	enc := NewEncoder()

	for _, k := range fastCommands {
		args := make([]any, k.argc-1)
		for i := range args {
			args[i] = "arg" + strconv.Itoa(i)
		}

		fast, err := enc.EncodeCommand(k.name, args...)
		if err != nil {
			t.Fatalf("EncodeCommand(%s) error = %v", k.name, err)
		}
		fast = append([]byte(nil), fast...)

		generic, err := appendCommand(nil, k.name, args)
		if err != nil {
			t.Fatalf("appendCommand(%s) error = %v", k.name, err)
		}

		// The generic path must not have used the prefix table for this
		// comparison to mean anything, so rebuild its header by hand.
		var want []byte
		want = append(want, '*')
		want = strconv.AppendInt(want, int64(k.argc), 10)
		want = append(want, CRLF...)
		want = appendBulkString(want, k.name)
		for _, a := range args {
			want, _ = appendArg(want, a)
		}

		if !bytes.Equal(fast, want) {
			t.Errorf("fast path for %s/%d = %q, want %q", k.name, k.argc, fast, want)
		}
		if !bytes.Equal(generic, want) {
			t.Errorf("appendCommand for %s/%d = %q, want %q", k.name, k.argc, generic, want)
		}
	}
}

// A fast-path command used with a different arity must fall back to the
// generic header.
func TestFastPathArityMismatch(t *testing.T) {
	enc := NewEncoder()
	got, err := enc.EncodeCommand("SET", "k", "v", "PX", 100)
	if err != nil {
		t.Fatalf("EncodeCommand() error = %v", err)
	}
	want := "*5\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n$2\r\nPX\r\n$3\r\n100\r\n"
	if string(got) != want {
		t.Errorf("EncodeCommand() = %q, want %q", got, want)
	}
}

func TestEncodePipeline(t *testing.T) {
	enc := NewEncoder()
	got, err := enc.EncodePipeline([]Command{
		{Name: "SET", Args: []any{"k", "v"}},
		{Name: "GET", Args: []any{"k"}},
		{Name: "PING"},
	})
	if err != nil {
		t.Fatalf("EncodePipeline() error = %v", err)
	}

	want := "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n" +
		"*2\r\n$3\r\nGET\r\n$1\r\nk\r\n" +
		"*1\r\n$4\r\nPING\r\n"
	if string(got) != want {
		t.Errorf("EncodePipeline() = %q, want %q", got, want)
	}
}

func TestEncodePipelineEmpty(t *testing.T) {
	enc := NewEncoder()
	got, err := enc.EncodePipeline(nil)
	if err != nil {
		t.Fatalf("EncodePipeline() error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("EncodePipeline(nil) = %q, want empty", got)
	}
}

func TestEncoderScratchReuse(t *testing.T) {
	enc := NewEncoder()

	first, err := enc.EncodeCommand("GET", "a")
	if err != nil {
		t.Fatalf("EncodeCommand() error = %v", err)
	}
	firstCopy := append([]byte(nil), first...)

	if _, err := enc.EncodeCommand("GET", "b"); err != nil {
		t.Fatalf("EncodeCommand() error = %v", err)
	}

	// The first slice is scratch and may now hold the second encoding; the
	// copy taken before reuse must be intact.
	if string(firstCopy) != "*2\r\n$3\r\nGET\r\n$1\r\na\r\n" {
		t.Errorf("copied encoding corrupted: %q", firstCopy)
	}
}

func BenchmarkEncodeCommand(b *testing.B) {
	enc := NewEncoder()

	b.Run("fast path", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			enc.EncodeCommand("GET", "some-key")
		}
	})

	b.Run("generic", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			enc.EncodeCommand("GETRANGE", "some-key", 0, 100)
		}
	})
}
