package resp

import (
	"fmt"
	"sort"
	"strconv"
)

// Command is one command name plus its argument list, used for pipelines.
type Command struct {
	Name string
	Args []any
}

// Field is one key/value pair of an ordered field mapping argument.
type Field struct {
	Key   string
	Value any
}

// Fields is an ordered field/value mapping, flattened by the encoder to
// alternating key and value bulk strings in insertion order. Commands that
// accept field=value pairs (HSET, XADD, CONFIG SET, ...) take one of these.
type Fields []Field

// Encoder serializes commands into the RESP3 array-of-bulk-strings format.
//
// The slice returned by EncodeCommand and EncodePipeline is a scratch buffer
// owned by the encoder and is only valid until the next Encode call: it must
// be written out or copied before the encoder is reused. Each logical
// connection owns its own Encoder, so this contract costs nothing in
// practice and removes a per-command allocation.
type Encoder struct {
	buf  []byte
	pipe []byte
}

// NewEncoder returns an Encoder with a preallocated scratch buffer.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 256)}
}

// EncodeCommand serializes one command. Supported argument types: []byte,
// string, all signed and unsigned integer types, float32/float64 (formatted
// as shortest round-trippable plain decimal), nil (null bulk string), Fields
// and map[string]string (flattened to key/value pairs; maps in sorted key
// order).
//
// Byte-string arguments pass through unchanged; the declared length is
// always their exact byte count, so embedded CRLF and non-ASCII bytes are
// safe.
func (e *Encoder) EncodeCommand(name string, args ...any) ([]byte, error) {
	out, err := appendCommand(e.buf[:0], name, args)
	if err != nil {
		return nil, err
	}
	e.buf = out
	return out, nil
}

// EncodePipeline serializes a batch of commands into one concatenated
// buffer, in input order, with no separators beyond each command frame.
func (e *Encoder) EncodePipeline(cmds []Command) ([]byte, error) {
	out := e.pipe[:0]
	for _, cmd := range cmds {
		var err error
		out, err = appendCommand(out, cmd.Name, cmd.Args)
		if err != nil {
			return nil, err
		}
	}
	e.pipe = out
	return out, nil
}

// appendCommand appends one full command frame to dst.
func appendCommand(dst []byte, name string, args []any) ([]byte, error) {
	argc := countArgs(args) + 1 // command name is argument zero

	// Common commands with fixed small arities get a precomputed frame
	// prefix, skipping the generic header path. Output is byte-identical to
	// the generic encoding.
	if prefix, ok := fastPrefixes[fastKey{name, argc}]; ok {
		dst = append(dst, prefix...)
	} else {
		dst = append(dst, '*')
		dst = strconv.AppendInt(dst, int64(argc), 10)
		dst = append(dst, CRLF...)
		dst = appendBulkString(dst, name)
	}

	for _, arg := range args {
		var err error
		dst, err = appendArg(dst, arg)
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// countArgs returns the number of bulk strings the argument list flattens
// to. Mapping arguments expand to one key and one value bulk per entry.
func countArgs(args []any) int {
	n := 0
	for _, arg := range args {
		switch a := arg.(type) {
		case Fields:
			n += 2 * len(a)
		case map[string]string:
			n += 2 * len(a)
		default:
			n++
		}
	}
	return n
}

func appendArg(dst []byte, arg any) ([]byte, error) {
	switch a := arg.(type) {
	case nil:
		// Null bulk string argument, used by optional-parameter commands.
		return append(dst, "$-1\r\n"...), nil
	case []byte:
		return appendBulkBytes(dst, a), nil
	case string:
		return appendBulkString(dst, a), nil
	case int:
		return appendBulkInt(dst, int64(a)), nil
	case int8:
		return appendBulkInt(dst, int64(a)), nil
	case int16:
		return appendBulkInt(dst, int64(a)), nil
	case int32:
		return appendBulkInt(dst, int64(a)), nil
	case int64:
		return appendBulkInt(dst, a), nil
	case uint:
		return appendBulkUint(dst, uint64(a)), nil
	case uint8:
		return appendBulkUint(dst, uint64(a)), nil
	case uint16:
		return appendBulkUint(dst, uint64(a)), nil
	case uint32:
		return appendBulkUint(dst, uint64(a)), nil
	case uint64:
		return appendBulkUint(dst, a), nil
	case float32:
		return appendBulkFloat(dst, float64(a)), nil
	case float64:
		return appendBulkFloat(dst, a), nil
	case Fields:
		for _, f := range a {
			dst = appendBulkString(dst, f.Key)
			var err error
			dst, err = appendArg(dst, f.Value)
			if err != nil {
				return nil, err
			}
		}
		return dst, nil
	case map[string]string:
		// Go map iteration order is random; sort keys so the encoding is
		// deterministic.
		keys := make([]string, 0, len(a))
		for k := range a {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			dst = appendBulkString(dst, k)
			dst = appendBulkString(dst, a[k])
		}
		return dst, nil
	default:
		return nil, fmt.Errorf("redis: unsupported argument type %T", arg)
	}
}

func appendBulkBytes(dst, b []byte) []byte {
	dst = append(dst, '$')
	dst = strconv.AppendInt(dst, int64(len(b)), 10)
	dst = append(dst, CRLF...)
	dst = append(dst, b...)
	return append(dst, CRLF...)
}

func appendBulkString(dst []byte, s string) []byte {
	dst = append(dst, '$')
	dst = strconv.AppendInt(dst, int64(len(s)), 10)
	dst = append(dst, CRLF...)
	dst = append(dst, s...)
	return append(dst, CRLF...)
}

func appendBulkInt(dst []byte, v int64) []byte {
	var tmp [20]byte
	return appendBulkBytes(dst, strconv.AppendInt(tmp[:0], v, 10))
}

func appendBulkUint(dst []byte, v uint64) []byte {
	var tmp [20]byte
	return appendBulkBytes(dst, strconv.AppendUint(tmp[:0], v, 10))
}

// appendBulkFloat formats v as the shortest plain-decimal string that
// parses back to the same value. The 'f' format never emits an exponent,
// which matters for numeric command arguments like INCRBYFLOAT amounts.
func appendBulkFloat(dst []byte, v float64) []byte {
	var tmp [32]byte
	return appendBulkBytes(dst, strconv.AppendFloat(tmp[:0], v, 'f', -1, 64))
}

// fastKey identifies a fast-path encoder entry: exact command name plus
// total argument count including the name itself.
type fastKey struct {
	name string
	argc int
}

// fastCommands lists the (name, arity) shapes that dominate real traffic.
// An entry's precomputed prefix covers the array header and the command
// name bulk string.
var fastCommands = []fastKey{
	{"PING", 1},
	{"GET", 2},
	{"DEL", 2},
	{"EXISTS", 2},
	{"INCR", 2},
	{"DECR", 2},
	{"TTL", 2},
	{"PERSIST", 2},
	{"LPOP", 2},
	{"RPOP", 2},
	{"SET", 3},
	{"SETNX", 3},
	{"INCRBY", 3},
	{"DECRBY", 3},
	{"INCRBYFLOAT", 3},
	{"EXPIRE", 3},
	{"HGET", 3},
	{"HDEL", 3},
	{"LPUSH", 3},
	{"RPUSH", 3},
	{"SADD", 3},
	{"SREM", 3},
	{"HSET", 4},
	{"SETEX", 4},
}

var fastPrefixes = buildFastPrefixes()

func buildFastPrefixes() map[fastKey][]byte {
	m := make(map[fastKey][]byte, len(fastCommands))
	for _, k := range fastCommands {
		var p []byte
		p = append(p, '*')
		p = strconv.AppendInt(p, int64(k.argc), 10)
		p = append(p, CRLF...)
		p = appendBulkString(p, k.name)
		m[k] = p
	}
	return m
}
