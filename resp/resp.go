// Package resp implements the RESP3 wire protocol: a buffered reader and
// writer tuned for the protocol's framing, a command encoder, and a decoder
// covering all fourteen RESP3 types.
//
// The package is low level and transport-agnostic. It deals in whole frames
// only: every encode produces a complete frame and every decode consumes
// exactly one complete value or fails.
package resp

import (
	"math"
	"math/big"
	"strconv"
)

// CRLF terminates every RESP3 line.
const CRLF = "\r\n"

// Type identifies a RESP3 value by its wire marker byte.
type Type byte

// RESP3 type markers.
const (
	TypeSimpleString Type = '+'
	TypeError        Type = '-'
	TypeInteger      Type = ':'
	TypeBulkString   Type = '$'
	TypeArray        Type = '*'
	TypeNull         Type = '_'
	TypeBoolean      Type = '#'
	TypeDouble       Type = ','
	TypeBigNumber    Type = '('
	TypeBulkError    Type = '!'
	TypeVerbatim     Type = '='
	TypeMap          Type = '%'
	TypeSet          Type = '~'
	TypePush         Type = '>'
)

func (t Type) String() string {
	switch t {
	case TypeSimpleString:
		return "simple-string"
	case TypeError:
		return "error"
	case TypeInteger:
		return "integer"
	case TypeBulkString:
		return "bulk-string"
	case TypeArray:
		return "array"
	case TypeNull:
		return "null"
	case TypeBoolean:
		return "boolean"
	case TypeDouble:
		return "double"
	case TypeBigNumber:
		return "big-number"
	case TypeBulkError:
		return "bulk-error"
	case TypeVerbatim:
		return "verbatim-string"
	case TypeMap:
		return "map"
	case TypeSet:
		return "set"
	case TypePush:
		return "push"
	}
	return "unknown(" + strconv.Itoa(int(t)) + ")"
}

// Pair is one key/value entry of a decoded map. Wire order is preserved.
type Pair struct {
	Key   Value
	Value Value
}

// Value is a decoded RESP3 value.
//
// Type selects which fields are meaningful:
//
//	SimpleString, BulkString, Verbatim  Bytes (Null for $-1)
//	Error, BulkError                    Err (*CommandError)
//	Integer                             Int
//	BigNumber                           Int, or Big when out of int64 range
//	Double                              Float
//	Boolean                             Bool
//	Array, Set, Push                    Elems (Null for *-1)
//	Map                                 Pairs
//	Null                                Null
type Value struct {
	Type  Type
	Bytes []byte
	Int   int64
	Float float64
	Bool  bool
	Big   *big.Int
	Elems []Value
	Pairs []Pair
	Err   error
	Null  bool
}

// IsNull reports whether the value is the RESP3 null or a null bulk/array.
func (v Value) IsNull() bool {
	return v.Type == TypeNull || v.Null
}

// IsError reports whether the value is a server error reply.
func (v Value) IsError() bool {
	return v.Type == TypeError || v.Type == TypeBulkError
}

// IsPush reports whether the value is an out-of-band push frame.
func (v Value) IsPush() bool {
	return v.Type == TypePush
}

// Text returns the value's byte payload as a string. Empty for types
// without a byte payload.
func (v Value) Text() string {
	return string(v.Bytes)
}

// Map flattens decoded map pairs into a string-keyed Go map. Keys without a
// textual representation are skipped.
func (v Value) Map() map[string]Value {
	if len(v.Pairs) == 0 {
		return nil
	}
	m := make(map[string]Value, len(v.Pairs))
	for _, p := range v.Pairs {
		m[p.Key.Text()] = p.Value
	}
	return m
}

// BigInt returns the value as an arbitrary-precision integer. For big
// numbers that fit int64 (and for plain integers) the Big field is nil and
// a fresh big.Int is built from Int.
func (v Value) BigInt() *big.Int {
	if v.Big != nil {
		return v.Big
	}
	return big.NewInt(v.Int)
}

// key returns a representation that identifies the value inside a decoded
// set. Aggregate members never collapse.
func (v Value) key() (string, bool) {
	switch v.Type {
	case TypeSimpleString, TypeBulkString, TypeVerbatim:
		return string(v.Type) + string(v.Bytes), true
	case TypeInteger:
		return ":" + strconv.FormatInt(v.Int, 10), true
	case TypeDouble:
		return "," + strconv.FormatFloat(v.Float, 'f', -1, 64), true
	case TypeBoolean:
		if v.Bool {
			return "#t", true
		}
		return "#f", true
	case TypeNull:
		return "_", true
	case TypeBigNumber:
		return "(" + v.BigInt().String(), true
	}
	return "", false
}

// Inf and NaN doubles as they appear on the wire.
var (
	posInf = math.Inf(1)
	negInf = math.Inf(-1)
)
