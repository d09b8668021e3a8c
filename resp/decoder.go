package resp

import (
	"io"
	"math"
	"math/big"
	"strconv"
)

// Decoder reads RESP3 values from a Reader. Each Decode call consumes
// exactly one complete wire value or fails; a failed decode (other than a
// clean io.EOF at a frame boundary) leaves the stream in an indeterminate
// state and the owning connection must be discarded.
type Decoder struct {
	r *Reader
}

// NewDecoder returns a Decoder over r.
func NewDecoder(r *Reader) *Decoder {
	return &Decoder{r: r}
}

// Reader returns the underlying buffered reader.
func (d *Decoder) Reader() *Reader { return d.r }

// Decode reads the next value from the stream.
//
// At a clean frame boundary on a closed stream it returns io.EOF; a stream
// truncated mid-value surfaces as *ConnError or *TimeoutError from the I/O
// layer.
func (d *Decoder) Decode() (Value, error) {
	marker, err := d.r.ReadByte()
	if err != nil {
		return Value{}, err
	}
	return d.decodeAfterMarker(Type(marker))
}

func (d *Decoder) decodeAfterMarker(t Type) (Value, error) {
	switch t {
	case TypeSimpleString:
		return d.decodeSimpleString()
	case TypeError:
		return d.decodeSimpleError()
	case TypeInteger:
		return d.decodeInteger()
	case TypeBulkString:
		return d.decodeBulkString()
	case TypeArray:
		return d.decodeAggregate(TypeArray)
	case TypeNull:
		return d.decodeNull()
	case TypeBoolean:
		return d.decodeBoolean()
	case TypeDouble:
		return d.decodeDouble()
	case TypeBigNumber:
		return d.decodeBigNumber()
	case TypeBulkError:
		return d.decodeBulkError()
	case TypeVerbatim:
		return d.decodeVerbatim()
	case TypeMap:
		return d.decodeMap()
	case TypeSet:
		return d.decodeSet()
	case TypePush:
		return d.decodeAggregate(TypePush)
	}
	return Value{}, &ProtocolError{Message: "unknown type marker " + quoteByte(byte(t))}
}

func (d *Decoder) decodeSimpleString() (Value, error) {
	line, err := d.r.ReadLine()
	if err != nil {
		return Value{}, err
	}
	// ReadLine returns a view into the reader's buffer; copy before it is
	// invalidated by the next read.
	b := make([]byte, len(line))
	copy(b, line)
	return Value{Type: TypeSimpleString, Bytes: b}, nil
}

func (d *Decoder) decodeSimpleError() (Value, error) {
	line, err := d.r.ReadLine()
	if err != nil {
		return Value{}, err
	}
	msg := string(line)
	return Value{
		Type:  TypeError,
		Bytes: []byte(msg),
		Err:   &CommandError{Message: msg},
	}, nil
}

func (d *Decoder) decodeInteger() (Value, error) {
	n, err := d.r.ReadInt()
	if err != nil {
		return Value{}, err
	}
	return Value{Type: TypeInteger, Int: n}, nil
}

func (d *Decoder) decodeBulkString() (Value, error) {
	n, err := d.r.ReadInt()
	if err != nil {
		return Value{}, err
	}
	if n == -1 {
		return Value{Type: TypeBulkString, Null: true}, nil
	}
	if n < 0 {
		return Value{}, &ProtocolError{Message: "invalid bulk string length " + strconv.FormatInt(n, 10)}
	}
	// A zero-length bulk still consumes its terminator and yields an empty,
	// non-null byte string.
	b, err := d.r.ReadBulk(int(n))
	if err != nil {
		return Value{}, err
	}
	return Value{Type: TypeBulkString, Bytes: b}, nil
}

// decodeAggregate decodes arrays and push frames; the tag distinguishes
// out-of-band pushes from command replies.
func (d *Decoder) decodeAggregate(t Type) (Value, error) {
	n, err := d.r.ReadInt()
	if err != nil {
		return Value{}, err
	}
	if n == -1 {
		return Value{Type: t, Null: true}, nil
	}
	if n < 0 {
		return Value{}, &ProtocolError{Message: "invalid aggregate length " + strconv.FormatInt(n, 10)}
	}
	elems := make([]Value, 0, n)
	for i := int64(0); i < n; i++ {
		v, err := d.decodeChild()
		if err != nil {
			return Value{}, err
		}
		elems = append(elems, v)
	}
	return Value{Type: t, Elems: elems}, nil
}

// decodeChild decodes a nested value. A clean EOF here means the frame was
// truncated, which is a transport fault rather than an orderly boundary.
func (d *Decoder) decodeChild() (Value, error) {
	marker, err := d.r.ReadByte()
	if err != nil {
		return Value{}, truncated(err)
	}
	v, err := d.decodeAfterMarker(Type(marker))
	if err != nil {
		return Value{}, truncated(err)
	}
	return v, nil
}

func (d *Decoder) decodeNull() (Value, error) {
	line, err := d.r.ReadLine()
	if err != nil {
		return Value{}, err
	}
	if len(line) != 0 {
		return Value{}, &ProtocolError{Message: "null frame carries payload"}
	}
	return Value{Type: TypeNull, Null: true}, nil
}

func (d *Decoder) decodeBoolean() (Value, error) {
	b, err := d.r.ReadByte()
	if err != nil {
		return Value{}, err
	}
	var v bool
	switch b {
	case 't':
		v = true
	case 'f':
		v = false
	default:
		return Value{}, &ProtocolError{Message: "invalid boolean token " + quoteByte(b)}
	}
	if err := d.r.skipCRLF(); err != nil {
		return Value{}, err
	}
	return Value{Type: TypeBoolean, Bool: v}, nil
}

func (d *Decoder) decodeDouble() (Value, error) {
	line, err := d.r.ReadLine()
	if err != nil {
		return Value{}, err
	}
	switch string(line) {
	case "inf":
		return Value{Type: TypeDouble, Float: posInf}, nil
	case "-inf":
		return Value{Type: TypeDouble, Float: negInf}, nil
	case "nan":
		return Value{Type: TypeDouble, Float: math.NaN()}, nil
	}
	f, err := strconv.ParseFloat(string(line), 64)
	if err != nil {
		return Value{}, &ProtocolError{Message: "invalid double " + strconv.Quote(string(line))}
	}
	return Value{Type: TypeDouble, Float: f}, nil
}

// decodeBigNumber parses an arbitrary-precision integer. Values inside the
// int64 range land in Int like an ordinary integer; larger magnitudes are
// promoted to a big.Int instead of silently truncating.
func (d *Decoder) decodeBigNumber() (Value, error) {
	line, err := d.r.ReadLine()
	if err != nil {
		return Value{}, err
	}
	if n, perr := strconv.ParseInt(string(line), 10, 64); perr == nil {
		return Value{Type: TypeBigNumber, Int: n}, nil
	}
	b, ok := new(big.Int).SetString(string(line), 10)
	if !ok {
		return Value{}, &ProtocolError{Message: "invalid big number " + strconv.Quote(string(line))}
	}
	return Value{Type: TypeBigNumber, Big: b}, nil
}

func (d *Decoder) decodeBulkError() (Value, error) {
	n, err := d.r.ReadInt()
	if err != nil {
		return Value{}, err
	}
	if n < 0 {
		return Value{}, &ProtocolError{Message: "invalid bulk error length " + strconv.FormatInt(n, 10)}
	}
	b, err := d.r.ReadBulk(int(n))
	if err != nil {
		return Value{}, err
	}
	return Value{
		Type:  TypeBulkError,
		Bytes: b,
		Err:   &CommandError{Message: string(b)},
	}, nil
}

func (d *Decoder) decodeVerbatim() (Value, error) {
	n, err := d.r.ReadInt()
	if err != nil {
		return Value{}, err
	}
	// Payload starts with a 3-character encoding tag plus colon (txt: or
	// mkd:), stripped from the returned value.
	if n < 4 {
		return Value{}, &ProtocolError{Message: "verbatim string shorter than its encoding tag"}
	}
	b, err := d.r.ReadBulk(int(n))
	if err != nil {
		return Value{}, err
	}
	if b[3] != ':' {
		return Value{}, &ProtocolError{Message: "verbatim string missing encoding tag"}
	}
	return Value{Type: TypeVerbatim, Bytes: b[4:]}, nil
}

func (d *Decoder) decodeMap() (Value, error) {
	n, err := d.r.ReadInt()
	if err != nil {
		return Value{}, err
	}
	if n < 0 {
		return Value{}, &ProtocolError{Message: "invalid map length " + strconv.FormatInt(n, 10)}
	}
	pairs := make([]Pair, 0, n)
	for i := int64(0); i < n; i++ {
		k, err := d.decodeChild()
		if err != nil {
			return Value{}, err
		}
		v, err := d.decodeChild()
		if err != nil {
			return Value{}, err
		}
		pairs = append(pairs, Pair{Key: k, Value: v})
	}
	return Value{Type: TypeMap, Pairs: pairs}, nil
}

// decodeSet consumes exactly n wire values. Duplicate scalar members
// collapse, so the decoded set may hold fewer logical members than the
// frame declared.
func (d *Decoder) decodeSet() (Value, error) {
	n, err := d.r.ReadInt()
	if err != nil {
		return Value{}, err
	}
	if n == -1 {
		return Value{Type: TypeSet, Null: true}, nil
	}
	if n < 0 {
		return Value{}, &ProtocolError{Message: "invalid set length " + strconv.FormatInt(n, 10)}
	}
	elems := make([]Value, 0, n)
	var seen map[string]struct{}
	for i := int64(0); i < n; i++ {
		v, err := d.decodeChild()
		if err != nil {
			return Value{}, err
		}
		if k, ok := v.key(); ok {
			if seen == nil {
				seen = make(map[string]struct{}, n)
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
		}
		elems = append(elems, v)
	}
	return Value{Type: TypeSet, Elems: elems}, nil
}

// truncated upgrades a boundary EOF seen inside a frame to a connection
// error.
func truncated(err error) error {
	if err == io.EOF {
		return &ConnError{Op: "read", Err: io.ErrUnexpectedEOF}
	}
	return err
}
