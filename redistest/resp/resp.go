// Package resp implements a decoder and encoder for the Redis
// Serialization Protocol (RESP), used by redistest's fake cluster node
// to read incoming commands and write back replies -- including the
// MOVED/ASK/CLUSTERDOWN error replies the executor's redirection state
// machine is built to recognize.
//
// See http://redis.io/topics/protocol for the reference.
package resp

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

var (
	// ErrInvalidPrefix is returned if the data contains an unrecognized prefix.
	ErrInvalidPrefix = errors.New("resp: invalid prefix")

	// ErrMissingCRLF is returned if a \r\n is missing in the data slice.
	ErrMissingCRLF = errors.New("resp: missing CRLF")

	// ErrInvalidInteger is returned if an invalid character is found while parsing an integer.
	ErrInvalidInteger = errors.New("resp: invalid integer character")

	// ErrInvalidBulkString is returned if the bulk string data cannot be decoded.
	ErrInvalidBulkString = errors.New("resp: invalid bulk string")

	// ErrInvalidArray is returned if the array data cannot be decoded.
	ErrInvalidArray = errors.New("resp: invalid array")

	// ErrNotAnArray is returned if the DecodeRequest function is called and
	// the decoded value is not an array.
	ErrNotAnArray = errors.New("resp: expected an array type")

	// ErrInvalidRequest is returned if the DecodeRequest function is called and
	// the decoded value is not an array containing only bulk strings, and at least 1 element.
	ErrInvalidRequest = errors.New("resp: invalid request, must be an array of bulk strings with at least one element")

	// ErrInvalidValue is returned if the value to encode is invalid.
	ErrInvalidValue = errors.New("resp: invalid value")
)

// Common encoding values, kept pre-built to avoid an allocation on every
// reply a fake node sends.
var (
	pong = []byte("+PONG\r\n")
	ok   = []byte("+OK\r\n")
	one  = []byte(":1\r\n")
	zero = []byte(":0\r\n")
)

// Error represents a RESP error reply, the wire shape of a MOVED, ASK
// or CLUSTERDOWN response. It cannot contain \r or \n characters and
// must be used as a type conversion so Encode serializes it as an
// Error rather than a BulkString.
type Error string

// Pong is a sentinel type requesting the PONG simple-string reply.
type Pong struct{}

// OK is a sentinel type requesting the OK simple-string reply.
type OK struct{}

// SimpleString represents a RESP simple string. It cannot contain \r
// or \n characters and must be used as a type conversion so Encode
// serializes it as a SimpleString rather than a BulkString.
type SimpleString string

// BulkString represents a binary-safe RESP string. A plain Go string
// is encoded as a BulkString by default; this type exists for callers
// that already hold a BulkString-typed value.
type BulkString string

// Array represents a RESP array.
type Array []interface{}

// String renders a as a human-readable listing, one element per line.
func (a Array) String() string {
	var buf bytes.Buffer
	for i, v := range a {
		buf.WriteString(fmt.Sprintf("[%2d] %[2]v (%[2]T)\n", i, v))
	}
	return buf.String()
}

// BytesReader is the minimal reader the decode functions require. Both
// *bufio.Reader and *bytes.Buffer satisfy it.
type BytesReader interface {
	io.Reader
	io.ByteReader
	ReadBytes(byte) ([]byte, error)
}

// Encode serializes v to w using the RESP wire format.
func Encode(w io.Writer, v interface{}) error {
	return encodeValue(w, v)
}

func encodeValue(w io.Writer, v interface{}) error {
	switch v := v.(type) {
	case OK:
		_, err := w.Write(ok)
		return err
	case Pong:
		_, err := w.Write(pong)
		return err
	case bool:
		if v {
			_, err := w.Write(one)
			return err
		}
		_, err := w.Write(zero)
		return err
	case SimpleString:
		return encodeSimpleString(w, v)
	case Error:
		return encodeError(w, v)
	case int64:
		switch v {
		case 0:
			_, err := w.Write(zero)
			return err
		case 1:
			_, err := w.Write(one)
			return err
		default:
			return encodeInteger(w, v)
		}
	case string:
		return encodeBulkString(w, BulkString(v))
	case BulkString:
		return encodeBulkString(w, v)
	case []string:
		return encodeStringArray(w, v)
	case []interface{}:
		return encodeArray(w, Array(v))
	case Array:
		return encodeArray(w, v)
	case nil:
		return encodeNil(w)
	default:
		return ErrInvalidValue
	}
}

func encodeStringArray(w io.Writer, v []string) error {
	if v == nil {
		return encodePrefixed(w, '*', "-1")
	}
	if err := encodePrefixed(w, '*', strconv.Itoa(len(v))); err != nil {
		return err
	}
	for _, el := range v {
		if err := encodeBulkString(w, BulkString(el)); err != nil {
			return err
		}
	}
	return nil
}

func encodeArray(w io.Writer, v Array) error {
	if v == nil {
		return encodePrefixed(w, '*', "-1")
	}
	if err := encodePrefixed(w, '*', strconv.Itoa(len(v))); err != nil {
		return err
	}
	for _, el := range v {
		if err := encodeValue(w, el); err != nil {
			return err
		}
	}
	return nil
}

func encodeBulkString(w io.Writer, v BulkString) error {
	data := strconv.Itoa(len(v)) + "\r\n" + string(v)
	return encodePrefixed(w, '$', data)
}

func encodeInteger(w io.Writer, v int64) error {
	return encodePrefixed(w, ':', strconv.FormatInt(v, 10))
}

func encodeSimpleString(w io.Writer, v SimpleString) error {
	return encodePrefixed(w, '+', string(v))
}

func encodeError(w io.Writer, v Error) error {
	return encodePrefixed(w, '-', string(v))
}

func encodeNil(w io.Writer) error {
	return encodePrefixed(w, '$', "-1")
}

func encodePrefixed(w io.Writer, prefix byte, v string) error {
	buf := make([]byte, len(v)+3)
	buf[0] = prefix
	copy(buf[1:], v)
	copy(buf[len(buf)-2:], "\r\n")
	_, err := w.Write(buf)
	return err
}

// Decode parses a single RESP value from r.
func Decode(r BytesReader) (interface{}, error) {
	return decodeValue(r)
}

// DecodeRequest parses a RESP value from r and requires it to be the
// array-of-bulk-strings shape a client sends for a command: at least
// one element, every element a string.
func DecodeRequest(r BytesReader) ([]string, error) {
	val, err := Decode(r)
	if err != nil {
		return nil, err
	}

	ar, ok := val.(Array)
	if !ok {
		return nil, ErrNotAnArray
	}
	if len(ar) < 1 {
		return nil, ErrInvalidRequest
	}

	strs := make([]string, len(ar))
	for i, v := range ar {
		s, ok := v.(string)
		if !ok {
			return nil, ErrInvalidRequest
		}
		strs[i] = s
	}
	return strs, nil
}

func decodeValue(r BytesReader) (interface{}, error) {
	ch, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	switch ch {
	case '+':
		return decodeSimpleString(r)
	case '-':
		return decodeError(r)
	case ':':
		return decodeInteger(r)
	case '$':
		return decodeBulkString(r)
	case '*':
		return decodeArray(r)
	default:
		return nil, ErrInvalidPrefix
	}
}

func decodeArray(r BytesReader) (Array, error) {
	cnt, err := decodeInteger(r)
	if err != nil {
		return nil, err
	}
	switch {
	case cnt == -1:
		return nil, nil
	case cnt == 0:
		return Array{}, nil
	case cnt < 0:
		return nil, ErrInvalidArray
	default:
		ar := make(Array, cnt)
		for i := 0; i < int(cnt); i++ {
			val, err := decodeValue(r)
			if err != nil {
				return nil, err
			}
			ar[i] = val
		}
		return ar, nil
	}
}

func decodeBulkString(r BytesReader) (interface{}, error) {
	cnt, err := decodeInteger(r)
	if err != nil {
		return nil, err
	}
	switch {
	case cnt == -1:
		return nil, nil
	case cnt < -1:
		return nil, ErrInvalidBulkString
	default:
		need := cnt + 2
		got := 0
		buf := make([]byte, need)
		for {
			nb, err := r.Read(buf[got:])
			if err != nil {
				return nil, err
			}
			got += nb
			if int64(got) == need {
				break
			}
		}
		return string(buf[:got-2]), nil
	}
}

func decodeInteger(r BytesReader) (val int64, err error) {
	var cr bool
	var sign int64 = 1
	var n int

loop:
	for {
		ch, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		n++

		switch ch {
		case '\r':
			cr = true
			break loop
		case '\n':
			break loop
		case '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
			val = val*10 + int64(ch-'0')
		case '-':
			if n == 1 {
				sign = -1
				continue
			}
			fallthrough
		default:
			return 0, ErrInvalidInteger
		}
	}

	if !cr {
		return 0, ErrMissingCRLF
	}
	if _, err := r.ReadByte(); err != nil {
		return 0, err
	}
	return sign * val, nil
}

func decodeSimpleString(r BytesReader) (interface{}, error) {
	v, err := r.ReadBytes('\r')
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadByte(); err != nil {
		return nil, err
	}
	return string(v[:len(v)-1]), nil
}

func decodeError(r BytesReader) (interface{}, error) {
	return decodeSimpleString(r)
}
