package resp

import (
	"strconv"

	"github.com/pkg/errors"

	"github.com/xenking/respool/poolerrors"
)

// ErrNeedMoreData is returned by Decode when buf holds a strict
// prefix of a complete frame. The caller must append more bytes and
// retry; buf itself is never mutated by Decode.
var ErrNeedMoreData = errors.New("resp: need more data")

// Decode attempts to parse exactly one RESP frame from the front of
// buf. On success it returns the decoded value and the number of
// bytes consumed. On an incomplete prefix it returns ErrNeedMoreData
// and zero bytes consumed — buf is left untouched either way; the
// caller owns advancing its own cursor. On malformed input it returns
// a poolerrors.FramingError; the connection that produced buf must be
// closed.
func Decode(buf []byte) (Value, int, error) {
	v, n, err := decodeValue(buf, 0)
	if err != nil {
		return Value{}, 0, err
	}
	return v, n, nil
}

// decodeValue parses one frame starting at pos and returns the value
// plus the absolute offset just past it. Nested arrays are decoded by
// straightforward recursion over the fully buffered slice: since the
// whole call either completes or fails with ErrNeedMoreData without
// the caller observing any cursor movement, partial progress through
// an array's elements never needs to be snapshotted or restored.
func decodeValue(buf []byte, pos int) (Value, int, error) {
	if pos >= len(buf) {
		return Value{}, 0, ErrNeedMoreData
	}

	tag := buf[pos]
	line, next, ok := readLine(buf, pos+1)
	if !ok {
		return Value{}, 0, ErrNeedMoreData
	}

	switch tag {
	case '+':
		return Value{Kind: SimpleString, Str: string(line)}, next, nil
	case '-':
		return Value{Kind: ErrorReply, Str: string(line)}, next, nil
	case ':':
		n, err := parseInt(line)
		if err != nil {
			return Value{}, 0, poolerrors.FramingError{Reason: "invalid integer: " + err.Error()}
		}
		return Value{Kind: Integer, Int: n}, next, nil
	case '$':
		return decodeBulkString(buf, line, next)
	case '*':
		return decodeArray(buf, line, next)
	default:
		return Value{}, 0, poolerrors.FramingError{Reason: "unknown type tag"}
	}
}

func decodeBulkString(buf []byte, lenLine []byte, pos int) (Value, int, error) {
	length, err := parseInt(lenLine)
	if err != nil {
		return Value{}, 0, poolerrors.FramingError{Reason: "invalid bulk length: " + err.Error()}
	}
	if length == -1 {
		return Value{Kind: BulkString, Null: true}, pos, nil
	}
	if length < -1 {
		return Value{}, 0, poolerrors.FramingError{Reason: "negative bulk length"}
	}

	end := pos + int(length)
	if end+2 > len(buf) {
		return Value{}, 0, ErrNeedMoreData
	}
	if buf[end] != '\r' || buf[end+1] != '\n' {
		return Value{}, 0, poolerrors.FramingError{Reason: "unterminated bulk string"}
	}

	payload := make([]byte, length)
	copy(payload, buf[pos:end])
	return Value{Kind: BulkString, Bulk: payload}, end + 2, nil
}

func decodeArray(buf []byte, lenLine []byte, pos int) (Value, int, error) {
	count, err := parseInt(lenLine)
	if err != nil {
		return Value{}, 0, poolerrors.FramingError{Reason: "invalid array length: " + err.Error()}
	}
	if count == -1 {
		return Value{Kind: Array, Null: true}, pos, nil
	}
	if count < -1 {
		return Value{}, 0, poolerrors.FramingError{Reason: "negative array length"}
	}

	items := make([]Value, 0, count)
	cursor := pos
	for i := int64(0); i < count; i++ {
		v, next, err := decodeValue(buf, cursor)
		if err != nil {
			// Propagate NeedMoreData or FramingError unchanged; the
			// caller never observes the array's internal progress.
			return Value{}, 0, err
		}
		items = append(items, v)
		cursor = next
	}
	return Value{Kind: Array, Items: items}, cursor, nil
}

// readLine scans buf starting at pos for the terminating \r\n and
// returns the bytes strictly between pos and the \r, plus the offset
// just past the \n. ok is false when no \r\n is present yet.
func readLine(buf []byte, pos int) (line []byte, next int, ok bool) {
	for i := pos; i+1 < len(buf); i++ {
		if buf[i] == '\r' && buf[i+1] == '\n' {
			return buf[pos:i], i + 2, true
		}
	}
	return nil, 0, false
}

// parseInt parses a signed base-10 integer with an optional leading
// '-', matching the textual integers RESP uses for lengths and the
// Integer type. Unlike strconv.ParseInt, a leading '+' is rejected:
// RESP has no such thing as an explicitly positive integer.
func parseInt(b []byte) (int64, error) {
	if len(b) > 0 && b[0] == '+' {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseInt(string(b), 10, 64)
}
