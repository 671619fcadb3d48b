package resp

import (
	"strconv"
)

// Encode renders v in RESP wire form. Only the variants a client
// needs to send are exercised in practice (CommandValue below builds
// that form), but Encode is total over Value so tests and the
// pipeline handler can round-trip arbitrary decoded values.
func Encode(v Value) []byte {
	var buf []byte
	return appendValue(buf, v)
}

func appendValue(buf []byte, v Value) []byte {
	switch v.Kind {
	case SimpleString:
		buf = append(buf, '+')
		buf = append(buf, v.Str...)
		return append(buf, '\r', '\n')
	case ErrorReply:
		buf = append(buf, '-')
		buf = append(buf, v.Str...)
		return append(buf, '\r', '\n')
	case Integer:
		buf = append(buf, ':')
		buf = strconv.AppendInt(buf, v.Int, 10)
		return append(buf, '\r', '\n')
	case BulkString:
		if v.Null {
			return append(buf, '$', '-', '1', '\r', '\n')
		}
		buf = append(buf, '$')
		buf = strconv.AppendInt(buf, int64(len(v.Bulk)), 10)
		buf = append(buf, '\r', '\n')
		buf = append(buf, v.Bulk...)
		return append(buf, '\r', '\n')
	case Array:
		if v.Null {
			return append(buf, '*', '-', '1', '\r', '\n')
		}
		buf = append(buf, '*')
		buf = strconv.AppendInt(buf, int64(len(v.Items)), 10)
		buf = append(buf, '\r', '\n')
		for _, item := range v.Items {
			buf = appendValue(buf, item)
		}
		return buf
	default:
		return buf
	}
}

// CommandValue builds a Redis command as a RESP array of bulk
// strings, the wire form every real command uses regardless of the
// reply type it expects back. Handed to a pipeline.Handler's Write,
// which encodes it itself — callers never serialize a command to
// bytes directly.
func CommandValue(args ...[]byte) Value {
	items := make([]Value, len(args))
	for i, a := range args {
		items[i] = BulkValue(a)
	}
	return ArrayValue(items)
}

// CommandValueStrings is a convenience wrapper over CommandValue for
// callers holding plain strings (the common case: command name plus
// string arguments).
func CommandValueStrings(args ...string) Value {
	raw := make([][]byte, len(args))
	for i, a := range args {
		raw[i] = []byte(a)
	}
	return CommandValue(raw...)
}

// EncodeCommand renders a Redis command straight to wire bytes, for
// callers that need the encoded form directly rather than handing a
// Value to a pipeline.Handler.
func EncodeCommand(args ...[]byte) []byte {
	return Encode(CommandValue(args...))
}

// EncodeCommandStrings is the string-argument counterpart of
// EncodeCommand.
func EncodeCommandStrings(args ...string) []byte {
	return Encode(CommandValueStrings(args...))
}
