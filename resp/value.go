// Package resp implements an incremental decoder and encoder for the
// Redis serialization protocol (RESP2): simple strings, errors,
// integers, bulk strings, and arrays, with arbitrary nesting.
package resp

// Kind tags the payload carried by a Value.
type Kind int

const (
	SimpleString Kind = iota
	ErrorReply
	Integer
	BulkString
	Array
)

func (k Kind) String() string {
	switch k {
	case SimpleString:
		return "SimpleString"
	case ErrorReply:
		return "Error"
	case Integer:
		return "Integer"
	case BulkString:
		return "BulkString"
	case Array:
		return "Array"
	default:
		return "Unknown"
	}
}

// Value is a decoded RESP frame. Only the fields relevant to Kind are
// populated; the zero value of the others is left untouched.
type Value struct {
	Kind Kind

	// Str holds the payload of SimpleString and ErrorReply.
	Str string

	// Int holds the payload of Integer.
	Int int64

	// Bulk holds the payload of BulkString. Null is true when the
	// wire form was the null bulk string ($-1\r\n); Bulk is nil then.
	Bulk []byte

	// Items holds the payload of Array. Null is true when the wire
	// form was the null array (*-1\r\n); Items is nil then.
	Items []Value

	// Null distinguishes a null BulkString/Array from an empty one.
	Null bool
}

// SimpleStringValue builds a SimpleString value.
func SimpleStringValue(s string) Value { return Value{Kind: SimpleString, Str: s} }

// ErrValue builds an Error value.
func ErrValue(s string) Value { return Value{Kind: ErrorReply, Str: s} }

// IntValue builds an Integer value.
func IntValue(n int64) Value { return Value{Kind: Integer, Int: n} }

// BulkValue builds a non-null BulkString value.
func BulkValue(b []byte) Value { return Value{Kind: BulkString, Bulk: b} }

// NullBulk builds the null BulkString value.
func NullBulk() Value { return Value{Kind: BulkString, Null: true} }

// ArrayValue builds a non-null Array value.
func ArrayValue(items []Value) Value { return Value{Kind: Array, Items: items} }

// NullArray builds the null Array value.
func NullArray() Value { return Value{Kind: Array, Null: true} }

// IsNil reports whether v is the null bulk string or the null array.
func (v Value) IsNil() bool {
	return (v.Kind == BulkString || v.Kind == Array) && v.Null
}
