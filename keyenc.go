package docindex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Index keys are encoded so that byte order equals key order. Every
// component starts with a type tag and is self-delimiting, so a composite
// key is the plain concatenation of its components and compares as a tuple:
//
//	null    00
//	bool    10 00|01
//	integer 20 int64, big endian, sign bit flipped
//	float   30 float64 bits, sign bit flipped (all bits for negatives)
//	date    40 unix seconds as integer, then uint32 nanoseconds
//	string  50 bytes with 00 escaped as 00 01, terminated by 00 00
//	binary  60 same as string
//	link    70 RID (see appendRID)
//
// Non-unique index entries append the RID of the record after the key.
const (
	tagNull   byte = 0x00
	tagBool   byte = 0x10
	tagInt    byte = 0x20
	tagFloat  byte = 0x30
	tagDate   byte = 0x40
	tagString byte = 0x50
	tagBinary byte = 0x60
	tagLink   byte = 0x70

	// firstNonNullTag is the lowest possible first byte of a non-null key.
	firstNonNullTag = tagBool
)

// Key is an index key: one component per indexed field. Components hold
// canonical values: nil, bool, int64, float64, time.Time, string, []byte
// or RID.
type Key []any

func (k Key) HasNull() bool {
	for _, v := range k {
		if v == nil {
			return true
		}
	}
	return len(k) == 0
}

func (k Key) String() string {
	if len(k) == 1 {
		return formatKeyComponent(k[0])
	}
	var buf strings.Builder
	buf.WriteByte('(')
	for i, v := range k {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(formatKeyComponent(v))
	}
	buf.WriteByte(')')
	return buf.String()
}

func formatKeyComponent(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case string:
		return strconv.Quote(v)
	case []byte:
		return fmt.Sprintf("0x%x", v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(v)
	}
}

// encodeKey converts key components to the given types and encodes them.
// Only the first len(key) types are used, so prefixes of composite keys
// encode to prefixes of full keys.
func encodeKey(types []PropertyType, key Key) ([]byte, Key, error) {
	if len(key) > len(types) {
		return nil, nil, fmt.Errorf("%w: key %v has %d components, index has %d", ErrTypeMismatch, key, len(key), len(types))
	}
	var buf []byte
	canon := make(Key, len(key))
	for i, v := range key {
		c, err := convertToKeyType(v, types[i])
		if err != nil {
			return nil, nil, err
		}
		canon[i] = c
		buf = appendKeyComponent(buf, c)
	}
	return buf, canon, nil
}

func appendKeyComponent(buf []byte, v any) []byte {
	switch v := v.(type) {
	case nil:
		return append(buf, tagNull)
	case bool:
		if v {
			return append(buf, tagBool, 1)
		}
		return append(buf, tagBool, 0)
	case int64:
		buf = append(buf, tagInt)
		return binary.BigEndian.AppendUint64(buf, uint64(v)^(1<<63))
	case float64:
		buf = append(buf, tagFloat)
		return binary.BigEndian.AppendUint64(buf, sortableFloatBits(v))
	case time.Time:
		buf = append(buf, tagDate)
		buf = binary.BigEndian.AppendUint64(buf, uint64(v.Unix())^(1<<63))
		return binary.BigEndian.AppendUint32(buf, uint32(v.Nanosecond()))
	case string:
		buf = append(buf, tagString)
		return appendEscaped(buf, []byte(v))
	case []byte:
		buf = append(buf, tagBinary)
		return appendEscaped(buf, v)
	case RID:
		buf = append(buf, tagLink)
		return appendRID(buf, v)
	default:
		panic(fmt.Errorf("cannot encode %T as a key component", v))
	}
}

func sortableFloatBits(f float64) uint64 {
	if f == 0 {
		f = 0 // fold -0 into +0
	}
	bits := math.Float64bits(f)
	if bits&(1<<63) == 0 {
		return bits ^ (1 << 63)
	}
	return ^bits
}

func floatFromSortableBits(bits uint64) float64 {
	if bits&(1<<63) != 0 {
		return math.Float64frombits(bits ^ (1 << 63))
	}
	return math.Float64frombits(^bits)
}

func appendEscaped(buf, data []byte) []byte {
	for {
		i := bytes.IndexByte(data, 0)
		if i < 0 {
			break
		}
		buf = append(buf, data[:i]...)
		buf = append(buf, 0, 1)
		data = data[i+1:]
	}
	buf = append(buf, data...)
	return append(buf, 0, 0)
}

func decodeEscaped(data []byte) (value, rest []byte, err error) {
	var out []byte
	for i := 0; i < len(data); i++ {
		if data[i] != 0 {
			continue
		}
		if i+1 >= len(data) {
			break
		}
		out = append(out, data[:i]...)
		switch data[i+1] {
		case 0:
			if out == nil {
				out = []byte{}
			}
			return out, data[i+2:], nil
		case 1:
			out = append(out, 0)
			data = data[i+2:]
			i = -1
		default:
			return nil, nil, fmt.Errorf("invalid escape byte %02x", data[i+1])
		}
	}
	return nil, nil, fmt.Errorf("unterminated string")
}

// decodeKeyComponent decodes one component off the front of data.
func decodeKeyComponent(data []byte) (any, []byte, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("missing key component")
	}
	tag, body := data[0], data[1:]
	switch tag {
	case tagNull:
		return nil, body, nil
	case tagBool:
		if len(body) < 1 {
			break
		}
		return body[0] != 0, body[1:], nil
	case tagInt:
		if len(body) < 8 {
			break
		}
		return int64(binary.BigEndian.Uint64(body) ^ (1 << 63)), body[8:], nil
	case tagFloat:
		if len(body) < 8 {
			break
		}
		return floatFromSortableBits(binary.BigEndian.Uint64(body)), body[8:], nil
	case tagDate:
		if len(body) < 12 {
			break
		}
		sec := int64(binary.BigEndian.Uint64(body) ^ (1 << 63))
		nsec := int64(binary.BigEndian.Uint32(body[8:]))
		return time.Unix(sec, nsec).UTC(), body[12:], nil
	case tagString:
		v, rest, err := decodeEscaped(body)
		if err != nil {
			return nil, nil, err
		}
		return string(v), rest, nil
	case tagBinary:
		return decodeEscaped(body)
	case tagLink:
		if len(body) < ridSize {
			break
		}
		rid, err := decodeRID(body[:ridSize])
		return rid, body[ridSize:], err
	default:
		return nil, nil, fmt.Errorf("unknown key tag %02x", tag)
	}
	return nil, nil, fmt.Errorf("truncated key component with tag %02x", tag)
}

// decodeKey decodes n components and returns whatever follows them.
func decodeKey(data []byte, n int) (Key, []byte, error) {
	key := make(Key, n)
	rest := data
	for i := range key {
		var err error
		key[i], rest, err = decodeKeyComponent(rest)
		if err != nil {
			return nil, nil, dataErrf(data, len(data)-len(rest), err, "invalid key")
		}
	}
	return key, rest, nil
}
