// Package osc implements the Open Sound Control 1.0/1.1 wire format and the
// UDP/TCP transport used to talk to lighting consoles.
package osc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"strconv"
	"strings"
)

const bit32Size = 4

// MaxPacketSize bounds a single OSC packet on the wire.
const MaxPacketSize = 65507

// Message represents a single OSC message: an address pattern plus zero or
// more typed arguments. Supported argument types are int32, float32, string
// and []byte (blob).
type Message struct {
	Address   string
	Arguments []interface{}
}

// NewMessage returns a new Message. The address parameter is the OSC address.
func NewMessage(addr string, args ...interface{}) *Message {
	return &Message{Address: addr, Arguments: args}
}

// Append appends the given arguments to the arguments list.
func (m *Message) Append(args ...interface{}) {
	m.Arguments = append(m.Arguments, args...)
}

// TypeTags returns the type tag string, including the leading comma.
func (m *Message) TypeTags() (string, error) {
	tags := make([]byte, 0, len(m.Arguments)+1)
	tags = append(tags, ',')
	for _, arg := range m.Arguments {
		switch arg.(type) {
		case int32:
			tags = append(tags, 'i')
		case float32:
			tags = append(tags, 'f')
		case string:
			tags = append(tags, 's')
		case []byte:
			tags = append(tags, 'b')
		default:
			return "", fmt.Errorf("unsupported argument type: %T", arg)
		}
	}
	return string(tags), nil
}

// String renders the message as "address typetags arg arg ..." for logging
// and for send deduplication.
func (m *Message) String() string {
	var sb strings.Builder
	sb.WriteString(m.Address)
	tags, err := m.TypeTags()
	if err != nil || len(tags) == 1 {
		return sb.String()
	}
	sb.WriteByte(' ')
	sb.WriteString(tags)
	for _, arg := range m.Arguments {
		switch t := arg.(type) {
		case []byte:
			// Length plus content checksum, so dedup tells two blobs of
			// the same size apart.
			fmt.Fprintf(&sb, " blob(%d,%08x)", len(t), crc32.ChecksumIEEE(t))
		default:
			fmt.Fprintf(&sb, " %v", t)
		}
	}
	return sb.String()
}

// MarshalBinary encodes the message: padded address, padded type tag string,
// then each argument padded to a 4-byte boundary, numerics big-endian.
func (m *Message) MarshalBinary() ([]byte, error) {
	typetags, err := m.TypeTags()
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(m.Address, "/") {
		return nil, fmt.Errorf("address %q must start with '/'", m.Address)
	}

	buf := new(bytes.Buffer)
	writePaddedString(m.Address, buf)
	writePaddedString(typetags, buf)

	for _, arg := range m.Arguments {
		switch t := arg.(type) {
		case int32:
			var b [bit32Size]byte
			binary.BigEndian.PutUint32(b[:], uint32(t))
			buf.Write(b[:])
		case float32:
			var b [bit32Size]byte
			binary.BigEndian.PutUint32(b[:], math.Float32bits(t))
			buf.Write(b[:])
		case string:
			writePaddedString(t, buf)
		case []byte:
			writeBlob(t, buf)
		}
	}

	if buf.Len() > MaxPacketSize {
		return nil, fmt.Errorf("packet too large: %d", buf.Len())
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes a single OSC message. It fails, leaving m
// unchanged, if the address is missing its leading slash, the type tag string
// is missing its leading comma, any declared argument is truncated, or the
// packet contains trailing bytes beyond the declared arguments.
func (m *Message) UnmarshalBinary(data []byte) error {
	if len(data) == 0 || data[0] != '/' {
		return fmt.Errorf("not a valid OSC message")
	}
	if len(data)%bit32Size != 0 {
		return fmt.Errorf("packet length %d is not a multiple of 4", len(data))
	}

	addr, n, err := readPaddedString(data)
	if err != nil {
		return fmt.Errorf("read address: %w", err)
	}
	data = data[n:]

	args, err := readArguments(data)
	if err != nil {
		return err
	}

	m.Address = addr
	m.Arguments = args
	return nil
}

func readArguments(data []byte) ([]interface{}, error) {
	if len(data) == 0 {
		// No type tag string at all: a bare address is accepted.
		return nil, nil
	}

	typetags, n, err := readPaddedString(data)
	if err != nil {
		return nil, fmt.Errorf("read type tags: %w", err)
	}
	data = data[n:]

	if len(typetags) == 0 || typetags[0] != ',' {
		return nil, fmt.Errorf("type tag string %q missing leading comma", typetags)
	}

	args := make([]interface{}, 0, len(typetags)-1)
	for _, c := range typetags[1:] {
		switch c {
		case 'i':
			if len(data) < bit32Size {
				return nil, fmt.Errorf("truncated int32 argument")
			}
			args = append(args, int32(binary.BigEndian.Uint32(data[:bit32Size])))
			data = data[bit32Size:]
		case 'f':
			if len(data) < bit32Size {
				return nil, fmt.Errorf("truncated float32 argument")
			}
			args = append(args, math.Float32frombits(binary.BigEndian.Uint32(data[:bit32Size])))
			data = data[bit32Size:]
		case 's':
			s, n, err := readPaddedString(data)
			if err != nil {
				return nil, fmt.Errorf("truncated string argument: %w", err)
			}
			args = append(args, s)
			data = data[n:]
		case 'b':
			b, n, err := readBlob(data)
			if err != nil {
				return nil, fmt.Errorf("bad blob argument: %w", err)
			}
			args = append(args, b)
			data = data[n:]
		default:
			return nil, fmt.Errorf("unsupported type tag %q", c)
		}
	}

	if len(data) != 0 {
		return nil, fmt.Errorf("%d trailing bytes after arguments", len(data))
	}
	return args, nil
}

// padBytesNeeded determines how many bytes are needed to fill up to the next
// 4-byte boundary.
func padBytesNeeded(elementLen int) int {
	return (bit32Size - (elementLen % bit32Size)) % bit32Size
}

func writePaddedString(s string, buf *bytes.Buffer) {
	buf.WriteString(s)
	buf.WriteByte(0)
	for i := 0; i < padBytesNeeded(len(s)+1); i++ {
		buf.WriteByte(0)
	}
}

func readPaddedString(data []byte) (string, int, error) {
	pos := bytes.IndexByte(data, 0)
	if pos == -1 {
		return "", 0, fmt.Errorf("unterminated string")
	}
	n := pos + 1 + padBytesNeeded(pos+1)
	if n > len(data) {
		return "", 0, fmt.Errorf("string padding exceeds packet")
	}
	return string(data[:pos]), n, nil
}

func writeBlob(b []byte, buf *bytes.Buffer) {
	var size [bit32Size]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(b)))
	buf.Write(size[:])
	buf.Write(b)
	for i := 0; i < padBytesNeeded(len(b)); i++ {
		buf.WriteByte(0)
	}
}

func readBlob(data []byte) ([]byte, int, error) {
	if len(data) < bit32Size {
		return nil, 0, fmt.Errorf("truncated blob length")
	}
	size := int(int32(binary.BigEndian.Uint32(data[:bit32Size])))
	if size < 0 {
		return nil, 0, fmt.Errorf("negative blob length %d", size)
	}
	n := bit32Size + size + padBytesNeeded(size)
	if n > len(data) {
		return nil, 0, fmt.Errorf("blob length %d exceeds packet", size)
	}
	blob := make([]byte, size)
	copy(blob, data[bit32Size:bit32Size+size])
	return blob, n, nil
}

// ParseTextCommand parses the OSC 1.1 "path=value" text shorthand used for
// manual console input. The part before the first '=' becomes the address;
// the remainder becomes a single argument, numeric when it parses as a
// number, string otherwise. A bare path yields a message without arguments.
func ParseTextCommand(cmd string) (*Message, error) {
	cmd = strings.TrimSpace(cmd)
	path, value, found := strings.Cut(cmd, "=")
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("text command %q missing leading '/'", cmd)
	}
	msg := NewMessage(path)
	if !found || value == "" {
		return msg, nil
	}
	if i, err := strconv.ParseInt(value, 10, 32); err == nil {
		msg.Append(int32(i))
	} else if f, err := strconv.ParseFloat(value, 32); err == nil {
		msg.Append(float32(f))
	} else {
		msg.Append(value)
	}
	return msg, nil
}
