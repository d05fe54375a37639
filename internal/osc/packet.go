package osc

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const bundleTag = "#bundle"

// ParsePacket decodes a received packet into its messages. A packet is either
// a single message or a "#bundle" whose elements are dispatched immediately
// (scheduled timetags are treated as immediate). In OSC 1.1 mode a packet
// that does not start with '/' or '#' is additionally tried as a "path=value"
// text command.
func ParsePacket(data []byte, osc11 bool) ([]*Message, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty packet")
	}

	switch data[0] {
	case '/':
		msg := &Message{}
		if err := msg.UnmarshalBinary(data); err != nil {
			// In 1.1 mode consoles may send plain "path=value" text that
			// starts with '/' but is not binary OSC.
			if osc11 {
				if txt, terr := parseText(data); terr == nil {
					return []*Message{txt}, nil
				}
			}
			return nil, err
		}
		return []*Message{msg}, nil
	case '#':
		return parseBundle(data)
	default:
		if osc11 {
			return nil, fmt.Errorf("packet starts with %q, not an OSC message or text command", data[0])
		}
		return nil, fmt.Errorf("packet starts with %q, not an OSC message", data[0])
	}
}

// parseText tries a received payload as a "path=value" text command. It only
// accepts printable single-line content.
func parseText(data []byte) (*Message, error) {
	trimmed := bytes.TrimRight(data, "\r\n\x00")
	for _, b := range trimmed {
		if b < 0x20 || b > 0x7e {
			return nil, fmt.Errorf("not printable text")
		}
	}
	return ParseTextCommand(string(trimmed))
}

// parseBundle decodes "#bundle" + 64-bit timetag + length-prefixed elements.
// Nested bundles are flattened.
func parseBundle(data []byte) ([]*Message, error) {
	tag, n, err := readPaddedString(data)
	if err != nil || tag != bundleTag {
		return nil, fmt.Errorf("not a bundle")
	}
	data = data[n:]

	// Skip the 8-byte timetag; every element dispatches immediately.
	if len(data) < 8 {
		return nil, fmt.Errorf("truncated bundle timetag")
	}
	data = data[8:]

	var msgs []*Message
	for len(data) > 0 {
		if len(data) < bit32Size {
			return nil, fmt.Errorf("truncated bundle element length")
		}
		size := int(int32(binary.BigEndian.Uint32(data[:bit32Size])))
		data = data[bit32Size:]
		if size < 0 || size > len(data) {
			return nil, fmt.Errorf("bundle element length %d exceeds packet", size)
		}
		elems, err := ParsePacket(data[:size], false)
		if err != nil {
			return nil, fmt.Errorf("bundle element: %w", err)
		}
		msgs = append(msgs, elems...)
		data = data[size:]
	}
	return msgs, nil
}
