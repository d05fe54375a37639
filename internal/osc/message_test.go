package osc

import (
	"bytes"
	"reflect"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		msg  *Message
	}{
		{"no args", NewMessage("/sound2osc/out/heartbeat")},
		{"int", NewMessage("/chan/1", int32(42))},
		{"float", NewMessage("/chan/2", float32(3.25))},
		{"negative int", NewMessage("/chan/3", int32(-7))},
		{"string", NewMessage("/label", "bass hit")},
		{"blob", NewMessage("/raw", []byte{0x01, 0x02, 0x03})},
		{"mixed", NewMessage("/cue/fire", int32(1), float32(0.5), "go", int32(-200))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := tc.msg.MarshalBinary()
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if len(data)%4 != 0 {
				t.Fatalf("encoded length %d not 4-byte aligned", len(data))
			}

			var got Message
			if err := got.UnmarshalBinary(data); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Address != tc.msg.Address {
				t.Fatalf("address=%q want=%q", got.Address, tc.msg.Address)
			}
			if len(tc.msg.Arguments) == 0 {
				if len(got.Arguments) != 0 {
					t.Fatalf("expected no arguments, got %v", got.Arguments)
				}
				return
			}
			if !reflect.DeepEqual(got.Arguments, tc.msg.Arguments) {
				t.Fatalf("arguments=%v want=%v", got.Arguments, tc.msg.Arguments)
			}
		})
	}
}

func TestMessageWireLayout(t *testing.T) {
	msg := NewMessage("/ab", int32(1))
	data, err := msg.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := []byte{
		'/', 'a', 'b', 0, // address padded to 4
		',', 'i', 0, 0, // type tags padded to 4
		0, 0, 0, 1, // int32 big-endian
	}
	if !bytes.Equal(data, want) {
		t.Fatalf("wire bytes=% x want=% x", data, want)
	}
}

func TestMessageDecodeFailures(t *testing.T) {
	valid, err := NewMessage("/a", int32(1), "word").MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	cases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"no leading slash", []byte("abcd\x00\x00\x00\x00")},
		{"unaligned", valid[:len(valid)-2]},
		{"truncated mid argument", valid[:len(valid)-4]},
		{"missing typetag comma", []byte("/a\x00\x00if\x00\x00\x00\x00\x00\x01")},
		{"trailing garbage", append(append([]byte{}, valid...), 0, 0, 0, 0)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var m Message
			if err := m.UnmarshalBinary(tc.data); err == nil {
				t.Fatalf("expected decode failure, got %+v", m)
			}
		})
	}
}

func TestMarshalRejectsBadAddress(t *testing.T) {
	if _, err := NewMessage("nopath", int32(1)).MarshalBinary(); err == nil {
		t.Fatal("expected error for address without leading slash")
	}
}

func TestStringDistinguishesEqualLengthBlobs(t *testing.T) {
	a := NewMessage("/blob", []byte{1, 2, 3, 4}).String()
	b := NewMessage("/blob", []byte{4, 3, 2, 1}).String()
	if a == b {
		t.Fatalf("blob fingerprints collide: %q", a)
	}
}

func TestParseTextCommand(t *testing.T) {
	cases := []struct {
		in       string
		path     string
		wantArgs []interface{}
	}{
		{"/sound2osc/out/enabled=1", "/sound2osc/out/enabled", []interface{}{int32(1)}},
		{"/dimmer=0.75", "/dimmer", []interface{}{float32(0.75)}},
		{"/label=bass", "/label", []interface{}{"bass"}},
		{"/ping", "/ping", nil},
		{"/empty=", "/empty", nil},
	}

	for _, tc := range cases {
		msg, err := ParseTextCommand(tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if msg.Address != tc.path {
			t.Fatalf("%q: path=%q want=%q", tc.in, msg.Address, tc.path)
		}
		if len(tc.wantArgs) == 0 {
			if len(msg.Arguments) != 0 {
				t.Fatalf("%q: unexpected args %v", tc.in, msg.Arguments)
			}
			continue
		}
		if !reflect.DeepEqual(msg.Arguments, tc.wantArgs) {
			t.Fatalf("%q: args=%v want=%v", tc.in, msg.Arguments, tc.wantArgs)
		}
	}
}

func TestParseTextCommandRejectsBarePath(t *testing.T) {
	if _, err := ParseTextCommand("bpm=120"); err == nil {
		t.Fatal("expected error for command without leading slash")
	}
}
