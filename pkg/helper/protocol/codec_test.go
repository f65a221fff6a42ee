package protocol

import (
	"bytes"
	"reflect"
	"testing"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	ready := &ReadyMessage{Version: "1.0.0", Platform: "linux", Arch: "amd64", PID: 123}
	if err := enc.EncodeReady(ready); err != nil {
		t.Fatalf("EncodeReady: %v", err)
	}

	dec := NewDecoder(&buf)
	msg, err := dec.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != MessageTypeReady {
		t.Fatalf("type = %s, want %s", msg.Type, MessageTypeReady)
	}

	var got ReadyMessage
	if err := ParseParams(msg.Data, &got); err != nil {
		t.Fatalf("ParseParams: %v", err)
	}
	if !reflect.DeepEqual(got, *ready) {
		t.Fatalf("got %+v, want %+v", got, *ready)
	}
}

func TestDecodeCommand_RejectsNonCommand(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	if err := enc.EncodeReady(&ReadyMessage{}); err != nil {
		t.Fatalf("EncodeReady: %v", err)
	}

	dec := NewDecoder(&buf)
	if _, err := dec.DecodeCommand(); err == nil {
		t.Fatal("expected error decoding a READY message as a command")
	}
}

func TestCommandMessage_Validate(t *testing.T) {
	cases := []struct {
		name string
		cmd  CommandMessage
		ok   bool
	}{
		{"valid", CommandMessage{ID: "1", Type: CommandTypeExec, Timeout: 30}, true},
		{"missing id", CommandMessage{Type: CommandTypeExec, Timeout: 30}, false},
		{"unknown type", CommandMessage{ID: "1", Type: "bogus", Timeout: 30}, false},
		{"zero timeout", CommandMessage{ID: "1", Type: CommandTypeExec}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cmd.Validate()
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
