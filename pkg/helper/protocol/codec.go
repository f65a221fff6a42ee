package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

const maxLineSize = 10 * 1024 * 1024

// Encoder writes newline-delimited Message envelopes.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder wraps w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode marshals data, wraps it in a Message of the given type, and
// flushes it as one newline-terminated line.
func (e *Encoder) Encode(msgType MessageType, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("protocol: marshaling %s payload: %w", msgType, err)
	}
	msg := Message{
		Type:      msgType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      payload,
	}
	line, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("protocol: marshaling %s message: %w", msgType, err)
	}
	if _, err := e.w.Write(line); err != nil {
		return err
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return err
	}
	return e.w.Flush()
}

func (e *Encoder) EncodeReady(m *ReadyMessage) error { return e.Encode(MessageTypeReady, m) }
func (e *Encoder) EncodeEvent(m *EventMessage) error { return e.Encode(MessageTypeEvent, m) }
func (e *Encoder) EncodeDone(m *DoneMessage) error   { return e.Encode(MessageTypeDone, m) }
func (e *Encoder) EncodeError(m *ErrorMessage) error { return e.Encode(MessageTypeError, m) }
func (e *Encoder) EncodeExit(m *ExitMessage) error   { return e.Encode(MessageTypeExit, m) }

// Decoder reads newline-delimited Message envelopes.
type Decoder struct {
	r *bufio.Scanner
}

// NewDecoder wraps r with a scan buffer large enough for a file.read
// result embedding file content up to its own max-bytes cap.
func NewDecoder(r io.Reader) *Decoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Decoder{r: s}
}

// Decode reads and unmarshals the next message line.
func (d *Decoder) Decode() (*Message, error) {
	if !d.r.Scan() {
		if err := d.r.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	var msg Message
	if err := json.Unmarshal(d.r.Bytes(), &msg); err != nil {
		return nil, fmt.Errorf("protocol: decoding message: %w", err)
	}
	if err := msg.Type.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DecodeCommand reads the next line and requires it to be a command.
func (d *Decoder) DecodeCommand() (*CommandMessage, error) {
	msg, err := d.Decode()
	if err != nil {
		return nil, err
	}
	if msg.Type != MessageTypeCommand {
		return nil, fmt.Errorf("protocol: expected %s message, got %s", MessageTypeCommand, msg.Type)
	}
	var cmd CommandMessage
	if err := ParseParams(msg.Data, &cmd); err != nil {
		return nil, err
	}
	return &cmd, nil
}

// ParseParams decodes a message's data/params payload into target.
func ParseParams(data json.RawMessage, target any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("protocol: decoding params: %w", err)
	}
	return nil
}
