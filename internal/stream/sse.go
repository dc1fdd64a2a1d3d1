package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// DoneFrame is the literal terminator sent as the last frame.
const DoneFrame = "[DONE]"

// wireEvent is the JSON shape callers expect.
type wireEvent struct {
	Type     EventType         `json:"type"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MarshalWire encodes an event as one frame payload. Done encodes to the
// literal DoneFrame, every other event to JSON.
func MarshalWire(ev Event) ([]byte, error) {
	switch ev.Type {
	case EventDone:
		return []byte(DoneFrame), nil
	case EventToken:
		return encodeWire(wireEvent{Type: ev.Type, Content: ev.Content, Metadata: map[string]string{"node": ev.Node}})
	case EventToolCall:
		status := "ok"
		if ev.IsError {
			status = "error"
		}
		return encodeWire(wireEvent{
			Type:     ev.Type,
			Content:  toolSummary(ev),
			Metadata: map[string]string{"tool": ev.Tool, "status": status},
		})
	case EventConversation, EventNodeEntered, EventError:
		return encodeWire(wireEvent{Type: ev.Type, Content: ev.Content})
	default:
		return nil, fmt.Errorf("stream: unknown event type %q", ev.Type)
	}
}

// encodeWire is json.Marshal without HTML escaping, so tool summaries keep
// their literal "->" and comparison operators in arguments.
func encodeWire(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// toolSummary renders name(args) -> result on one line.
func toolSummary(ev Event) string {
	args := "{}"
	if len(ev.Args) > 0 {
		if b, err := encodeWire(ev.Args); err == nil {
			args = string(b)
		}
	}
	return fmt.Sprintf("%s(%s) -> %s", ev.Tool, args, ev.Result)
}

// WriteSSE writes ev as a server-sent event frame ("data: ...\n\n").
func WriteSSE(w io.Writer, ev Event) error {
	payload, err := MarshalWire(ev)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.Grow(len(payload) + 8)
	buf.WriteString("data: ")
	buf.Write(payload)
	buf.WriteString("\n\n")
	_, err = w.Write(buf.Bytes())
	return err
}

// Frame is a decoded wire frame.
type Frame struct {
	Type     EventType
	Content  string
	Metadata map[string]string
}

// Done reports whether the frame is the terminator.
func (f Frame) Done() bool {
	return f.Type == EventDone
}

// ParseWire decodes one frame payload produced by MarshalWire.
func ParseWire(payload []byte) (Frame, error) {
	if string(bytes.TrimSpace(payload)) == DoneFrame {
		return Frame{Type: EventDone}, nil
	}
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return Frame{}, fmt.Errorf("stream: decode frame: %w", err)
	}
	return Frame{Type: w.Type, Content: w.Content, Metadata: w.Metadata}, nil
}

// ReadSSE decodes SSE frames from r until the terminator or EOF.
func ReadSSE(r io.Reader) ([]Frame, error) {
	var frames []Frame
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		frame, err := ParseWire([]byte(strings.TrimPrefix(line, "data: ")))
		if err != nil {
			return frames, err
		}
		frames = append(frames, frame)
		if frame.Done() {
			return frames, nil
		}
	}
	return frames, scanner.Err()
}
