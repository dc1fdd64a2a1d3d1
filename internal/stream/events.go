// Package stream carries dispatcher progress to callers as an ordered
// sequence of events and encodes them for server-sent events.
package stream

import "time"

// EventType represents the type of a stream event.
type EventType string

const (
	// EventConversation announces the conversation id. It is always first.
	EventConversation EventType = "conversation"
	// EventNodeEntered marks entry into a dispatcher node.
	EventNodeEntered EventType = "node"
	// EventToken carries a chunk of generated text.
	EventToken EventType = "token"
	// EventToolCall reports a tool invocation and its outcome.
	EventToolCall EventType = "tool_call"
	// EventError reports a fatal run failure.
	EventError EventType = "error"
	// EventDone terminates the stream.
	EventDone EventType = "done"
)

// Event is one unit of progress. Which fields are set depends on Type.
type Event struct {
	Type EventType
	// Content is the token text, error message, node name, or conversation id.
	Content string
	// Node is the node that produced a token (an agent kind or "formatter").
	Node string
	// Tool, Args, Result and IsError describe a tool call.
	Tool    string
	Args    map[string]any
	Result  string
	IsError bool
	// Timestamp is when the event was produced.
	Timestamp time.Time
}

// Conversation returns the event announcing the conversation id.
func Conversation(id string) Event {
	return Event{Type: EventConversation, Content: id, Timestamp: time.Now()}
}

// NodeEntered returns a node transition marker.
func NodeEntered(node string) Event {
	return Event{Type: EventNodeEntered, Content: node, Node: node, Timestamp: time.Now()}
}

// Token returns a token event attributed to node.
func Token(text, node string) Event {
	return Event{Type: EventToken, Content: text, Node: node, Timestamp: time.Now()}
}

// ToolCall returns a tool call event.
func ToolCall(name string, args map[string]any, result string, isError bool) Event {
	return Event{
		Type:      EventToolCall,
		Tool:      name,
		Args:      args,
		Result:    result,
		IsError:   isError,
		Timestamp: time.Now(),
	}
}

// Error returns a fatal error event.
func Error(message string) Event {
	return Event{Type: EventError, Content: message, Timestamp: time.Now()}
}

// Done returns the terminal event.
func Done() Event {
	return Event{Type: EventDone, Timestamp: time.Now()}
}
