package models

import (
	"fmt"
	"strings"
)

// AgentKind identifies the specialized worker a sub-question is routed to.
type AgentKind string

const (
	// AgentMath answers arithmetic and calculation questions.
	AgentMath AgentKind = "math"
	// AgentCode writes and runs code.
	AgentCode AgentKind = "code"
	// AgentResearch answers factual questions using retrieval tools.
	// It is also the fallback kind when routing is uncertain.
	AgentResearch AgentKind = "research"
)

// AllAgentKinds lists every agent kind in a stable order.
var AllAgentKinds = []AgentKind{AgentMath, AgentCode, AgentResearch}

// Valid returns true if the kind is a known value.
func (k AgentKind) Valid() bool {
	switch k {
	case AgentMath, AgentCode, AgentResearch:
		return true
	default:
		return false
	}
}

// String returns the kind as a string.
func (k AgentKind) String() string {
	return string(k)
}

// ParseAgentKind converts a string to an AgentKind, ignoring case and
// surrounding whitespace. "general" is accepted as an alias for research.
func ParseAgentKind(s string) (AgentKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "math":
		return AgentMath, nil
	case "code":
		return AgentCode, nil
	case "research", "general":
		return AgentResearch, nil
	default:
		return "", fmt.Errorf("invalid agent kind: %q", s)
	}
}

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)
