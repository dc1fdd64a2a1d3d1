package models

import (
	"strings"
	"time"

	"github.com/rs/xid"
)

// labelWords is how many words of the first query make up a conversation label.
const labelWords = 10

// Turn is one message in a conversation's history.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationState is everything the dispatcher persists for a conversation.
type ConversationState struct {
	// ID is the opaque conversation identifier.
	ID string `json:"id"`
	// History holds turns in insertion order.
	History []Turn `json:"history"`
	// Plan is the routing plan of the turn in progress, if any.
	Plan RoutingPlan `json:"plan"`
	// Summary is a rolling compression of history older than History.
	Summary string `json:"summary,omitempty"`
	// Revision is bumped on every persisted mutation.
	Revision int64 `json:"revision"`
	// UpdatedAt is when the state was last persisted.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewConversationState returns an empty state for id.
func NewConversationState(id string) *ConversationState {
	return &ConversationState{
		ID:      id,
		History: []Turn{},
		Plan:    RoutingPlan{Pending: []PlanItem{}, Completed: []CompletedItem{}},
	}
}

// AppendTurn adds a turn to the end of the history and returns it.
func (s *ConversationState) AppendTurn(role Role, content string) Turn {
	turn := Turn{
		ID:        xid.New().String(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	s.History = append(s.History, turn)
	return turn
}

// Clone returns a deep copy of the state.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := *s
	out.History = append([]Turn{}, s.History...)
	out.Plan = s.Plan.clone()
	return &out
}

// Label returns a short human-readable name for the conversation:
// its first user query truncated to ten words.
func (s *ConversationState) Label() string {
	for _, turn := range s.History {
		if turn.Role == RoleUser {
			return Label(turn.Content)
		}
	}
	return ""
}

// Label truncates text to its first ten words.
func Label(text string) string {
	words := strings.Fields(text)
	if len(words) > labelWords {
		return strings.Join(words[:labelWords], " ") + "..."
	}
	return strings.Join(words, " ")
}
