package models

import "time"

const (
	ChatRoleUser = "User"
	ChatRoleAI   = "AI"
)

// ChatMode selects how the user message is turned into the model prompt.
type ChatMode int

const (
	ModeNA ChatMode = iota
	ModeSimplify
	ModeElaborate
	ModeGetLegalPrecedent
)

func (m ChatMode) Valid() bool {
	return m >= ModeNA && m <= ModeGetLegalPrecedent
}

func (m ChatMode) String() string {
	switch m {
	case ModeSimplify:
		return "Simplify"
	case ModeElaborate:
		return "Elaborate"
	case ModeGetLegalPrecedent:
		return "GetLegalPrecedent"
	default:
		return "NA"
	}
}

// ChatMessage is one turn stored by the memory service.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatSession is the opaque per user conversation handle.
type ChatSession struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type ChatRequest struct {
	UserMsg   string   `json:"user_msg" binding:"required"`
	Traceless bool     `json:"traceless"`
	Mode      ChatMode `json:"mode"`
}
