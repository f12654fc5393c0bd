package store

// Role tags a conversation turn.
type Role string

const (
	RoleHuman Role = "human"
	RoleAI    Role = "ai"
)

// ChatSession is a single conversation, keyed by its identifier.
type ChatSession struct {
	UID       string
	CreatedTs int64
	UpdatedTs int64
}

// ChatMessage is a single turn within a session.
type ChatMessage struct {
	ID         int32
	SessionUID string
	Role       Role
	Content    string
	CreatedTs  int64
}

// FindChatSession filters for ListChatSessions.
type FindChatSession struct {
	UID *string
	// UpdatedBefore selects sessions idle since before the given unix time.
	UpdatedBefore *int64
}

// FindChatMessage filters for ListChatMessages.
type FindChatMessage struct {
	SessionUID string
}

// CreateChatMessage is the payload for CreateChatMessages.
type CreateChatMessage struct {
	Role    Role
	Content string
}
