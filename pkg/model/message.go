package model

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a single tool invocation requested by the model. Arguments
// is the raw JSON string exactly as the model emitted it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Turn is one entry of a conversation. Tool result turns carry the
// ToolCallID of the call they answer; assistant turns may carry ToolCalls.
type Turn struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// ChatRequest is a full prompt for one model call.
type ChatRequest struct {
	Turns []Turn
	Tools []ToolSpec
}

// ChatResponse is the model's reply to a ChatRequest.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// StreamEvent is one element of a streaming generation. Exactly one of
// the fields is meaningful: Token for an incremental content fragment,
// Response for the terminal event carrying the complete reply, or Err
// when the stream failed. After Response or Err the channel is closed.
type StreamEvent struct {
	Token    string
	Response *ChatResponse
	Err      error
}
