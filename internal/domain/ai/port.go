package ai

import "context"

// Role of a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role    Role
	Content string
}

// Request is a single model call. Name identifies the instruction and is used
// for tracing only.
type Request struct {
	Name     string
	System   string
	Messages []Message
	// JSON asks the provider to constrain output to a JSON object.
	JSON bool
}

// Client is the hosted model. Implementations are constructed explicitly and
// passed in; there is no package-level client.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}
