// Package llms defines the chat completion contract used to refine
// transcripts.
package llms

import "context"

type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// Message is a single message of a chat completion request.
type Message struct {
	Role    MessageRole
	Content string
}

func SystemMessage(content string) Message {
	return Message{Role: MessageRoleSystem, Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: MessageRoleUser, Content: content}
}

// Completer answers a conversation with a single assistant message.
type Completer interface {
	Complete(ctx context.Context, messages []Message, opts ...CompletionOption) (string, error)
}
