package openai

import "github.com/koscakluka/ema-dictation/core/llms"

type message struct {
	Role    messageRole `json:"role"`
	Content string      `json:"content"`
}

type messageRole string

const (
	messageRoleSystem    messageRole = "system"
	messageRoleUser      messageRole = "user"
	messageRoleAssistant messageRole = "assistant"
)

func toMessages(messages []llms.Message) []message {
	converted := make([]message, 0, len(messages))
	for _, m := range messages {
		role := messageRoleUser
		switch m.Role {
		case llms.MessageRoleSystem:
			role = messageRoleSystem
		case llms.MessageRoleAssistant:
			role = messageRoleAssistant
		}
		converted = append(converted, message{Role: role, Content: m.Content})
	}
	return converted
}

type requestBody struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

type responseBody struct {
	Choices []struct {
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
