// Package conversation turns a stored message log into the bounded turn list
// sent to the generation service.
package conversation

import (
	"strings"

	"personachat/internal/storage"
)

const (
	DefaultWindow  = 8
	UserRole       = "Man"
	ActionSpeaking = "(speaking)"
)

type Turn struct {
	Role    string `json:"role"`
	Action  string `json:"action"`
	Content string `json:"content"`
}

// Build keeps the last window messages in their original order. Assistant
// turns are attributed to characterName.
func Build(messages []storage.Message, characterName string, window int) []Turn {
	if window <= 0 {
		window = DefaultWindow
	}
	if strings.TrimSpace(characterName) == "" {
		characterName = storage.DefaultCharacterName
	}
	start := 0
	if len(messages) > window {
		start = len(messages) - window
	}

	turns := make([]Turn, 0, len(messages)-start)
	for _, msg := range messages[start:] {
		role := characterName
		if msg.IsUser {
			role = UserRole
		}
		turns = append(turns, Turn{Role: role, Action: ActionSpeaking, Content: msg.Content})
	}
	return turns
}

func UserTurn(content string) Turn {
	return Turn{Role: UserRole, Action: ActionSpeaking, Content: content}
}
