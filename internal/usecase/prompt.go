package usecase

import "chat-relay/internal/domain"

const roleUser = "user"

// buildMessages returns a single-turn conversation carrying message verbatim.
func buildMessages(message string) []domain.ChatMessage {
	return []domain.ChatMessage{{Role: roleUser, Content: message}}
}
