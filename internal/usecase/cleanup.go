package usecase

import "conclave/internal/domain"

// CleanupMessages returns a copy of history without any turn that carries a
// pending tool part. Tool parts are stored with their results, so a turn
// whose calls all completed stays intact and keeps its position.
//
// The input slice is not modified.
func CleanupMessages(history []domain.Message) []domain.Message {
	out := make([]domain.Message, 0, len(history))
	for _, msg := range history {
		if msg.HasPendingToolCall() {
			continue
		}
		out = append(out, msg)
	}
	return out
}

// CleanConversation applies CleanupMessages in place and reports how many
// turns were dropped.
func CleanConversation(conv *Conversation) int {
	before := conv.Messages()
	after := CleanupMessages(before)
	if len(after) != len(before) {
		conv.Replace(after)
	}
	return len(before) - len(after)
}
