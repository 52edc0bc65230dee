// Package chat implements the Bubble Tea terminal UI for a conclave session.
package chat

import "conclave/internal/usecase"

// DeltaMsg carries streamed reply text. Gen identifies the request
// generation so chunks from a cancelled turn are discarded.
type DeltaMsg struct {
	Text string
	Gen  uint64
}

// TurnDoneMsg signals that the orchestrator turn for Gen finished.
type TurnDoneMsg struct {
	Result *usecase.TurnResult
	Err    error
	Gen    uint64
}

// CommandDoneMsg carries the output of a slash command.
type CommandDoneMsg struct {
	Output string
	Err    error
}

// RelayMsg reports that a specialist's unsolicited report reached the
// orchestrator's conversation.
type RelayMsg struct {
	AgentID string
	Text    string
}

// QuitMsg signals the program to exit.
type QuitMsg struct{}
