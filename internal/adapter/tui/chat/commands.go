package chat

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

const helpText = `Available commands:
  /agents           - List the specialists of this session
  /history <id>     - Show a specialist's conversation
  /approve <call>   - Approve a pending tool call
  /deny <call>      - Deny a pending tool call
  /cancel           - Cancel the reply in progress
  /quit             - Exit

Keybindings:
  Enter      - Send message
  Ctrl+C     - Cancel/Quit
  PgUp/PgDn  - Scroll transcript`

// handleSlashCommand processes a slash command. Commands that touch
// storage run as tea.Cmds and report back with a CommandDoneMsg.
func (m Model) handleSlashCommand(cmd, arg string) (tea.Model, tea.Cmd) {
	s := m.deps.Session
	switch cmd {
	case "/help":
		m.add(entry{role: roleSystem, text: helpText})
		return m, nil

	case "/quit", "/exit":
		m.stop()
		m.quitting = true
		return m, tea.Quit

	case "/cancel":
		if m.waiting {
			m.cancelRequest("Request cancelled.")
		} else {
			m.add(entry{role: roleSystem, text: "No active request to cancel."})
		}
		return m, nil

	case "/agents":
		return m, func() tea.Msg {
			entries, err := s.ListSpecialists(context.Background())
			if err != nil {
				return CommandDoneMsg{Err: err}
			}
			var sb strings.Builder
			WriteAgents(&sb, entries)
			return CommandDoneMsg{Output: strings.TrimRight(sb.String(), "\n")}
		}

	case "/history":
		if arg == "" {
			m.add(entry{role: roleError, text: "usage: /history <agent-id>"})
			return m, nil
		}
		return m, func() tea.Msg {
			msgs, err := s.SpecialistHistory(context.Background(), arg)
			if err != nil {
				return CommandDoneMsg{Err: err}
			}
			var sb strings.Builder
			WriteHistory(&sb, msgs)
			return CommandDoneMsg{Output: strings.TrimRight(sb.String(), "\n")}
		}

	case "/approve", "/deny":
		if arg == "" {
			m.add(entry{role: roleError, text: fmt.Sprintf("usage: %s <tool-call-id>", cmd)})
			return m, nil
		}
		approved := cmd == "/approve"
		return m, func() tea.Msg {
			if err := s.ResolveConfirmation(context.Background(), arg, approved); err != nil {
				return CommandDoneMsg{Err: err}
			}
			return CommandDoneMsg{Output: "Decision recorded; it applies on your next message."}
		}

	default:
		m.add(entry{role: roleSystem, text: fmt.Sprintf("Unknown command: %s. Type /help for available commands.", cmd)})
		return m, nil
	}
}
