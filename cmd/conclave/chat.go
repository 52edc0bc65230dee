package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"conclave/internal/adapter/tui/chat"
	"conclave/internal/domain"
	"conclave/internal/usecase/multiagent"
)

// ChatCmd runs an interactive session with the interaction agent.
type ChatCmd struct {
	Session string `short:"s" help:"Session identifier; reuse it to resume a conversation." default:"cli"`
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	model := chat.NewModel(chat.Deps{
		Session:   rt.host.Orchestrator(c.Session),
		SessionID: c.Session,
		Logger:    rt.logger,
	})
	program := tea.NewProgram(model, tea.WithAltScreen())

	unsub := rt.bus.Subscribe(domain.EventAgentRelayed, relayForwarder(c.Session, program.Send))
	defer unsub()

	go func() {
		<-ctx.Done()
		program.Send(chat.QuitMsg{})
	}()

	_, err = program.Run()
	return err
}

// relayForwarder turns relay events of session into chat.RelayMsg.
func relayForwarder(session string, send func(tea.Msg)) domain.EventHandler {
	return func(_ context.Context, ev domain.Event) {
		if ev.SessionID != session {
			return
		}
		var msg multiagent.RelayMessage
		if err := json.Unmarshal(ev.Payload, &msg); err != nil {
			return
		}
		send(chat.RelayMsg{AgentID: msg.AgentID, Text: msg.Text})
	}
}
