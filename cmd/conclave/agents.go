package main

import (
	"context"
	"fmt"
	"os"

	"conclave/internal/adapter/tui/chat"
	"conclave/internal/infra/config"
)

// AgentsCmd inspects specialists without starting the gateway.
type AgentsCmd struct {
	List    AgentsListCmd    `cmd:"" help:"List the specialists of a session."`
	History AgentsHistoryCmd `cmd:"" help:"Print a specialist's conversation."`
}

// AgentsListCmd lists specialists.
type AgentsListCmd struct {
	Session string `short:"s" help:"Session identifier." default:"cli"`
}

func (c *AgentsListCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := buildRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	entries, err := rt.host.Orchestrator(c.Session).ListSpecialists(ctx)
	if err != nil {
		return err
	}
	chat.WriteAgents(os.Stdout, entries)
	return nil
}

// AgentsHistoryCmd prints one specialist's conversation.
type AgentsHistoryCmd struct {
	ID      string `arg:"" help:"Specialist identifier."`
	Session string `short:"s" help:"Session the specialist belongs to." default:"cli"`
}

func (c *AgentsHistoryCmd) Run(cli *CLI) error {
	ctx := context.Background()
	rt, err := buildRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	msgs, err := rt.host.Orchestrator(c.Session).SpecialistHistory(ctx, c.ID)
	if err != nil {
		return err
	}
	chat.WriteHistory(os.Stdout, msgs)
	return nil
}

// ValidateCmd loads and validates the configuration.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	fmt.Printf("config ok: %d provider(s), default %q, storage %s\n",
		len(cfg.LLM.Providers), cfg.LLM.DefaultProvider, cfg.Storage.Backend)
	return nil
}
