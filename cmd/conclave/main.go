// Command conclave runs an interaction agent that delegates research to
// durable specialist agents.
//
// Usage:
//
//	conclave serve --config config.yaml
//	conclave chat --session demo
//	conclave agents list --session demo
package main

import (
	"fmt"
	"runtime/debug"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface.
type CLI struct {
	Serve    ServeCmd    `cmd:"" help:"Start the WebSocket gateway."`
	Chat     ChatCmd     `cmd:"" help:"Talk to the interaction agent in the terminal."`
	Agents   AgentsCmd   `cmd:"" help:"Inspect the specialists of a session."`
	Validate ValidateCmd `cmd:"" help:"Validate the configuration file."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`

	Config   string `short:"c" help:"Path to config file." type:"path" default:"config.yaml" env:"CONCLAVE_CONFIG"`
	LogLevel string `help:"Override the configured log level (debug, info, warn, error)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("conclave %s\n", version)
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("conclave"),
		kong.Description("Interaction agent with durable research specialists."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
