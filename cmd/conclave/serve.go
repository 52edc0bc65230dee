package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"conclave/internal/adapter/gateway"
)

// ServeCmd starts the WebSocket gateway.
type ServeCmd struct {
	Addr string `help:"Listen address (overrides gateway.addr)." placeholder:"HOST:PORT"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cli)
	if err != nil {
		return err
	}
	defer rt.Close()

	gw := rt.cfg.Gateway
	if c.Addr != "" {
		gw.Addr = c.Addr
	}

	tokens := make([]gateway.Token, 0, len(gw.Tokens))
	for _, t := range gw.Tokens {
		tokens = append(tokens, gateway.Token{Token: t.Token, Name: t.Name})
	}
	if len(tokens) == 0 {
		rt.logger.Warn("gateway has no auth tokens configured; accepting all clients")
	}

	srv := gateway.NewServer(rt.bus, gateway.NewAuthenticator(tokens), gateway.Options{
		Addr:              gw.Addr,
		RequestsPerSecond: gw.RateLimit.RequestsPerSecond,
		Burst:             gw.RateLimit.Burst,
		Logger:            rt.logger,
	})
	gateway.RegisterDefaultHandlers(srv, gateway.HandlerDeps{Host: rt.host, Logger: rt.logger})

	go func() {
		select {
		case <-srv.Ready():
			fmt.Printf("conclave gateway listening on ws://%s/ws\n", srv.BoundAddr())
		case <-ctx.Done():
		}
	}()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	rt.logger.Info("gateway stopped")
	return nil
}
