package main

import (
	"fmt"
	"net/http"

	"github.com/droverhq/drover/pkg/config"
	"github.com/droverhq/drover/pkg/server"
)

// ServeCmd starts the HTTP server. Sessions are created per request; the
// config file provides defaults that requests may override.
type ServeCmd struct {
	Addr     string `help:"Listen address." default:":8080"`
	Provider string `help:"Default LLM provider for new sessions."`
	Model    string `help:"Default model for new sessions."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	var base *config.Config
	if cli.Config != "" || c.Provider != "" || c.Model != "" {
		cfg, err := loadConfig(cli.Config, c.Provider, c.Model)
		if err != nil {
			return err
		}
		base = cfg
	}

	srv := server.New(base)
	fmt.Printf("drover server listening on %s\n", c.Addr)
	fmt.Printf("  Health:   http://localhost%s/health\n", hostless(c.Addr))
	fmt.Printf("  Sessions: POST http://localhost%s/api/sessions\n", hostless(c.Addr))

	if err := srv.ListenAndServe(c.Addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// hostless normalizes ":8080" style addresses for display.
func hostless(addr string) string {
	if addr == "" {
		return ":8080"
	}
	if addr[0] == ':' {
		return addr
	}
	for i := range addr {
		if addr[i] == ':' {
			return addr[i:]
		}
	}
	return ":" + addr
}
