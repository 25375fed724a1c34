package main

import (
	"fmt"

	"github.com/bellwetherhq/bellwether/pkg/config"
)

type ValidateCmd struct {
	Config string `arg:"" optional:"" help:"Path to config file." type:"path" default:"bellwether.yaml"`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}
	fmt.Printf("%s: valid (mode %s, transport %s)\n", c.Config, cfg.Mode, cfg.Server.Transport)
	return nil
}
