package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/bellwetherhq/bellwether/pkg/baseline"
	"github.com/bellwetherhq/bellwether/pkg/diff"
)

type DiffCmd struct {
	Old string `arg:"" help:"Path to the previous baseline." type:"path"`
	New string `arg:"" help:"Path to the current baseline." type:"path"`

	FailOnDrift bool `help:"Exit non-zero when drift at warning severity or above is found."`
	JSON        bool `help:"Emit the drift report as JSON instead of text."`
}

func (c *DiffCmd) Run(cli *CLI) error {
	old, err := baseline.Load(c.Old, cliVersion)
	if err != nil {
		return fmt.Errorf("load %s: %w", c.Old, err)
	}
	next, err := baseline.Load(c.New, cliVersion)
	if err != nil {
		return fmt.Errorf("load %s: %w", c.New, err)
	}

	report := diff.Compare(old, next)

	if c.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		fmt.Print(diff.Render(report))
	}

	if c.FailOnDrift && report.Severity.AtLeast(diff.SeverityWarning) {
		return &exitError{code: exitDrift}
	}
	return nil
}
