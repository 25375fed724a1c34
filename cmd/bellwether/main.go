// Command bellwether audits MCP servers: it interviews a server's tools,
// seals the results into a baseline, and diffs baselines to catch drift in
// CI.
//
// Usage:
//
//	bellwether interview --config bellwether.yaml
//	bellwether diff old-baseline.json new-baseline.json
//	bellwether validate bellwether.yaml
package main

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/bellwetherhq/bellwether/pkg/errdefs"
	"github.com/bellwetherhq/bellwether/pkg/logger"
)

// cliVersion stamps baselines; builds injected via -ldflags override it.
var cliVersion = "0.1.0"

// Exit codes.
const (
	exitOK         = 0
	exitDrift      = 1
	exitConfig     = 2
	exitConnection = 3
	exitAuth       = 4
)

// exitError carries an explicit process exit code through kong.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

type CLI struct {
	Interview InterviewCmd `cmd:"" help:"Connect to an MCP server, interview its tools, and write a baseline."`
	Diff      DiffCmd      `cmd:"" help:"Compare two baseline files and report drift."`
	Validate  ValidateCmd  `cmd:"" help:"Validate a configuration file."`
	Version   VersionCmd   `cmd:"" help:"Show version information."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := cliVersion
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("bellwether %s\n", version)
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("bellwether"),
		kong.Description("MCP server auditor: interview tools, seal baselines, catch drift."),
		kong.UsageOnError(),
	)

	if err := initLogger(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(exitConfig)
	}

	if err := ctx.Run(&cli); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			if exit.err != nil {
				fmt.Fprintln(os.Stderr, renderError(exit.err))
			}
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, renderError(err))
		os.Exit(exitCodeFor(err))
	}
}

func initLogger(cli *CLI) error {
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return err
	}

	output := os.Stderr
	if cli.LogFile != "" {
		f, _, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			return err
		}
		output = f
	}
	logger.Init(level, output, cli.LogFormat)
	return nil
}

// exitCodeFor maps the error taxonomy onto the documented exit codes.
func exitCodeFor(err error) int {
	switch errdefs.CodeOf(err) {
	case errdefs.CodeValidationConfig, errdefs.CodeValidationScenario, errdefs.CodeValidationWorkflow:
		return exitConfig
	case errdefs.CodeTransportAuthFailed, errdefs.CodeLLMAuth:
		return exitAuth
	case errdefs.CodeTransportConnectionRefused, errdefs.CodeTransportServerExit, errdefs.CodeTransportTimeout:
		return exitConnection
	default:
		return exitConfig
	}
}

func renderError(err error) string {
	msg := "error: " + err.Error()
	if hint := errdefs.Remediation(err); hint != "" {
		msg += "\n  " + hint
	}
	return msg
}
