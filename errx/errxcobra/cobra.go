// Package errxcobra renders errx errors for Cobra command-line applications:
// stable exit codes per error type and either colored text or JSON output.
package errxcobra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Conversia-AI/craftable-queryx/errx"
)

// OutputFormat selects how errors are rendered.
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// CLIOptions configures error rendering.
type CLIOptions struct {
	Format      OutputFormat
	ShowDetails bool
	ShowCause   bool
	ExitOnError bool
	ExitFunc    func(int)
}

// DefaultCLIOptions renders colored text with details and cause chain and
// exits on error.
func DefaultCLIOptions() CLIOptions {
	return CLIOptions{
		Format:      OutputFormatText,
		ShowDetails: true,
		ShowCause:   true,
		ExitOnError: true,
		ExitFunc:    os.Exit,
	}
}

// CLI renders errors for command line applications.
type CLI struct {
	options CLIOptions
}

// NewCLI creates a CLI error handler.
func NewCLI(options CLIOptions) *CLI {
	if options.ExitFunc == nil {
		options.ExitFunc = os.Exit
	}
	return &CLI{options: options}
}

// HandleCommandError wraps a Cobra RunE so failures are rendered through the
// handler instead of Cobra's default usage dump.
func (c *CLI) HandleCommandError(runFn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := runFn(cmd, args); err != nil {
			c.HandleError(err)
		}
		return nil
	}
}

// HandleError renders the error and, when configured, exits with a code
// derived from the error type.
func (c *CLI) HandleError(err error) {
	if err == nil {
		return
	}

	var xerr *errx.Error
	if !errors.As(err, &xerr) {
		xerr = errx.Wrap(err, err.Error(), errx.TypeInternal)
	}

	if c.options.Format == OutputFormatJSON {
		c.renderJSON(xerr)
	} else {
		c.renderText(xerr)
	}

	if c.options.ExitOnError {
		c.options.ExitFunc(exitCode(xerr.Type))
	}
}

func exitCode(errType string) int {
	switch errType {
	case errx.TypeValidation, errx.TypeBadRequest:
		return 2
	case errx.TypeUnavailable, errx.TypeSystem:
		return 3
	case errx.TypeNotFound:
		return 4
	default:
		return 1
	}
}

func (c *CLI) renderJSON(err *errx.Error) {
	payload := map[string]any{
		"code":    err.Code,
		"type":    err.Type,
		"message": err.Message,
	}
	if c.options.ShowDetails && len(err.Details) > 0 {
		payload["details"] = err.Details
	}
	if c.options.ShowCause && err.Cause() != nil {
		payload["cause"] = err.Cause().Error()
	}

	out, _ := json.MarshalIndent(map[string]any{"error": payload}, "", "  ")
	fmt.Fprintln(os.Stderr, string(out))
}

func (c *CLI) renderText(err *errx.Error) {
	errorColor := color.New(color.FgHiRed, color.Bold)
	codeColor := color.New(color.FgHiYellow)
	detailColor := color.New(color.FgHiGreen)

	errorColor.Fprint(os.Stderr, "error: ")
	fmt.Fprintln(os.Stderr, err.Message)
	codeColor.Fprintf(os.Stderr, "  code: %s (%s)\n", err.Code, err.Type)

	if c.options.ShowDetails {
		for k, v := range err.Details {
			detailColor.Fprintf(os.Stderr, "  %s: ", k)
			fmt.Fprintf(os.Stderr, "%v\n", v)
		}
	}
	if c.options.ShowCause {
		for cause := err.Cause(); cause != nil; cause = errors.Unwrap(cause) {
			fmt.Fprintf(os.Stderr, "  cause: %s\n", cause.Error())
		}
	}
}
