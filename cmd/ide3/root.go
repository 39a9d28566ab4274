package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

// streams are the process's terminal handles, swapped out in tests.
type streams struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

// interactive reports whether w is a terminal, which turns on the spinner.
func (s streams) interactive() bool {
	f, ok := s.out.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// options are the flags shared by every command.
type options struct {
	configPath  string
	debug       bool
	noWrite     bool
	resume      string
	toolServers []string
}

func newRootCmd(s streams) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "ide3",
		Short: "Terminal AI coding agent with write mode",
		Long: `IDE3 chats with a local (Ollama) or cloud (Anthropic, OpenAI-compatible) model.

With write mode on, replies act immediately:
  FILE_WRITE: path   followed by a code fence writes the file
  FILE_READ: path    shows a file
  other code fences  run as bash, javascript or python

Actions only run in directories you have trusted.

Quick Start:
  ide3                          # Start chatting in this directory
  ide3 --no-write               # Chat without touching the filesystem
  ide3 exec 'print(1)' -l py    # Run one snippet
  ide3 tools                    # List tools from configured tool servers`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), opts, s)
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file (default ~/.ide3-config.json)")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringArrayVar(&opts.toolServers, "tool-server", nil, "Extra tool server as [name=]command or [name=]url (repeatable)")
	root.Flags().BoolVar(&opts.noWrite, "no-write", false, "Disable automatic file writes and code execution")
	root.Flags().StringVar(&opts.resume, "resume", "", "Resume a conversation from the SQLite history (session ID or \"latest\")")

	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	root.AddCommand(newExecCmd(opts, s), newToolsCmd(opts, s))
	return root
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, s streams) int {
	root := newRootCmd(s)
	root.SetArgs(args)
	root.SetIn(s.in)
	root.SetOut(s.out)
	root.SetErr(s.errOut)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintf(s.errOut, "Error: %v\n", ee.err)
		}
		return ee.code
	}
	fmt.Fprintf(s.errOut, "Error: %v\n", err)
	return 1
}
