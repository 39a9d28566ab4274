package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ide3/internal/action"
	"ide3/internal/extract"
	"ide3/internal/ui"
)

func newExecCmd(opts *options, s streams) *cobra.Command {
	var (
		language string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "exec <code>",
		Short: "Run one code snippet in the current directory",
		Long: `Run a single snippet the same way the chat loop runs a code block.
The directory must be trusted. A failed or timed out run exits with status 1.`,
		Example: `  ide3 exec 'console.log(1 + 1)'
  ide3 exec 'ls -la' -l bash
  ide3 exec 'import time; time.sleep(5)' -l python --timeout 2s`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !action.Runnable(language) {
				return fmt.Errorf("unsupported language %q", language)
			}

			a, err := setup(cmd.Context(), opts, s)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, ok, err := a.checkTrust(s); err != nil || !ok {
				return err
			}

			executor, err := action.New(action.Options{
				Dir:     a.cwd,
				Timeout: timeout,
				Logger:  a.logger,
				Tracer:  a.tracer,
				Meter:   a.meter,
			})
			if err != nil {
				return err
			}

			r := ui.NewRenderer(s.out, s.interactive())
			outcomes := executor.Run(cmd.Context(), []extract.Action{
				extract.Execute{Language: language, Code: args[0]},
			}, r)
			for _, o := range outcomes {
				if o.Status != action.StatusOK {
					a.logger.Info("exec failed", "language", language, "status", o.Status, "exit_code", o.ExitCode)
					return &exitError{code: 1}
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&language, "language", "l", "javascript", "Language of the snippet (bash, javascript, python, ...)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Time limit for the run")
	return cmd
}
