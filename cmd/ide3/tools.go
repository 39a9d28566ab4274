package main

import (
	"github.com/spf13/cobra"

	"ide3/internal/ui"
)

func newToolsCmd(opts *options, s streams) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List tools offered by the configured tool servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), opts, s)
			if err != nil {
				return err
			}
			defer a.Close()

			r := ui.NewRenderer(s.out, s.interactive())
			reg := a.connectTools(cmd.Context(), opts, r)
			if reg == nil {
				r.Dim("No tool servers configured.")
				return nil
			}

			tools := reg.Tools()
			r.Info("")
			for _, c := range reg.All() {
				r.Info("%s", ui.TitleStyle.Render(c.Name()))
				n := 0
				for _, t := range tools {
					if t.ServerName != c.Name() {
						continue
					}
					n++
					r.Field("  "+t.Name, t.Description)
				}
				if n == 0 {
					r.Dim("  (no tools)")
				}
			}
			r.Info("")
			r.Dim("Total: %d servers, %d tools", reg.Count(), len(tools))
			return nil
		},
	}
}
