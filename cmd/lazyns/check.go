package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Eager load every binding and write the manifest",
		Long: `Eager load every binding, reporting files that fail to evaluate or do
not define the binding their name implies. On success the manifest is
written to state.path when one is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			if err := a.loader.EagerLoad(); err != nil {
				fmt.Fprintln(out, errorStyle.Render("✗ "+err.Error()))
				return fmt.Errorf("check failed")
			}

			m, err := a.saveManifest()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, successStyle.Render(fmt.Sprintf("✓ %d bindings from %d roots", len(m.Bindings()), len(m.Roots))))
			if a.state != nil {
				fmt.Fprintln(out, mutedStyle.Render("manifest written to "+a.state.Path()))
			}
			return nil
		},
	}
}
