package main

import (
	"context"
	"fmt"
	"strings"

	"lazyns/internal/fs"
	"lazyns/internal/namespace"

	"github.com/spf13/cobra"
)

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get PATH",
		Short: "Resolve a binding and print its value as YAML",
		Long: `Resolve a binding and print its value as YAML. PATH is a binding path
(Admin.Role) or a location in the mounted view (/Admin/Role). Namespaces
print the names they hold.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			v, err := a.root.Resolve(context.Background(), fs.ToBinding(args[0]))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if ns, ok := v.(*namespace.Namespace); ok {
				fmt.Fprintln(out, strings.Join(ns.Names(), "\n"))
				return nil
			}
			_, err = out.Write(fs.Render(v))
			return err
		},
	}
}

func newExpectedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expected FILE...",
		Short: "Print the binding path each file or directory is expected to define",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			for _, path := range args {
				binding, ok, err := a.loader.ExpectedPath(path)
				switch {
				case err != nil:
					return err
				case !ok:
					fmt.Fprintf(out, "%s\t%s\n", path, mutedStyle.Render("(not managed)"))
				case binding == "":
					fmt.Fprintf(out, "%s\t%s\n", path, titleStyle.Render("<root>"))
				default:
					fmt.Fprintf(out, "%s\t%s\n", path, nameStyle.Render(binding))
				}
			}
			return nil
		},
	}
}
