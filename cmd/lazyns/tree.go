package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"lazyns/internal/fs"
	"lazyns/internal/namespace"

	"github.com/charmbracelet/lipgloss/tree"
	"github.com/spf13/cobra"
)

func newTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Print the namespace tree without resolving pending bindings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			t := tree.Root(titleStyle.Render("<root>"))
			addEntries(t, a.root)
			fmt.Fprintln(cmd.OutOrStdout(), t.String())
			return nil
		},
	}
}

func addEntries(t *tree.Tree, ns *namespace.Namespace) {
	for _, e := range ns.Entries() {
		switch {
		case !e.Defined:
			kind := "file"
			if e.Trigger.IsDir() {
				kind = "dir"
			}
			t.Child(nameStyle.Render(e.Name) + " " +
				mutedStyle.Render(fmt.Sprintf("(pending %s %s)", kind, filepath.Base(e.Trigger.Source()))))
		default:
			if child, ok := e.Value.(*namespace.Namespace); ok {
				sub := tree.Root(nameStyle.Render(e.Name))
				addEntries(sub, child)
				t.Child(sub)
				continue
			}
			t.Child(nameStyle.Render(e.Name) + " = " + summarize(e.Value))
		}
	}
}

// summarize renders a value on a single line.
func summarize(v any) string {
	s := strings.TrimSpace(string(fs.Render(v)))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i] + " ..."
	}
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}
