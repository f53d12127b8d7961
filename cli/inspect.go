package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/elifgo/elif"
)

func newRoutesCommand(module *elif.Module) *cobra.Command {
	return &cobra.Command{
		Use:     "routes",
		Aliases: []string{"r"},
		Short:   "Print the route table",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := elif.Compose(module)
			if err != nil {
				return err
			}
			plan.FprintRoutes(cmd.OutOrStdout())
			return nil
		},
	}
}

func newGraphCommand(module *elif.Module) *cobra.Command {
	var dot, tree bool

	cmd := &cobra.Command{
		Use:     "graph",
		Aliases: []string{"g"},
		Short:   "Print bindings and their dependencies",
		Long: `Print every binding with its module, lifetime and visibility.

Use --dot for Graphviz output:

  app graph --dot | dot -Tsvg > graph.svg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := elif.Compose(module)
			if err != nil {
				return err
			}
			switch {
			case dot:
				plan.FprintGraphDOT(cmd.OutOrStdout())
			case tree:
				plan.FprintGraph(cmd.OutOrStdout())
			default:
				plan.FprintBindings(cmd.OutOrStdout())
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dot, "dot", false, "print Graphviz DOT")
	cmd.Flags().BoolVar(&tree, "tree", false, "print one line per binding with its dependencies")
	cmd.MarkFlagsMutuallyExclusive("dot", "tree")
	return cmd
}

func newConfigCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := elif.NewViper()
			if _, err := elif.ReadConfig(v, *configFile); err != nil {
				return err
			}

			keys := v.AllKeys()
			sort.Strings(keys)

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Key", "Value", "Environment"})
			for _, key := range keys {
				t.AppendRow(table.Row{key, fmt.Sprint(v.Get(key)), envName(key)})
			}
			t.Render()
			return nil
		},
	}
}

func envName(key string) string {
	return elif.EnvPrefix + "_" + strings.ToUpper(key)
}
