package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Dump the compiled rule graph as DOT",
		Long: `Print the compiled rule graph in Graphviz DOT format. The output is
deterministic for a given registry, so it diffs cleanly across changes.

Example:
  forgectl graph | dot -Tsvg > rulegraph.svg`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(rootOpts, cmd)
		},
	}
	return cmd
}

func runGraph(opts *RootOptions, cmd *cobra.Command) error {
	a, err := newApp(opts, cmd)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), a.Compiled().Dot())
	return nil
}
