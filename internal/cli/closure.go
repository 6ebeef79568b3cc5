package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vk/forgectl/internal/address"
)

// NewClosureCommand creates the closure command.
func NewClosureCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "closure <address>...",
		Short: "Print the transitive dependency closure of the given targets",
		Long: `Walk explicit and inferred dependencies from the given addresses and print
every reachable target, one address per line, sorted.

Example:
  forgectl closure //src/app:app
  forgectl closure //src/app:app //tools:gen`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClosure(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runClosure(opts *RootOptions, args []string, cmd *cobra.Command) error {
	addrs := make([]address.Address, len(args))
	for i, raw := range args {
		addr, err := address.Parse(raw)
		if err != nil {
			return err
		}
		addrs[i] = addr
	}
	a, err := newApp(opts, cmd)
	if err != nil {
		return err
	}

	closure, err := a.Graph().TransitiveClosure(a.Context(), addrs...)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, target := range closure {
		fmt.Fprintln(out, target.Address.String())
	}
	return nil
}
