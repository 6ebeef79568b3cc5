package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vk/forgectl/internal/address"
)

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve <address>",
		Short: "Resolve an address to its declared target",
		Long: `Resolve a workspace-rooted address to the target it names and print the
declaration: type, fields, explicit dependencies and inferred dependencies.

Example:
  forgectl resolve //src/lib:lib
  forgectl resolve //tools/gen`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runResolve(opts *RootOptions, raw string, cmd *cobra.Command) error {
	addr, err := address.Parse(raw)
	if err != nil {
		return err
	}
	a, err := newApp(opts, cmd)
	if err != nil {
		return err
	}

	target, err := a.Graph().Resolve(a.Context(), addr)
	if err != nil {
		return err
	}
	inferred, err := a.Graph().InferredDeps(a.Context(), target)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", target.Address, target.Type)
	for _, f := range target.Fields {
		fmt.Fprintf(out, "  %s = %s\n", f.Name, f.Value.GoString())
	}
	for _, d := range target.Deps {
		fmt.Fprintf(out, "  dep %s\n", d)
	}
	for _, d := range inferred.Addresses {
		fmt.Fprintf(out, "  dep %s (inferred)\n", d)
	}
	return nil
}
