// Package cli implements the forgectl command tree.
package cli

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/vk/forgectl/internal/app"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Root      string
	LogLevel  string
	LogFormat string
	Workers   int
}

// NewRootCommand creates the root command for the forgectl CLI.
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "forgectl",
		Short: "forgectl - an addressable, memoizing build graph engine",
		Long: `forgectl resolves target addresses declared in BUILD.hcl files and walks
their dependency graphs through a memoizing rule engine. Every derived
fact is cached by content digest: unchanged files are never re-parsed.`,
	}
	cmd.SetOut(out)

	cmd.PersistentFlags().StringVar(&opts.Root, "root", ".", "workspace root directory")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "logging level: 'debug', 'info', 'warn', or 'error'")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "text", "log output format: 'text' or 'json'")
	cmd.PersistentFlags().IntVar(&opts.Workers, "workers", 0, "concurrent rule executions (0 uses the default)")

	cmd.AddCommand(NewResolveCommand(opts))
	cmd.AddCommand(NewClosureCommand(opts))
	cmd.AddCommand(NewGraphCommand(opts))

	return cmd
}

// newApp builds an App from the global flags, logging to the command's
// error stream so structured logs never mix with command output.
func newApp(opts *RootOptions, cmd *cobra.Command, installers ...app.Installer) (*app.App, error) {
	cfg, err := app.NewConfig(app.Config{
		Root:      opts.Root,
		LogLevel:  opts.LogLevel,
		LogFormat: opts.LogFormat,
		Workers:   opts.Workers,
	})
	if err != nil {
		return nil, err
	}
	return app.New(cmd.ErrOrStderr(), cfg, installers...)
}
