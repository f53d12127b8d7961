// Package cli builds the command line of an elif application.
//
// An application's main hands its root module to Main:
//
//	func main() {
//	    os.Exit(cli.Main(app.Module()))
//	}
//
// which provides:
//
//	serve     Start the HTTP server (default when no command is given)
//	routes    Print the route table
//	graph     Print bindings, or the dependency graph with --dot
//	config    Print the effective configuration
//
// Configuration comes from a .env file, ELIF_ environment variables, an
// optional --config file and the flags of serve, in increasing priority.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/elifgo/elif"
)

type options struct {
	name    string
	appOpts []elif.Option
	stdout  io.Writer
	stderr  io.Writer
}

type Option func(*options)

// WithName sets the command name shown in help. Defaults to the name of
// the running binary.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithAppOptions passes options to every App the commands build.
func WithAppOptions(opts ...elif.Option) Option {
	return func(o *options) {
		o.appOpts = append(o.appOpts, opts...)
	}
}

func WithOutput(stdout, stderr io.Writer) Option {
	return func(o *options) {
		o.stdout = stdout
		o.stderr = stderr
	}
}

// Main runs the command line against os.Args and returns the process exit
// code: 0 on success, 2 when the listener could not bind, 3 when shutdown
// had to cut connections and 1 otherwise.
func Main(module *elif.Module, opts ...Option) int {
	cmd := NewCommand(module, opts...)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "error:", err)
		return elif.ExitCode(err)
	}
	return 0
}

// NewCommand returns the root command for module.
func NewCommand(module *elif.Module, opts ...Option) *cobra.Command {
	o := &options{
		name:   binaryName(),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(o)
	}

	var configFile string

	serve := newServeCommand(module, o, &configFile)

	root := &cobra.Command{
		Use:           o.name,
		Short:         "Run and inspect the " + module.ID() + " application",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.SetOut(o.stdout)
	root.SetErr(o.stderr)
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (yaml, json or toml)")
	root.Flags().AddFlagSet(serve.Flags())

	root.AddCommand(
		serve,
		newRoutesCommand(module),
		newGraphCommand(module),
		newConfigCommand(&configFile),
	)
	return root
}

func binaryName() string {
	if len(os.Args) == 0 {
		return "elif"
	}
	return filepath.Base(os.Args[0])
}
