// Package cli implements the tern command-line tool: a thin wrapper
// over the library for queries, updates, bulk import/export, endpoint
// serving and backups.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds the global flags shared by all commands.
type RootOptions struct {
	Store    string
	Ontology string
	Verbose  bool
}

// NewRootCommand creates the root command for the tern CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "tern",
		Short: "tern - an RDF triple store with a SPARQL interface",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if opts.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr,
				&slog.HandlerOptions{Level: level})))
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Store, "store", "", "store directory (required)")
	cmd.PersistentFlags().StringVar(&opts.Ontology, "ontology", "", "ontology directory (required)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewUpdateCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewEndpointCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))

	return cmd
}

func (o *RootOptions) validate() error {
	if o.Store == "" {
		return fmt.Errorf("--store is required")
	}
	if o.Ontology == "" {
		return fmt.Errorf("--ontology is required")
	}
	return nil
}
