package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/local"
)

// NewImportCommand loads an RDF file into the store.
func NewImportCommand(root *RootOptions) *cobra.Command {
	var (
		format string
		graph  string
	)
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import RDF data into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.validate(); err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			rf, err := rdfFormat(format)
			if err != nil {
				return err
			}
			conn, err := local.New(cmd.Context(), tern.FlagNone, root.Store, root.Ontology)
			if err != nil {
				return err
			}
			defer conn.Close()
			return conn.Deserialize(cmd.Context(), tern.DeserializeFlagsNone, rf, graph, f)
		},
	}
	cmd.Flags().StringVar(&format, "format", "turtle", "input format (turtle|trig|jsonld)")
	cmd.Flags().StringVar(&graph, "graph", "", "target graph IRI (default graph when empty)")
	return cmd
}

// NewExportCommand dumps graph data selected by a DESCRIBE/CONSTRUCT
// query.
func NewExportCommand(root *RootOptions) *cobra.Command {
	var (
		format string
		query  string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export graph data from the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.validate(); err != nil {
				return err
			}
			rf, err := rdfFormat(format)
			if err != nil {
				return err
			}
			conn, err := local.New(cmd.Context(), tern.FlagReadOnly, root.Store, root.Ontology)
			if err != nil {
				return err
			}
			defer conn.Close()

			stream, err := conn.Serialize(cmd.Context(), tern.SerializeFlagsNone, rf, query)
			if err != nil {
				return err
			}
			defer stream.Close()
			_, err = io.Copy(cmd.OutOrStdout(), stream)
			return err
		},
	}
	cmd.Flags().StringVar(&format, "format", "turtle", "output format (turtle|trig|jsonld)")
	cmd.Flags().StringVar(&query, "query",
		"DESCRIBE ?s WHERE { ?s a rdfs:Resource }",
		"DESCRIBE/CONSTRUCT selecting the data")
	return cmd
}

// NewBackupCommand snapshots the store.
func NewBackupCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup <destination-file>",
		Short: "Write a consistent snapshot of the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.validate(); err != nil {
				return err
			}
			conn, err := local.New(cmd.Context(), tern.FlagReadOnly, root.Store, root.Ontology)
			if err != nil {
				return err
			}
			defer conn.Close()
			return conn.Backup(cmd.Context(), args[0])
		},
	}
	return cmd
}
