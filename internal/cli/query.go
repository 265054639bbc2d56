package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tern-db/tern"
	"github.com/tern-db/tern/local"
	"github.com/tern-db/tern/serialize"
)

// NewQueryCommand runs a SPARQL query from an argument or a file.
func NewQueryCommand(root *RootOptions) *cobra.Command {
	var (
		file   string
		format string
	)
	cmd := &cobra.Command{
		Use:   "query [sparql]",
		Short: "Run a SPARQL query against the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.validate(); err != nil {
				return err
			}
			query, err := textArg(args, file)
			if err != nil {
				return err
			}
			conn, err := local.New(cmd.Context(), tern.FlagNone, root.Store, root.Ontology)
			if err != nil {
				return err
			}
			defer conn.Close()

			cur, err := conn.Query(cmd.Context(), query)
			if err != nil {
				return err
			}
			defer cur.Close()

			rf, err := resultFormat(format)
			if err != nil {
				return err
			}
			stream, err := serialize.NewResultsReader(cmd.Context(), cur, rf)
			if err != nil {
				return err
			}
			defer stream.Close()
			_, err = io.Copy(cmd.OutOrStdout(), stream)
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the query from a file")
	cmd.Flags().StringVar(&format, "format", "json", "result format (json|xml|tsv)")
	return cmd
}

// NewUpdateCommand runs a SPARQL update.
func NewUpdateCommand(root *RootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "update [sparql]",
		Short: "Run a SPARQL update against the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.validate(); err != nil {
				return err
			}
			update, err := textArg(args, file)
			if err != nil {
				return err
			}
			conn, err := local.New(cmd.Context(), tern.FlagNone, root.Store, root.Ontology)
			if err != nil {
				return err
			}
			defer conn.Close()
			return conn.Update(cmd.Context(), update)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the update from a file")
	return cmd
}

func textArg(args []string, file string) (string, error) {
	switch {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		return string(data), nil
	case len(args) == 1:
		return args[0], nil
	default:
		return "", fmt.Errorf("pass the SPARQL text as an argument or via --file")
	}
}

func resultFormat(name string) (tern.ResultFormat, error) {
	switch name {
	case "json":
		return tern.ResultsJSON, nil
	case "xml":
		return tern.ResultsXML, nil
	case "tsv":
		return tern.ResultsTSV, nil
	default:
		return 0, fmt.Errorf("unknown result format %q (json|xml|tsv)", name)
	}
}

func rdfFormat(name string) (tern.RDFFormat, error) {
	switch name {
	case "turtle", "ttl":
		return tern.FormatTurtle, nil
	case "trig":
		return tern.FormatTriG, nil
	case "jsonld", "json-ld":
		return tern.FormatJSONLD, nil
	default:
		return 0, fmt.Errorf("unknown RDF format %q (turtle|trig|jsonld)", name)
	}
}
